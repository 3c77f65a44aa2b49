package realtime

import (
	"sync"

	"go.uber.org/zap"
)

type member struct {
	mu      sync.Mutex
	session *Session
	rooms   map[Room]struct{}
	gone    bool
}

type room struct {
	mu      sync.Mutex
	members map[string]*Session
}

// Registry tracks live sessions and their room memberships.
//
// Lock order is member, then registry, then room. The registry lock only
// guards the maps; joins and leaves on an existing room take the room lock
// under a read lock.
type Registry struct {
	log *zap.Logger

	mu       sync.RWMutex
	rooms    map[Room]*room
	sessions map[string]*member
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log.Named("realtime.registry"),
		rooms:    make(map[Room]*room),
		sessions: make(map[string]*member),
	}
}

// Register adds s. Registering the same session twice is a no-op.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return
	}
	r.sessions[s.ID] = &member{session: s, rooms: make(map[Room]struct{})}
}

// Join adds the session to target after checking it may enter. Joining a room
// twice is a no-op.
func (r *Registry) Join(sessionID string, target Room) error {
	m := r.member(sessionID)
	if m == nil {
		return ErrUnknownSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return ErrUnknownSession
	}
	if err := CanJoin(m.session, target); err != nil {
		return err
	}
	if _, ok := m.rooms[target]; ok {
		return nil
	}

	r.addToRoom(target, m.session)
	m.rooms[target] = struct{}{}
	return nil
}

// Leave removes the session from target. Leaving a room it is not in is a no-op.
func (r *Registry) Leave(sessionID string, target Room) {
	m := r.member(sessionID)
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[target]; !ok {
		return
	}
	delete(m.rooms, target)
	r.removeFromRoom(target, sessionID)
}

// Disconnect drops the session from every room and closes it. Safe to call
// more than once.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	m, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return
	}
	m.gone = true
	for target := range m.rooms {
		r.removeFromRoom(target, sessionID)
	}
	m.rooms = nil
	m.session.Close()
	r.log.Debug("session disconnected", zap.String("session_id", sessionID))
}

// MembersOf returns a snapshot of the sessions in target.
func (r *Registry) MembersOf(target Room) []*Session {
	r.mu.RLock()
	rm, ok := r.rooms[target]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*Session, 0, len(rm.members))
	for _, s := range rm.members {
		out = append(out, s)
	}
	return out
}

// RoomsOf lists the rooms a session currently belongs to.
func (r *Registry) RoomsOf(sessionID string) []Room {
	m := r.member(sessionID)
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Room, 0, len(m.rooms))
	for target := range m.rooms {
		out = append(out, target)
	}
	return out
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) member(sessionID string) *member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

func (r *Registry) addToRoom(target Room, s *Session) {
	r.mu.RLock()
	if rm, ok := r.rooms[target]; ok {
		rm.mu.Lock()
		rm.members[s.ID] = s
		rm.mu.Unlock()
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[target]
	if !ok {
		rm = &room{members: make(map[string]*Session)}
		r.rooms[target] = rm
	}
	rm.mu.Lock()
	rm.members[s.ID] = s
	rm.mu.Unlock()
}

// removeFromRoom drops empty rooms. The emptiness check is repeated under the
// write lock because a join may have raced in.
func (r *Registry) removeFromRoom(target Room, sessionID string) {
	r.mu.RLock()
	rm, ok := r.rooms[target]
	if !ok {
		r.mu.RUnlock()
		return
	}
	rm.mu.Lock()
	delete(rm.members, sessionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	r.mu.RUnlock()
	if !empty {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.rooms[target]; ok && current == rm {
		rm.mu.Lock()
		if len(rm.members) == 0 {
			delete(r.rooms, target)
		}
		rm.mu.Unlock()
	}
}
