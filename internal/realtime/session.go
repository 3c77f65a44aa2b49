package realtime

import (
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
)

var (
	ErrSendBufferFull = errors.New("send_buffer_full")
	ErrSessionClosed  = errors.New("session_closed")
)

// Session is one connected client. Outbound frames are queued on a bounded
// buffer that the connection's writer drains.
type Session struct {
	ID           string
	RestaurantID snowflake.ID
	UserID       string
	Role         restaurantctx.Role

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

func NewSession(restaurantID snowflake.ID, userID string, role restaurantctx.Role, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:           uuid.NewString(),
		RestaurantID: restaurantID,
		UserID:       userID,
		Role:         role,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

// Send queues frame without blocking.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Outbound is drained by the writer; it is closed once the session closes.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	close(s.done)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
