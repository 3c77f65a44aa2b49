package realtime

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
)

var (
	ErrUnknownRoom    = errors.New("unknown_room")
	ErrRoomForbidden  = errors.New("room_forbidden")
	ErrUnknownSession = errors.New("unknown_session")
)

type RoomKind string

const (
	RoomKitchen       RoomKind = "kitchen"
	RoomOrders        RoomKind = "orders"
	RoomManager       RoomKind = "manager"
	RoomApprovalStaff RoomKind = "approval-staff"
	RoomClient        RoomKind = "client"
)

const clientPrefix = "client-"

// Room identifies a broadcast group inside one restaurant. UserID is only set
// for client rooms.
type Room struct {
	Kind         RoomKind
	RestaurantID snowflake.ID
	UserID       string
}

func KitchenRoom(restaurantID snowflake.ID) Room {
	return Room{Kind: RoomKitchen, RestaurantID: restaurantID}
}

func OrdersRoom(restaurantID snowflake.ID) Room {
	return Room{Kind: RoomOrders, RestaurantID: restaurantID}
}

func ManagerRoom(restaurantID snowflake.ID) Room {
	return Room{Kind: RoomManager, RestaurantID: restaurantID}
}

func ApprovalStaffRoom(restaurantID snowflake.ID) Room {
	return Room{Kind: RoomApprovalStaff, RestaurantID: restaurantID}
}

func ClientRoom(restaurantID snowflake.ID, userID string) Room {
	return Room{Kind: RoomClient, RestaurantID: restaurantID, UserID: userID}
}

// LocalName is the room name as clients send it, without the restaurant scope.
func (r Room) LocalName() string {
	if r.Kind == RoomClient {
		return clientPrefix + r.UserID
	}
	return string(r.Kind)
}

// Name is the fully scoped wire name, e.g. "42:kitchen" or "42:client-u1".
func (r Room) Name() string {
	return r.RestaurantID.String() + ":" + r.LocalName()
}

func (r Room) String() string {
	return r.Name()
}

// IsStaff reports whether only staff sessions may join the room.
func (r Room) IsStaff() bool {
	return r.Kind != RoomClient
}

// ParseLocalRoom scopes a client-supplied room name to restaurantID.
func ParseLocalRoom(restaurantID snowflake.ID, name string) (Room, error) {
	name = strings.TrimSpace(name)
	switch RoomKind(name) {
	case RoomKitchen, RoomOrders, RoomManager, RoomApprovalStaff:
		return Room{Kind: RoomKind(name), RestaurantID: restaurantID}, nil
	}
	if userID, ok := strings.CutPrefix(name, clientPrefix); ok && strings.TrimSpace(userID) != "" {
		return ClientRoom(restaurantID, userID), nil
	}
	return Room{}, ErrUnknownRoom
}

// ParseRoom parses a fully scoped room name.
func ParseRoom(name string) (Room, error) {
	scope, local, ok := strings.Cut(strings.TrimSpace(name), ":")
	if !ok {
		return Room{}, ErrUnknownRoom
	}
	restaurantID, err := snowflake.ParseString(scope)
	if err != nil || restaurantID == 0 {
		return Room{}, ErrUnknownRoom
	}
	return ParseLocalRoom(restaurantID, local)
}

// CanJoin applies the membership rules: same restaurant, staff rooms need a
// staff role and a client room belongs to one user.
func CanJoin(s *Session, room Room) error {
	if s == nil {
		return ErrUnknownSession
	}
	if room.RestaurantID != s.RestaurantID {
		return ErrRoomForbidden
	}
	if room.IsStaff() {
		if !s.Role.IsStaff() {
			return ErrRoomForbidden
		}
		return nil
	}
	if s.UserID == "" || s.UserID != room.UserID {
		return ErrRoomForbidden
	}
	return nil
}

// DefaultRooms lists the rooms a freshly connected session joins.
func DefaultRooms(s *Session) []Room {
	rid := s.RestaurantID
	switch s.Role {
	case restaurantctx.RoleKitchen:
		return []Room{KitchenRoom(rid), OrdersRoom(rid)}
	case restaurantctx.RoleCashier:
		return []Room{ApprovalStaffRoom(rid), OrdersRoom(rid)}
	case restaurantctx.RoleManager:
		return []Room{ManagerRoom(rid), ApprovalStaffRoom(rid), OrdersRoom(rid), KitchenRoom(rid)}
	case restaurantctx.RoleCustomer:
		if s.UserID != "" {
			return []Room{ClientRoom(rid, s.UserID)}
		}
	}
	return nil
}
