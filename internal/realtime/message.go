package realtime

import (
	"encoding/json"
	"time"
)

// Order event names sent to sockets.
const (
	EventNewOrder             = "new-order"
	EventOrderStatusUpdated   = "order-status-updated"
	EventOrderApprovalRequest = "order-approval-request"
	EventOrderAccepted        = "order-accepted"
	EventOrderRejected        = "order-rejected"
	EventOrderApproved        = "order-approved"
	EventOrderRejectedByStaff = "order-rejected-by-staff"
)

// Control frames.
const (
	ControlJoinRoom  = "join-room"
	ControlLeaveRoom = "leave-room"

	EventRoomJoined = "room-joined"
	EventRoomLeft   = "room-left"
	EventError      = "error"
)

// Message is an order event frame. Timestamp marshals as RFC3339Nano.
type Message struct {
	Event     string    `json:"event"`
	Order     any       `json:"order,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlMessage is what clients send.
type ControlMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ControlReply answers a control message or reports an error.
type ControlReply struct {
	Event     string `json:"event"`
	Room      string `json:"room,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
