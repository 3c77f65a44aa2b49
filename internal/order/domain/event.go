package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/smallbiznis/tableside/pkg/telemetry/correlation"
)

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventApproved  EventKind = "approved"
	EventRejected  EventKind = "rejected"
	EventCancelled EventKind = "cancelled"
	EventAdvanced  EventKind = "advanced"
	EventPaid      EventKind = "paid"
)

// OrderEvent describes one accepted change to an order. It is never persisted.
type OrderEvent struct {
	Kind            EventKind
	OrderID         snowflake.ID
	OrderNumber     string
	Status          OrderStatus
	PreviousStatus  OrderStatus
	UserID          *string
	RestaurantID    snowflake.ID
	RejectionReason *string
	EmittedAt       time.Time
	Actor           restaurantctx.Actor
	// Order is the post-change snapshot sent on the wire.
	Order Order
	Trace correlation.Stamp
}

// NewEvent snapshots order after a change from previous.
func NewEvent(kind EventKind, previous OrderStatus, order Order, actor restaurantctx.Actor, at time.Time) OrderEvent {
	snapshot := order.Clone()
	return OrderEvent{
		Kind:            kind,
		OrderID:         snapshot.ID,
		OrderNumber:     snapshot.OrderNumber,
		Status:          snapshot.Status,
		PreviousStatus:  previous,
		UserID:          snapshot.UserID,
		RestaurantID:    snapshot.RestaurantID,
		RejectionReason: snapshot.RejectionReason,
		EmittedAt:       at.UTC(),
		Actor:           actor,
		Order:           snapshot,
	}
}

func (e OrderEvent) IsWalkIn() bool {
	return e.Order.IsWalkIn()
}

// Notifier accepts committed order events for asynchronous delivery. Dispatch must not block.
type Notifier interface {
	Dispatch(event OrderEvent)
}
