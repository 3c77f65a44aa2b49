package notification

import (
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/realtime"
)

// Broadcast is one room write.
type Broadcast struct {
	Room  realtime.Room
	Event string
}

// Plan is every delivery one order event fans out to.
type Plan struct {
	Broadcasts []Broadcast
	// PushUserID is empty when nobody should get a push.
	PushUserID string
}

// Route computes the plan for event. Walk-in orders never reach a client room
// or a device.
func Route(event orderdomain.OrderEvent) Plan {
	rid := event.RestaurantID
	owner := ""
	if !event.IsWalkIn() {
		owner = *event.UserID
	}

	var plan Plan
	add := func(room realtime.Room, name string) {
		plan.Broadcasts = append(plan.Broadcasts, Broadcast{Room: room, Event: name})
	}
	client := func(name string) {
		if owner != "" {
			add(realtime.ClientRoom(rid, owner), name)
		}
	}

	switch event.Kind {
	case orderdomain.EventCreated:
		add(realtime.ApprovalStaffRoom(rid), realtime.EventOrderApprovalRequest)
		return plan

	case orderdomain.EventApproved:
		add(realtime.KitchenRoom(rid), realtime.EventNewOrder)
		add(realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated)
		client(realtime.EventOrderAccepted)
		add(realtime.ApprovalStaffRoom(rid), realtime.EventOrderApproved)

	case orderdomain.EventRejected:
		add(realtime.ApprovalStaffRoom(rid), realtime.EventOrderRejectedByStaff)
		add(realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated)
		client(realtime.EventOrderRejected)

	case orderdomain.EventCancelled:
		add(realtime.ApprovalStaffRoom(rid), realtime.EventOrderRejected)
		add(realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated)
		client(realtime.EventOrderStatusUpdated)

	case orderdomain.EventAdvanced:
		add(realtime.KitchenRoom(rid), realtime.EventOrderStatusUpdated)
		add(realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated)
		add(realtime.ManagerRoom(rid), realtime.EventOrderStatusUpdated)
		client(realtime.EventOrderStatusUpdated)

	case orderdomain.EventPaid:
		add(realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated)
		add(realtime.ManagerRoom(rid), realtime.EventOrderStatusUpdated)
		client(realtime.EventOrderStatusUpdated)
		return plan

	default:
		return plan
	}

	plan.PushUserID = owner
	return plan
}
