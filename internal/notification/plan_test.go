package notification

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/realtime"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/stretchr/testify/assert"
)

const rid = snowflake.ID(42)

func eventFor(kind orderdomain.EventKind, status orderdomain.OrderStatus, owner string) orderdomain.OrderEvent {
	order := orderdomain.Order{ID: 1001, RestaurantID: rid, OrderNumber: "250614-0001", Status: status}
	if owner != "" {
		order.UserID = &owner
	}
	return orderdomain.NewEvent(kind, "", order, restaurantctx.SystemActor(), time.Now())
}

func TestRoutePlans(t *testing.T) {
	client := realtime.ClientRoom(rid, "u1")
	cases := []struct {
		name   string
		event  orderdomain.OrderEvent
		want   []Broadcast
		pushTo string
	}{
		{
			name:  "created",
			event: eventFor(orderdomain.EventCreated, orderdomain.StatusAwaitingApproval, "u1"),
			want:  []Broadcast{{realtime.ApprovalStaffRoom(rid), realtime.EventOrderApprovalRequest}},
		},
		{
			name:  "approved",
			event: eventFor(orderdomain.EventApproved, orderdomain.StatusPending, "u1"),
			want: []Broadcast{
				{realtime.KitchenRoom(rid), realtime.EventNewOrder},
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{client, realtime.EventOrderAccepted},
				{realtime.ApprovalStaffRoom(rid), realtime.EventOrderApproved},
			},
			pushTo: "u1",
		},
		{
			name:  "rejected",
			event: eventFor(orderdomain.EventRejected, orderdomain.StatusRejected, "u1"),
			want: []Broadcast{
				{realtime.ApprovalStaffRoom(rid), realtime.EventOrderRejectedByStaff},
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{client, realtime.EventOrderRejected},
			},
			pushTo: "u1",
		},
		{
			name:  "cancelled",
			event: eventFor(orderdomain.EventCancelled, orderdomain.StatusCancelled, "u1"),
			want: []Broadcast{
				{realtime.ApprovalStaffRoom(rid), realtime.EventOrderRejected},
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{client, realtime.EventOrderStatusUpdated},
			},
			pushTo: "u1",
		},
		{
			name:  "advanced",
			event: eventFor(orderdomain.EventAdvanced, orderdomain.StatusReady, "u1"),
			want: []Broadcast{
				{realtime.KitchenRoom(rid), realtime.EventOrderStatusUpdated},
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{realtime.ManagerRoom(rid), realtime.EventOrderStatusUpdated},
				{client, realtime.EventOrderStatusUpdated},
			},
			pushTo: "u1",
		},
		{
			name:  "paid",
			event: eventFor(orderdomain.EventPaid, orderdomain.StatusPreparing, "u1"),
			want: []Broadcast{
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{realtime.ManagerRoom(rid), realtime.EventOrderStatusUpdated},
				{client, realtime.EventOrderStatusUpdated},
			},
		},
		{
			name:  "walk-in approved",
			event: eventFor(orderdomain.EventApproved, orderdomain.StatusPending, ""),
			want: []Broadcast{
				{realtime.KitchenRoom(rid), realtime.EventNewOrder},
				{realtime.OrdersRoom(rid), realtime.EventOrderStatusUpdated},
				{realtime.ApprovalStaffRoom(rid), realtime.EventOrderApproved},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Route(tc.event)
			assert.Equal(t, tc.want, plan.Broadcasts)
			assert.Equal(t, tc.pushTo, plan.PushUserID)
		})
	}
}
