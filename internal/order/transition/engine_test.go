package transition

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cashier  = restaurantctx.Actor{UserID: "staff-1", Role: restaurantctx.RoleCashier}
	customer = restaurantctx.Actor{UserID: "cust-1", Role: restaurantctx.RoleCustomer}
	manager  = restaurantctx.Actor{UserID: "boss", Role: restaurantctx.RoleManager}
)

var allStatuses = []domain.OrderStatus{
	domain.StatusAwaitingApproval,
	domain.StatusPending,
	domain.StatusPreparing,
	domain.StatusReady,
	domain.StatusCompleted,
	domain.StatusCancelled,
	domain.StatusRejected,
}

func sampleOrder(status domain.OrderStatus) domain.Order {
	owner := "cust-1"
	return domain.Order{
		ID:            snowflake.ID(1001),
		RestaurantID:  snowflake.ID(7),
		OrderNumber:   "250601-0001",
		UserID:        &owner,
		Status:        status,
		PaymentStatus: domain.PaymentUnpaid,
		TotalAmount:   4500,
		ItemCount:     3,
		Items: []domain.OrderItem{
			{MenuItemID: "m1", Name: "Nasi Goreng", UnitPrice: 1500, Quantity: 3},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

// actorFor returns an actor the table permits for edges into target.
func actorFor(target domain.OrderStatus) restaurantctx.Actor {
	if target == domain.StatusCancelled {
		return customer
	}
	return cashier
}

func TestApplyTransitionTable(t *testing.T) {
	legal := map[[2]domain.OrderStatus]bool{
		{domain.StatusAwaitingApproval, domain.StatusPending}:   true,
		{domain.StatusAwaitingApproval, domain.StatusRejected}:  true,
		{domain.StatusAwaitingApproval, domain.StatusCancelled}: true,
		{domain.StatusPending, domain.StatusPreparing}:          true,
		{domain.StatusPending, domain.StatusCancelled}:          true,
		{domain.StatusPreparing, domain.StatusReady}:            true,
		{domain.StatusReady, domain.StatusCompleted}:            true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				next, event, err := Apply(sampleOrder(from), string(to), actorFor(to), "sold out", t0.Add(time.Minute))

				switch {
				case legal[[2]domain.OrderStatus{from, to}]:
					require.NoError(t, err)
					assert.Equal(t, to, next.Status)
					assert.Equal(t, from, event.PreviousStatus)
					assert.Equal(t, to, event.Status)
				case from.IsTerminal():
					assert.ErrorIs(t, err, domain.ErrTerminalState)
					assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				default:
					assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				}
			})
		}
	}
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	_, _, err := Apply(sampleOrder(domain.StatusPending), "delivered", cashier, "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = Apply(sampleOrder(domain.StatusPending), "", cashier, "", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelWhilePaidFailsInAnyStatus(t *testing.T) {
	for _, status := range allStatuses {
		t.Run(string(status), func(t *testing.T) {
			order := sampleOrder(status)
			order.PaymentStatus = domain.PaymentPaid
			_, _, err := Apply(order, string(domain.StatusCancelled), customer, "", t0)
			assert.ErrorIs(t, err, domain.ErrPaymentPrecondition)
		})
	}
}

func TestRejectRequiresReason(t *testing.T) {
	order := sampleOrder(domain.StatusAwaitingApproval)

	_, _, err := Apply(order, string(domain.StatusRejected), cashier, "   ", t0)
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	next, event, err := Apply(order, string(domain.StatusRejected), cashier, " out of stock ", t0)
	require.NoError(t, err)
	require.NotNil(t, next.RejectionReason)
	assert.Equal(t, "out of stock", *next.RejectionReason)
	require.NotNil(t, event.RejectionReason)
	assert.Equal(t, "out of stock", *event.RejectionReason)
	assert.Equal(t, domain.EventRejected, event.Kind)
}

func TestApplyEnforcesActorClass(t *testing.T) {
	_, _, err := Apply(sampleOrder(domain.StatusAwaitingApproval), string(domain.StatusPending), customer, "", t0)
	assert.ErrorIs(t, err, domain.ErrActorNotPermitted)

	_, _, err = Apply(sampleOrder(domain.StatusPending), string(domain.StatusCancelled), cashier, "", t0)
	assert.ErrorIs(t, err, domain.ErrActorNotPermitted)

	_, _, err = Apply(sampleOrder(domain.StatusPending), string(domain.StatusCancelled), manager, "", t0)
	assert.NoError(t, err)
}

func TestApplyEventKinds(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		actor    restaurantctx.Actor
		kind     domain.EventKind
	}{
		{domain.StatusAwaitingApproval, domain.StatusPending, cashier, domain.EventApproved},
		{domain.StatusAwaitingApproval, domain.StatusCancelled, customer, domain.EventCancelled},
		{domain.StatusPending, domain.StatusPreparing, cashier, domain.EventAdvanced},
		{domain.StatusReady, domain.StatusCompleted, cashier, domain.EventAdvanced},
	}
	for _, tc := range cases {
		_, event, err := Apply(sampleOrder(tc.from), string(tc.to), tc.actor, "", t0)
		require.NoError(t, err)
		assert.Equal(t, tc.kind, event.Kind)
		assert.Equal(t, tc.actor, event.Actor)
		assert.Equal(t, "250601-0001", event.OrderNumber)
		require.NotNil(t, event.UserID)
		assert.Equal(t, "cust-1", *event.UserID)
	}
}

func TestApplyKeepsUpdatedAtMonotone(t *testing.T) {
	order := sampleOrder(domain.StatusPending)

	next, _, err := Apply(order, string(domain.StatusPreparing), cashier, "", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, next.UpdatedAt)

	later := t0.Add(90 * time.Second)
	next, event, err := Apply(order, string(domain.StatusPreparing), cashier, "", later)
	require.NoError(t, err)
	assert.Equal(t, later, next.UpdatedAt)
	assert.Equal(t, later, event.EmittedAt)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	order := sampleOrder(domain.StatusAwaitingApproval)
	next, event, err := Apply(order, string(domain.StatusRejected), cashier, "closed", t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAwaitingApproval, order.Status)
	assert.Nil(t, order.RejectionReason)

	next.Items[0].Name = "changed"
	assert.Equal(t, "Nasi Goreng", order.Items[0].Name)
	assert.Equal(t, "Nasi Goreng", event.Order.Items[0].Name)
}

func TestMarkPaidCashComputesChange(t *testing.T) {
	next, event, err := MarkPaid(sampleOrder(domain.StatusReady), Payment{Method: "cash", Tendered: 5000}, cashier, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPaid, next.PaymentStatus)
	assert.Equal(t, domain.StatusReady, next.Status)
	assert.Equal(t, domain.PaymentMethodCash, next.PaymentMethod)
	require.NotNil(t, next.PaidAmount)
	assert.EqualValues(t, 5000, *next.PaidAmount)
	require.NotNil(t, next.ChangeGiven)
	assert.EqualValues(t, 500, *next.ChangeGiven)
	require.NotNil(t, next.PaidAt)
	assert.Equal(t, domain.EventPaid, event.Kind)
	assert.Equal(t, domain.StatusReady, event.PreviousStatus)
}

func TestMarkPaidCardRecordsTotal(t *testing.T) {
	next, _, err := MarkPaid(sampleOrder(domain.StatusPending), Payment{Method: "e_wallet"}, cashier, t0)
	require.NoError(t, err)
	require.NotNil(t, next.PaidAmount)
	assert.EqualValues(t, 4500, *next.PaidAmount)
	assert.EqualValues(t, 0, *next.ChangeGiven)
}

func TestMarkPaidFailures(t *testing.T) {
	_, _, err := MarkPaid(sampleOrder(domain.StatusCompleted), Payment{Method: "card"}, cashier, t0)
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	paid := sampleOrder(domain.StatusPending)
	paid.PaymentStatus = domain.PaymentPaid
	_, _, err = MarkPaid(paid, Payment{Method: "card"}, cashier, t0)
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	_, _, err = MarkPaid(sampleOrder(domain.StatusPending), Payment{Method: "cheque"}, cashier, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	_, _, err = MarkPaid(sampleOrder(domain.StatusPending), Payment{Method: "cash", Tendered: 4499}, cashier, t0)
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
}

func TestPaidOrderCanStillAdvance(t *testing.T) {
	order := sampleOrder(domain.StatusPreparing)
	order.PaymentStatus = domain.PaymentPaid
	next, _, err := Apply(order, string(domain.StatusReady), cashier, "", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, next.PaymentStatus)
}

func TestCancelActors(t *testing.T) {
	kitchen := restaurantctx.Actor{UserID: "staff-2", Role: restaurantctx.RoleKitchen}
	cases := []struct {
		actor   restaurantctx.Actor
		allowed bool
	}{
		{customer, true},
		{manager, true},
		{restaurantctx.SystemActor(), true},
		{cashier, false},
		{kitchen, false},
	}
	for _, from := range []domain.OrderStatus{domain.StatusAwaitingApproval, domain.StatusPending} {
		for _, tc := range cases {
			_, _, err := Apply(sampleOrder(from), string(domain.StatusCancelled), tc.actor, "", t0)
			if tc.allowed {
				assert.NoError(t, err, "%s from %s", tc.actor.Role, from)
			} else {
				assert.ErrorIs(t, err, domain.ErrActorNotPermitted, "%s from %s", tc.actor.Role, from)
			}
		}
	}
}
