package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/authorization"
	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/migration"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/order/repository"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testRestaurant = int64(42)

type recordingNotifier struct {
	mu     sync.Mutex
	events []orderdomain.OrderEvent
}

func (n *recordingNotifier) Dispatch(event orderdomain.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []orderdomain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]orderdomain.EventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

func (n *recordingNotifier) last() orderdomain.OrderEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type fixture struct {
	svc      orderdomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func setupOrders(t *testing.T) fixture {
	t.Helper()
	return setupOrdersWith(t, nil)
}

func setupOrdersWith(t *testing.T, auditSvc auditdomain.Service) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.ApplySchema(context.Background(), db))

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 14, 11, 30, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Authz:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Clock:    clk,
		AuditSvc: auditSvc,
		Notifier: notifier,
	})
	return fixture{svc: svc, db: db, clock: clk, notifier: notifier}
}

func as(role restaurantctx.Role, userID string) context.Context {
	ctx := restaurantctx.WithRestaurantID(context.Background(), testRestaurant)
	return restaurantctx.WithActor(ctx, restaurantctx.Actor{UserID: userID, Role: role})
}

func basket() orderdomain.CreateOrderRequest {
	return orderdomain.CreateOrderRequest{Items: []orderdomain.CreateOrderItemRequest{
		{MenuItemID: "m-1", Name: "Nasi Goreng", UnitPrice: 25000, Quantity: 2},
		{MenuItemID: "m-2", Name: " Es Teh ", UnitPrice: 5000, Quantity: 3},
	}}
}

func TestCreateComputesTotalsAndNumber(t *testing.T) {
	f := setupOrders(t)
	customer := as(restaurantctx.RoleCustomer, "u-1")

	first, err := f.svc.Create(customer, basket())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusAwaitingApproval, first.Status)
	assert.Equal(t, orderdomain.PaymentUnpaid, first.PaymentStatus)
	assert.Equal(t, int64(65000), first.TotalAmount)
	assert.Equal(t, 5, first.ItemCount)
	assert.Equal(t, "250614-0001", first.OrderNumber)
	require.NotNil(t, first.UserID)
	assert.Equal(t, "u-1", *first.UserID)
	assert.Equal(t, "Es Teh", first.Items[1].Name)

	second, err := f.svc.Create(customer, basket())
	require.NoError(t, err)
	assert.Equal(t, "250614-0002", second.OrderNumber)

	assert.Equal(t, []orderdomain.EventKind{orderdomain.EventCreated, orderdomain.EventCreated}, f.notifier.kinds())

	stored, err := f.svc.Get(customer, first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, first.OrderNumber, stored.OrderNumber)
	assert.Len(t, stored.Items, 2)
}

func TestCreateByStaffIsWalkIn(t *testing.T) {
	f := setupOrders(t)

	order, err := f.svc.Create(as(restaurantctx.RoleCashier, "staff-1"), basket())
	require.NoError(t, err)
	assert.True(t, order.IsWalkIn())
	assert.True(t, f.notifier.last().IsWalkIn())
}

func TestCreateValidatesItems(t *testing.T) {
	f := setupOrders(t)
	ctx := as(restaurantctx.RoleCustomer, "u-1")

	_, err := f.svc.Create(ctx, orderdomain.CreateOrderRequest{})
	assert.ErrorIs(t, err, orderdomain.ErrEmptyOrder)

	_, err = f.svc.Create(ctx, orderdomain.CreateOrderRequest{Items: []orderdomain.CreateOrderItemRequest{{Name: "x", Quantity: 0}}})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidQuantity)

	_, err = f.svc.Create(ctx, orderdomain.CreateOrderRequest{Items: []orderdomain.CreateOrderItemRequest{{Name: "x", Quantity: 1, UnitPrice: -1}}})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidPrice)

	_, err = f.svc.Create(ctx, orderdomain.CreateOrderRequest{Items: []orderdomain.CreateOrderItemRequest{{Name: "  ", Quantity: 1}}})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidItemName)

	assert.Empty(t, f.notifier.kinds())
}

func TestLifecycleHappyPath(t *testing.T) {
	f := setupOrders(t)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)

	cashier := as(restaurantctx.RoleCashier, "staff-1")
	kitchen := as(restaurantctx.RoleKitchen, "staff-2")

	f.clock.Advance(time.Minute)
	approved, err := f.svc.Approve(cashier, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, approved.Status)
	assert.True(t, approved.UpdatedAt.After(order.UpdatedAt))

	for _, status := range []orderdomain.OrderStatus{orderdomain.StatusPreparing, orderdomain.StatusReady} {
		f.clock.Advance(time.Minute)
		next, err := f.svc.Advance(kitchen, order.ID.String(), string(status))
		require.NoError(t, err)
		assert.Equal(t, status, next.Status)
	}

	paid, err := f.svc.MarkPaid(cashier, order.ID.String(), orderdomain.PayOrderRequest{Method: "cash", Amount: 70000})
	require.NoError(t, err)
	require.NotNil(t, paid.ChangeGiven)
	assert.Equal(t, int64(5000), *paid.ChangeGiven)
	assert.Equal(t, orderdomain.StatusReady, paid.Status)

	done, err := f.svc.Advance(kitchen, order.ID.String(), string(orderdomain.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCompleted, done.Status)
	assert.True(t, done.IsPaid())

	assert.Equal(t, []orderdomain.EventKind{
		orderdomain.EventCreated,
		orderdomain.EventApproved,
		orderdomain.EventAdvanced,
		orderdomain.EventAdvanced,
		orderdomain.EventPaid,
		orderdomain.EventAdvanced,
	}, f.notifier.kinds())

	_, err = f.svc.Advance(kitchen, order.ID.String(), string(orderdomain.StatusReady))
	assert.ErrorIs(t, err, orderdomain.ErrTerminalState)
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestRejectRequiresReason(t *testing.T) {
	f := setupOrders(t)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)
	cashier := as(restaurantctx.RoleCashier, "staff-1")

	_, err = f.svc.Reject(cashier, order.ID.String(), "  ")
	assert.ErrorIs(t, err, orderdomain.ErrReasonRequired)

	rejected, err := f.svc.Reject(cashier, order.ID.String(), "sold out")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRejected, rejected.Status)

	event := f.notifier.last()
	assert.Equal(t, orderdomain.EventRejected, event.Kind)
	require.NotNil(t, event.RejectionReason)
	assert.Equal(t, "sold out", *event.RejectionReason)
}

func TestCancelWhilePaidFails(t *testing.T) {
	f := setupOrders(t)
	customer := as(restaurantctx.RoleCustomer, "u-1")
	order, err := f.svc.Create(customer, basket())
	require.NoError(t, err)

	_, err = f.svc.MarkPaid(as(restaurantctx.RoleCashier, "staff-1"), order.ID.String(), orderdomain.PayOrderRequest{Method: "card"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(customer, order.ID.String())
	assert.ErrorIs(t, err, orderdomain.ErrPaymentPrecondition)

	stored, err := f.svc.Get(customer, order.ID.String())
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusAwaitingApproval, stored.Status)
}

func TestCustomerCannotTouchForeignOrder(t *testing.T) {
	f := setupOrders(t)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)

	intruder := as(restaurantctx.RoleCustomer, "u-2")
	_, err = f.svc.Get(intruder, order.ID.String())
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)
	_, err = f.svc.Cancel(intruder, order.ID.String())
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)

	_, err = f.svc.Approve(intruder, order.ID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestAdvanceRejectsNonKitchenTargets(t *testing.T) {
	f := setupOrders(t)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)
	kitchen := as(restaurantctx.RoleKitchen, "staff-2")

	_, err = f.svc.Advance(kitchen, order.ID.String(), string(orderdomain.StatusPending))
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	_, err = f.svc.Advance(kitchen, order.ID.String(), "eaten")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidStatus)

	// awaiting_approval cannot skip straight to preparing
	_, err = f.svc.Advance(kitchen, order.ID.String(), string(orderdomain.StatusPreparing))
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestListActive(t *testing.T) {
	f := setupOrders(t)
	customer := as(restaurantctx.RoleCustomer, "u-1")
	cashier := as(restaurantctx.RoleCashier, "staff-1")

	first, err := f.svc.Create(customer, basket())
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.Create(customer, basket())
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	third, err := f.svc.Create(customer, basket())
	require.NoError(t, err)

	_, err = f.svc.Approve(cashier, second.ID.String())
	require.NoError(t, err)
	_, err = f.svc.Reject(cashier, third.ID.String(), "closed")
	require.NoError(t, err)

	board, err := f.svc.ListActive(cashier, orderdomain.ListActiveRequest{})
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, first.ID, board[0].ID)
	assert.Equal(t, second.ID, board[1].ID)

	pending, err := f.svc.ListActive(cashier, orderdomain.ListActiveRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = f.svc.ListActive(cashier, orderdomain.ListActiveRequest{Status: "completed"})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidStatus)

	_, err = f.svc.ListActive(customer, orderdomain.ListActiveRequest{})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestRequiresRestaurantScope(t *testing.T) {
	f := setupOrders(t)
	ctx := restaurantctx.WithActor(context.Background(), restaurantctx.Actor{UserID: "u-1", Role: restaurantctx.RoleCustomer})

	_, err := f.svc.Create(ctx, basket())
	assert.ErrorIs(t, err, orderdomain.ErrInvalidRestaurant)

	_, err = f.svc.Get(as(restaurantctx.RoleCustomer, "u-1"), "not-a-number")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidOrderID)
}

func TestStaleGuardReportsConcurrentUpdate(t *testing.T) {
	f := setupOrders(t)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)

	stale := order.Clone()
	stale.Status = orderdomain.StatusPending
	updated, err := repository.Provide().UpdateLifecycle(context.Background(), f.db, &stale, orderdomain.Guard{
		Status:        orderdomain.StatusPreparing,
		PaymentStatus: orderdomain.PaymentUnpaid,
	})
	require.NoError(t, err)
	assert.False(t, updated)
}

// gatedAudit parks the first audit write after it is armed. Audit runs
// between commit and dispatch.
type gatedAudit struct {
	armed   atomic.Bool
	entered chan struct{}
	gate    chan struct{}
}

func (a *gatedAudit) AuditLog(context.Context, *snowflake.ID, string, *string, string, string, *string, map[string]any) error {
	if a.armed.CompareAndSwap(true, false) {
		close(a.entered)
		<-a.gate
	}
	return nil
}

func (a *gatedAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func TestTransitionsDispatchInCommitOrder(t *testing.T) {
	audit := &gatedAudit{entered: make(chan struct{}), gate: make(chan struct{})}
	f := setupOrdersWith(t, audit)
	order, err := f.svc.Create(as(restaurantctx.RoleCustomer, "u-1"), basket())
	require.NoError(t, err)

	audit.armed.Store(true)
	approveDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Approve(as(restaurantctx.RoleCashier, "staff-1"), order.ID.String())
		approveDone <- err
	}()
	select {
	case <-audit.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("approve never committed")
	}

	// approval is committed but not yet dispatched
	advanceDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Advance(as(restaurantctx.RoleKitchen, "staff-2"), order.ID.String(), string(orderdomain.StatusPreparing))
		advanceDone <- err
	}()
	assert.Never(t, func() bool { return len(f.notifier.kinds()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)

	close(audit.gate)
	require.NoError(t, <-approveDone)
	require.NoError(t, <-advanceDone)
	assert.Equal(t, []orderdomain.EventKind{
		orderdomain.EventCreated,
		orderdomain.EventApproved,
		orderdomain.EventAdvanced,
	}, f.notifier.kinds())
}
