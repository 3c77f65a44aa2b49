package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/authorization"
	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/order/transition"
	"github.com/smallbiznis/tableside/internal/ratelimit"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/smallbiznis/tableside/pkg/db"
	"github.com/smallbiznis/tableside/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const orderNumberAttempts = 3

var tracer = otel.Tracer("tableside/order")

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     orderdomain.Repository
	authz    authorization.Service
	auditSvc auditdomain.Service
	notifier orderdomain.Notifier
	guard    *ratelimit.OrderGuard
	metrics  *metrics.Metrics

	locks orderLocks
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  orderdomain.Repository
	Authz authorization.Service

	Clock    clock.Clock           `optional:"true"`
	AuditSvc auditdomain.Service   `optional:"true"`
	Notifier orderdomain.Notifier  `optional:"true"`
	Guard    *ratelimit.OrderGuard `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

func NewService(p ServiceParam) orderdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("order.service"),

		genID:    p.GenID,
		clock:    clk,
		repo:     p.Repo,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
		notifier: p.Notifier,
		guard:    p.Guard,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (orderdomain.Order, error) {
	restaurantID, actor, err := s.scope(ctx, authorization.ActionOrderCreate)
	if err != nil {
		return orderdomain.Order{}, err
	}

	if len(req.Items) == 0 {
		return orderdomain.Order{}, orderdomain.ErrEmptyOrder
	}

	now := s.clock.Now().UTC()
	order := orderdomain.Order{
		ID:            s.genID.Generate(),
		RestaurantID:  restaurantID,
		Status:        orderdomain.StatusAwaitingApproval,
		PaymentStatus: orderdomain.PaymentUnpaid,
		Note:          normalizeNote(req.Note),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if actor.Role == restaurantctx.RoleCustomer {
		owner := actor.UserID
		order.UserID = &owner
	}

	items := make([]orderdomain.OrderItem, 0, len(req.Items))
	for i, line := range req.Items {
		item, err := s.buildItem(order.ID, i, line)
		if err != nil {
			return orderdomain.Order{}, err
		}
		items = append(items, item)
	}
	order.Items = items
	order.TotalAmount, order.ItemCount = orderdomain.Totals(items)

	prefix := now.Format("060102") + "-"
	for attempt := 1; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			count, err := s.repo.CountByNumberPrefix(ctx, tx, restaurantID, prefix)
			if err != nil {
				return err
			}
			order.OrderNumber = fmt.Sprintf("%s%04d", prefix, count+1)
			if err := s.repo.Insert(ctx, tx, &order); err != nil {
				return err
			}
			return s.repo.InsertItems(ctx, tx, order.Items)
		})
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) || attempt >= orderNumberAttempts {
			return orderdomain.Order{}, err
		}
		s.log.Debug("order number taken, retrying", zap.String("order_number", order.OrderNumber), zap.Int("attempt", attempt))
	}

	source := "staff"
	if !order.IsWalkIn() {
		source = "customer"
	}
	s.metrics.RecordOrderCreated(ctx, restaurantID.String(), source)
	s.audit(ctx, restaurantID, auditdomain.ActionOrderCreate, order, map[string]any{
		"order_number": order.OrderNumber,
		"total_amount": order.TotalAmount,
		"item_count":   order.ItemCount,
	})

	s.publish(ctx, orderdomain.NewEvent(orderdomain.EventCreated, "", order, actor, now))
	return order, nil
}

func (s *Service) Get(ctx context.Context, id string) (orderdomain.Order, error) {
	restaurantID, actor, err := s.scope(ctx, authorization.ActionOrderView)
	if err != nil {
		return orderdomain.Order{}, err
	}
	orderID, err := parseOrderID(id)
	if err != nil {
		return orderdomain.Order{}, err
	}

	order, err := s.repo.FindByID(ctx, s.db, restaurantID, orderID)
	if err != nil {
		return orderdomain.Order{}, err
	}
	if order == nil || !visibleTo(*order, actor) {
		return orderdomain.Order{}, orderdomain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) ListActive(ctx context.Context, req orderdomain.ListActiveRequest) ([]orderdomain.Order, error) {
	restaurantID, _, err := s.scope(ctx, authorization.ActionOrderList)
	if err != nil {
		return nil, err
	}

	statuses := orderdomain.ActiveStatuses()
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := orderdomain.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		if status.IsTerminal() {
			return nil, orderdomain.ErrInvalidStatus
		}
		statuses = []orderdomain.OrderStatus{status}
	}

	orders, err := s.repo.ListActive(ctx, s.db, restaurantID, statuses)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []orderdomain.Order{}
	}
	return orders, nil
}

func (s *Service) Approve(ctx context.Context, id string) (orderdomain.Order, error) {
	return s.transition(ctx, id, authorization.ActionOrderApprove, auditdomain.ActionOrderApprove,
		func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error) {
			return transition.Apply(order, string(orderdomain.StatusPending), actor, "", s.clock.Now())
		})
}

func (s *Service) Reject(ctx context.Context, id string, reason string) (orderdomain.Order, error) {
	return s.transition(ctx, id, authorization.ActionOrderReject, auditdomain.ActionOrderReject,
		func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error) {
			return transition.Apply(order, string(orderdomain.StatusRejected), actor, reason, s.clock.Now())
		})
}

// Advance moves an approved order along the kitchen line. Approval, rejection
// and cancellation have their own operations.
func (s *Service) Advance(ctx context.Context, id string, status string) (orderdomain.Order, error) {
	target, err := orderdomain.ParseStatus(status)
	if err != nil {
		return orderdomain.Order{}, err
	}
	switch target {
	case orderdomain.StatusPreparing, orderdomain.StatusReady, orderdomain.StatusCompleted:
	default:
		return orderdomain.Order{}, orderdomain.ErrInvalidTransition
	}

	return s.transition(ctx, id, authorization.ActionOrderAdvance, auditdomain.ActionOrderAdvance,
		func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error) {
			return transition.Apply(order, string(target), actor, "", s.clock.Now())
		})
}

func (s *Service) Cancel(ctx context.Context, id string) (orderdomain.Order, error) {
	return s.transition(ctx, id, authorization.ActionOrderCancel, auditdomain.ActionOrderCancel,
		func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error) {
			return transition.Apply(order, string(orderdomain.StatusCancelled), actor, "", s.clock.Now())
		})
}

func (s *Service) MarkPaid(ctx context.Context, id string, req orderdomain.PayOrderRequest) (orderdomain.Order, error) {
	payment := transition.Payment{Method: req.Method, Tendered: req.Amount}
	return s.transition(ctx, id, authorization.ActionOrderPay, auditdomain.ActionOrderPay,
		func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error) {
			return transition.MarkPaid(order, payment, actor, s.clock.Now())
		})
}

type applyFunc func(order orderdomain.Order, actor restaurantctx.Actor) (orderdomain.Order, orderdomain.OrderEvent, error)

// transition runs one lifecycle change: authorize, lock, compare-and-set inside
// a transaction, then audit and hand the event off after commit.
func (s *Service) transition(ctx context.Context, id string, permission string, auditAction string, apply applyFunc) (orderdomain.Order, error) {
	ctx, span := tracer.Start(ctx, "order.transition")
	defer span.End()
	span.SetAttributes(attribute.String("order.action", permission))

	restaurantID, actor, err := s.scope(ctx, permission)
	if err != nil {
		return orderdomain.Order{}, err
	}
	orderID, err := parseOrderID(id)
	if err != nil {
		return orderdomain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	unlock := s.locks.lock(orderID)
	defer unlock()

	release, err := s.guard.LockOrder(ctx, orderID.String())
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockNotAcquired) {
			return orderdomain.Order{}, orderdomain.ErrConcurrentUpdate
		}
		return orderdomain.Order{}, err
	}
	defer release()

	var (
		previous orderdomain.Order
		next     orderdomain.Order
		event    orderdomain.OrderEvent
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, restaurantID, orderID)
		if err != nil {
			return err
		}
		if current == nil || !visibleTo(*current, actor) {
			return orderdomain.ErrNotFound
		}
		previous = *current

		next, event, err = apply(previous, actor)
		if err != nil {
			return err
		}

		updated, err := s.repo.UpdateLifecycle(ctx, tx, &next, orderdomain.Guard{
			Status:        previous.Status,
			PaymentStatus: previous.PaymentStatus,
		})
		if err != nil {
			return err
		}
		if !updated {
			return orderdomain.ErrConcurrentUpdate
		}
		return nil
	})
	if db.IsContentionErr(err) {
		err = orderdomain.ErrConcurrentUpdate
	}
	if err != nil {
		s.metrics.RecordTransitionRejected(ctx, restaurantID.String(), rejectionReason(err))
		span.SetStatus(codes.Error, rejectionReason(err))
		return orderdomain.Order{}, err
	}

	s.metrics.RecordTransition(ctx, restaurantID.String(), string(previous.Status), string(next.Status))
	s.audit(ctx, restaurantID, auditAction, next, map[string]any{
		"from_status":    string(previous.Status),
		"to_status":      string(next.Status),
		"payment_status": string(next.PaymentStatus),
	})
	s.log.Info("order transitioned",
		zap.String("order_id", next.ID.String()),
		zap.String("order_number", next.OrderNumber),
		zap.String("from", string(previous.Status)),
		zap.String("to", string(next.Status)),
		zap.String("event", string(event.Kind)),
	)

	s.publish(ctx, event)
	return next, nil
}

// scope resolves the restaurant and actor from ctx and checks permission.
func (s *Service) scope(ctx context.Context, permission string) (snowflake.ID, restaurantctx.Actor, error) {
	restaurantID, ok := restaurantctx.RestaurantIDFromContext(ctx)
	if !ok {
		return 0, restaurantctx.Actor{}, orderdomain.ErrInvalidRestaurant
	}
	actor, ok := restaurantctx.ActorFromContext(ctx)
	if !ok {
		return 0, restaurantctx.Actor{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, actor, restaurantID.String(), authorization.ObjectOrder, permission); err != nil {
		return 0, restaurantctx.Actor{}, err
	}
	return restaurantID, actor, nil
}

func (s *Service) publish(ctx context.Context, event orderdomain.OrderEvent) {
	if s.notifier == nil {
		return
	}
	event.Trace = correlation.StampFromContext(ctx)
	s.notifier.Dispatch(event)
}

func (s *Service) audit(ctx context.Context, restaurantID snowflake.ID, action string, order orderdomain.Order, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := order.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &restaurantID, "", nil, action, "order", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.String("order_id", targetID), zap.Error(err))
	}
}

func (s *Service) buildItem(orderID snowflake.ID, position int, line orderdomain.CreateOrderItemRequest) (orderdomain.OrderItem, error) {
	name := strings.TrimSpace(line.Name)
	if name == "" {
		return orderdomain.OrderItem{}, orderdomain.ErrInvalidItemName
	}
	if line.Quantity < 1 {
		return orderdomain.OrderItem{}, orderdomain.ErrInvalidQuantity
	}
	if line.UnitPrice < 0 {
		return orderdomain.OrderItem{}, orderdomain.ErrInvalidPrice
	}
	return orderdomain.OrderItem{
		ID:         s.genID.Generate(),
		OrderID:    orderID,
		MenuItemID: strings.TrimSpace(line.MenuItemID),
		Name:       name,
		UnitPrice:  line.UnitPrice,
		Quantity:   line.Quantity,
		Note:       normalizeNote(line.Note),
		Position:   position,
	}, nil
}

// visibleTo hides other customers' orders; staff see every order of their restaurant.
func visibleTo(order orderdomain.Order, actor restaurantctx.Actor) bool {
	if actor.Role != restaurantctx.RoleCustomer {
		return true
	}
	return order.OwnedBy(actor.UserID)
}

func parseOrderID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, orderdomain.ErrInvalidOrderID
	}
	return id, nil
}

func normalizeNote(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func rejectionReason(err error) string {
	var coded *orderdomain.CodedError
	switch {
	case errors.As(err, &coded):
		return coded.Code
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, orderdomain.ErrPaymentPrecondition):
		return "payment_precondition"
	case errors.Is(err, orderdomain.ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, orderdomain.ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, orderdomain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
