package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/tableside/internal/audit/masking"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/observability/logger"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("tableside/push")

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Repo     pushdomain.Repository
	Provider pushdomain.Provider

	Realtime        *config.RealtimeConfigHolder `optional:"true"`
	Metrics         *metrics.Metrics             `optional:"true"`
	RealtimeMetrics *metrics.RealtimeMetrics     `optional:"true"`
}

// Dispatcher delivers order events to a user's registered devices.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	push     config.PushConfig
	repo     pushdomain.Repository
	provider pushdomain.Provider
	settings *config.RealtimeConfigHolder
	metrics  *metrics.Metrics
	realtime *metrics.RealtimeMetrics
}

// Result summarizes one Send.
type Result struct {
	Attempted int
	Delivered int
	Removed   int
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("push.dispatcher"),
		push:     p.Config.Push,
		repo:     p.Repo,
		provider: p.Provider,
		settings: p.Realtime,
		metrics:  p.Metrics,
		realtime: p.RealtimeMetrics,
	}
}

// Send pushes event to every token of userID, each with its own timeout.
// Rejected tokens are deleted; other failures are logged. Only the token
// lookup can fail the call.
func (d *Dispatcher) Send(ctx context.Context, userID string, event orderdomain.OrderEvent) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, nil
	}

	ctx, span := tracer.Start(ctx, "push.send")
	defer span.End()

	tokens, err := d.repo.ListByUser(ctx, d.db, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return Result{}, nil
	}

	settings := d.settings.Get()
	notification := d.Build(event)
	log := logger.WithContext(ctx, d.log).With(
		zap.String("user_id", userID),
		zap.String("order_id", event.OrderID.String()),
	)

	var (
		mu     sync.Mutex
		result = Result{Attempted: len(tokens)}
	)
	g, gctx := errgroup.WithContext(ctx)
	if settings.PushConcurrency > 0 {
		g.SetLimit(settings.PushConcurrency)
	}
	for _, token := range tokens {
		g.Go(func() error {
			outcome := d.sendOne(gctx, token, notification, settings.PushTimeout, log)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case metrics.PushResultDelivered:
				result.Delivered++
			case metrics.PushResultInvalid:
				result.Removed++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("push.attempted", result.Attempted),
		attribute.Int("push.delivered", result.Delivered),
		attribute.Int("push.removed", result.Removed),
	)
	return result, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, token pushdomain.DeviceToken, n pushdomain.Notification, timeout time.Duration, log *zap.Logger) string {
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.provider.Send(sendCtx, token.Token, n)
	outcome := outcomeOf(err)
	d.metrics.RecordPushSend(ctx, d.provider.Name(), outcome)
	d.realtime.IncPushSend(d.provider.Name(), outcome)

	tokenField := zap.String("token", masking.MaskSecret(token.Token))
	switch outcome {
	case metrics.PushResultDelivered:
	case metrics.PushResultInvalid:
		// The send context may be spent; removal gets its own.
		removed, delErr := d.repo.Delete(context.WithoutCancel(ctx), d.db, token.UserID, token.Token)
		if delErr != nil {
			log.Warn("remove invalid device token failed", tokenField, zap.Error(delErr))
			break
		}
		log.Info("invalid device token removed", tokenField, zap.Bool("deleted", removed))
	case metrics.PushResultUnavailable, metrics.PushResultCircuitOpen:
		log.Warn("push provider unavailable", tokenField, zap.Error(err))
	default:
		log.Warn("push send failed", tokenField, zap.Error(err))
	}
	return outcome
}

// Build renders the notification for event.
func (d *Dispatcher) Build(event orderdomain.OrderEvent) pushdomain.Notification {
	kind := pushdomain.TypeOrderStatusUpdate
	if event.Kind == orderdomain.EventApproved {
		kind = pushdomain.TypeOrderConfirmation
	}

	data := map[string]string{
		"type":        kind,
		"orderId":     event.OrderID.String(),
		"orderNumber": event.OrderNumber,
		"status":      string(event.Status),
	}
	if event.RejectionReason != nil && strings.TrimSpace(*event.RejectionReason) != "" {
		data["rejectionReason"] = *event.RejectionReason
	}

	var ttl time.Duration
	if d.push.NotificationTTL > 0 {
		ttl = time.Duration(d.push.NotificationTTL) * time.Second
	}
	return pushdomain.Notification{
		Title: "Order " + event.OrderNumber,
		Body:  bodyFor(event),
		Data:  data,
		Sound: d.push.DefaultSound,
		TTL:   ttl,
	}
}

func bodyFor(event orderdomain.OrderEvent) string {
	switch event.Status {
	case orderdomain.StatusPending:
		return "Your order has been accepted."
	case orderdomain.StatusRejected:
		if event.RejectionReason != nil && *event.RejectionReason != "" {
			return "Your order was rejected: " + *event.RejectionReason
		}
		return "Your order was rejected."
	case orderdomain.StatusCancelled:
		return "Your order has been cancelled."
	case orderdomain.StatusPreparing:
		return "Your order is being prepared."
	case orderdomain.StatusReady:
		return "Your order is ready."
	case orderdomain.StatusCompleted:
		return "Your order is complete. Enjoy!"
	default:
		return "Your order status changed."
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.PushResultDelivered
	case errors.Is(err, pushdomain.ErrTokenInvalid):
		return metrics.PushResultInvalid
	case errors.Is(err, ErrCircuitOpen):
		return metrics.PushResultCircuitOpen
	case errors.Is(err, pushdomain.ErrProviderUnavailable):
		return metrics.PushResultUnavailable
	default:
		return metrics.PushResultFailed
	}
}
