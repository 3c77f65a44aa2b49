package notification

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/observability/logger"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/push"
	"github.com/smallbiznis/tableside/internal/realtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("tableside/notification")

type Broadcaster interface {
	Broadcast(ctx context.Context, room realtime.Room, msg realtime.Message) (int, error)
}

type Pusher interface {
	Send(ctx context.Context, userID string, event orderdomain.OrderEvent) (push.Result, error)
}

type RouterParams struct {
	fx.In

	Log      *zap.Logger
	Bus      Broadcaster
	Pusher   Pusher
	Realtime *config.RealtimeConfigHolder `optional:"true"`
	Metrics  *metrics.RealtimeMetrics     `optional:"true"`
}

// Router turns order events into room broadcasts and pushes. Events are
// sharded by order id so one order's broadcasts go out in commit order.
// Pushes are handed to a separate pool and never hold up a shard.
type Router struct {
	log     *zap.Logger
	bus     Broadcaster
	pusher  Pusher
	metrics *metrics.RealtimeMetrics

	mu     sync.RWMutex
	shards []chan orderdomain.OrderEvent
	closed bool
	wg     sync.WaitGroup

	pushes      chan pushJob
	pushWorkers int
	pushWG      sync.WaitGroup
	pushClose   sync.Once
}

type pushJob struct {
	ctx    context.Context
	userID string
	event  orderdomain.OrderEvent
}

func NewRouter(p RouterParams) *Router {
	settings := p.Realtime.Get()
	shards := make([]chan orderdomain.OrderEvent, settings.RouterWorkers)
	perShard := settings.RouterQueueSize / settings.RouterWorkers
	if perShard < 1 {
		perShard = 1
	}
	for i := range shards {
		shards[i] = make(chan orderdomain.OrderEvent, perShard)
	}
	return &Router{
		log:     p.Log.Named("notification.router"),
		bus:     p.Bus,
		pusher:  p.Pusher,
		metrics: p.Metrics,
		shards:  shards,

		pushes:      make(chan pushJob, settings.RouterQueueSize),
		pushWorkers: settings.RouterWorkers,
	}
}

// Start launches one worker per shard and the push pool.
func (r *Router) Start() {
	for i, ch := range r.shards {
		r.wg.Add(1)
		go r.work(i, ch)
	}
	for range r.pushWorkers {
		r.pushWG.Add(1)
		go r.pushWork()
	}
}

// Stop refuses new events, lets workers drain what is queued and waits for
// them until ctx expires.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, ch := range r.shards {
			close(ch)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		// shard workers are the only producers of push jobs
		r.pushClose.Do(func() { close(r.pushes) })
		r.pushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch hands event to its shard without blocking. The mutation is
// already committed, so a full queue drops the event.
func (r *Router) Dispatch(event orderdomain.OrderEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.IncDropped(metrics.DropReasonClosed)
		r.log.Warn("notification dropped, router stopped", zap.String("order_id", event.OrderID.String()))
		return
	}

	select {
	case r.shards[r.shardFor(event)] <- event:
	default:
		r.metrics.IncDropped(metrics.DropReasonQueueFull)
		r.log.Warn("notification dropped, queue full",
			zap.String("order_id", event.OrderID.String()),
			zap.String("kind", string(event.Kind)),
		)
	}
}

func (r *Router) shardFor(event orderdomain.OrderEvent) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(event.OrderID.String()))
	return int(h.Sum32() % uint32(len(r.shards)))
}

func (r *Router) work(shard int, ch <-chan orderdomain.OrderEvent) {
	defer r.wg.Done()
	for event := range ch {
		r.safeDeliver(shard, event)
	}
}

func (r *Router) safeDeliver(shard int, event orderdomain.OrderEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("notification worker panic",
				zap.Int("shard", shard),
				zap.String("order_id", event.OrderID.String()),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()
	ctx := event.Trace.Context(context.Background())
	_ = r.deliver(ctx, event, true)
}

func (r *Router) pushWork() {
	defer r.pushWG.Done()
	for job := range r.pushes {
		r.safePush(job)
	}
}

func (r *Router) safePush(job pushJob) {
	log := logger.WithContext(job.ctx, r.log).With(
		zap.String("order_id", job.event.OrderID.String()),
		zap.String("kind", string(job.event.Kind)),
	)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("push worker panic", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()
	_ = r.sendPush(job.ctx, log, job.userID, job.event)
}

func (r *Router) enqueuePush(job pushJob, log *zap.Logger) {
	select {
	case r.pushes <- job:
	default:
		r.metrics.IncDropped(metrics.DropReasonPushQueueFull)
		log.Warn("push dropped, queue full")
	}
}

// Deliver runs every target of the event's plan concurrently and waits for
// all of them. Failures are logged per target and joined into the result.
func (r *Router) Deliver(ctx context.Context, event orderdomain.OrderEvent) error {
	return r.deliver(ctx, event, false)
}

// deliver with queuePush set waits only for the room broadcasts and leaves
// the push to the push pool.
func (r *Router) deliver(ctx context.Context, event orderdomain.OrderEvent, queuePush bool) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "notification.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", event.OrderID.String()),
		attribute.String("order.event", string(event.Kind)),
	)
	r.metrics.IncRouted(string(event.Kind))

	log := logger.WithContext(ctx, r.log).With(
		zap.String("order_id", event.OrderID.String()),
		zap.String("kind", string(event.Kind)),
	)
	plan := Route(event)

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	run := func(target string, fn func() error) {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("notification target panic", zap.String("target", target), zap.Any("panic", rec), zap.Stack("stack"))
					err = fmt.Errorf("%s: panic: %v", target, rec)
				}
				if err != nil {
					fail(err)
				}
			}()
			return fn()
		})
	}

	for _, b := range plan.Broadcasts {
		run(b.Room.Name(), func() error {
			msg := realtime.Message{Event: b.Event, Order: event.Order, Timestamp: event.EmittedAt}
			delivered, err := r.bus.Broadcast(ctx, b.Room, msg)
			if err != nil {
				log.Warn("room broadcast failed", zap.String("room", b.Room.Name()), zap.Error(err))
				return fmt.Errorf("broadcast %s: %w", b.Room.Name(), err)
			}
			log.Debug("room broadcast", zap.String("room", b.Room.Name()), zap.String("event", b.Event), zap.Int("delivered", delivered))
			return nil
		})
	}
	if plan.PushUserID != "" && r.pusher != nil {
		if queuePush {
			r.enqueuePush(pushJob{ctx: context.WithoutCancel(ctx), userID: plan.PushUserID, event: event}, log)
		} else {
			run("push", func() error {
				return r.sendPush(ctx, log, plan.PushUserID, event)
			})
		}
	}
	_ = g.Wait()

	r.metrics.ObserveFanout(time.Since(start).Seconds())
	return errors.Join(errs...)
}

func (r *Router) sendPush(ctx context.Context, log *zap.Logger, userID string, event orderdomain.OrderEvent) error {
	result, err := r.pusher.Send(ctx, userID, event)
	if err != nil {
		log.Warn("push failed", zap.Error(err))
		return fmt.Errorf("push %s: %w", userID, err)
	}
	log.Debug("push sent", zap.Int("attempted", result.Attempted), zap.Int("delivered", result.Delivered))
	return nil
}
