package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/tableside/internal/observability/logger"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("tableside/realtime")

type BusParams struct {
	fx.In

	Log      *zap.Logger
	Registry *Registry
	Metrics  *metrics.RealtimeMetrics `optional:"true"`
}

// Bus writes frames to every session of a room. Delivery is best effort.
type Bus struct {
	log      *zap.Logger
	registry *Registry
	metrics  *metrics.RealtimeMetrics
}

func NewBus(p BusParams) *Bus {
	return &Bus{
		log:      p.Log.Named("realtime.bus"),
		registry: p.Registry,
		metrics:  p.Metrics,
	}
}

// Broadcast serializes msg once and queues it for every current member of
// target. It returns how many sessions accepted the frame; per-session
// failures are counted and skipped.
func (b *Bus) Broadcast(ctx context.Context, target Room, msg Message) (int, error) {
	ctx, span := tracer.Start(ctx, "realtime.broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("realtime.room", target.Name()),
		attribute.String("realtime.event", msg.Event),
	)

	frame, err := encode(msg)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", msg.Event, err)
	}

	members := b.registry.MembersOf(target)
	if len(members) == 0 {
		b.metrics.ObserveBroadcast(string(target.Kind), msg.Event, 0)
		return 0, nil
	}

	delivered := 0
	for _, s := range members {
		if err := s.Send(frame); err != nil {
			reason := "closed"
			if errors.Is(err, ErrSendBufferFull) {
				reason = "buffer_full"
			}
			b.metrics.IncWriteFailure(reason)
			logger.WithContext(ctx, b.log).Debug("socket write skipped",
				zap.String("session_id", s.ID),
				zap.String("room", target.Name()),
				zap.String("event", msg.Event),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	span.SetAttributes(attribute.Int("realtime.delivered", delivered))
	b.metrics.ObserveBroadcast(string(target.Kind), msg.Event, delivered)
	return delivered, nil
}

// SendTo queues a frame for one session, used for control replies.
func (b *Bus) SendTo(s *Session, v any) error {
	frame, err := encode(v)
	if err != nil {
		return err
	}
	if err := s.Send(frame); err != nil {
		b.metrics.IncWriteFailure("control")
		return err
	}
	return nil
}
