// Package correlation carries request identity across the hop from an HTTP
// handler to the background workers that deliver its order events.
package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/tableside/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
)

// Stamp is attached to an event when it is published. Workers rebuild a
// context from it so their logs and spans join the originating request.
type Stamp struct {
	RequestID    string
	RestaurantID string
	ActorRole    string
	ActorID      string
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	PublishedAt  time.Time
}

// StampFromContext snapshots ctx. Events raised outside a request get a
// fresh ulid so their deliveries can still be grouped.
func StampFromContext(ctx context.Context) Stamp {
	s := Stamp{PublishedAt: time.Now().UTC()}
	if ctx != nil {
		s.RequestID = obscontext.RequestIDFromContext(ctx)
		s.RestaurantID = obscontext.RestaurantIDFromContext(ctx)
		s.ActorRole, s.ActorID = obscontext.ActorFromContext(ctx)
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			s.TraceID = sc.TraceID()
			s.SpanID = sc.SpanID()
		}
	}
	if s.RequestID == "" {
		s.RequestID = ulid.Make().String()
	}
	return s
}

// Context returns ctx carrying the stamped identity, with the publishing
// span installed as a remote parent.
func (s Stamp) Context(ctx context.Context) context.Context {
	ctx = obscontext.WithRequestID(ctx, s.RequestID)
	ctx = obscontext.WithRestaurantID(ctx, s.RestaurantID)
	if s.ActorRole != "" || s.ActorID != "" {
		ctx = obscontext.WithActor(ctx, s.ActorRole, s.ActorID)
	}
	if !s.TraceID.IsValid() || !s.SpanID.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    s.TraceID,
		SpanID:     s.SpanID,
		TraceFlags: trace.FlagsSampled,
	}))
}
