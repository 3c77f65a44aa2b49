package correlation

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/tableside/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestStampCarriesRequestIdentity(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = obscontext.WithRequestID(ctx, "req-7")
	ctx = obscontext.WithRestaurantID(ctx, "42")
	ctx = obscontext.WithActor(ctx, "cashier", "u-1")

	restored := StampFromContext(ctx).Context(context.Background())

	assert.Equal(t, "req-7", obscontext.RequestIDFromContext(restored))
	assert.Equal(t, "42", obscontext.RestaurantIDFromContext(restored))
	role, id := obscontext.ActorFromContext(restored)
	assert.Equal(t, "cashier", role)
	assert.Equal(t, "u-1", id)

	sc := trace.SpanContextFromContext(restored)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, traceID, sc.TraceID())
}

func TestStampOutsideRequestGetsID(t *testing.T) {
	stamp := StampFromContext(context.Background())
	assert.NotEmpty(t, stamp.RequestID)
	assert.False(t, stamp.TraceID.IsValid())

	restored := stamp.Context(context.Background())
	assert.False(t, trace.SpanContextFromContext(restored).IsValid())
	assert.Equal(t, stamp.RequestID, obscontext.RequestIDFromContext(restored))
}
