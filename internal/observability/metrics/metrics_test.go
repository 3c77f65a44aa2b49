package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("restaurant_id", "123"),
		attribute.String("order_id", "456"),
		attribute.String("to_status", "ready"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "restaurant_id" && attrs[1].Key != "restaurant_id" {
		t.Fatalf("expected restaurant_id to be retained")
	}
	if attrs[0].Key != "to_status" && attrs[1].Key != "to_status" {
		t.Fatalf("expected to_status to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOrderCreated(context.Background(), "1", "customer")
	m.RecordTransition(context.Background(), "1", "pending", "preparing")
	m.RecordRateLimitDenied(context.Background(), "1", "/api/v1/orders", "rate_limited")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "tableside"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPushSend(context.Background(), "log", "delivered")
}

func TestTransitionCounterDropsOrderLabels(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := New(Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordTransition(context.Background(), "42", "pending", "preparing")
	m.RecordTransition(context.Background(), "42", "pending", "preparing")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "tableside_order_transitions_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("unexpected data %#v", md.Data)
			}
			if sum.DataPoints[0].Value != 2 {
				t.Fatalf("expected 2 transitions, got %d", sum.DataPoints[0].Value)
			}
			return
		}
	}
	t.Fatal("transition counter not exported")
}
