package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PushResultDelivered   = "delivered"
	PushResultInvalid     = "invalid_token"
	PushResultUnavailable = "unavailable"
	PushResultCircuitOpen = "circuit_open"
	PushResultFailed      = "failed"
)

const (
	DropReasonQueueFull     = "queue_full"
	DropReasonPushQueueFull = "push_queue_full"
	DropReasonClosed        = "router_closed"
)

// RealtimeMetrics captures socket fan-out and push health.
type RealtimeMetrics struct {
	sessions       prometheus.Gauge
	broadcasts     *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	droppedEvents  *prometheus.CounterVec
	routedEvents   *prometheus.CounterVec
	pushSends      *prometheus.CounterVec
	breakerState   prometheus.Gauge
	fanoutDuration prometheus.Histogram
}

var (
	realtimeMetricsOnce sync.Once
	realtimeMetrics     *RealtimeMetrics
)

// Realtime returns the process-wide realtime metrics registered on the default registerer.
func Realtime() *RealtimeMetrics {
	return RealtimeWithConfig(Config{})
}

// RealtimeWithConfig returns the singleton realtime metrics using config labels.
func RealtimeWithConfig(cfg Config) *RealtimeMetrics {
	realtimeMetricsOnce.Do(func() {
		realtimeMetrics = NewRealtimeMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return realtimeMetrics
}

// NewRealtimeMetrics builds collectors on the given registerer. Tests pass a fresh registry.
func NewRealtimeMetrics(registerer prometheus.Registerer, cfg Config) *RealtimeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	m := &RealtimeMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tableside_realtime_sessions",
			Help:        "Connected realtime sessions.",
			ConstLabels: constLabels,
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_realtime_broadcasts_total",
			Help:        "Room broadcasts by room kind and event.",
			ConstLabels: constLabels,
		}, []string{"room", "event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_realtime_deliveries_total",
			Help:        "Messages handed to session send buffers by room kind.",
			ConstLabels: constLabels,
		}, []string{"room"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_realtime_write_failures_total",
			Help:        "Per-session delivery failures by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_notification_dropped_total",
			Help:        "Order events dropped before routing.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		routedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_notification_routed_total",
			Help:        "Order events routed by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		pushSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tableside_push_sends_total",
			Help:        "Push sends per device token by result.",
			ConstLabels: constLabels,
		}, []string{"provider", "result"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tableside_push_breaker_state",
			Help:        "Push provider breaker state (0 closed, 1 half-open, 2 open).",
			ConstLabels: constLabels,
		}),
		fanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "tableside_notification_fanout_seconds",
			Help:        "Time to deliver one order event to every target.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}),
	}

	m.sessions = registerCollector(registerer, m.sessions).(prometheus.Gauge)
	m.broadcasts = registerCollector(registerer, m.broadcasts).(*prometheus.CounterVec)
	m.deliveries = registerCollector(registerer, m.deliveries).(*prometheus.CounterVec)
	m.writeFailures = registerCollector(registerer, m.writeFailures).(*prometheus.CounterVec)
	m.droppedEvents = registerCollector(registerer, m.droppedEvents).(*prometheus.CounterVec)
	m.routedEvents = registerCollector(registerer, m.routedEvents).(*prometheus.CounterVec)
	m.pushSends = registerCollector(registerer, m.pushSends).(*prometheus.CounterVec)
	m.breakerState = registerCollector(registerer, m.breakerState).(prometheus.Gauge)
	m.fanoutDuration = registerCollector(registerer, m.fanoutDuration).(prometheus.Histogram)
	return m
}

func (m *RealtimeMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *RealtimeMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// ObserveBroadcast records one broadcast and the number of sessions it reached.
func (m *RealtimeMetrics) ObserveBroadcast(roomKind, event string, delivered int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(roomKind, event).Inc()
	if delivered > 0 {
		m.deliveries.WithLabelValues(roomKind).Add(float64(delivered))
	}
}

func (m *RealtimeMetrics) IncWriteFailure(reason string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *RealtimeMetrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *RealtimeMetrics) IncRouted(kind string) {
	if m == nil {
		return
	}
	m.routedEvents.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *RealtimeMetrics) ObserveFanout(seconds float64) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(seconds)
}

func (m *RealtimeMetrics) IncPushSend(provider, result string) {
	if m == nil {
		return
	}
	m.pushSends.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *RealtimeMetrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tableside"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// registerCollector returns the already registered collector when one exists.
func registerCollector(registerer prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
