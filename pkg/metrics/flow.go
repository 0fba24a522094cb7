package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FlowMetrics covers the payment flow: gateway calls, callback reconciliation,
// realtime fan-out and outbox publishing. A nil *FlowMetrics is a no-op.
type FlowMetrics struct {
	gatewayCalls      *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	breakerState      *prometheus.GaugeVec
	reconcileOutcomes *prometheus.CounterVec
	realtimeDelivered *prometheus.CounterVec
	realtimeDropped   prometheus.Counter
	outboxPublish     *prometheus.CounterVec
}

// NewFlowMetrics registers the payment flow collectors on reg.
func NewFlowMetrics(reg prometheus.Registerer) *FlowMetrics {
	if reg == nil {
		return nil
	}
	m := &FlowMetrics{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Calls to external payment providers by outcome.",
		}, []string{"method", "operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of external payment provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "operation"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"method"}),
		reconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Payment callbacks processed by outcome.",
		}, []string{"method", "outcome"}),
		realtimeDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_delivered_total",
			Help:      "Realtime notifications handed to a sink.",
		}, []string{"sink"}),
		realtimeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_dropped_total",
			Help:      "Realtime notifications dropped because the queue was full.",
		}),
		outboxPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_total",
			Help:      "Outbox rows processed by the publisher by outcome.",
		}, []string{"event_type", "outcome"}),
	}
	reg.MustRegister(
		m.gatewayCalls,
		m.gatewayLatency,
		m.breakerState,
		m.reconcileOutcomes,
		m.realtimeDelivered,
		m.realtimeDropped,
		m.outboxPublish,
	)
	return m
}

// ObserveGatewayCall records one provider call and its latency.
func (m *FlowMetrics) ObserveGatewayCall(method, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(method), normalizeLabel(operation), outcome).Inc()
	m.gatewayLatency.WithLabelValues(normalizeLabel(method), normalizeLabel(operation)).Observe(duration.Seconds())
}

// SetBreakerState exports the breaker state for method.
func (m *FlowMetrics) SetBreakerState(method string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeLabel(method)).Set(float64(state))
}

// IncReconcile counts a processed callback.
func (m *FlowMetrics) IncReconcile(method, outcome string) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// IncRealtimeDelivered counts a notification handed to sink.
func (m *FlowMetrics) IncRealtimeDelivered(sink string) {
	if m == nil {
		return
	}
	m.realtimeDelivered.WithLabelValues(normalizeLabel(sink)).Inc()
}

// IncRealtimeDropped counts a notification lost to backpressure.
func (m *FlowMetrics) IncRealtimeDropped() {
	if m == nil {
		return
	}
	m.realtimeDropped.Inc()
}

// ObserveOutboxPublish counts an outbox row outcome (published, retry, dead_lettered).
func (m *FlowMetrics) ObserveOutboxPublish(eventType, outcome string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
