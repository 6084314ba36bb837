// Package metrics holds the Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the voice bridge.
type Metrics struct {
	registry *prometheus.Registry

	CallsAcceptedTotal     prometheus.Counter
	WebhookDuplicatesTotal prometheus.Counter
	ToolDispatchTotal      *prometheus.CounterVec
	ReconnectAttemptsTotal prometheus.Counter
	BargeInTruncations     prometheus.Counter
	ActiveCalls            prometheus.Gauge
	CallDuration           prometheus.Histogram
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicebridge"
	}

	registry := prometheus.NewRegistry()

	callsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_accepted_total",
		Help:      "Total number of accepted inbound calls",
	})

	webhookDuplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_duplicates_total",
		Help:      "Total number of duplicate webhook deliveries ignored",
	})

	toolDispatch := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_dispatch_total",
			Help:      "Total number of dispatched tool calls",
		},
		[]string{"tool", "outcome"},
	)

	reconnectAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Total number of AI session reconnect attempts",
	})

	bargeIns := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "barge_in_truncations_total",
		Help:      "Total number of playback truncations from caller barge-in",
	})

	activeCalls := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_calls",
		Help:      "Number of calls currently in progress",
	})

	callDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Completed call duration in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	registry.MustRegister(
		callsAccepted,
		webhookDuplicates,
		toolDispatch,
		reconnectAttempts,
		bargeIns,
		activeCalls,
		callDuration,
	)

	return &Metrics{
		registry:               registry,
		CallsAcceptedTotal:     callsAccepted,
		WebhookDuplicatesTotal: webhookDuplicates,
		ToolDispatchTotal:      toolDispatch,
		ReconnectAttemptsTotal: reconnectAttempts,
		BargeInTruncations:     bargeIns,
		ActiveCalls:            activeCalls,
		CallDuration:           callDuration,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallAccepted records a newly accepted call.
func (m *Metrics) RecordCallAccepted() {
	if m == nil {
		return
	}
	m.CallsAcceptedTotal.Inc()
	m.ActiveCalls.Inc()
}

// RecordCallEnded records a finished call and its duration.
func (m *Metrics) RecordCallEnded(duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordDuplicate records an ignored duplicate webhook delivery.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.WebhookDuplicatesTotal.Inc()
}

// RecordToolDispatch records one tool invocation and its outcome.
func (m *Metrics) RecordToolDispatch(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolDispatchTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordReconnectAttempt records one AI session reconnect attempt.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsTotal.Inc()
}

// RecordBargeIn records one playback truncation.
func (m *Metrics) RecordBargeIn() {
	if m == nil {
		return
	}
	m.BargeInTruncations.Inc()
}
