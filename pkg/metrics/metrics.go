// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ModelCallDuration tracks Model Gateway call latency.
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_duration_seconds",
			Help:    "Model backend call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"backend", "outcome"},
	)

	// ModelTokensTotal tracks tokens reported by the model backend.
	ModelTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_tokens_total",
			Help: "Total model tokens processed",
		},
		[]string{"model", "direction"},
	)

	// TurnsTotal tracks orchestration turns by final state.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestration_turns_total",
			Help: "Total orchestration turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnIterations tracks how many model calls a turn needed.
	TurnIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestration_turn_iterations",
			Help:    "Model calls per orchestration turn",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// ToolInvocationsTotal tracks tool invocations by result.
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_invocations_total",
			Help: "Total tool invocations",
		},
		[]string{"tool", "result"},
	)

	// SessionsActive tracks connected real-time sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of connected real-time sessions",
		},
	)

	// EventsBroadcastTotal tracks events fanned out by the hub.
	EventsBroadcastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_broadcast_total",
			Help: "Total chat events broadcast",
		},
		[]string{"type"},
	)

	// EventsDroppedTotal tracks events that could not be queued for a session.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Chat events dropped because a session queue was full",
		},
		[]string{"type"},
	)

	// RelayPublishTotal tracks events mirrored to NATS.
	RelayPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_relay_publish_total",
			Help: "Chat events published to NATS",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordModelCall records metrics for one Model Gateway call.
func RecordModelCall(backend, model, outcome string, duration float64, tokensIn, tokensOut int) {
	ModelCallDuration.WithLabelValues(backend, outcome).Observe(duration)
	if model == "" {
		return
	}
	ModelTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	ModelTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordTurn records metrics for a finished orchestration turn.
func RecordTurn(outcome string, iterations int) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnIterations.Observe(float64(iterations))
}

// RecordToolInvocation records a tool invocation result.
func RecordToolInvocation(tool, result string) {
	ToolInvocationsTotal.WithLabelValues(tool, result).Inc()
}

// IncrementSessions increments the active session count.
func IncrementSessions() {
	SessionsActive.Inc()
}

// DecrementSessions decrements the active session count.
func DecrementSessions() {
	SessionsActive.Dec()
}
