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
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
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

	// TransportConnected is 1 while the event transport is connected.
	TransportConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transport_connected",
			Help: "Whether the event transport is connected",
		},
		[]string{"session_id"},
	)

	// TransportReconnectsTotal tracks reconnection attempts.
	TransportReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_reconnects_total",
			Help: "Total event transport reconnection attempts",
		},
		[]string{"session_id"},
	)

	// FramesTotal tracks frames received from the event transport.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_frames_total",
			Help: "Total frames received from the event transport",
		},
		[]string{"type"},
	)

	// ReconcileOutcomesTotal tracks what happened to incoming authoritative messages.
	ReconcileOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Incoming messages by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	// PendingMessages tracks unconfirmed optimistic messages in the open chat.
	PendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_messages",
			Help: "Optimistic messages awaiting confirmation",
		},
	)

	// ActionsTotal tracks user actions by result.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_actions_total",
			Help: "Console actions by type and result",
		},
		[]string{"action", "result"},
	)

	// BackendDuration tracks backend REST call latency.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// InboxDepth tracks queued commands in the console inbox.
	InboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_inbox_depth",
			Help: "Commands waiting in the console inbox",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EventsPublishedTotal tracks console events published to NATS.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_events_published_total",
			Help: "Console events published to the event stream",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetTransportConnected records the transport connection state.
func SetTransportConnected(sessionID string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	TransportConnected.WithLabelValues(sessionID).Set(v)
}

// RecordBackendCall records the latency of a backend call.
func RecordBackendCall(operation string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BackendDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordAction records the result of a console action.
func RecordAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	ActionsTotal.WithLabelValues(action, result).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
