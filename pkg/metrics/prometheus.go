package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the coordinator. Each instance
// owns its registry so services (and tests) can create metrics independently
// without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Session Metrics
	sessionsCreatedTotal prometheus.Counter
	sessionsEndedTotal   prometheus.Counter
	sessionsActive       prometheus.Gauge
	sessionDuration      prometheus.Histogram
	participantsActive   prometheus.Gauge

	// Command Metrics
	commandsTotal *prometheus.CounterVec

	// Broadcast Metrics
	broadcastsTotal *prometheus.CounterVec

	// Signaling Metrics
	signalsRelayedTotal prometheus.Counter
	signalsDroppedTotal prometheus.Counter

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Analytics Metrics
	analyticsEventsTotal  *prometheus.CounterVec
	analyticsDroppedTotal prometheus.Counter
	analyticsFlushErrors  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a fresh registry
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// HTTP Request Metrics
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		// Session Metrics
		sessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "sessions_created_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
		),
		sessionsEndedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "sessions_ended_total",
				Help:        "Total number of call sessions ended",
				ConstLabels: labels,
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "sessions_active",
				Help:        "Number of active call sessions",
				ConstLabels: labels,
			},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "session_duration_seconds",
				Help:        "Call session duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		participantsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "participants_active",
				Help:        "Number of participants currently in call sessions",
				ConstLabels: labels,
			},
		),

		// Command Metrics
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "session_commands_total",
				Help:        "Total number of session commands processed",
				ConstLabels: labels,
			},
			[]string{"command", "outcome"},
		),

		// Broadcast Metrics
		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "broadcasts_total",
				Help:        "Total number of state deltas broadcast to participants",
				ConstLabels: labels,
			},
			[]string{"type"},
		),

		// Signaling Metrics
		signalsRelayedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "signals_relayed_total",
				Help:        "Total number of signaling payloads relayed",
				ConstLabels: labels,
			},
		),
		signalsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "signals_dropped_total",
				Help:        "Total number of signaling messages dropped to backlog",
				ConstLabels: labels,
			},
		),

		// WebSocket Metrics
		websocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		// Analytics Metrics
		analyticsEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "analytics_events_total",
				Help:        "Total number of analytics events consumed",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		analyticsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "analytics_events_dropped_total",
				Help:        "Total number of analytics events dropped on a full buffer",
				ConstLabels: labels,
			},
		),
		analyticsFlushErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "analytics_flush_errors_total",
				Help:        "Total number of summary flush failures",
				ConstLabels: labels,
			},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.sessionsCreatedTotal,
		m.sessionsEndedTotal,
		m.sessionsActive,
		m.sessionDuration,
		m.participantsActive,
		m.commandsTotal,
		m.broadcastsTotal,
		m.signalsRelayedTotal,
		m.signalsDroppedTotal,
		m.websocketConnections,
		m.websocketMessagesTotal,
		m.analyticsEventsTotal,
		m.analyticsDroppedTotal,
		m.analyticsFlushErrors,
	)

	return m
}

// GetRegistry returns the registry backing this metrics instance, for the
// /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// Session Metrics Methods

// RecordSessionCreated records a created session
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreatedTotal.Inc()
}

// RecordSessionEnded records an ended session
func (m *Metrics) RecordSessionEnded() {
	m.sessionsEndedTotal.Inc()
}

// SetActiveSessions sets the number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordSessionDuration records the duration of a finished session
func (m *Metrics) RecordSessionDuration(duration time.Duration) {
	m.sessionDuration.Observe(duration.Seconds())
}

// SetActiveParticipants sets the number of participants across sessions
func (m *Metrics) SetActiveParticipants(count int) {
	m.participantsActive.Set(float64(count))
}

// Command Metrics Methods

// RecordCommand records a processed session command and its outcome
func (m *Metrics) RecordCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commandsTotal.WithLabelValues(command, outcome).Inc()
}

// Broadcast Metrics Methods

// RecordBroadcast records a committed state-delta broadcast
func (m *Metrics) RecordBroadcast(eventType string) {
	m.broadcastsTotal.WithLabelValues(eventType).Inc()
}

// Signaling Metrics Methods

// RecordSignalRelayed records a relayed signaling payload
func (m *Metrics) RecordSignalRelayed() {
	m.signalsRelayedTotal.Inc()
}

// RecordSignalDropped records a signaling message dropped to backlog
func (m *Metrics) RecordSignalDropped() {
	m.signalsDroppedTotal.Inc()
}

// WebSocket Metrics Methods

// IncrementWebSocketConnections increments active WebSocket connections
func (m *Metrics) IncrementWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections decrements active WebSocket connections
func (m *Metrics) DecrementWebSocketConnections() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// Analytics Metrics Methods

// RecordAnalyticsEvent records a consumed analytics event
func (m *Metrics) RecordAnalyticsEvent(kind string) {
	m.analyticsEventsTotal.WithLabelValues(kind).Inc()
}

// RecordAnalyticsDropped records an analytics event dropped on a full buffer
func (m *Metrics) RecordAnalyticsDropped() {
	m.analyticsDroppedTotal.Inc()
}

// RecordAnalyticsFlushError records a failed summary flush
func (m *Metrics) RecordAnalyticsFlushError() {
	m.analyticsFlushErrors.Inc()
}
