// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_realtime_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	ConnectionDuration  prometheus.Histogram

	// Frame metrics
	FramesInbound  *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec

	// Provider metrics
	ProviderSessions   *prometheus.CounterVec
	ProviderReconnects *prometheus.CounterVec
	ProviderFailures   *prometheus.CounterVec

	// Transcript metrics
	TranscriptFragments *prometheus.CounterVec
	TranscriptFlushes   *prometheus.CounterVec
	FlushLatency        prometheus.Histogram

	// Timer metrics
	SessionsEnded    *prometheus.CounterVec
	TimeWarningsSent *prometheus.CounterVec

	// Durable log metrics
	EventsPublished    *prometheus.CounterVec
	EventsProcessed    *prometheus.CounterVec
	EventsRetried      *prometheus.CounterVec
	EventsDeadLettered *prometheus.CounterVec
	EventsReclaimed    prometheus.Counter

	// Transcript export metrics
	ExportPublishTotal  *prometheus.CounterVec
	ExportPublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of WebSocket connections accepted",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently active WebSocket connections",
		}),
		ConnectionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections rejected at handshake",
		}, []string{"reason"}),
		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of WebSocket connections in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 600, 900, 1800},
		}),

		FramesInbound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_inbound_total",
			Help:      "Total inbound client frames by type",
		}, []string{"type"}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total rejected client frames",
		}, []string{"reason"}),

		ProviderSessions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_sessions_total",
			Help:      "Total upstream voice provider sessions started",
		}, []string{"provider"}),
		ProviderReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_reconnects_total",
			Help:      "Total upstream reconnect attempts",
		}, []string{"provider"}),
		ProviderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Total provider sessions that exhausted their reconnect budget",
		}, []string{"provider"}),

		TranscriptFragments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_total",
			Help:      "Total transcript fragments buffered",
		}, []string{"speaker"}),
		TranscriptFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_flushes_total",
			Help:      "Total transcript buffer flushes",
		}, []string{"outcome"}),
		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcript_flush_latency_seconds",
			Help:      "Transcript flush latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total sessions ended",
		}, []string{"reason"}),
		TimeWarningsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "time_warnings_total",
			Help:      "Total milestone time warnings fired",
		}, []string{"threshold"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total events appended to the durable log",
		}, []string{"type"}),
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total events processed by consumer groups",
		}, []string{"group", "outcome"}),
		EventsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_retried_total",
			Help:      "Total event processing retries",
		}, []string{"group"}),
		EventsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_lettered_total",
			Help:      "Total events moved to the dead-letter stream",
		}, []string{"group"}),
		EventsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_reclaimed_total",
			Help:      "Total pending events reclaimed from stalled consumers",
		}),

		ExportPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_publish_total",
			Help:      "Total transcript rows exported to Kafka",
		}, []string{"topic"}),
		ExportPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_publish_errors_total",
			Help:      "Total Kafka export errors",
		}, []string{"topic"}),
	}
}

// RecordConnectionOpen records a new client connection.
func (m *Metrics) RecordConnectionOpen() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionClose records a connection ending.
func (m *Metrics) RecordConnectionClose(durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordConnectionRejected records a handshake rejection.
func (m *Metrics) RecordConnectionRejected(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordFrame records an accepted inbound frame.
func (m *Metrics) RecordFrame(frameType string) {
	m.FramesInbound.WithLabelValues(frameType).Inc()
}

// RecordFrameRejected records a rejected inbound frame.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordProviderSession records an upstream session starting.
func (m *Metrics) RecordProviderSession(provider string) {
	m.ProviderSessions.WithLabelValues(provider).Inc()
}

// RecordProviderReconnect records an upstream reconnect attempt.
func (m *Metrics) RecordProviderReconnect(provider string) {
	m.ProviderReconnects.WithLabelValues(provider).Inc()
}

// RecordProviderFailure records a provider session giving up.
func (m *Metrics) RecordProviderFailure(provider string) {
	m.ProviderFailures.WithLabelValues(provider).Inc()
}

// RecordFragment records a transcript fragment buffered.
func (m *Metrics) RecordFragment(speaker string) {
	m.TranscriptFragments.WithLabelValues(speaker).Inc()
}

// RecordFlush records a transcript flush attempt.
func (m *Metrics) RecordFlush(err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TranscriptFlushes.WithLabelValues(outcome).Inc()
	m.FlushLatency.Observe(latencySeconds)
}

// RecordSessionEnded records a session end.
func (m *Metrics) RecordSessionEnded(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordTimeWarning records a milestone warning being fired.
func (m *Metrics) RecordTimeWarning(threshold string) {
	m.TimeWarningsSent.WithLabelValues(threshold).Inc()
}

// RecordEventPublished records an event appended to the durable log.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventProcessed records a consumer group processing outcome.
func (m *Metrics) RecordEventProcessed(group string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.EventsProcessed.WithLabelValues(group, outcome).Inc()
}

// RecordEventRetried records an event retry.
func (m *Metrics) RecordEventRetried(group string) {
	m.EventsRetried.WithLabelValues(group).Inc()
}

// RecordEventDeadLettered records an event moved to the dead-letter stream.
func (m *Metrics) RecordEventDeadLettered(group string) {
	m.EventsDeadLettered.WithLabelValues(group).Inc()
}

// RecordEventReclaimed records a pending event being reclaimed.
func (m *Metrics) RecordEventReclaimed() {
	m.EventsReclaimed.Inc()
}

// RecordExportPublish records a Kafka export attempt.
func (m *Metrics) RecordExportPublish(topic string, err error) {
	m.ExportPublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		m.ExportPublishErrors.WithLabelValues(topic).Inc()
	}
}
