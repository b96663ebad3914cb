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

	// InboundMessagesTotal counts decoded channel messages by kind.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_inbound_messages_total",
			Help: "Inbound channel messages by decoded kind",
		},
		[]string{"kind"},
	)

	// ParseErrorsTotal counts payloads dropped by the parser or decoder.
	ParseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convoai_parse_errors_total",
			Help: "Inbound payloads dropped because they could not be decoded",
		},
	)

	// StateEventsTotal counts state updates by filter outcome.
	StateEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_state_events_total",
			Help: "Agent state updates by watermark filter outcome",
		},
		[]string{"outcome"},
	)

	// DispatchedEventsTotal counts domain events handed to observers.
	DispatchedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_dispatched_events_total",
			Help: "Domain events dispatched to observers",
		},
		[]string{"kind"},
	)

	// TranscriptUpdatesTotal counts caption updates.
	TranscriptUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_transcript_updates_total",
			Help: "Caption updates by side and status",
		},
		[]string{"side", "status"},
	)

	// CommandsTotal counts outbound commands.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_commands_total",
			Help: "Outbound commands by command and status",
		},
		[]string{"command", "status"},
	)

	// AgentLatency tracks latency samples reported by the agent.
	AgentLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convoai_agent_reported_latency_ms",
			Help:    "Latency metrics reported by the agent in milliseconds",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 6400},
		},
		[]string{"vendor", "metric"},
	)

	// SessionsActive tracks subscribed sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convoai_sessions_active",
			Help: "Number of subscribed sessions",
		},
	)

	// EventStreamsActive tracks connected event stream clients.
	EventStreamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "convoai_event_streams_active",
			Help: "Number of connected event stream clients",
		},
		[]string{"transport"},
	)

	// NATSConnected is 1 while the NATS connection is up.
	NATSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convoai_nats_connected",
			Help: "Whether the NATS connection is up",
		},
	)

	// ArchivedTranscriptsTotal counts finalized captions written to the archive.
	ArchivedTranscriptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convoai_archived_transcripts_total",
			Help: "Finalized captions written to the archive stream",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCommand records the outcome of an outbound command.
func RecordCommand(command string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
}

// RecordAgentMetric records a latency sample reported by the agent.
func RecordAgentMetric(vendor, name string, value float64) {
	AgentLatency.WithLabelValues(vendor, name).Observe(value)
}

// IncrementEventStreams increments the active stream count for a transport.
func IncrementEventStreams(transport string) {
	EventStreamsActive.WithLabelValues(transport).Inc()
}

// DecrementEventStreams decrements the active stream count for a transport.
func DecrementEventStreams(transport string) {
	EventStreamsActive.WithLabelValues(transport).Dec()
}
