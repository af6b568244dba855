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

	// MessagesSent tracks outbound messages by channel.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_messages_sent_total",
			Help: "Outbound messages appended to threads",
		},
		[]string{"channel"},
	)

	// MessageStatusTransitions tracks simulated delivery progress.
	MessageStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_message_status_transitions_total",
			Help: "Message status changes applied by delivery callbacks",
		},
		[]string{"channel", "status"},
	)

	// FollowUpsFired tracks follow-up rules executed against threads.
	FollowUpsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_followups_fired_total",
			Help: "Follow-up rules executed",
		},
		[]string{"rule", "action"},
	)

	// FollowUpErrors tracks per-thread follow-up failures.
	FollowUpErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_followup_errors_total",
			Help: "Follow-up executions that failed for a thread",
		},
	)

	// FollowUpTickDuration tracks how long one engine pass takes.
	FollowUpTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comms_followup_tick_duration_seconds",
			Help:    "Duration of a follow-up engine tick",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// FollowUpTicksSkipped tracks ticks dropped because one was still running.
	FollowUpTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_followup_ticks_skipped_total",
			Help: "Follow-up ticks skipped because a previous tick was in progress",
		},
	)

	// CallsCompleted tracks finished voice calls.
	CallsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_calls_completed_total",
			Help: "Voice calls completed",
		},
		[]string{"outcome"},
	)

	// EventsPublished tracks thread events by backend and result.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_events_published_total",
			Help: "Thread events published",
		},
		[]string{"backend", "result"},
	)

	// PersistenceErrors tracks failed write-through saves.
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_persistence_errors_total",
			Help: "Failed persistence writes",
		},
		[]string{"entity"},
	)

	// StreamConnections tracks open thread event streams.
	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comms_stream_connections",
			Help: "Number of open thread event streams",
		},
	)

	// StreamEventsDropped counts events a slow stream subscriber missed.
	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comms_stream_events_dropped_total",
			Help: "Thread events dropped because a stream subscriber fell behind",
		},
	)

	// LLMRequests counts summarization calls by provider and outcome.
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comms_llm_requests_total",
			Help: "LLM completion requests",
		},
		[]string{"provider", "status"},
	)

	// LLMLatency measures LLM completion latency.
	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comms_llm_request_duration_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// BusConnected reports whether an event bus connection is up.
	BusConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "comms_event_bus_connected",
			Help: "1 while the event bus connection is up",
		},
		[]string{"backend"},
	)

	// ThreadsTracked tracks the number of threads held in memory.
	ThreadsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comms_threads_tracked",
			Help: "Number of threads held in memory",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEvent records the outcome of publishing one thread event.
func RecordEvent(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(backend, result).Inc()
}
