package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for the orchestration loop and its
// reliability subsystems.
//
// Tracked series:
//   - Run counts and durations by source and terminal status
//   - Step counts by agent, tool, and step status
//   - Tool execution latency
//   - Router classification retries and fallbacks
//   - Idempotency admissions and duplicate hits
//   - Reminder notifications sent, suppressed, and dropped
type Metrics struct {
	// RunCounter counts completed runs.
	// Labels: source (telegram|whatsapp|web|system-scheduler), status
	RunCounter *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	// Labels: source
	RunDuration *prometheus.HistogramVec

	// StepCounter counts steps appended to run traces.
	// Labels: agent, tool, status (success|failed|timed_out)
	StepCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// ClassifyRetries counts router classification retries.
	ClassifyRetries prometheus.Counter

	// ClassifyFallbacks counts runs degraded to the fallback agent.
	ClassifyFallbacks prometheus.Counter

	// DedupeHits counts inbound events rejected as duplicates.
	// Labels: source
	DedupeHits *prometheus.CounterVec

	// RemindersSent counts reminder notifications dispatched.
	// Labels: entity_type
	RemindersSent *prometheus.CounterVec

	// RemindersSuppressed counts reminders deferred by quiet hours.
	// Labels: entity_type
	RemindersSuppressed *prometheus.CounterVec

	// RemindersDropped counts reminders dropped after their relevance
	// window elapsed.
	// Labels: entity_type
	RemindersDropped *prometheus.CounterVec

	// ActiveRuns tracks runs currently in flight.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_runs_total",
			Help: "Total agent runs by source and terminal status.",
		}, []string{"source", "status"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kenes_run_duration_seconds",
			Help:    "End-to-end run latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}, []string{"source"}),

		StepCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_steps_total",
			Help: "Run trace steps by agent, tool and status.",
		}, []string{"agent", "tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kenes_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ClassifyRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "kenes_classify_retries_total",
			Help: "Router classification retries after an unparsable response.",
		}),

		ClassifyFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "kenes_classify_fallbacks_total",
			Help: "Runs routed to the fallback agent after classification failed twice.",
		}),

		DedupeHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_dedupe_hits_total",
			Help: "Inbound events rejected by the idempotency guard.",
		}, []string{"source"}),

		RemindersSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_reminders_sent_total",
			Help: "Reminder notifications dispatched.",
		}, []string{"entity_type"}),

		RemindersSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_reminders_suppressed_total",
			Help: "Reminder notifications deferred by quiet hours or opt-out.",
		}, []string{"entity_type"}),

		RemindersDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kenes_reminders_dropped_total",
			Help: "Reminders dropped because their relevance window elapsed.",
		}, []string{"entity_type"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kenes_active_runs",
			Help: "Agent runs currently in flight.",
		}),
	}
}
