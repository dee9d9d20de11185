// Package metrics holds the Prometheus collectors shared across the
// pipeline and the per-tenant snapshot the alert evaluator reads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the platform exports. One instance is
// created in main and handed to the components that record into it.
type Registry struct {
	prom *prometheus.Registry

	ExceptionsTotal      *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	WorkerProcessedTotal *prometheus.CounterVec
	ToolExecutionsTotal  *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec

	QueueOldestAge *prometheus.GaugeVec
	BreakerState   *prometheus.GaugeVec

	ToolDuration     prometheus.Histogram
	EmbeddingLatency prometheus.Histogram
}

// NewRegistry creates and registers every collector on a fresh Prometheus
// registry (no global state, so tests can hold their own).
func NewRegistry() *Registry {
	r := &Registry{prom: prometheus.NewRegistry()}

	r.ExceptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remedy_exceptions_total",
		Help: "Exceptions ingested, by tenant and severity.",
	}, []string{"tenant", "severity"})

	r.EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remedy_events_published_total",
		Help: "Events published to the broker, by topic and event type.",
	}, []string{"topic", "event_type"})

	r.WorkerProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remedy_worker_processed_total",
		Help: "Messages processed by each worker, by outcome (completed, failed, duplicate, parked).",
	}, []string{"worker", "outcome"})

	r.ToolExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remedy_tool_executions_total",
		Help: "Tool executions reaching a terminal status, by tenant and status.",
	}, []string{"tenant", "status"})

	r.NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remedy_notifications_total",
		Help: "Notification dispatch attempts, by tenant, channel and outcome.",
	}, []string{"tenant", "channel", "outcome"})

	r.QueueOldestAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remedy_queue_oldest_age_seconds",
		Help: "Age of the oldest unprocessed message per worker.",
	}, []string{"worker"})

	r.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remedy_breaker_state",
		Help: "Circuit breaker state per (tenant, tool): 0 closed, 1 half-open, 2 open.",
	}, []string{"tenant", "tool"})

	r.ToolDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remedy_tool_duration_seconds",
		Help:    "Wall time of tool provider dispatches.",
		Buckets: prometheus.DefBuckets,
	})

	r.EmbeddingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "remedy_embedding_latency_seconds",
		Help:    "Latency of embedding provider calls.",
		Buckets: prometheus.DefBuckets,
	})

	r.prom.MustRegister(
		r.ExceptionsTotal,
		r.EventsPublishedTotal,
		r.WorkerProcessedTotal,
		r.ToolExecutionsTotal,
		r.NotificationsTotal,
		r.QueueOldestAge,
		r.BreakerState,
		r.ToolDuration,
		r.EmbeddingLatency,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.prom }

// Worker processing outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeParked    = "parked"
)

// TenantSnapshot is the per-tenant operational view the alert evaluator
// runs its rules against. Built from the stores and the breaker registry
// at evaluation time; never cached.
type TenantSnapshot struct {
	TenantID string

	// ExceptionCount is the number of exceptions raised in the window.
	ExceptionCount int
	Window         time.Duration

	// CriticalRecurrences is the highest recurrence count among CRITICAL
	// exception types in the window.
	CriticalRecurrences int

	// OpenBreakerTools lists tool ids whose circuit is currently open.
	OpenBreakerTools []int64

	// OldestPendingApproval is the age of the oldest exception waiting on
	// a risky-step approval; zero when the queue is empty.
	OldestPendingApproval time.Duration
}
