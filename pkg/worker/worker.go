// Package worker runs the pipeline consumers. Every stage shares the
// same skeleton: subscribe, deduplicate through the idempotency ledger,
// process, record the outcome, park exhausted messages in the dead
// letter store. Stage behavior is a ProcessFunc; the skeleton owns the
// at-least-once bookkeeping.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Worker name constants double as consumer group ids and ledger keys.
const (
	NameIntake           = "intake"
	NameTriage           = "triage"
	NamePolicy           = "policy"
	NameResolution       = "resolution"
	NamePlaybookExecutor = "playbook-executor"
	NameTool             = "tool"
	NameSupervisor       = "supervisor"
)

const (
	// DefaultLease is how long a claimed ledger row stays owned before the
	// reaper can hand it to another consumer.
	DefaultLease = 2 * time.Minute
	// DefaultMaxAttempts caps retryable failures before the event is parked.
	DefaultMaxAttempts = 5
)

// ProcessFunc is one stage's business logic. Returning a retryable error
// (errs.Retryable) leaves the message unacknowledged for redelivery; any
// other error parks it.
type ProcessFunc func(ctx context.Context, event *bus.Event) error

// Worker wraps a ProcessFunc with the shared consume skeleton.
type Worker struct {
	name        string
	types       map[string]struct{}
	ledger      store.LedgerStore
	dlq         store.DeadLetterStore
	process     ProcessFunc
	lease       time.Duration
	maxAttempts int
	metrics     *metrics.Registry
}

// Config tunes the skeleton; zero values take the defaults.
type Config struct {
	Lease       time.Duration
	MaxAttempts int
	Metrics     *metrics.Registry
}

// New builds a worker that handles only the listed event types; every
// other type on the topic is acknowledged untouched.
func New(name string, eventTypes []string, ledger store.LedgerStore, dlq store.DeadLetterStore, process ProcessFunc, cfg Config) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return &Worker{
		name:        name,
		types:       types,
		ledger:      ledger,
		dlq:         dlq,
		process:     process,
		lease:       cfg.Lease,
		maxAttempts: cfg.MaxAttempts,
		metrics:     cfg.Metrics,
	}
}

// Name returns the consumer group id.
func (w *Worker) Name() string { return w.name }

// Handler adapts the skeleton to the broker contract.
func (w *Worker) Handler() bus.Handler {
	return func(ctx context.Context, event *bus.Event) error {
		return w.handle(ctx, event)
	}
}

func (w *Worker) handle(ctx context.Context, event *bus.Event) error {
	if _, ok := w.types[event.EventType]; !ok {
		return nil
	}

	log := slog.With("worker", w.name, "event_id", event.EventID,
		"event_type", event.EventType, "tenant_id", event.TenantID,
		"exception_id", event.ExceptionID)

	claimed, entry, err := w.ledger.Claim(ctx, event.EventID, w.name, w.lease)
	if err != nil {
		return fmt.Errorf("failed to claim ledger row for event %s: %w", event.EventID, err)
	}
	if !claimed {
		log.Debug("Event already owned or completed, dropping duplicate")
		w.count(metrics.OutcomeDuplicate)
		return nil
	}

	if perr := w.process(ctx, event); perr != nil {
		return w.fail(ctx, log, event, entry, perr)
	}

	if err := w.ledger.MarkCompleted(ctx, event.EventID, w.name); err != nil {
		// The work is done; a redelivery will be dropped by the semantic
		// dedup inside the stage, so log and ack.
		log.Error("Failed to mark ledger row completed", "error", err)
	}
	w.count(metrics.OutcomeCompleted)
	return nil
}

// fail records the failure and decides between redelivery and parking.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, event *bus.Event, entry *models.LedgerEntry, perr error) error {
	if err := w.ledger.MarkFailed(ctx, event.EventID, w.name, perr.Error()); err != nil {
		log.Error("Failed to mark ledger row failed", "error", err)
	}

	attempts := 1
	if entry != nil {
		attempts = entry.Attempts
	}
	if errs.Retryable(perr) && attempts < w.maxAttempts {
		log.Warn("Processing failed, leaving for redelivery",
			"attempt", attempts, "error", perr)
		w.count(metrics.OutcomeFailed)
		return perr
	}

	w.park(ctx, log, event, perr, attempts)
	return nil
}

// park moves the event to the dead letter store and acknowledges it.
func (w *Worker) park(ctx context.Context, log *slog.Logger, event *bus.Event, perr error, attempts int) {
	raw, err := event.Encode()
	if err != nil {
		log.Error("Failed to encode event for dead letter", "error", err)
		raw = []byte("{}")
	}
	dle := &models.DeadLetterEvent{
		TenantID:     event.TenantID,
		EventID:      event.EventID,
		WorkerName:   w.name,
		Topic:        bus.TopicExceptions,
		EventPayload: raw,
		Reason:       perr.Error(),
		Status:       models.DeadLetterStatusPending,
		RetryCount:   attempts,
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.dlq.Park(ctx, dle); err != nil {
		log.Error("Failed to park event in dead letter store", "error", err)
		return
	}
	log.Error("Event parked in dead letter store", "attempts", attempts, "error", perr)
	w.count(metrics.OutcomeParked)
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.WorkerProcessedTotal.WithLabelValues(w.name, outcome).Inc()
	}
}

// NewPoisonFunc returns the broker-level callback that parks messages
// the broker gave up on (undecodable, or exhausted at the transport).
func NewPoisonFunc(dlq store.DeadLetterStore) bus.PoisonFunc {
	return func(topic string, raw []byte, err error) {
		dle := &models.DeadLetterEvent{
			WorkerName:   "broker",
			Topic:        topic,
			EventPayload: raw,
			Reason:       err.Error(),
			Status:       models.DeadLetterStatusPending,
			CreatedAt:    time.Now().UTC(),
		}
		if event, decodeErr := bus.Decode(raw); decodeErr == nil {
			dle.TenantID = event.TenantID
			dle.EventID = event.EventID
		}
		if parkErr := dlq.Park(context.Background(), dle); parkErr != nil {
			slog.Error("Failed to park poison message",
				"topic", topic, "error", parkErr, "cause", err)
			return
		}
		slog.Error("Poison message parked", "topic", topic, "cause", err)
	}
}
