package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/decision"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// RecurrenceLookup counts similar past exceptions; the embedding index
// implements it. nil disables the similarity evidence.
type RecurrenceLookup interface {
	SimilarCount(ctx context.Context, exc *models.Exception) (int, error)
}

// TriageWorker classifies exceptions through the triage agent and
// persists the outcome.
type TriageWorker struct {
	exceptions store.ExceptionStore
	events     store.EventStore
	registry   *pack.Registry
	agent      *decision.TriageAgent
	recurrence RecurrenceLookup
	sink       *Sink
}

// NewTriageWorker builds the triage stage. recurrence may be nil.
func NewTriageWorker(stores *store.Stores, registry *pack.Registry, recurrence RecurrenceLookup, sink *Sink, cfg Config) *Worker {
	stage := &TriageWorker{
		exceptions: stores.Exceptions,
		events:     stores.Events,
		registry:   registry,
		agent:      decision.NewTriageAgent(),
		recurrence: recurrence,
		sink:       sink,
	}
	return New(NameTriage, []string{bus.EventTypeTriageRequested},
		stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *TriageWorker) process(ctx context.Context, event *bus.Event) error {
	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		return errs.NewTransientError("triage", 0, err)
	}
	if exc.ResolutionStatus.IsTerminal() {
		return nil
	}

	done, err := w.events.Exists(ctx, exc.TenantID, exc.ExceptionID, bus.EventTypeTriageCompleted, nil)
	if err != nil {
		return errs.NewTransientError("triage", 0, err)
	}
	if done {
		slog.Debug("Triage already completed, skipping", "exception_id", exc.ExceptionID)
		return nil
	}

	similar := 0
	if w.recurrence != nil {
		similar, err = w.recurrence.SimilarCount(ctx, exc)
		if err != nil {
			// Similarity is evidence, not a dependency.
			slog.Warn("Recurrence lookup failed",
				"exception_id", exc.ExceptionID, "error", err)
			similar = 0
		}
	}

	dctx := &decision.Context{
		Effective:    resolveEffective(w.registry, exc),
		SimilarCount: similar,
	}
	result := w.agent.Classify(exc, dctx)

	exc.ExceptionType = result.ExceptionType
	exc.Severity = result.Severity
	exc.UpdatedAt = time.Now().UTC()
	if err := w.exceptions.Update(ctx, exc); err != nil {
		return errs.NewTransientError("triage", 0, err)
	}

	next, err := bus.NewEvent(bus.EventTypeTriageCompleted, exc.TenantID, exc.ExceptionID,
		models.AgentActor(w.agent.Name()), bus.TriageCompletedPayload{
			Decision:      result.Decision.Decision,
			Confidence:    result.Decision.Confidence,
			Evidence:      result.Decision.Evidence,
			NextStep:      result.Decision.NextStep,
			ExceptionType: result.ExceptionType,
			Severity:      result.Severity,
			SimilarCount:  similar,
		})
	if err != nil {
		return err
	}
	return w.sink.Emit(ctx, next)
}
