package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// promotedContextKeys are lifted from the raw payload root into the
// normalized context; the matcher and the packs key off them.
var promotedContextKeys = []string{"domain", "sla_deadline", "policy_tags"}

// IntakeWorker normalizes freshly raised exceptions: it promotes the
// well-known context fields out of the raw payload, redacts secrets and
// hands the exception to triage.
type IntakeWorker struct {
	exceptions store.ExceptionStore
	events     store.EventStore
	sink       *Sink
}

// NewIntakeWorker builds the intake stage.
func NewIntakeWorker(stores *store.Stores, sink *Sink, cfg Config) *Worker {
	stage := &IntakeWorker{
		exceptions: stores.Exceptions,
		events:     stores.Events,
		sink:       sink,
	}
	return New(NameIntake, []string{bus.EventTypeExceptionRaised},
		stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *IntakeWorker) process(ctx context.Context, event *bus.Event) error {
	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// The publish can outrun the row commit; let the redelivery find it.
			return errs.NewTransientError("intake", 0, err)
		}
		return errs.NewTransientError("intake", 0, err)
	}

	exc.NormalizedContext = normalizeContext(exc.RawPayload)
	exc.UpdatedAt = time.Now().UTC()
	if err := w.exceptions.Update(ctx, exc); err != nil {
		return errs.NewTransientError("intake", 0, err)
	}

	if w.sink.metrics != nil {
		w.sink.metrics.ExceptionsTotal.WithLabelValues(exc.TenantID, string(exc.Severity)).Inc()
	}

	requested, err := w.events.Exists(ctx, exc.TenantID, exc.ExceptionID,
		bus.EventTypeTriageRequested, nil)
	if err != nil {
		return errs.NewTransientError("intake", 0, err)
	}
	if requested {
		slog.Debug("Triage already requested, skipping emit",
			"exception_id", exc.ExceptionID)
		return nil
	}

	next, err := bus.NewEvent(bus.EventTypeTriageRequested, exc.TenantID, exc.ExceptionID,
		models.SystemActor(NameIntake), bus.TriageRequestedPayload{
			ExceptionType: exc.ExceptionType,
			Severity:      exc.Severity,
		})
	if err != nil {
		return err
	}
	return w.sink.Emit(ctx, next)
}

// normalizeContext builds the normalized view of a raw payload: the
// payload's "context" object plus the promoted root keys, secrets
// replaced. The raw payload itself is never mutated.
func normalizeContext(raw map[string]any) map[string]any {
	normalized := map[string]any{}
	if inner, ok := raw["context"].(map[string]any); ok {
		for k, v := range inner {
			normalized[k] = v
		}
	}
	for _, key := range promotedContextKeys {
		if v, ok := raw[key]; ok {
			normalized[key] = v
		}
	}
	return redact.Map(normalized)
}
