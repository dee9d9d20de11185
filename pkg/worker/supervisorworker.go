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

// SupervisorWorker reviews the decision chain after policy evaluation
// and again when the playbook finishes. Interventions escalate; a clean
// final review resolves the exception.
type SupervisorWorker struct {
	exceptions store.ExceptionStore
	events     store.EventStore
	registry   *pack.Registry
	agent      *decision.SupervisorAgent
	sink       *Sink
}

// NewSupervisorWorker builds the supervisor stage.
func NewSupervisorWorker(stores *store.Stores, registry *pack.Registry, violations decision.ViolationRecorder, sink *Sink, cfg Config) *Worker {
	stage := &SupervisorWorker{
		exceptions: stores.Exceptions,
		events:     stores.Events,
		registry:   registry,
		agent:      decision.NewSupervisorAgent(violations),
		sink:       sink,
	}
	return New(NameSupervisor, []string{
		bus.EventTypePolicyEvaluationCompleted,
		bus.EventTypePlaybookCompleted,
	}, stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *SupervisorWorker) process(ctx context.Context, event *bus.Event) error {
	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		return errs.NewTransientError("supervisor", 0, err)
	}
	if exc.ResolutionStatus.IsTerminal() {
		return nil
	}

	facts, err := loadTimelineFacts(ctx, w.events, exc.TenantID, exc.ExceptionID)
	if err != nil {
		return errs.NewTransientError("supervisor", 0, err)
	}

	finalReview := event.EventType == bus.EventTypePlaybookCompleted
	dctx := &decision.Context{
		Effective:             resolveEffective(w.registry, exc),
		Prior:                 facts.chain,
		HumanApprovalRequired: facts.humanApprovalRequired,
		// Mid-pipeline the plan is still being resolved; only the final
		// review may fault its absence.
		PlanResolved: !finalReview || facts.playbookMatched,
	}

	result, err := w.agent.Review(ctx, exc, dctx)
	if err != nil {
		return err
	}

	if result.Intervened() {
		return escalate(ctx, w.exceptions, w.events, w.sink, exc, escalation{
			Reason:      result.Interventions[0],
			TriggeredBy: w.agent.Name(),
			Confidence:  result.Decision.Confidence,
			Evidence:    result.Decision.Evidence,
		})
	}
	if !finalReview {
		return nil
	}
	return w.resolve(ctx, exc, facts.matchedPlaybookID)
}

// resolve closes the exception after a clean final review. A set_status
// step may already have resolved it; the Resolved event is emitted
// either way, once.
func (w *SupervisorWorker) resolve(ctx context.Context, exc *models.Exception, playbookID int64) error {
	already, err := w.events.Exists(ctx, exc.TenantID, exc.ExceptionID, bus.EventTypeResolved, nil)
	if err != nil {
		return errs.NewTransientError("supervisor", 0, err)
	}
	if already {
		return nil
	}

	if exc.ResolutionStatus != models.ResolutionStatusResolved {
		exc.ResolutionStatus = models.ResolutionStatusResolved
		exc.UpdatedAt = time.Now().UTC()
		if err := w.exceptions.Update(ctx, exc); err != nil {
			return errs.NewTransientError("supervisor", 0, err)
		}
	}

	slog.Info("Exception resolved", "tenant_id", exc.TenantID,
		"exception_id", exc.ExceptionID, "playbook_id", playbookID)
	event, err := bus.NewEvent(bus.EventTypeResolved, exc.TenantID, exc.ExceptionID,
		models.AgentActor(w.agent.Name()), bus.ResolvedPayload{
			Resolution: "playbook completed",
			PlaybookID: playbookID,
		})
	if err != nil {
		return err
	}
	return w.sink.Emit(ctx, event)
}
