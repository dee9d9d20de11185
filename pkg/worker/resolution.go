package worker

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/decision"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/pack"
	"github.com/codeready-toolchain/remedy/pkg/playbook"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// PlaybookStarter starts a playbook on an exception; *playbook.Executor
// satisfies it.
type PlaybookStarter interface {
	Start(ctx context.Context, tenantID, exceptionID string, playbookID int64, actor models.Actor) error
}

// ResolutionWorker matches a playbook to the exception after policy
// approves, and starts it.
type ResolutionWorker struct {
	exceptions store.ExceptionStore
	events     store.EventStore
	playbooks  store.PlaybookStore
	registry   *pack.Registry
	agent      *decision.ResolutionAgent
	executor   PlaybookStarter
	sink       *Sink
}

// NewResolutionWorker builds the resolution stage.
func NewResolutionWorker(stores *store.Stores, registry *pack.Registry, executor PlaybookStarter, sink *Sink, cfg Config) *Worker {
	stage := &ResolutionWorker{
		exceptions: stores.Exceptions,
		events:     stores.Events,
		playbooks:  stores.Playbooks,
		registry:   registry,
		agent:      decision.NewResolutionAgent(),
		executor:   executor,
		sink:       sink,
	}
	return New(NameResolution, []string{bus.EventTypePolicyEvaluationCompleted},
		stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *ResolutionWorker) process(ctx context.Context, event *bus.Event) error {
	var policy bus.PolicyEvaluationCompletedPayload
	if err := event.DecodePayload(&policy); err != nil {
		return err
	}
	if policy.Decision != models.DecisionAllow {
		return nil
	}

	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		return errs.NewTransientError("resolution", 0, err)
	}
	if exc.ResolutionStatus.IsTerminal() || exc.CurrentPlaybookID != nil {
		return nil
	}

	matched, err := w.events.Exists(ctx, exc.TenantID, exc.ExceptionID, bus.EventTypePlaybookMatched, nil)
	if err != nil {
		return errs.NewTransientError("resolution", 0, err)
	}
	if matched {
		slog.Debug("Playbook already matched, skipping", "exception_id", exc.ExceptionID)
		return nil
	}

	candidates, err := w.playbooks.ListByTenant(ctx, exc.TenantID)
	if err != nil {
		return errs.NewTransientError("resolution", 0, err)
	}

	eff := resolveEffective(w.registry, exc)
	result := w.agent.Resolve(exc, &decision.Context{
		Effective:          eff,
		CandidatePlaybooks: candidates,
	})

	if result.Playbook == nil {
		if actionableType(eff, exc.ExceptionType) {
			return escalate(ctx, w.exceptions, w.events, w.sink, exc, escalation{
				Reason:      "no playbook matched an actionable exception",
				TriggeredBy: w.agent.Name(),
				Confidence:  result.Decision.Confidence,
				Evidence:    result.Decision.Evidence,
			})
		}
		slog.Info("No playbook matched, leaving exception open",
			"exception_id", exc.ExceptionID, "reasoning", result.Decision.Evidence)
		return nil
	}

	pb := result.Playbook
	matchEvent, err := bus.NewEvent(bus.EventTypePlaybookMatched, exc.TenantID, exc.ExceptionID,
		models.AgentActor(w.agent.Name()), bus.PlaybookMatchedPayload{
			PlaybookID:   pb.ID,
			PlaybookName: pb.Name,
			Priority:     pb.Priority,
			Reasoning:    result.Decision.Evidence[0],
		})
	if err != nil {
		return err
	}
	if err := w.sink.Emit(ctx, matchEvent); err != nil {
		return err
	}

	return w.executor.Start(ctx, exc.TenantID, exc.ExceptionID, pb.ID,
		models.AgentActor(w.agent.Name()))
}

// actionableType reports whether the pack declares the type actionable.
func actionableType(eff *pack.Effective, exceptionType string) bool {
	if eff == nil || eff.Pack == nil {
		return false
	}
	for _, et := range eff.Pack.ExceptionTypes {
		if et.Name == exceptionType {
			return et.Actionable
		}
	}
	return false
}

var _ PlaybookStarter = (*playbook.Executor)(nil)
