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

// PolicyWorker evaluates the effective guardrails against the actions
// the tenant's candidate playbooks would take.
type PolicyWorker struct {
	exceptions store.ExceptionStore
	events     store.EventStore
	playbooks  store.PlaybookStore
	registry   *pack.Registry
	agent      *decision.PolicyAgent
	sink       *Sink
}

// NewPolicyWorker builds the policy stage.
func NewPolicyWorker(stores *store.Stores, registry *pack.Registry, violations decision.ViolationRecorder, sink *Sink, cfg Config) *Worker {
	stage := &PolicyWorker{
		exceptions: stores.Exceptions,
		events:     stores.Events,
		playbooks:  stores.Playbooks,
		registry:   registry,
		agent:      decision.NewPolicyAgent(violations),
		sink:       sink,
	}
	return New(NamePolicy, []string{bus.EventTypeTriageCompleted},
		stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *PolicyWorker) process(ctx context.Context, event *bus.Event) error {
	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		return errs.NewTransientError("policy", 0, err)
	}
	if exc.ResolutionStatus.IsTerminal() {
		return nil
	}

	done, err := w.events.Exists(ctx, exc.TenantID, exc.ExceptionID, bus.EventTypePolicyEvaluationCompleted, nil)
	if err != nil {
		return errs.NewTransientError("policy", 0, err)
	}
	if done {
		slog.Debug("Policy already evaluated, skipping", "exception_id", exc.ExceptionID)
		return nil
	}

	facts, err := loadTimelineFacts(ctx, w.events, exc.TenantID, exc.ExceptionID)
	if err != nil {
		return errs.NewTransientError("policy", 0, err)
	}
	proposed, err := w.proposedActions(ctx, exc)
	if err != nil {
		return errs.NewTransientError("policy", 0, err)
	}

	dctx := &decision.Context{
		Effective:       resolveEffective(w.registry, exc),
		Prior:           facts.chain,
		ProposedActions: proposed,
	}
	result, err := w.agent.Evaluate(ctx, exc, dctx)
	if err != nil {
		return err
	}

	next, err := bus.NewEvent(bus.EventTypePolicyEvaluationCompleted, exc.TenantID, exc.ExceptionID,
		models.AgentActor(w.agent.Name()), bus.PolicyEvaluationCompletedPayload{
			Decision:              result.Decision.Decision,
			Confidence:            result.Decision.Confidence,
			Evidence:              result.Decision.Evidence,
			NextStep:              result.Decision.NextStep,
			HumanApprovalRequired: result.HumanApprovalRequired,
			GuardrailsConsulted:   result.GuardrailsConsulted,
		})
	if err != nil {
		return err
	}
	if err := w.sink.Emit(ctx, next); err != nil {
		return err
	}

	if result.Decision.Decision == models.DecisionBlock {
		return escalate(ctx, w.exceptions, w.events, w.sink, exc, escalation{
			Reason:      "policy evaluation blocked the proposed actions",
			TriggeredBy: w.agent.Name(),
			Confidence:  result.Decision.Confidence,
			Evidence:    result.Decision.Evidence,
		})
	}
	return nil
}

// proposedActions is the union of step action types across the tenant's
// playbooks that target the exception type; these are what the pipeline
// would do if the plan is approved.
func (w *PolicyWorker) proposedActions(ctx context.Context, exc *models.Exception) ([]models.ActionType, error) {
	candidates, err := w.playbooks.ListByTenant(ctx, exc.TenantID)
	if err != nil {
		return nil, err
	}
	seen := map[models.ActionType]struct{}{}
	var actions []models.ActionType
	for _, pb := range candidates {
		if pb.ExceptionType != "" && pb.ExceptionType != exc.ExceptionType {
			continue
		}
		for _, step := range pb.Steps {
			if _, ok := seen[step.ActionType]; ok {
				continue
			}
			seen[step.ActionType] = struct{}{}
			actions = append(actions, step.ActionType)
		}
	}
	return actions, nil
}

// escalation carries the Escalated payload fields.
type escalation struct {
	Reason      string
	TriggeredBy string
	Confidence  float64
	Evidence    []string
}

// escalate flips the exception to ESCALATED and emits the event; shared
// by the policy and supervisor stages.
func escalate(ctx context.Context, exceptions store.ExceptionStore, events store.EventStore, sink *Sink, exc *models.Exception, esc escalation) error {
	already, err := events.Exists(ctx, exc.TenantID, exc.ExceptionID, bus.EventTypeEscalated,
		map[string]any{"triggered_by": esc.TriggeredBy})
	if err != nil {
		return errs.NewTransientError("escalate", 0, err)
	}
	if already {
		return nil
	}

	exc.ResolutionStatus = models.ResolutionStatusEscalated
	exc.UpdatedAt = time.Now().UTC()
	if err := exceptions.Update(ctx, exc); err != nil {
		return errs.NewTransientError("escalate", 0, err)
	}

	event, err := bus.NewEvent(bus.EventTypeEscalated, exc.TenantID, exc.ExceptionID,
		models.AgentActor(esc.TriggeredBy), bus.EscalatedPayload{
			Reason:      esc.Reason,
			TriggeredBy: esc.TriggeredBy,
			Confidence:  esc.Confidence,
			Evidence:    esc.Evidence,
		})
	if err != nil {
		return err
	}
	return sink.Emit(ctx, event)
}
