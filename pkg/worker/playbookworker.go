package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// StepCompleter completes the current playbook step; *playbook.Executor
// satisfies it.
type StepCompleter interface {
	CompleteStep(ctx context.Context, tenantID, exceptionID string, playbookID int64, stepOrder int, actor models.Actor, notes string) error
}

// Notifier fans a message out to the tenant's notification channels.
// nil disables notify side effects.
type Notifier interface {
	Notify(ctx context.Context, tenantID, subject, message string) error
}

// PlaybookWorker auto-advances the safe steps of an active playbook.
// Risky steps stay pending until a human completes them through the API;
// those completions re-enter here as step events and advancing resumes.
type PlaybookWorker struct {
	exceptions store.ExceptionStore
	playbooks  store.PlaybookStore
	executor   StepCompleter
	notifier   Notifier
}

// NewPlaybookWorker builds the playbook-executor stage. notifier may be nil.
func NewPlaybookWorker(stores *store.Stores, executor StepCompleter, notifier Notifier, cfg Config) *Worker {
	stage := &PlaybookWorker{
		exceptions: stores.Exceptions,
		playbooks:  stores.Playbooks,
		executor:   executor,
		notifier:   notifier,
	}
	return New(NamePlaybookExecutor, []string{
		bus.EventTypePlaybookStarted,
		bus.EventTypePlaybookStepCompleted,
		bus.EventTypePlaybookStepSkipped,
	}, stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *PlaybookWorker) process(ctx context.Context, event *bus.Event) error {
	exc, err := w.exceptions.Get(ctx, event.TenantID, event.ExceptionID)
	if err != nil {
		return errs.NewTransientError("playbook-executor", 0, err)
	}
	if exc.CurrentPlaybookID == nil || exc.CurrentStep == nil {
		return nil
	}

	pb, err := w.playbooks.Get(ctx, exc.TenantID, *exc.CurrentPlaybookID)
	if err != nil {
		return errs.NewTransientError("playbook-executor", 0, err)
	}
	step := pb.StepAt(*exc.CurrentStep)
	if step == nil {
		return nil
	}

	log := slog.With("exception_id", exc.ExceptionID, "playbook_id", pb.ID,
		"step_order", step.StepOrder, "action_type", step.ActionType)

	if step.ActionType.IsRisky() {
		// Pending human approval; the approvals API surfaces it.
		log.Info("Step requires human approval, waiting")
		return nil
	}

	if step.ActionType == models.ActionTypeNotify {
		w.notify(ctx, exc, step)
	}

	if err := w.executor.CompleteStep(ctx, exc.TenantID, exc.ExceptionID, pb.ID,
		step.StepOrder, models.AgentActor(NamePlaybookExecutor), ""); err != nil {
		if errs.IsPlaybookExecutionError(err) {
			// Lost a race with a human or a redelivery; the timeline won.
			log.Debug("Step advance rejected", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// notify is a best-effort side effect: a failed channel never blocks the
// playbook.
func (w *PlaybookWorker) notify(ctx context.Context, exc *models.Exception, step *models.PlaybookStep) {
	if w.notifier == nil {
		return
	}
	subject := fmt.Sprintf("Exception %s: %s", exc.ExceptionID, exc.ExceptionType)
	message, _ := step.Params["message"].(string)
	if message == "" {
		message = fmt.Sprintf("Playbook step %q executed for exception %s (severity %s).",
			step.Name, exc.ExceptionID, exc.Severity)
	}
	if err := w.notifier.Notify(ctx, exc.TenantID, subject, message); err != nil {
		slog.Warn("Notification dispatch failed",
			"tenant_id", exc.TenantID, "exception_id", exc.ExceptionID, "error", err)
	}
}
