package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/toolexec"
)

// EventSink appends an event to the timeline and publishes it.
type EventSink interface {
	Emit(ctx context.Context, event *bus.Event) error
}

// ToolRunner runs a tool synchronously; *toolexec.Engine satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, req toolexec.ExecuteRequest) (*toolexec.Result, error)
}

// Executor advances playbooks one step at a time. All operations are
// tenant-scoped and idempotent: replaying a completed step is a no-op.
type Executor struct {
	exceptions store.ExceptionStore
	playbooks  store.PlaybookStore
	events     store.EventStore
	tools      ToolRunner
	sink       EventSink
}

// NewExecutor wires the executor.
func NewExecutor(exceptions store.ExceptionStore, playbooks store.PlaybookStore, events store.EventStore, tools ToolRunner, sink EventSink) *Executor {
	return &Executor{
		exceptions: exceptions,
		playbooks:  playbooks,
		events:     events,
		tools:      tools,
		sink:       sink,
	}
}

// Start attaches the playbook to the exception at step 1. Starting the
// same playbook twice is a no-op.
func (e *Executor) Start(ctx context.Context, tenantID, exceptionID string, playbookID int64, actor models.Actor) error {
	exc, err := e.exceptions.Get(ctx, tenantID, exceptionID)
	if err != nil {
		return err
	}
	pb, err := e.playbooks.Get(ctx, tenantID, playbookID)
	if err != nil {
		return errs.NewPlaybookExecutionError(exceptionID, playbookID, 0, "playbook not found for tenant", err)
	}
	if len(pb.Steps) == 0 {
		return errs.NewPlaybookExecutionError(exceptionID, playbookID, 0, "playbook has no steps", nil)
	}

	if exc.CurrentPlaybookID != nil && *exc.CurrentPlaybookID == playbookID {
		started, err := e.events.Exists(ctx, tenantID, exceptionID, bus.EventTypePlaybookStarted,
			map[string]any{"playbook_id": playbookID})
		if err != nil {
			return err
		}
		if started {
			slog.Debug("Playbook already started, skipping",
				"exception_id", exceptionID, "playbook_id", playbookID)
			return nil
		}
	}

	firstStep := 1
	exc.CurrentPlaybookID = &playbookID
	exc.CurrentStep = &firstStep
	exc.ResolutionStatus = models.ResolutionStatusInProgress
	exc.UpdatedAt = time.Now().UTC()
	if err := e.exceptions.Update(ctx, exc); err != nil {
		return fmt.Errorf("failed to attach playbook %d to exception %s: %w", playbookID, exceptionID, err)
	}

	event, err := bus.NewEvent(bus.EventTypePlaybookStarted, tenantID, exceptionID, actor,
		bus.PlaybookStartedPayload{
			PlaybookID:   pb.ID,
			PlaybookName: pb.Name,
			StepCount:    len(pb.Steps),
		})
	if err != nil {
		return err
	}
	return e.sink.Emit(ctx, event)
}

// CompleteStep completes the current step. Risky steps demand a USER
// actor; call_tool steps run the tool synchronously and fail the step on
// tool failure without advancing.
func (e *Executor) CompleteStep(ctx context.Context, tenantID, exceptionID string, playbookID int64, stepOrder int, actor models.Actor, notes string) error {
	// The replay check comes before any precondition: a redelivered
	// completion arrives after current_step has moved on and must stay
	// a no-op, not an ordering error.
	done, err := e.events.Exists(ctx, tenantID, exceptionID, bus.EventTypePlaybookStepCompleted,
		map[string]any{"playbook_id": playbookID, "step_order": stepOrder})
	if err != nil {
		return err
	}
	if done {
		slog.Debug("Step already completed, skipping",
			"exception_id", exceptionID, "playbook_id", playbookID, "step_order", stepOrder)
		return nil
	}

	exc, pb, step, err := e.precondition(ctx, tenantID, exceptionID, playbookID, stepOrder)
	if err != nil {
		return err
	}

	if step.ActionType.IsRisky() && actor.Type != models.ActorTypeUser {
		return errs.NewPlaybookExecutionError(exceptionID, playbookID, stepOrder,
			fmt.Sprintf("step %q (%s) requires human approval, got actor type %s",
				step.Name, step.ActionType, actor.Type), nil)
	}

	var toolResult *bus.StepToolResult
	if step.ActionType == models.ActionTypeCallTool {
		toolResult, err = e.runStepTool(ctx, tenantID, exceptionID, playbookID, step, actor)
		if err != nil {
			return err
		}
	}

	e.applyStepEffect(exc, step)

	payload := bus.PlaybookStepCompletedPayload{
		PlaybookID: playbookID,
		StepOrder:  stepOrder,
		StepName:   step.Name,
		ActionType: step.ActionType,
		Notes:      notes,
		Tool:       toolResult,
	}
	event, err := bus.NewEvent(bus.EventTypePlaybookStepCompleted, tenantID, exceptionID, actor, payload)
	if err != nil {
		return err
	}

	return e.advance(ctx, exc, pb, stepOrder, actor, event)
}

// SkipStep records the decision to skip the current step and advances.
// Skipping is not gated: a skip is a decision, not an action.
func (e *Executor) SkipStep(ctx context.Context, tenantID, exceptionID string, playbookID int64, stepOrder int, actor models.Actor, notes string) error {
	skipped, err := e.events.Exists(ctx, tenantID, exceptionID, bus.EventTypePlaybookStepSkipped,
		map[string]any{"playbook_id": playbookID, "step_order": stepOrder})
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	exc, pb, step, err := e.precondition(ctx, tenantID, exceptionID, playbookID, stepOrder)
	if err != nil {
		return err
	}

	event, err := bus.NewEvent(bus.EventTypePlaybookStepSkipped, tenantID, exceptionID, actor,
		bus.PlaybookStepSkippedPayload{
			PlaybookID: playbookID,
			StepOrder:  stepOrder,
			StepName:   step.Name,
			ActionType: step.ActionType,
			Notes:      notes,
		})
	if err != nil {
		return err
	}

	return e.advance(ctx, exc, pb, stepOrder, actor, event)
}

// precondition loads and checks the shared step invariants.
func (e *Executor) precondition(ctx context.Context, tenantID, exceptionID string, playbookID int64, stepOrder int) (*models.Exception, *models.Playbook, *models.PlaybookStep, error) {
	exc, err := e.exceptions.Get(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, nil, nil, err
	}
	pb, err := e.playbooks.Get(ctx, tenantID, playbookID)
	if err != nil {
		return nil, nil, nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, stepOrder,
			"playbook not found for tenant", err)
	}

	if exc.CurrentPlaybookID == nil || *exc.CurrentPlaybookID != playbookID {
		return nil, nil, nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, stepOrder,
			"playbook is not active on this exception", nil)
	}
	step := pb.StepAt(stepOrder)
	if step == nil {
		return nil, nil, nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, stepOrder,
			"playbook has no such step", nil)
	}
	if exc.CurrentStep == nil || *exc.CurrentStep != stepOrder {
		current := 0
		if exc.CurrentStep != nil {
			current = *exc.CurrentStep
		}
		return nil, nil, nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, stepOrder,
			fmt.Sprintf("out of order: current step is %d", current), nil)
	}
	return exc, pb, step, nil
}

// runStepTool dispatches the call_tool step synchronously.
func (e *Executor) runStepTool(ctx context.Context, tenantID, exceptionID string, playbookID int64, step *models.PlaybookStep, actor models.Actor) (*bus.StepToolResult, error) {
	toolID, ok := paramInt64(step.Params, "tool_id")
	if !ok {
		return nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, step.StepOrder,
			"call_tool step is missing integer params.tool_id", nil)
	}
	payload := paramPayload(step.Params)

	result, err := e.tools.Execute(ctx, toolexec.ExecuteRequest{
		TenantID:    tenantID,
		ToolID:      toolID,
		ExceptionID: exceptionID,
		Payload:     payload,
		Actor:       actor,
	})
	if err != nil && result == nil {
		return nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, step.StepOrder,
			"tool dispatch failed", err)
	}

	toolResult := &bus.StepToolResult{
		ExecutionID:  result.ExecutionID,
		ToolID:       result.ToolID,
		Status:       string(result.Status),
		Success:      result.Success,
		ErrorMessage: result.ErrorMessage,
	}
	if !result.Success {
		return nil, errs.NewPlaybookExecutionError(exceptionID, playbookID, step.StepOrder,
			fmt.Sprintf("tool execution %s failed: %s", result.ExecutionID, result.ErrorMessage), err)
	}
	return toolResult, nil
}

// applyStepEffect applies the safe mutations some action types carry.
func (e *Executor) applyStepEffect(exc *models.Exception, step *models.PlaybookStep) {
	switch step.ActionType {
	case models.ActionTypeSetStatus:
		if s, ok := step.Params["status"].(string); ok {
			status := models.ResolutionStatus(s)
			if status.IsValid() {
				exc.ResolutionStatus = status
			}
		}
	case models.ActionTypeAssignOwner:
		if owner, ok := step.Params["owner"].(string); ok {
			exc.AssignedOwner = owner
		}
	}
}

// advance moves the exception to the next step (or clears it after the
// last), persists, then emits the step event plus PlaybookCompleted when
// the playbook finished.
func (e *Executor) advance(ctx context.Context, exc *models.Exception, pb *models.Playbook, stepOrder int, actor models.Actor, stepEvent *bus.Event) error {
	last := stepOrder >= pb.LastStepOrder()
	if last {
		exc.CurrentStep = nil
	} else {
		next := stepOrder + 1
		exc.CurrentStep = &next
	}
	exc.UpdatedAt = time.Now().UTC()
	if err := e.exceptions.Update(ctx, exc); err != nil {
		return fmt.Errorf("failed to advance exception %s: %w", exc.ExceptionID, err)
	}

	if err := e.sink.Emit(ctx, stepEvent); err != nil {
		return err
	}
	if !last {
		return nil
	}

	completed, skipped, err := e.stepCounts(ctx, exc.TenantID, exc.ExceptionID, pb.ID)
	if err != nil {
		return err
	}
	event, err := bus.NewEvent(bus.EventTypePlaybookCompleted, exc.TenantID, exc.ExceptionID, actor,
		bus.PlaybookCompletedPayload{
			PlaybookID:     pb.ID,
			StepsCompleted: completed,
			StepsSkipped:   skipped,
		})
	if err != nil {
		return err
	}
	return e.sink.Emit(ctx, event)
}

func (e *Executor) stepCounts(ctx context.Context, tenantID, exceptionID string, playbookID int64) (int, int, error) {
	timeline, err := e.events.ListByException(ctx, tenantID, exceptionID)
	if err != nil {
		return 0, 0, err
	}
	var completed, skipped int
	for _, event := range timeline {
		payload, err := event.PayloadMap()
		if err != nil {
			continue
		}
		id, ok := toFloat(payload["playbook_id"])
		if !ok || int64(id) != playbookID {
			continue
		}
		switch event.EventType {
		case bus.EventTypePlaybookStepCompleted:
			completed++
		case bus.EventTypePlaybookStepSkipped:
			skipped++
		}
	}
	return completed, skipped, nil
}

func paramInt64(params map[string]any, key string) (int64, bool) {
	f, ok := toFloat(params[key])
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func paramPayload(params map[string]any) map[string]any {
	if payload, ok := params["payload"].(map[string]any); ok {
		return payload
	}
	if payload, ok := params["payload_template"].(map[string]any); ok {
		return payload
	}
	return map[string]any{}
}
