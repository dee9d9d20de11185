package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/redact"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// EventSink is the engine's only view of the event plumbing: append the
// event to the timeline and publish it. The engine never sees the broker.
type EventSink interface {
	Emit(ctx context.Context, event *bus.Event) error
}

// ExecuteRequest is one tool invocation.
type ExecuteRequest struct {
	TenantID    string
	ToolID      int64
	ExceptionID string // empty for invocations outside a pipeline
	Payload     map[string]any
	Actor       models.Actor
}

// Result summarizes a finished invocation. Output is already redacted.
type Result struct {
	ExecutionID  string
	ToolID       int64
	ToolName     string
	Status       models.ExecutionStatus
	Success      bool
	Output       map[string]any
	ErrorMessage string
}

// Engine drives the tool execution lifecycle: validate, persist a
// REQUESTED row, emit the request event, dispatch behind the tenant's
// circuit breaker and record the terminal status.
type Engine struct {
	validator  *Validator
	providers  *ProviderSet
	breakers   *BreakerRegistry
	executions store.ExecutionStore
	sink       EventSink
}

// NewEngine wires the engine.
func NewEngine(validator *Validator, providers *ProviderSet, breakers *BreakerRegistry, executions store.ExecutionStore, sink EventSink) *Engine {
	return &Engine{
		validator:  validator,
		providers:  providers,
		breakers:   breakers,
		executions: executions,
		sink:       sink,
	}
}

// Breakers exposes the breaker registry for the alert evaluator.
func (e *Engine) Breakers() *BreakerRegistry { return e.breakers }

// Execute runs one invocation end to end. Scope, enablement and schema
// failures happen before any row exists; everything after row creation
// lands in a terminal status with a completion event.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	def, err := e.validator.LoadTool(ctx, req.TenantID, req.ToolID)
	if err != nil {
		return nil, err
	}
	if err := e.validator.ValidatePayload(def, req.Payload); err != nil {
		return nil, err
	}

	exec := &models.ToolExecution{
		ID:                   uuid.New().String(),
		TenantID:             req.TenantID,
		ToolID:               req.ToolID,
		Status:               models.ExecutionStatusRequested,
		RequestedByActorType: req.Actor.Type,
		RequestedByActorID:   req.Actor.ID,
		InputPayload:         req.Payload,
		CreatedAt:            time.Now().UTC(),
	}
	if req.ExceptionID != "" {
		exec.ExceptionID = &req.ExceptionID
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist tool execution: %w", err)
	}

	requested, err := bus.NewEvent(bus.EventTypeToolExecutionRequested, req.TenantID, req.ExceptionID,
		req.Actor, bus.ToolExecutionRequestedPayload{
			ExecutionID: exec.ID,
			ToolID:      def.ID,
			ToolName:    def.Name,
			Input:       redact.Map(req.Payload),
		})
	if err != nil {
		return nil, err
	}
	// The row exists before the event goes out; a failed publish leaves a
	// consistent REQUESTED row the caller can retry.
	if err := e.sink.Emit(ctx, requested); err != nil {
		return nil, fmt.Errorf("failed to emit request event for execution %s: %w", exec.ID, err)
	}

	return e.dispatch(ctx, def, exec, req.Actor)
}

// Resume continues an execution by id, the tool worker's entry point for
// ToolExecutionRequested events. Terminal executions republish their
// completion event and skip the provider entirely.
func (e *Engine) Resume(ctx context.Context, tenantID, executionID string, actor models.Actor) (*Result, error) {
	exec, err := e.executions.Get(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	def, err := e.validator.LoadTool(ctx, tenantID, exec.ToolID)
	if err != nil {
		return nil, err
	}

	if exec.Status.IsTerminal() {
		slog.Info("Tool execution already terminal, republishing completion",
			"execution_id", exec.ID, "status", exec.Status)
		result := resultFromExecution(def, exec)
		if err := e.emitCompleted(ctx, def, exec, actor, result); err != nil {
			return nil, err
		}
		return result, nil
	}
	return e.dispatch(ctx, def, exec, actor)
}

func (e *Engine) dispatch(ctx context.Context, def *models.ToolDefinition, exec *models.ToolExecution, actor models.Actor) (*Result, error) {
	logger := slog.With("execution_id", exec.ID, "tool_id", def.ID,
		"tool_name", def.Name, "tenant_id", exec.TenantID)

	cb := e.breakers.Get(exec.TenantID, def.ID)
	done, err := cb.Allow()
	if err != nil {
		rejection := errs.NewCircuitOpenError(exec.TenantID, def.ID, breakerRecoveryTimeout)
		logger.Warn("Tool call refused by circuit breaker", "error", err)
		result, failErr := e.finish(ctx, def, exec, actor, nil, rejection)
		if failErr != nil {
			return nil, failErr
		}
		return result, rejection
	}

	if exec.Status == models.ExecutionStatusRequested {
		if err := e.executions.UpdateStatus(ctx, exec.TenantID, exec.ID,
			models.ExecutionStatusRunning, nil, ""); err != nil {
			done(false)
			return nil, fmt.Errorf("failed to mark execution %s running: %w", exec.ID, err)
		}
		exec.Status = models.ExecutionStatusRunning
	}

	provider := e.providers.For(def.Type)
	logger.Info("Dispatching tool execution", "provider", provider.Name())

	output, execErr := provider.Execute(ctx, exec.TenantID, def, exec.InputPayload)
	// Only transient failures trip the breaker; caller mistakes
	// (validation, auth) say nothing about the backend's health.
	done(execErr == nil || !errs.Retryable(execErr))

	result, err := e.finish(ctx, def, exec, actor, output, execErr)
	if err != nil {
		return nil, err
	}
	return result, execErr
}

// finish records the terminal status and emits the completion event.
func (e *Engine) finish(ctx context.Context, def *models.ToolDefinition, exec *models.ToolExecution, actor models.Actor, output map[string]any, execErr error) (*Result, error) {
	result := &Result{ExecutionID: exec.ID, ToolID: def.ID, ToolName: def.Name}
	if execErr == nil {
		result.Status = models.ExecutionStatusSucceeded
		result.Success = true
		result.Output = redact.Map(output)
	} else {
		result.Status = models.ExecutionStatusFailed
		result.ErrorMessage = execErr.Error()
	}

	if err := e.executions.UpdateStatus(ctx, exec.TenantID, exec.ID,
		result.Status, output, result.ErrorMessage); err != nil {
		return nil, errs.NewFatalError(
			fmt.Sprintf("recording terminal status of execution %s", exec.ID), err)
	}
	exec.Status = result.Status

	if err := e.emitCompleted(ctx, def, exec, actor, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) emitCompleted(ctx context.Context, def *models.ToolDefinition, exec *models.ToolExecution, actor models.Actor, result *Result) error {
	status := bus.ToolStatusSucceeded
	if !result.Success {
		status = bus.ToolStatusFailed
	}
	exceptionID := ""
	if exec.ExceptionID != nil {
		exceptionID = *exec.ExceptionID
	}
	completed, err := bus.NewEvent(bus.EventTypeToolExecutionCompleted, exec.TenantID, exceptionID,
		actor, bus.ToolExecutionCompletedPayload{
			ExecutionID:  exec.ID,
			ToolID:       def.ID,
			ToolName:     def.Name,
			Status:       status,
			Output:       result.Output,
			ErrorMessage: result.ErrorMessage,
		})
	if err != nil {
		return err
	}
	if err := e.sink.Emit(ctx, completed); err != nil {
		return fmt.Errorf("failed to emit completion event for execution %s: %w", exec.ID, err)
	}
	return nil
}

func resultFromExecution(def *models.ToolDefinition, exec *models.ToolExecution) *Result {
	return &Result{
		ExecutionID:  exec.ID,
		ToolID:       def.ID,
		ToolName:     def.Name,
		Status:       exec.Status,
		Success:      exec.Status == models.ExecutionStatusSucceeded,
		Output:       redact.Map(exec.OutputPayload),
		ErrorMessage: exec.ErrorMessage,
	}
}
