package worker

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/toolexec"
)

// ExecutionResumer resumes a tool execution by id; *toolexec.Engine
// satisfies it.
type ExecutionResumer interface {
	Resume(ctx context.Context, tenantID, executionID string, actor models.Actor) (*toolexec.Result, error)
}

// ToolWorker is the recovery path of the tool engine: the engine
// dispatches synchronously when invoked, so a consumed request event
// usually finds a terminal row and republishes its completion. Rows
// stuck in REQUESTED (a crash between event and dispatch) get dispatched
// here.
type ToolWorker struct {
	events store.EventStore
	engine ExecutionResumer
	sink   *Sink
}

// NewToolWorker builds the tool stage.
func NewToolWorker(stores *store.Stores, engine ExecutionResumer, sink *Sink, cfg Config) *Worker {
	stage := &ToolWorker{events: stores.Events, engine: engine, sink: sink}
	return New(NameTool, []string{bus.EventTypeToolExecutionRequested},
		stores.Ledger, stores.DeadLetter, stage.process, cfg)
}

func (w *ToolWorker) process(ctx context.Context, event *bus.Event) error {
	var payload bus.ToolExecutionRequestedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	// The engine dispatched synchronously in the common case; a
	// completion on the timeline means there is nothing to resume.
	completed, err := w.events.Exists(ctx, event.TenantID, event.ExceptionID,
		bus.EventTypeToolExecutionCompleted, map[string]any{"execution_id": payload.ExecutionID})
	if err != nil {
		return errs.NewTransientError("tool", 0, err)
	}
	if completed {
		slog.Debug("Tool execution already completed, skipping",
			"execution_id", payload.ExecutionID)
		return nil
	}

	result, err := w.engine.Resume(ctx, event.TenantID, payload.ExecutionID,
		models.SystemActor(NameTool))
	if err != nil {
		if errs.Retryable(err) {
			return err
		}
		// Terminal failures are already recorded on the row with a
		// completion event; nothing to redeliver.
		slog.Warn("Tool execution finished with terminal failure",
			"execution_id", payload.ExecutionID, "tool_id", payload.ToolID, "error", err)
	}

	if result != nil && w.sink != nil && w.sink.metrics != nil {
		w.sink.metrics.ToolExecutionsTotal.
			WithLabelValues(event.TenantID, string(result.Status)).Inc()
	}
	return nil
}

var _ ExecutionResumer = (*toolexec.Engine)(nil)
