package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

func newException(tenantID, exceptionID string) *models.Exception {
	return &models.Exception{
		ExceptionID:      exceptionID,
		TenantID:         tenantID,
		SourceSystem:     "billing",
		ExceptionType:    "DataQualityFailure",
		Severity:         models.SeverityMedium,
		ResolutionStatus: models.ResolutionStatusOpen,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestExceptionStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	require.NoError(t, stores.Exceptions.Create(ctx, newException("t1", "EXC-1")))
	require.NoError(t, stores.Exceptions.Create(ctx, newException("t2", "EXC-2")))

	_, err := stores.Exceptions.Get(ctx, "t1", "EXC-2")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	list, err := stores.Exceptions.List(ctx, "t1", models.ExceptionFilters{})
	require.NoError(t, err)
	require.Len(t, list.Exceptions, 1)
	assert.Equal(t, "EXC-1", list.Exceptions[0].ExceptionID)
}

func TestExceptionStoreDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	require.NoError(t, stores.Exceptions.Create(ctx, newException("t1", "EXC-1")))
	err := stores.Exceptions.Create(ctx, newException("t1", "EXC-1"))
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestEventStoreAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	event, err := bus.NewEvent(bus.EventTypeExceptionRaised, "t1", "EXC-1",
		models.SystemActor("test"), map[string]any{"severity": "MEDIUM"})
	require.NoError(t, err)

	require.NoError(t, stores.Events.Append(ctx, event))
	require.NoError(t, stores.Events.Append(ctx, event))

	timeline, err := stores.Events.ListByException(ctx, "t1", "EXC-1")
	require.NoError(t, err)
	assert.Len(t, timeline, 1)
}

func TestEventStoreExistsPayloadMatch(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	event, err := bus.NewEvent(bus.EventTypePlaybookStepCompleted, "t1", "EXC-1",
		models.SystemActor("test"), map[string]any{"playbook_id": 7, "step_order": 2})
	require.NoError(t, err)
	require.NoError(t, stores.Events.Append(ctx, event))

	exists, err := stores.Events.Exists(ctx, "t1", "EXC-1", bus.EventTypePlaybookStepCompleted,
		map[string]any{"playbook_id": 7, "step_order": 2})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = stores.Events.Exists(ctx, "t1", "EXC-1", bus.EventTypePlaybookStepCompleted,
		map[string]any{"playbook_id": 7, "step_order": 3})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecutionStoreMonotonicTransitions(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	exec := &models.ToolExecution{
		ID:        "exec-1",
		TenantID:  "t1",
		ToolID:    1,
		Status:    models.ExecutionStatusRequested,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, stores.Executions.Create(ctx, exec))

	require.NoError(t, stores.Executions.UpdateStatus(ctx, "t1", "exec-1",
		models.ExecutionStatusRunning, nil, ""))
	require.NoError(t, stores.Executions.UpdateStatus(ctx, "t1", "exec-1",
		models.ExecutionStatusSucceeded, map[string]any{"ok": true}, ""))

	// Terminal rows never move again.
	err := stores.Executions.UpdateStatus(ctx, "t1", "exec-1",
		models.ExecutionStatusRunning, nil, "")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	err = stores.Executions.UpdateStatus(ctx, "t1", "exec-1",
		models.ExecutionStatusFailed, nil, "late failure")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err := stores.Executions.Get(ctx, "t1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, got.Status)
}

func TestExecutionStoreSkipsRunningForDirectFailure(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	exec := &models.ToolExecution{
		ID:        "exec-2",
		TenantID:  "t1",
		ToolID:    1,
		Status:    models.ExecutionStatusRequested,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, stores.Executions.Create(ctx, exec))

	// Validation failures go REQUESTED → FAILED without RUNNING.
	require.NoError(t, stores.Executions.UpdateStatus(ctx, "t1", "exec-2",
		models.ExecutionStatusFailed, nil, "payload invalid"))
}

func TestLedgerClaimSemantics(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	claimed, entry, err := stores.Ledger.Claim(ctx, "evt-1", "triage", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, entry.Attempts)

	// A second consumer must not claim a live lease.
	claimed, _, err = stores.Ledger.Claim(ctx, "evt-1", "triage", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A different worker has its own row.
	claimed, _, err = stores.Ledger.Claim(ctx, "evt-1", "policy", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Completion blocks all future claims.
	require.NoError(t, stores.Ledger.MarkCompleted(ctx, "evt-1", "triage"))
	claimed, entry, err = stores.Ledger.Claim(ctx, "evt-1", "triage", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.LedgerStatusCompleted, entry.Status)
}

func TestLedgerReclaimAfterFailure(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	claimed, _, err := stores.Ledger.Claim(ctx, "evt-1", "tool", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, stores.Ledger.MarkFailed(ctx, "evt-1", "tool", "boom"))

	claimed, entry, err := stores.Ledger.Claim(ctx, "evt-1", "tool", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, entry.Attempts)
}

func TestLedgerReapStale(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	// A negative lease is already expired when claimed.
	claimed, _, err := stores.Ledger.Claim(ctx, "evt-1", "intake", -time.Second)
	require.NoError(t, err)
	require.True(t, claimed)

	reaped, err := stores.Ledger.ReapStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, models.LedgerStatusFailed, reaped[0].Status)

	// The failed row is reclaimable.
	claimed, _, err = stores.Ledger.Claim(ctx, "evt-1", "intake", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestToolStoreGlobalAndTenantScope(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	global := &models.ToolDefinition{Name: "restart-service", Type: models.ToolTypeHTTP}
	require.NoError(t, stores.Tools.CreateDefinition(ctx, global))

	owner := "t1"
	scoped := &models.ToolDefinition{TenantID: &owner, Name: "rollback", Type: models.ToolTypeDummy}
	require.NoError(t, stores.Tools.CreateDefinition(ctx, scoped))

	_, err := stores.Tools.GetDefinition(ctx, "t2", global.ID)
	assert.NoError(t, err, "global tools are visible to every tenant")

	_, err = stores.Tools.GetDefinition(ctx, "t2", scoped.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound, "tenant tools are invisible to other tenants")
}

func TestToolEnablementDefaultsToEnabled(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	enabled, err := stores.Tools.IsEnabled(ctx, "t1", 42)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, stores.Tools.SetEnablement(ctx, "t1", 42, false))
	enabled, err = stores.Tools.IsEnabled(ctx, "t1", 42)
	require.NoError(t, err)
	assert.False(t, enabled)

	// Other tenants are unaffected.
	enabled, err = stores.Tools.IsEnabled(ctx, "t2", 42)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestDeadLetterLifecycle(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	dle := &models.DeadLetterEvent{
		TenantID:   "t1",
		EventID:    "evt-1",
		WorkerName: "tool",
		Topic:      bus.TopicExceptions,
		Reason:     "retries exhausted",
	}
	require.NoError(t, stores.DeadLetter.Park(ctx, dle))
	require.NotZero(t, dle.ID)

	// Double park of a live row is a no-op.
	require.NoError(t, stores.DeadLetter.Park(ctx, &models.DeadLetterEvent{
		TenantID: "t1", EventID: "evt-1", WorkerName: "tool",
	}))
	pending, err := stores.DeadLetter.List(ctx, "t1", models.DeadLetterStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, stores.DeadLetter.MarkRetrying(ctx, "t1", dle.ID))
	require.NoError(t, stores.DeadLetter.MarkSucceeded(ctx, "t1", dle.ID))

	err = stores.DeadLetter.Discard(ctx, "t1", dle.ID, "ops")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestAlertFireDeduplicates(t *testing.T) {
	ctx := context.Background()
	stores := NewMemory()

	first, isNew, err := stores.Alerts.Fire(ctx, &models.Alert{
		TenantID: "t1", RuleType: "TOOL_CIRCUIT_BREAKER_OPEN", Severity: models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.True(t, isNew)

	second, isNew, err := stores.Alerts.Fire(ctx, &models.Alert{
		TenantID: "t1", RuleType: "TOOL_CIRCUIT_BREAKER_OPEN", Severity: models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)

	// After resolve the rule may fire again.
	require.NoError(t, stores.Alerts.Resolve(ctx, "t1", first.ID))
	_, isNew, err = stores.Alerts.Fire(ctx, &models.Alert{
		TenantID: "t1", RuleType: "TOOL_CIRCUIT_BREAKER_OPEN", Severity: models.SeverityHigh,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
}
