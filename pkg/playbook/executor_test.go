package playbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
	"github.com/codeready-toolchain/remedy/pkg/toolexec"
)

// storeSink mirrors the production wiring: every emitted event lands on
// the timeline, which the executor's idempotency checks read back.
type storeSink struct {
	events store.EventStore
	types  []string
}

func (s *storeSink) Emit(ctx context.Context, event *bus.Event) error {
	if err := s.events.Append(ctx, event); err != nil {
		return err
	}
	s.types = append(s.types, event.EventType)
	return nil
}

// fakeToolRunner records invocations and returns a canned result.
type fakeToolRunner struct {
	calls   int
	result  *toolexec.Result
	execErr error
}

func (f *fakeToolRunner) Execute(_ context.Context, req toolexec.ExecuteRequest) (*toolexec.Result, error) {
	f.calls++
	return f.result, f.execErr
}

type executorHarness struct {
	executor *Executor
	stores   *store.Stores
	sink     *storeSink
	tools    *fakeToolRunner
}

func newExecutorHarness(t *testing.T) *executorHarness {
	t.Helper()
	stores := store.NewMemory()
	sink := &storeSink{events: stores.Events}
	tools := &fakeToolRunner{result: &toolexec.Result{
		ExecutionID: "exec-1", ToolID: 7,
		Status: models.ExecutionStatusSucceeded, Success: true,
	}}
	return &executorHarness{
		executor: NewExecutor(stores.Exceptions, stores.Playbooks, stores.Events, tools, sink),
		stores:   stores,
		sink:     sink,
		tools:    tools,
	}
}

func (h *executorHarness) seed(t *testing.T, steps ...models.PlaybookStep) (*models.Exception, *models.Playbook) {
	t.Helper()
	ctx := context.Background()

	exc := &models.Exception{
		ExceptionID:      "EXC-1",
		TenantID:         "t1",
		SourceSystem:     "billing",
		ExceptionType:    "DataQualityFailure",
		Severity:         models.SeverityMedium,
		ResolutionStatus: models.ResolutionStatusOpen,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, h.stores.Exceptions.Create(ctx, exc))

	pb := &models.Playbook{TenantID: "t1", Name: "dq-standard", Version: 1,
		ExceptionType: "DataQualityFailure", Priority: 10, Steps: steps}
	require.NoError(t, h.stores.Playbooks.Create(ctx, pb))
	return exc, pb
}

func threeSteps() []models.PlaybookStep {
	return []models.PlaybookStep{
		{StepOrder: 1, Name: "notify-oncall", ActionType: models.ActionTypeNotify},
		{StepOrder: 2, Name: "run-fix", ActionType: models.ActionTypeCallTool,
			Params: map[string]any{"tool_id": float64(7), "payload": map[string]any{"service": "billing"}}},
		{StepOrder: 3, Name: "close-out", ActionType: models.ActionTypeSetStatus,
			Params: map[string]any{"status": "RESOLVED"}},
	}
}

func TestExecutorHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	user := models.Actor{Type: models.ActorTypeUser, ID: "alice"}
	system := models.SystemActor("playbook-executor")

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 2, user, "approved"))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 3, user, ""))

	assert.Equal(t, []string{
		bus.EventTypePlaybookStarted,
		bus.EventTypePlaybookStepCompleted,
		bus.EventTypePlaybookStepCompleted,
		bus.EventTypePlaybookStepCompleted,
		bus.EventTypePlaybookCompleted,
	}, h.sink.types)

	got, err := h.stores.Exceptions.Get(ctx, "t1", exc.ExceptionID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentStep, "current_step clears after the last step")
	require.NotNil(t, got.CurrentPlaybookID)
	assert.Equal(t, pb.ID, *got.CurrentPlaybookID)
	assert.Equal(t, models.ResolutionStatusResolved, got.ResolutionStatus, "set_status step applied")
	assert.Equal(t, 1, h.tools.calls)
}

func TestExecutorStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))

	assert.Equal(t, []string{bus.EventTypePlaybookStarted}, h.sink.types)
}

func TestExecutorStartRejectsEmptyPlaybook(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, _ := h.seed(t, threeSteps()...)

	empty := &models.Playbook{TenantID: "t1", Name: "empty", Version: 1, ExceptionType: "X"}
	require.NoError(t, h.stores.Playbooks.Create(ctx, empty))

	err := h.executor.Start(ctx, "t1", exc.ExceptionID, empty.ID, models.SystemActor("test"))
	require.Error(t, err)
	assert.True(t, errs.IsPlaybookExecutionError(err))
}

func TestExecutorRiskyStepRequiresHuman(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")
	agent := models.Actor{Type: models.ActorTypeAgent, ID: "resolution-agent"}

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))

	err := h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 2, agent, "")
	require.Error(t, err)
	assert.True(t, errs.IsPlaybookExecutionError(err))
	assert.Contains(t, err.Error(), "requires human approval")

	// No event was emitted and the step did not advance.
	got, getErr := h.stores.Exceptions.Get(ctx, "t1", exc.ExceptionID)
	require.NoError(t, getErr)
	require.NotNil(t, got.CurrentStep)
	assert.Equal(t, 2, *got.CurrentStep)
	assert.Equal(t, 2, len(h.sink.types))
	assert.Zero(t, h.tools.calls)
}

func TestExecutorOutOfOrderStepRejected(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))

	err := h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 3, models.Actor{Type: models.ActorTypeUser, ID: "alice"}, "")
	require.Error(t, err)
	assert.True(t, errs.IsPlaybookExecutionError(err))
	assert.Contains(t, err.Error(), "out of order")
}

func TestExecutorStepReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))

	// A redelivered completion of step 1 is a no-op even though
	// current_step has moved on.
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))

	got, err := h.stores.Exceptions.Get(ctx, "t1", exc.ExceptionID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentStep)
	assert.Equal(t, 2, *got.CurrentStep)
	assert.Equal(t, 1, h.countType(bus.EventTypePlaybookStepCompleted))
}

func (h *executorHarness) countType(eventType string) int {
	n := 0
	for _, t := range h.sink.types {
		if t == eventType {
			n++
		}
	}
	return n
}

func TestExecutorToolFailureDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")
	user := models.Actor{Type: models.ActorTypeUser, ID: "alice"}

	h.tools.result = &toolexec.Result{
		ExecutionID: "exec-1", ToolID: 7,
		Status: models.ExecutionStatusFailed, ErrorMessage: "backend 500",
	}
	h.tools.execErr = errs.NewTransientError("http dispatch", 500, nil)

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))

	err := h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 2, user, "")
	require.Error(t, err)
	assert.True(t, errs.IsPlaybookExecutionError(err))

	got, getErr := h.stores.Exceptions.Get(ctx, "t1", exc.ExceptionID)
	require.NoError(t, getErr)
	require.NotNil(t, got.CurrentStep)
	assert.Equal(t, 2, *got.CurrentStep, "the failed step did not advance")
	assert.Equal(t, 1, h.countType(bus.EventTypePlaybookStepCompleted))
	assert.Equal(t, 1, h.tools.calls)
}

func TestExecutorSkipStepAdvancesWithoutGating(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")
	agent := models.Actor{Type: models.ActorTypeAgent, ID: "resolution-agent"}
	user := models.Actor{Type: models.ActorTypeUser, ID: "alice"}

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))
	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, system, ""))

	// An agent may skip a risky step; skipping is a decision, not an action.
	require.NoError(t, h.executor.SkipStep(ctx, "t1", exc.ExceptionID, pb.ID, 2, agent, "tool offline"))
	assert.Zero(t, h.tools.calls)

	require.NoError(t, h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 3, user, ""))

	assert.Equal(t, 1, h.countType(bus.EventTypePlaybookStepSkipped))
	assert.Equal(t, 1, h.countType(bus.EventTypePlaybookCompleted))

	// PlaybookCompleted reports the split.
	var payload bus.PlaybookCompletedPayload
	timeline, err := h.stores.Events.ListByException(ctx, "t1", exc.ExceptionID)
	require.NoError(t, err)
	last := timeline[len(timeline)-1]
	require.Equal(t, bus.EventTypePlaybookCompleted, last.EventType)
	require.NoError(t, last.DecodePayload(&payload))
	assert.Equal(t, 2, payload.StepsCompleted)
	assert.Equal(t, 1, payload.StepsSkipped)
}

func TestExecutorWrongPlaybookRejected(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t, threeSteps()...)
	system := models.SystemActor("test")

	other := &models.Playbook{TenantID: "t1", Name: "other", Version: 1,
		ExceptionType: "DataQualityFailure",
		Steps:         []models.PlaybookStep{{StepOrder: 1, Name: "n", ActionType: models.ActionTypeNotify}}}
	require.NoError(t, h.stores.Playbooks.Create(ctx, other))

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, system))

	err := h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, other.ID, 1, system, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestExecutorCallToolMissingToolID(t *testing.T) {
	ctx := context.Background()
	h := newExecutorHarness(t)
	exc, pb := h.seed(t,
		models.PlaybookStep{StepOrder: 1, Name: "bad-tool", ActionType: models.ActionTypeCallTool,
			Params: map[string]any{"payload": map[string]any{}}})
	user := models.Actor{Type: models.ActorTypeUser, ID: "alice"}

	require.NoError(t, h.executor.Start(ctx, "t1", exc.ExceptionID, pb.ID, models.SystemActor("test")))

	err := h.executor.CompleteStep(ctx, "t1", exc.ExceptionID, pb.ID, 1, user, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool_id")
}
