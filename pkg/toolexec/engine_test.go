package toolexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// memSink collects emitted events for assertions.
type memSink struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (s *memSink) Emit(_ context.Context, event *bus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

func (s *memSink) last() *bus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

type engineHarness struct {
	engine *Engine
	stores *store.Stores
	sink   *memSink
}

func newEngineHarness(t *testing.T, server *httptest.Server) *engineHarness {
	t.Helper()
	stores := store.NewMemory()
	sink := &memSink{}

	var checker *URLChecker
	if server != nil {
		u, err := url.Parse(server.URL)
		require.NoError(t, err)
		checker = NewURLChecker([]string{u.Hostname()})
		checker.AllowScheme("http")
	} else {
		checker = NewURLChecker([]string{"api.example.com"})
	}

	httpProvider := NewHTTPProvider(checker)
	httpProvider.retryDelay = time.Millisecond
	providers := NewProviderSet(httpProvider, NewDummyProvider())

	engine := NewEngine(NewValidator(stores.Tools), providers, NewBreakerRegistry(),
		stores.Executions, sink)
	return &engineHarness{engine: engine, stores: stores, sink: sink}
}

func TestEngineHappyPath(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"restarted": true, "api_key": "leaked-secret"}`))
	}))
	defer server.Close()

	h := newEngineHarness(t, server)
	def := registerTool(t, h.stores, httpTool(server.URL, ""))

	result, err := h.engine.Execute(ctx, ExecuteRequest{
		TenantID:    "t1",
		ToolID:      def.ID,
		ExceptionID: "EXC-1",
		Payload:     map[string]any{"service": "billing"},
		Actor:       models.SystemActor("playbook-executor"),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.ExecutionStatusSucceeded, result.Status)

	exec, err := h.stores.Executions.Get(ctx, "t1", result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, exec.Status)
	// The row keeps the raw output; the event and result carry the
	// redacted view.
	assert.Equal(t, "leaked-secret", exec.OutputPayload["api_key"])
	assert.Equal(t, "[REDACTED]", result.Output["api_key"])

	assert.Equal(t, []string{bus.EventTypeToolExecutionRequested, bus.EventTypeToolExecutionCompleted},
		h.sink.types())

	var payload bus.ToolExecutionCompletedPayload
	require.NoError(t, h.sink.last().DecodePayload(&payload))
	assert.Equal(t, bus.ToolStatusSucceeded, payload.Status)
	assert.Equal(t, "[REDACTED]", payload.Output["api_key"])
	assert.Equal(t, "EXC-1", h.sink.last().ExceptionID)
}

func TestEngineURLValidationFailsExecution(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	def := registerTool(t, h.stores, httpTool("http://localhost/x", ""))

	result, err := h.engine.Execute(ctx, ExecuteRequest{
		TenantID: "t1",
		ToolID:   def.ID,
		Actor:    models.SystemActor("test"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidationError(err))

	// The row exists and is FAILED; no HTTP call was ever made.
	exec, getErr := h.stores.Executions.Get(ctx, "t1", result.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)

	var payload bus.ToolExecutionCompletedPayload
	require.NoError(t, h.sink.last().DecodePayload(&payload))
	assert.Equal(t, bus.ToolStatusFailed, payload.Status)
}

func TestEngineScopeFailureCreatesNoRow(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	owner := "t2"
	def := registerTool(t, h.stores, &models.ToolDefinition{
		TenantID: &owner, Name: "private", Type: models.ToolTypeDummy,
	})

	_, err := h.engine.Execute(ctx, ExecuteRequest{
		TenantID: "t1",
		ToolID:   def.ID,
		Actor:    models.SystemActor("test"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsScopeError(err))
	assert.Empty(t, h.sink.types())

	count, err := h.stores.Executions.CountByStatus(ctx, "t1", models.ExecutionStatusFailed)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngineCircuitOpensAndRejects(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newEngineHarness(t, server)
	def := registerTool(t, h.stores, httpTool(server.URL, ""))
	req := ExecuteRequest{TenantID: "t1", ToolID: def.ID, Actor: models.SystemActor("test")}

	// Each invocation exhausts its retries and counts one breaker failure.
	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := h.engine.Execute(ctx, req)
		require.Error(t, err)
		assert.True(t, errs.IsTransientError(err))
	}

	// The breaker is now open: rejected pre-dispatch.
	result, err := h.engine.Execute(ctx, req)
	require.Error(t, err)
	assert.True(t, errs.IsCircuitOpenError(err))

	exec, getErr := h.stores.Executions.Get(ctx, "t1", result.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "circuit breaker open")

	assert.Equal(t, []int64{def.ID}, h.engine.Breakers().OpenTools("t1"))
}

func TestEngineResumeSkipsTerminalExecutions(t *testing.T) {
	ctx := context.Background()
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	h := newEngineHarness(t, server)
	def := registerTool(t, h.stores, httpTool(server.URL, ""))

	result, err := h.engine.Execute(ctx, ExecuteRequest{
		TenantID: "t1", ToolID: def.ID, Actor: models.SystemActor("test"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// A duplicate delivery resumes by id: no second dispatch, the
	// completion event is republished with the same terminal state.
	resumed, err := h.engine.Resume(ctx, "t1", result.ExecutionID, models.SystemActor("tool"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, resumed.Success)

	types := h.sink.types()
	assert.Equal(t, bus.EventTypeToolExecutionCompleted, types[len(types)-1])
}

func TestEngineResumeRunsRequestedExecution(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	h := newEngineHarness(t, server)
	def := registerTool(t, h.stores, httpTool(server.URL, ""))

	// A REQUESTED row whose original dispatcher crashed.
	exec := &models.ToolExecution{
		ID:        "exec-orphan",
		TenantID:  "t1",
		ToolID:    def.ID,
		Status:    models.ExecutionStatusRequested,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.stores.Executions.Create(ctx, exec))

	result, err := h.engine.Resume(ctx, "t1", "exec-orphan", models.SystemActor("tool"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	got, err := h.stores.Executions.Get(ctx, "t1", "exec-orphan")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, got.Status)
}

func TestEngineDummyProviderEchoes(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	def := registerTool(t, h.stores, &models.ToolDefinition{
		Name: "mock", Type: models.ToolTypeDummy,
		Config: models.ToolConfig{DelayMs: 1},
	})

	result, err := h.engine.Execute(ctx, ExecuteRequest{
		TenantID: "t1", ToolID: def.ID,
		Payload: map[string]any{"x": float64(1)},
		Actor:   models.SystemActor("test"),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Output["mock"])
}
