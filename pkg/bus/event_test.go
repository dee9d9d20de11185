package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestNewEventEnvelope(t *testing.T) {
	ev, err := NewEvent(EventTypeExceptionRaised, "t1", "exc-1",
		models.SystemActor("intake"), ExceptionRaisedPayload{
			ExceptionType: "DataQualityFailure",
			Severity:      models.SeverityMedium,
			SourceSystem:  "billing",
			Status:        models.ResolutionStatusOpen,
		})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "exc-1", ev.CorrelationID, "correlation id mirrors the exception id")
	assert.Equal(t, models.ActorTypeSystem, ev.ActorType)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.Equal(t, "exc-1", ev.Key())
}

func TestEventKeyFallsBackToTenant(t *testing.T) {
	ev, err := NewEvent(EventTypeResolved, "t9", "", models.SystemActor("api"), nil)
	require.NoError(t, err)
	assert.Equal(t, "t9", ev.Key())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventTypeToolExecutionRequested, "t1", "exc-2",
		models.AgentActor("playbook-executor"), ToolExecutionRequestedPayload{
			ExecutionID: "11111111-2222-3333-4444-555555555555",
			ToolID:      42,
			ToolName:    "restart-pipeline",
			Input:       map[string]any{"target": "etl-7", "api_key": "[REDACTED]"},
		})
	require.NoError(t, err)

	data, err := ev.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.EventType, got.EventType)
	assert.Equal(t, ev.TenantID, got.TenantID)

	var p ToolExecutionRequestedPayload
	require.NoError(t, got.DecodePayload(&p))
	assert.Equal(t, int64(42), p.ToolID)
	assert.Equal(t, "[REDACTED]", p.Input["api_key"])
}

func TestDecodeRejectsBrokenEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"not json", `{{{{`, "failed to decode"},
		{"missing event_id", `{"event_type":"Resolved","tenant_id":"t1","actor_type":"SYSTEM","created_at":"2026-01-01T00:00:00Z"}`, "missing event_id"},
		{"missing tenant", `{"event_id":"e1","event_type":"Resolved","actor_type":"SYSTEM","created_at":"2026-01-01T00:00:00Z"}`, "missing tenant_id"},
		{"bad actor type", `{"event_id":"e1","event_type":"Resolved","tenant_id":"t1","actor_type":"ROBOT","created_at":"2026-01-01T00:00:00Z"}`, "invalid actor_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPayloadMapNeverNil(t *testing.T) {
	ev := &Event{EventID: "e1"}
	m, err := ev.PayloadMap()
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}
