package bus

import "github.com/codeready-toolchain/remedy/pkg/models"

// ExceptionRaisedPayload is the payload for ExceptionRaised events.
// Published by intake (or the ingest API) once the exception row exists.
type ExceptionRaisedPayload struct {
	ExceptionType string                  `json:"exception_type"`
	Severity      models.Severity         `json:"severity"`
	SourceSystem  string                  `json:"source_system"`
	Domain        string                  `json:"domain,omitempty"`
	Context       map[string]any          `json:"context,omitempty"` // normalized, redacted
	Status        models.ResolutionStatus `json:"status"`
}

// TriageRequestedPayload is the payload for TriageRequested events,
// published by intake after normalization.
type TriageRequestedPayload struct {
	ExceptionType string          `json:"exception_type"`
	Severity      models.Severity `json:"severity"`
}

// TriageCompletedPayload is the payload for TriageCompleted events.
type TriageCompletedPayload struct {
	Decision      string          `json:"decision"`
	Confidence    float64         `json:"confidence"`
	Evidence      []string        `json:"evidence,omitempty"`
	NextStep      string          `json:"nextStep"`
	ExceptionType string          `json:"exception_type"`
	Severity      models.Severity `json:"severity"`
	SimilarCount  int             `json:"similar_count,omitempty"` // recurrence hits from the vector lookup
}

// PolicyEvaluationCompletedPayload is the payload for PolicyEvaluationCompleted events.
type PolicyEvaluationCompletedPayload struct {
	Decision              string   `json:"decision"` // ALLOW or BLOCK
	Confidence            float64  `json:"confidence"`
	Evidence              []string `json:"evidence,omitempty"`
	NextStep              string   `json:"nextStep"`
	HumanApprovalRequired bool     `json:"humanApprovalRequired"`
	GuardrailsConsulted   []string `json:"guardrails_consulted,omitempty"`
}

// PlaybookMatchedPayload is the payload for PlaybookMatched events.
type PlaybookMatchedPayload struct {
	PlaybookID   int64  `json:"playbook_id"`
	PlaybookName string `json:"playbook_name"`
	Priority     int    `json:"priority"`
	Reasoning    string `json:"reasoning"`
}

// PlaybookStartedPayload is the payload for PlaybookStarted events.
type PlaybookStartedPayload struct {
	PlaybookID   int64  `json:"playbook_id"`
	PlaybookName string `json:"playbook_name"`
	StepCount    int    `json:"step_count"`
}

// StepToolResult summarizes the synchronous tool call a call_tool step made.
type StepToolResult struct {
	ExecutionID  string `json:"execution_id"`
	ToolID       int64  `json:"tool_id"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PlaybookStepCompletedPayload is the payload for PlaybookStepCompleted events.
type PlaybookStepCompletedPayload struct {
	PlaybookID int64             `json:"playbook_id"`
	StepOrder  int               `json:"step_order"`
	StepName   string            `json:"step_name"`
	ActionType models.ActionType `json:"action_type"`
	Notes      string            `json:"notes,omitempty"`
	Tool       *StepToolResult   `json:"tool,omitempty"` // set for call_tool steps
}

// PlaybookStepSkippedPayload is the payload for PlaybookStepSkipped events.
type PlaybookStepSkippedPayload struct {
	PlaybookID int64             `json:"playbook_id"`
	StepOrder  int               `json:"step_order"`
	StepName   string            `json:"step_name"`
	ActionType models.ActionType `json:"action_type"`
	Notes      string            `json:"notes,omitempty"`
}

// PlaybookCompletedPayload is the payload for PlaybookCompleted events.
type PlaybookCompletedPayload struct {
	PlaybookID     int64 `json:"playbook_id"`
	StepsCompleted int   `json:"steps_completed"`
	StepsSkipped   int   `json:"steps_skipped"`
}

// ToolExecutionRequestedPayload is the payload for ToolExecutionRequested events.
// Input is the redacted view of the input payload; the raw input lives only
// in the tool_execution row.
type ToolExecutionRequestedPayload struct {
	ExecutionID string         `json:"execution_id"`
	ToolID      int64          `json:"tool_id"`
	ToolName    string         `json:"tool_name"`
	Input       map[string]any `json:"input,omitempty"`
}

// ToolExecutionCompletedPayload is the payload for ToolExecutionCompleted
// events. Status is "succeeded" or "failed"; consumers discriminate on it.
type ToolExecutionCompletedPayload struct {
	ExecutionID  string         `json:"execution_id"`
	ToolID       int64          `json:"tool_id"`
	ToolName     string         `json:"tool_name"`
	Status       string         `json:"status"`
	Output       map[string]any `json:"output,omitempty"` // redacted
	ErrorMessage string         `json:"error_message,omitempty"`
}

// EscalatedPayload is the payload for Escalated events.
type EscalatedPayload struct {
	Reason      string   `json:"reason"`
	TriggeredBy string   `json:"triggered_by"` // rule id or agent name
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
}

// ResolvedPayload is the payload for Resolved events.
type ResolvedPayload struct {
	Resolution string `json:"resolution"`
	PlaybookID int64  `json:"playbook_id,omitempty"`
}

// Tool execution payload status values.
const (
	ToolStatusSucceeded = "succeeded"
	ToolStatusFailed    = "failed"
)
