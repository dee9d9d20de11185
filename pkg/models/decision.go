package models

// AgentDecision is the structured output every decision agent produces.
// Confidence is in [0,1]; NextStep tells the pipeline where to go.
type AgentDecision struct {
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
	NextStep   string   `json:"nextStep"`
}

// NextStep values routed on by the workers.
const (
	NextStepContinue = "CONTINUE"
	NextStepEscalate = "ESCALATE"
	NextStepResolve  = "RESOLVE"
)

// Policy decision values.
const (
	DecisionAllow = "ALLOW"
	DecisionBlock = "BLOCK"
)

// Violation records a guardrail breach or tool misuse. Persisted
// append-only as JSONL per tenant.
type Violation struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Kind        ViolationKind  `json:"kind"`
	Severity    Severity       `json:"severity"`
	RuleID      string         `json:"rule_id,omitempty"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   string         `json:"created_at"`
}
