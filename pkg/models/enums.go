package models

// Severity classifies how urgent an exception is
type Severity string

const (
	// SeverityLow is informational; remediation can wait
	SeverityLow Severity = "LOW"
	// SeverityMedium needs attention within normal working hours
	SeverityMedium Severity = "MEDIUM"
	// SeverityHigh needs prompt attention; supervisor thresholds tighten
	SeverityHigh Severity = "HIGH"
	// SeverityCritical is the highest urgency; auto-actions are restricted
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns a comparable weight (LOW=1 .. CRITICAL=4, unknown=0)
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ResolutionStatus tracks an exception through the pipeline
type ResolutionStatus string

const (
	// ResolutionStatusOpen is the initial status set by intake
	ResolutionStatusOpen ResolutionStatus = "OPEN"
	// ResolutionStatusInProgress means a playbook is being executed
	ResolutionStatusInProgress ResolutionStatus = "IN_PROGRESS"
	// ResolutionStatusEscalated means the supervisor handed off to a human
	ResolutionStatusEscalated ResolutionStatus = "ESCALATED"
	// ResolutionStatusResolved is terminal success
	ResolutionStatusResolved ResolutionStatus = "RESOLVED"
)

// IsValid checks if the resolution status is valid
func (s ResolutionStatus) IsValid() bool {
	switch s {
	case ResolutionStatusOpen, ResolutionStatusInProgress,
		ResolutionStatusEscalated, ResolutionStatusResolved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the pipeline is done with the exception
func (s ResolutionStatus) IsTerminal() bool {
	return s == ResolutionStatusResolved || s == ResolutionStatusEscalated
}

// ActorType identifies what kind of principal performed an action
type ActorType string

const (
	// ActorTypeUser is a human operator
	ActorTypeUser ActorType = "USER"
	// ActorTypeAgent is one of the decision agents
	ActorTypeAgent ActorType = "AGENT"
	// ActorTypeSystem is the platform itself (workers, reaper, API glue)
	ActorTypeSystem ActorType = "SYSTEM"
)

// IsValid checks if the actor type is valid
func (t ActorType) IsValid() bool {
	return t == ActorTypeUser || t == ActorTypeAgent || t == ActorTypeSystem
}

// ExecutionStatus is the tool execution lifecycle state
type ExecutionStatus string

const (
	// ExecutionStatusRequested means the record exists but dispatch has not begun
	ExecutionStatusRequested ExecutionStatus = "REQUESTED"
	// ExecutionStatusRunning means the provider call is in flight
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	// ExecutionStatusSucceeded is terminal success
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	// ExecutionStatusFailed is terminal failure
	ExecutionStatusFailed ExecutionStatus = "FAILED"
)

// IsValid checks if the execution status is valid
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusRequested, ExecutionStatusRunning,
		ExecutionStatusSucceeded, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// CanTransitionTo enforces the monotonic REQUESTED → RUNNING → terminal order.
// Terminal statuses accept no further transitions.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusRequested:
		return next == ExecutionStatusRunning || next == ExecutionStatusFailed
	case ExecutionStatusRunning:
		return next == ExecutionStatusSucceeded || next == ExecutionStatusFailed
	default:
		return false
	}
}

// ActionType is the action a playbook step performs
type ActionType string

const (
	// ActionTypeNotify sends a notification through the tenant's channels
	ActionTypeNotify ActionType = "notify"
	// ActionTypeAddComment appends a comment to the exception timeline
	ActionTypeAddComment ActionType = "add_comment"
	// ActionTypeSetStatus updates the exception's resolution status
	ActionTypeSetStatus ActionType = "set_status"
	// ActionTypeAssignOwner assigns a human owner
	ActionTypeAssignOwner ActionType = "assign_owner"
	// ActionTypeCallTool invokes an external tool via the execution engine
	ActionTypeCallTool ActionType = "call_tool"
)

// IsRisky reports whether completing the step needs a human actor.
// The safe set is closed; every action outside it is risky, including
// action types this build has never seen.
func (a ActionType) IsRisky() bool {
	switch a {
	case ActionTypeNotify, ActionTypeAddComment, ActionTypeSetStatus, ActionTypeAssignOwner:
		return false
	default:
		return true
	}
}

// ToolType selects the provider used to dispatch a tool
type ToolType string

const (
	// ToolTypeHTTP dispatches via the HTTP provider
	ToolTypeHTTP ToolType = "http"
	// ToolTypeHTTPS is an alias accepted for http
	ToolTypeHTTPS ToolType = "https"
	// ToolTypeREST dispatches via the HTTP provider
	ToolTypeREST ToolType = "rest"
	// ToolTypeWebhook dispatches via the HTTP provider
	ToolTypeWebhook ToolType = "webhook"
	// ToolTypeDummy echoes its input after an optional delay
	ToolTypeDummy ToolType = "dummy"
)

// UsesHTTP reports whether the type routes to the HTTP provider
func (t ToolType) UsesHTTP() bool {
	switch t {
	case ToolTypeHTTP, ToolTypeHTTPS, ToolTypeREST, ToolTypeWebhook:
		return true
	default:
		return false
	}
}

// AuthType is how the HTTP provider authenticates outbound calls
type AuthType string

const (
	// AuthTypeNone sends no credentials
	AuthTypeNone AuthType = "none"
	// AuthTypeAPIKey injects an env-looked-up key as X-API-Key
	AuthTypeAPIKey AuthType = "api_key"
	// AuthTypeOAuthStub sends a placeholder bearer token
	AuthTypeOAuthStub AuthType = "oauth_stub"
)

// IsValid checks if the auth type is valid
func (t AuthType) IsValid() bool {
	return t == AuthTypeNone || t == AuthTypeAPIKey || t == AuthTypeOAuthStub
}

// TenantScope declares who may invoke a tool
type TenantScope string

const (
	// TenantScopeGlobal tools are invokable by every tenant
	TenantScopeGlobal TenantScope = "global"
	// TenantScopeTenant tools belong to exactly one tenant
	TenantScopeTenant TenantScope = "tenant"
)

// IsValid checks if the tenant scope is valid
func (s TenantScope) IsValid() bool {
	return s == TenantScopeGlobal || s == TenantScopeTenant
}

// LedgerStatus is the idempotency ledger state for (event_id, worker_name)
type LedgerStatus string

const (
	// LedgerStatusProcessing means a consumer holds the lease
	LedgerStatusProcessing LedgerStatus = "processing"
	// LedgerStatusCompleted means the handler finished; duplicates are dropped
	LedgerStatusCompleted LedgerStatus = "completed"
	// LedgerStatusFailed means the handler errored; retry policy applies
	LedgerStatusFailed LedgerStatus = "failed"
)

// DeadLetterStatus is the lifecycle of a parked event
type DeadLetterStatus string

const (
	// DeadLetterStatusPending awaits an admin decision
	DeadLetterStatusPending DeadLetterStatus = "pending"
	// DeadLetterStatusRetrying has been republished and awaits the outcome
	DeadLetterStatusRetrying DeadLetterStatus = "retrying"
	// DeadLetterStatusDiscarded was dropped by an admin
	DeadLetterStatusDiscarded DeadLetterStatus = "discarded"
	// DeadLetterStatusSucceeded was replayed and processed
	DeadLetterStatusSucceeded DeadLetterStatus = "succeeded"
)

// IsValid checks if the dead letter status is valid
func (s DeadLetterStatus) IsValid() bool {
	switch s {
	case DeadLetterStatusPending, DeadLetterStatusRetrying,
		DeadLetterStatusDiscarded, DeadLetterStatusSucceeded:
		return true
	default:
		return false
	}
}

// ViolationKind classifies a recorded safety violation
type ViolationKind string

const (
	// ViolationKindPolicy is a guardrail breach found by the policy agent or supervisor
	ViolationKindPolicy ViolationKind = "policy"
	// ViolationKindTool is a tool misuse or repeated auth failure
	ViolationKindTool ViolationKind = "tool"
)

// AlertStatus is the lifecycle of an operational alert
type AlertStatus string

const (
	// AlertStatusFiring is active and deduplicated by (tenant, rule_type)
	AlertStatusFiring AlertStatus = "firing"
	// AlertStatusAcknowledged is seen by an operator but not fixed
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved is closed
	AlertStatusResolved AlertStatus = "resolved"
)

// IsValid checks if the alert status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusFiring, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}
