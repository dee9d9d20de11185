package models

import "time"

// ToolDefinition describes an invokable external tool. TenantID nil means
// the tool is global and every tenant may use it (each behind its own
// circuit breaker).
type ToolDefinition struct {
	ID       int64      `json:"tool_id"`
	TenantID *string    `json:"tenant_id,omitempty"`
	Name     string     `json:"name"`
	Type     ToolType   `json:"type"`
	Config   ToolConfig `json:"config"`
}

// IsGlobal reports whether the tool is invokable by all tenants.
func (t *ToolDefinition) IsGlobal() bool {
	return t.TenantID == nil || *t.TenantID == ""
}

// ToolConfig is the JSONB config column of a tool definition.
// Field names follow the registration wire shape.
type ToolConfig struct {
	Description    string          `json:"description" yaml:"description,omitempty"`
	InputSchema    map[string]any  `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema   map[string]any  `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
	AuthType       AuthType        `json:"authType,omitempty" yaml:"authType,omitempty"`
	EndpointConfig *EndpointConfig `json:"endpointConfig,omitempty" yaml:"endpointConfig,omitempty"`
	TenantScope    TenantScope     `json:"tenantScope,omitempty" yaml:"tenantScope,omitempty"`
	DelayMs        int             `json:"delayMs,omitempty" yaml:"delayMs,omitempty"`
}

// EndpointConfig is required for http-family tools.
type EndpointConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ToolEnablement is a per-tenant on/off switch for one tool.
// No row means enabled.
type ToolEnablement struct {
	TenantID  string    `json:"tenant_id"`
	ToolID    int64     `json:"tool_id"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolExecution is one invocation of a tool. Status moves strictly
// REQUESTED → RUNNING → (SUCCEEDED | FAILED).
type ToolExecution struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenant_id"`
	ToolID               int64           `json:"tool_id"`
	ExceptionID          *string         `json:"exception_id,omitempty"`
	Status               ExecutionStatus `json:"status"`
	RequestedByActorType ActorType       `json:"requested_by_actor_type"`
	RequestedByActorID   string          `json:"requested_by_actor_id"`
	InputPayload         map[string]any  `json:"input_payload,omitempty"`
	OutputPayload        map[string]any  `json:"output_payload,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
