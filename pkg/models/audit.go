package models

import "time"

// GovernanceAuditEvent is an append-only record of an admin action
// (pack registration, enablement flip, DLQ replay or discard).
type GovernanceAuditEvent struct {
	ID         int64          `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ActorType  ActorType      `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Alert is an operational alert produced by the evaluator. While firing it
// is unique per (tenant_id, rule_type).
type Alert struct {
	ID             int64          `json:"id"`
	TenantID       string         `json:"tenant_id"`
	RuleType       string         `json:"rule_type"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`
	Status         AlertStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}
