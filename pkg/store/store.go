// Package store holds the tenant-scoped repositories. Every read filters
// by tenant_id (global tool definitions are the single, explicit
// exception), so tenant isolation is enforced below the service layer.
//
// Two implementations exist: PostgreSQL over the database client
// (pg_*.go) and in-memory fakes for tests and the e2e harness
// (memory.go). Both satisfy the same interfaces.
package store

import (
	"context"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ExceptionStore persists exceptions. Only workers mutate them.
type ExceptionStore interface {
	Create(ctx context.Context, exc *models.Exception) error
	Get(ctx context.Context, tenantID, exceptionID string) (*models.Exception, error)
	List(ctx context.Context, tenantID string, filters models.ExceptionFilters) (*models.ExceptionListResponse, error)
	// Update overwrites the mutable columns (severity, type, status,
	// normalized context, playbook position, owner) and bumps updated_at.
	Update(ctx context.Context, exc *models.Exception) error
	// CountSince returns how many exceptions the tenant raised in the window.
	CountSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	// CountRecurrences counts exceptions of the same type at the given
	// severity in the window, for the recurrence alert rule.
	CountRecurrences(ctx context.Context, tenantID, exceptionType string, severity models.Severity, since time.Time) (int, error)
}

// EventStore is the append-only exception_event timeline.
type EventStore interface {
	// Append inserts the event. Inserting an event_id that already exists
	// is a silent no-op so replays stay idempotent.
	Append(ctx context.Context, event *bus.Event) error
	Get(ctx context.Context, tenantID, eventID string) (*bus.Event, error)
	// ListByException returns the timeline ordered by created_at.
	ListByException(ctx context.Context, tenantID, exceptionID string) ([]*bus.Event, error)
	// Exists checks for a semantic duplicate: any event of the type for
	// the exception whose payload contains the given key/value pairs.
	Exists(ctx context.Context, tenantID, exceptionID, eventType string, payloadMatch map[string]any) (bool, error)
}

// PlaybookStore persists playbooks with their ordered steps.
type PlaybookStore interface {
	Create(ctx context.Context, pb *models.Playbook) error
	Get(ctx context.Context, tenantID string, playbookID int64) (*models.Playbook, error)
	// ListByTenant returns every playbook of the tenant, steps included.
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Playbook, error)
}

// ToolStore persists tool definitions and per-tenant enablement.
type ToolStore interface {
	CreateDefinition(ctx context.Context, def *models.ToolDefinition) error
	// GetDefinition returns the tool when it is global or belongs to the
	// tenant; a tool owned by another tenant yields ErrNotFound.
	GetDefinition(ctx context.Context, tenantID string, toolID int64) (*models.ToolDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*models.ToolDefinition, error)
	// IsEnabled consults the enablement table; absence of a row means enabled.
	IsEnabled(ctx context.Context, tenantID string, toolID int64) (bool, error)
	SetEnablement(ctx context.Context, tenantID string, toolID int64, enabled bool) error
}

// ExecutionStore persists tool execution records.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.ToolExecution) error
	Get(ctx context.Context, tenantID, executionID string) (*models.ToolExecution, error)
	// UpdateStatus applies one lifecycle transition. A transition out of a
	// terminal status returns errs.ErrInvalidTransition and leaves the row
	// unchanged.
	UpdateStatus(ctx context.Context, tenantID, executionID string, status models.ExecutionStatus, output map[string]any, errorMessage string) error
	CountByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) (int, error)
}

// LedgerStore is the idempotency ledger: one row per (event_id, worker).
type LedgerStore interface {
	// Claim atomically takes ownership of (eventID, worker). It returns
	// false when another consumer completed the event or holds an
	// unexpired processing lease. Expired leases and failed rows are
	// reclaimed with attempts incremented.
	Claim(ctx context.Context, eventID, worker string, lease time.Duration) (bool, *models.LedgerEntry, error)
	MarkCompleted(ctx context.Context, eventID, worker string) error
	MarkFailed(ctx context.Context, eventID, worker, reason string) error
	Get(ctx context.Context, eventID, worker string) (*models.LedgerEntry, error)
	// ReapStale flips processing rows whose lease expired before cutoff to
	// failed so a redelivery can reclaim them. Returns the reaped entries.
	ReapStale(ctx context.Context, cutoff time.Time) ([]*models.LedgerEntry, error)
}

// DeadLetterStore parks events that exhausted their retries.
type DeadLetterStore interface {
	// Park inserts a pending row; a second park of the same
	// (event_id, worker) while one is already pending is a no-op.
	Park(ctx context.Context, dle *models.DeadLetterEvent) error
	Get(ctx context.Context, tenantID string, id int64) (*models.DeadLetterEvent, error)
	List(ctx context.Context, tenantID string, status models.DeadLetterStatus) ([]*models.DeadLetterEvent, error)
	// MarkRetrying stamps retried_at and bumps the retry counter.
	MarkRetrying(ctx context.Context, tenantID string, id int64) error
	MarkSucceeded(ctx context.Context, tenantID string, id int64) error
	Discard(ctx context.Context, tenantID string, id int64, discardedBy string) error
}

// AuditStore is the append-only governance trail of admin actions.
type AuditStore interface {
	Append(ctx context.Context, event *models.GovernanceAuditEvent) error
	List(ctx context.Context, tenantID string, limit int) ([]*models.GovernanceAuditEvent, error)
}

// AlertStore persists operational alerts with (tenant, rule) dedup
// while firing.
type AlertStore interface {
	// Fire creates a firing alert unless one with the same rule_type is
	// already firing for the tenant; returns the alert and whether it is new.
	Fire(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error)
	Get(ctx context.Context, tenantID string, id int64) (*models.Alert, error)
	List(ctx context.Context, tenantID string, status models.AlertStatus) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, tenantID string, id int64) error
	Resolve(ctx context.Context, tenantID string, id int64) error
}

// Stores bundles every repository for wiring.
type Stores struct {
	Exceptions ExceptionStore
	Events     EventStore
	Playbooks  PlaybookStore
	Tools      ToolStore
	Executions ExecutionStore
	Ledger     LedgerStore
	DeadLetter DeadLetterStore
	Audit      AuditStore
	Alerts     AlertStore
}
