package models

import "time"

// Exception is an anomaly raised by an upstream system, tracked through
// triage, policy evaluation, playbook execution and supervision.
// Only workers mutate it; API consumers read.
type Exception struct {
	ExceptionID       string           `json:"exception_id"`
	TenantID          string           `json:"tenant_id"`
	SourceSystem      string           `json:"source_system"`
	ExceptionType     string           `json:"exception_type"`
	Severity          Severity         `json:"severity"`
	ResolutionStatus  ResolutionStatus `json:"resolution_status"`
	RawPayload        map[string]any   `json:"raw_payload,omitempty"`
	NormalizedContext map[string]any   `json:"normalized_context,omitempty"`
	CurrentPlaybookID *int64           `json:"current_playbook_id,omitempty"`
	CurrentStep       *int             `json:"current_step,omitempty"`
	AssignedOwner     string           `json:"assigned_owner,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// CreateExceptionRequest contains fields for ingesting a new exception
type CreateExceptionRequest struct {
	ExceptionID   string         `json:"exception_id,omitempty"`
	TenantID      string         `json:"tenant_id"`
	SourceSystem  string         `json:"source_system"`
	ExceptionType string         `json:"exception_type"`
	Severity      Severity       `json:"severity,omitempty"`
	RawPayload    map[string]any `json:"raw_payload,omitempty"`
}

// ExceptionFilters contains filtering options for listing exceptions
type ExceptionFilters struct {
	Status        ResolutionStatus `json:"status,omitempty"`
	ExceptionType string           `json:"exception_type,omitempty"`
	Severity      Severity         `json:"severity,omitempty"`
	SourceSystem  string           `json:"source_system,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}

// ExceptionListResponse contains a paginated exception list
type ExceptionListResponse struct {
	Exceptions []*Exception `json:"exceptions"`
	TotalCount int          `json:"total_count"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}
