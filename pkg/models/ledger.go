package models

import (
	"encoding/json"
	"time"
)

// LedgerEntry is one (event_id, worker_name) row of the idempotency ledger.
// The lease expiry lets the reaper re-open rows left processing by a crash.
type LedgerEntry struct {
	EventID        string       `json:"event_id"`
	WorkerName     string       `json:"worker_name"`
	Status         LedgerStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// DeadLetterEvent is an event that exhausted its retries, parked for an
// admin to replay or discard.
type DeadLetterEvent struct {
	ID           int64            `json:"id"`
	TenantID     string           `json:"tenant_id"`
	EventID      string           `json:"event_id"`
	WorkerName   string           `json:"worker_name"`
	Topic        string           `json:"topic"`
	EventPayload json.RawMessage  `json:"event_payload"`
	Reason       string           `json:"reason"`
	Status       DeadLetterStatus `json:"status"`
	RetryCount   int              `json:"retry_count"`
	CreatedAt    time.Time        `json:"created_at"`
	RetriedAt    *time.Time       `json:"retried_at,omitempty"`
	DiscardedAt  *time.Time       `json:"discarded_at,omitempty"`
	DiscardedBy  string           `json:"discarded_by,omitempty"`
}
