package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/database"
)

// NewPostgres wires every repository onto the shared database client.
func NewPostgres(client *database.Client) *Stores {
	db := client.DB()
	return &Stores{
		Exceptions: &pgExceptionStore{db: db},
		Events:     &pgEventStore{db: db},
		Playbooks:  &pgPlaybookStore{db: db},
		Tools:      &pgToolStore{db: db},
		Executions: &pgExecutionStore{db: db},
		Ledger:     &pgLedgerStore{db: db},
		DeadLetter: &pgDeadLetterStore{db: db},
		Audit:      &pgAuditStore{db: db},
		Alerts:     &pgAlertStore{db: db},
	}
}

// marshalJSONB encodes a map for a JSONB column, defaulting to {}.
func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb column: %w", err)
	}
	return b, nil
}

// unmarshalJSONB decodes a JSONB column into a map; empty input yields nil.
func unmarshalJSONB(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "{}" || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}
	return m, nil
}

// nullString maps an optional string to its SQL representation.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
