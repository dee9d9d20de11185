package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
)

type pgEventStore struct {
	db *sql.DB
}

const eventColumns = `event_id, tenant_id, exception_id, correlation_id, event_type,
	actor_type, actor_id, payload, created_at`

func (s *pgEventStore) Append(ctx context.Context, event *bus.Event) error {
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	// ON CONFLICT DO NOTHING keeps replays idempotent: the first insert
	// wins and the row never changes afterwards.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exception_event (event_id, tenant_id, exception_id, correlation_id,
			event_type, actor_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.TenantID, event.ExceptionID, event.CorrelationID,
		event.EventType, event.ActorType, event.ActorID, []byte(payload), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
	}
	return nil
}

func (s *pgEventStore) Get(ctx context.Context, tenantID, eventID string) (*bus.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM exception_event WHERE tenant_id = $1 AND event_id = $2`,
		tenantID, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	return event, nil
}

func (s *pgEventStore) ListByException(ctx context.Context, tenantID, exceptionID string) ([]*bus.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM exception_event
		WHERE tenant_id = $1 AND exception_id = $2
		ORDER BY created_at ASC`,
		tenantID, exceptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for exception %s: %w", exceptionID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*bus.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

func (s *pgEventStore) Exists(ctx context.Context, tenantID, exceptionID, eventType string, payloadMatch map[string]any) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM exception_event
		WHERE tenant_id = $1 AND exception_id = $2 AND event_type = $3`
	args := []any{tenantID, exceptionID, eventType}
	if len(payloadMatch) > 0 {
		match, err := marshalJSONB(payloadMatch)
		if err != nil {
			return false, err
		}
		// jsonb containment checks the key fields of the payload.
		query += " AND payload @> $4"
		args = append(args, match)
	}
	query += ")"

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s existence for exception %s: %w", eventType, exceptionID, err)
	}
	return exists, nil
}

func scanEvent(row rowScanner) (*bus.Event, error) {
	var event bus.Event
	var payload []byte
	err := row.Scan(&event.EventID, &event.TenantID, &event.ExceptionID, &event.CorrelationID,
		&event.EventType, &event.ActorType, &event.ActorID, &payload, &event.CreatedAt)
	if err != nil {
		return nil, err
	}
	event.Payload = json.RawMessage(payload)
	return &event, nil
}
