package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgDeadLetterStore struct {
	db *sql.DB
}

const dlqColumns = `id, tenant_id, event_id, worker_name, topic, event_payload, reason,
	status, retry_count, created_at, retried_at, discarded_at, discarded_by`

func (s *pgDeadLetterStore) Park(ctx context.Context, dle *models.DeadLetterEvent) error {
	payload := dle.EventPayload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	// The partial unique index on (event_id, worker_name) for live rows
	// makes double-parking a no-op.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letter_event (tenant_id, event_id, worker_name, topic, event_payload, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (event_id, worker_name) WHERE status IN ('pending', 'retrying') DO NOTHING`,
		dle.TenantID, dle.EventID, dle.WorkerName, dle.Topic, []byte(payload), dle.Reason)
	if err != nil {
		return fmt.Errorf("failed to park event %s for worker %s: %w", dle.EventID, dle.WorkerName, err)
	}
	return nil
}

func (s *pgDeadLetterStore) Get(ctx context.Context, tenantID string, id int64) (*models.DeadLetterEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM dead_letter_event WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	dle, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter %d: %w", id, err)
	}
	return dle, nil
}

func (s *pgDeadLetterStore) List(ctx context.Context, tenantID string, status models.DeadLetterStatus) ([]*models.DeadLetterEvent, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_event WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 200"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = rows.Close() }()

	var letters []*models.DeadLetterEvent
	for rows.Next() {
		dle, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		letters = append(letters, dle)
	}
	return letters, rows.Err()
}

func (s *pgDeadLetterStore) MarkRetrying(ctx context.Context, tenantID string, id int64) error {
	return s.transition(ctx, tenantID, id, `
		UPDATE dead_letter_event
		SET status = 'retrying', retry_count = retry_count + 1, retried_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`)
}

func (s *pgDeadLetterStore) MarkSucceeded(ctx context.Context, tenantID string, id int64) error {
	return s.transition(ctx, tenantID, id, `
		UPDATE dead_letter_event
		SET status = 'succeeded'
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'retrying')`)
}

func (s *pgDeadLetterStore) Discard(ctx context.Context, tenantID string, id int64, discardedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letter_event
		SET status = 'discarded', discarded_at = now(), discarded_by = $3
		WHERE tenant_id = $1 AND id = $2 AND status IN ('pending', 'retrying')`,
		tenantID, id, discardedBy)
	if err != nil {
		return fmt.Errorf("failed to discard dead letter %d: %w", id, err)
	}
	return s.requireAffected(ctx, tenantID, id, res)
}

func (s *pgDeadLetterStore) transition(ctx context.Context, tenantID string, id int64, query string) error {
	res, err := s.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to transition dead letter %d: %w", id, err)
	}
	return s.requireAffected(ctx, tenantID, id, res)
}

func (s *pgDeadLetterStore) requireAffected(ctx context.Context, tenantID string, id int64, res sql.Result) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return errs.ErrInvalidTransition
}

func scanDeadLetter(row rowScanner) (*models.DeadLetterEvent, error) {
	var dle models.DeadLetterEvent
	var payload []byte
	var retriedAt, discardedAt sql.NullTime
	err := row.Scan(&dle.ID, &dle.TenantID, &dle.EventID, &dle.WorkerName, &dle.Topic,
		&payload, &dle.Reason, &dle.Status, &dle.RetryCount, &dle.CreatedAt,
		&retriedAt, &discardedAt, &dle.DiscardedBy)
	if err != nil {
		return nil, err
	}
	dle.EventPayload = json.RawMessage(payload)
	if retriedAt.Valid {
		dle.RetriedAt = &retriedAt.Time
	}
	if discardedAt.Valid {
		dle.DiscardedAt = &discardedAt.Time
	}
	return &dle, nil
}
