package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgLedgerStore struct {
	db *sql.DB
}

const ledgerColumns = `event_id, worker_name, status, attempts, last_error,
	lease_expires_at, created_at, updated_at`

func (s *pgLedgerStore) Claim(ctx context.Context, eventID, worker string, lease time.Duration) (bool, *models.LedgerEntry, error) {
	now := time.Now().UTC()
	expiry := now.Add(lease)

	// One round trip: insert a fresh processing row, or take over an
	// existing row only when it is failed or its processing lease expired.
	// Completed rows and live leases leave the row untouched, so zero
	// RowsAffected means "someone else owns this event".
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_ledger (event_id, worker_name, status, attempts, lease_expires_at, created_at, updated_at)
		VALUES ($1, $2, 'processing', 1, $3, $4, $4)
		ON CONFLICT (event_id, worker_name) DO UPDATE
		SET status = 'processing', attempts = worker_ledger.attempts + 1,
			lease_expires_at = EXCLUDED.lease_expires_at, updated_at = EXCLUDED.updated_at
		WHERE worker_ledger.status = 'failed'
		   OR (worker_ledger.status = 'processing' AND worker_ledger.lease_expires_at < $4)`,
		eventID, worker, expiry, now)
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim ledger row (%s, %s): %w", eventID, worker, err)
	}

	n, _ := res.RowsAffected()
	entry, err := s.Get(ctx, eventID, worker)
	if err != nil {
		return false, nil, err
	}
	return n > 0, entry, nil
}

func (s *pgLedgerStore) MarkCompleted(ctx context.Context, eventID, worker string) error {
	return s.mark(ctx, eventID, worker, models.LedgerStatusCompleted, "")
}

func (s *pgLedgerStore) MarkFailed(ctx context.Context, eventID, worker, reason string) error {
	return s.mark(ctx, eventID, worker, models.LedgerStatusFailed, reason)
}

func (s *pgLedgerStore) mark(ctx context.Context, eventID, worker string, status models.LedgerStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_ledger
		SET status = $3, last_error = $4, lease_expires_at = NULL, updated_at = now()
		WHERE event_id = $1 AND worker_name = $2`,
		eventID, worker, status, reason)
	if err != nil {
		return fmt.Errorf("failed to mark ledger row (%s, %s) %s: %w", eventID, worker, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *pgLedgerStore) Get(ctx context.Context, eventID, worker string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM worker_ledger WHERE event_id = $1 AND worker_name = $2`,
		eventID, worker)
	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger row (%s, %s): %w", eventID, worker, err)
	}
	return entry, nil
}

func (s *pgLedgerStore) ReapStale(ctx context.Context, cutoff time.Time) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE worker_ledger
		SET status = 'failed', last_error = 'lease expired, reaped', updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < $1
		RETURNING `+ledgerColumns,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale ledger rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reaped []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reaped ledger row: %w", err)
		}
		reaped = append(reaped, entry)
	}
	return reaped, rows.Err()
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var lease sql.NullTime
	err := row.Scan(&entry.EventID, &entry.WorkerName, &entry.Status, &entry.Attempts,
		&entry.LastError, &lease, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lease.Valid {
		entry.LeaseExpiresAt = &lease.Time
	}
	return &entry, nil
}
