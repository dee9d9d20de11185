package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgAlertStore struct {
	db *sql.DB
}

const alertColumns = `id, tenant_id, rule_type, severity, message, context, status,
	created_at, acknowledged_at, resolved_at`

func (s *pgAlertStore) Fire(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error) {
	context_, err := marshalJSONB(alert.Context)
	if err != nil {
		return nil, false, err
	}

	// The partial unique index on (tenant_id, rule_type) WHERE firing
	// makes this race-free: the losing insert returns no row.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO alert (tenant_id, rule_type, severity, message, context, status)
		VALUES ($1, $2, $3, $4, $5, 'firing')
		ON CONFLICT (tenant_id, rule_type) WHERE status = 'firing' DO NOTHING
		RETURNING id, created_at`,
		alert.TenantID, alert.RuleType, alert.Severity, alert.Message, context_)

	err = row.Scan(&alert.ID, &alert.CreatedAt)
	if err == nil {
		alert.Status = models.AlertStatusFiring
		return alert, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to fire alert %s: %w", alert.RuleType, err)
	}

	// Already firing; return the existing alert.
	existing := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alert
		WHERE tenant_id = $1 AND rule_type = $2 AND status = 'firing'`,
		alert.TenantID, alert.RuleType)
	found, err := scanAlert(existing)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load firing alert %s: %w", alert.RuleType, err)
	}
	return found, false, nil
}

func (s *pgAlertStore) Get(ctx context.Context, tenantID string, id int64) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alert WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return alert, nil
}

func (s *pgAlertStore) List(ctx context.Context, tenantID string, status models.AlertStatus) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alert WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 200"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *pgAlertStore) Acknowledge(ctx context.Context, tenantID string, id int64) error {
	return s.transition(ctx, tenantID, id, `
		UPDATE alert SET status = 'acknowledged', acknowledged_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'firing'`)
}

func (s *pgAlertStore) Resolve(ctx context.Context, tenantID string, id int64) error {
	return s.transition(ctx, tenantID, id, `
		UPDATE alert SET status = 'resolved', resolved_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('firing', 'acknowledged')`)
}

func (s *pgAlertStore) transition(ctx context.Context, tenantID string, id int64, query string) error {
	res, err := s.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to transition alert %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	return errs.ErrInvalidTransition
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var context_ []byte
	var ackAt, resolvedAt sql.NullTime
	err := row.Scan(&alert.ID, &alert.TenantID, &alert.RuleType, &alert.Severity,
		&alert.Message, &context_, &alert.Status, &alert.CreatedAt, &ackAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if alert.Context, err = unmarshalJSONB(context_); err != nil {
		return nil, err
	}
	if ackAt.Valid {
		alert.AcknowledgedAt = &ackAt.Time
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return &alert, nil
}
