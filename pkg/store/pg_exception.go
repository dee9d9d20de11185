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

type pgExceptionStore struct {
	db *sql.DB
}

const exceptionColumns = `exception_id, tenant_id, source_system, exception_type, severity,
	resolution_status, raw_payload, normalized_context, current_playbook_id, current_step,
	assigned_owner, created_at, updated_at`

func (s *pgExceptionStore) Create(ctx context.Context, exc *models.Exception) error {
	raw, err := marshalJSONB(exc.RawPayload)
	if err != nil {
		return err
	}
	norm, err := marshalJSONB(exc.NormalizedContext)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exception (exception_id, tenant_id, source_system, exception_type,
			severity, resolution_status, raw_payload, normalized_context,
			assigned_owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (tenant_id, exception_id) DO NOTHING`,
		exc.ExceptionID, exc.TenantID, exc.SourceSystem, exc.ExceptionType,
		exc.Severity, exc.ResolutionStatus, raw, norm,
		exc.AssignedOwner, exc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert exception %s: %w", exc.ExceptionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

func (s *pgExceptionStore) Get(ctx context.Context, tenantID, exceptionID string) (*models.Exception, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exceptionColumns+` FROM exception WHERE tenant_id = $1 AND exception_id = $2`,
		tenantID, exceptionID)
	exc, err := scanException(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exception %s: %w", exceptionID, err)
	}
	return exc, nil
}

func (s *pgExceptionStore) List(ctx context.Context, tenantID string, filters models.ExceptionFilters) (*models.ExceptionListResponse, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	idx := 2

	add := func(cond string, val any) {
		where += fmt.Sprintf(" AND %s = $%d", cond, idx)
		args = append(args, val)
		idx++
	}
	if filters.Status != "" {
		add("resolution_status", string(filters.Status))
	}
	if filters.ExceptionType != "" {
		add("exception_type", filters.ExceptionType)
	}
	if filters.Severity != "" {
		add("severity", string(filters.Severity))
	}
	if filters.SourceSystem != "" {
		add("source_system", filters.SourceSystem)
	}
	if filters.CreatedAfter != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filters.CreatedAfter)
		idx++
	}
	if filters.CreatedBefore != nil {
		where += fmt.Sprintf(" AND created_at < $%d", idx)
		args = append(args, *filters.CreatedBefore)
		idx++
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM exception WHERE "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count exceptions: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT `+exceptionColumns+` FROM exception WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, idx, idx+1)
	args = append(args, limit, filters.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var exceptions []*models.Exception
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception row: %w", err)
		}
		exceptions = append(exceptions, exc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exception rows: %w", err)
	}

	return &models.ExceptionListResponse{
		Exceptions: exceptions,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

func (s *pgExceptionStore) Update(ctx context.Context, exc *models.Exception) error {
	norm, err := marshalJSONB(exc.NormalizedContext)
	if err != nil {
		return err
	}

	var playbookID sql.NullInt64
	if exc.CurrentPlaybookID != nil {
		playbookID = sql.NullInt64{Int64: *exc.CurrentPlaybookID, Valid: true}
	}
	var step sql.NullInt32
	if exc.CurrentStep != nil {
		step = sql.NullInt32{Int32: int32(*exc.CurrentStep), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE exception SET exception_type = $3, severity = $4, resolution_status = $5,
			normalized_context = $6, current_playbook_id = $7, current_step = $8,
			assigned_owner = $9, updated_at = now()
		WHERE tenant_id = $1 AND exception_id = $2`,
		exc.TenantID, exc.ExceptionID, exc.ExceptionType, exc.Severity,
		exc.ResolutionStatus, norm, playbookID, step, exc.AssignedOwner)
	if err != nil {
		return fmt.Errorf("failed to update exception %s: %w", exc.ExceptionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *pgExceptionStore) CountSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM exception WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count exceptions since %s: %w", since, err)
	}
	return n, nil
}

func (s *pgExceptionStore) CountRecurrences(ctx context.Context, tenantID, exceptionType string, severity models.Severity, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM exception
		WHERE tenant_id = $1 AND exception_type = $2 AND severity = $3 AND created_at >= $4`,
		tenantID, exceptionType, severity, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recurrences of %s: %w", exceptionType, err)
	}
	return n, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanException(row rowScanner) (*models.Exception, error) {
	var exc models.Exception
	var raw, norm []byte
	var playbookID sql.NullInt64
	var step sql.NullInt32

	err := row.Scan(&exc.ExceptionID, &exc.TenantID, &exc.SourceSystem, &exc.ExceptionType,
		&exc.Severity, &exc.ResolutionStatus, &raw, &norm, &playbookID, &step,
		&exc.AssignedOwner, &exc.CreatedAt, &exc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if exc.RawPayload, err = unmarshalJSONB(raw); err != nil {
		return nil, err
	}
	if exc.NormalizedContext, err = unmarshalJSONB(norm); err != nil {
		return nil, err
	}
	if playbookID.Valid {
		exc.CurrentPlaybookID = &playbookID.Int64
	}
	if step.Valid {
		v := int(step.Int32)
		exc.CurrentStep = &v
	}
	return &exc, nil
}
