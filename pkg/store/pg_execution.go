package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgExecutionStore struct {
	db *sql.DB
}

const executionColumns = `id, tenant_id, tool_id, exception_id, status,
	requested_by_actor_type, requested_by_actor_id, input_payload, output_payload,
	error_message, created_at, updated_at`

func (s *pgExecutionStore) Create(ctx context.Context, exec *models.ToolExecution) error {
	input, err := marshalJSONB(exec.InputPayload)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_execution (id, tenant_id, tool_id, exception_id, status,
			requested_by_actor_type, requested_by_actor_id, input_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING`,
		exec.ID, exec.TenantID, exec.ToolID, nullString(exec.ExceptionID), exec.Status,
		exec.RequestedByActorType, exec.RequestedByActorID, input, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tool execution %s: %w", exec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

func (s *pgExecutionStore) Get(ctx context.Context, tenantID, executionID string) (*models.ToolExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM tool_execution WHERE tenant_id = $1 AND id = $2`,
		tenantID, executionID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tool execution %s: %w", executionID, err)
	}
	return exec, nil
}

func (s *pgExecutionStore) UpdateStatus(ctx context.Context, tenantID, executionID string, status models.ExecutionStatus, output map[string]any, errorMessage string) error {
	outputJSON, err := marshalJSONB(output)
	if err != nil {
		return err
	}

	// The WHERE clause encodes the legal transitions, so a lost race or a
	// replayed update cannot move a terminal row.
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_execution
		SET status = $3, output_payload = $4, error_message = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		  AND ((status = 'REQUESTED' AND $3 IN ('RUNNING', 'FAILED'))
		    OR (status = 'RUNNING' AND $3 IN ('SUCCEEDED', 'FAILED')))`,
		tenantID, executionID, status, outputJSON, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update tool execution %s to %s: %w", executionID, status, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish a missing row from an illegal transition.
		if _, err := s.Get(ctx, tenantID, executionID); err != nil {
			return err
		}
		return errs.ErrInvalidTransition
	}
	return nil
}

func (s *pgExecutionStore) CountByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM tool_execution WHERE tenant_id = $1 AND status = $2`,
		tenantID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions by status %s: %w", status, err)
	}
	return n, nil
}

func scanExecution(row rowScanner) (*models.ToolExecution, error) {
	var exec models.ToolExecution
	var exceptionID sql.NullString
	var input, output []byte

	err := row.Scan(&exec.ID, &exec.TenantID, &exec.ToolID, &exceptionID, &exec.Status,
		&exec.RequestedByActorType, &exec.RequestedByActorID, &input, &output,
		&exec.ErrorMessage, &exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if exceptionID.Valid {
		exec.ExceptionID = &exceptionID.String
	}
	if exec.InputPayload, err = unmarshalJSONB(input); err != nil {
		return nil, err
	}
	if exec.OutputPayload, err = unmarshalJSONB(output); err != nil {
		return nil, err
	}
	return &exec, nil
}
