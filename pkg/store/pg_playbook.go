package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgPlaybookStore struct {
	db *sql.DB
}

func (s *pgPlaybookStore) Create(ctx context.Context, pb *models.Playbook) error {
	conditions, err := marshalJSONB(pb.Conditions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start playbook transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO playbook (tenant_id, name, version, exception_type, conditions, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		pb.TenantID, pb.Name, pb.Version, pb.ExceptionType, conditions, pb.Priority).Scan(&pb.ID)
	if err != nil {
		return fmt.Errorf("failed to insert playbook %s: %w", pb.Name, err)
	}

	for i := range pb.Steps {
		step := &pb.Steps[i]
		step.PlaybookID = pb.ID
		params, err := marshalJSONB(step.Params)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO playbook_step (playbook_id, step_order, name, action_type, params)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			pb.ID, step.StepOrder, step.Name, step.ActionType, params).Scan(&step.ID)
		if err != nil {
			return fmt.Errorf("failed to insert step %d of playbook %s: %w", step.StepOrder, pb.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit playbook %s: %w", pb.Name, err)
	}
	return nil
}

func (s *pgPlaybookStore) Get(ctx context.Context, tenantID string, playbookID int64) (*models.Playbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, version, exception_type, conditions, priority
		FROM playbook WHERE tenant_id = $1 AND id = $2`,
		tenantID, playbookID)
	pb, err := scanPlaybook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get playbook %d: %w", playbookID, err)
	}
	if err := s.loadSteps(ctx, pb); err != nil {
		return nil, err
	}
	return pb, nil
}

func (s *pgPlaybookStore) ListByTenant(ctx context.Context, tenantID string) ([]*models.Playbook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, version, exception_type, conditions, priority
		FROM playbook WHERE tenant_id = $1
		ORDER BY priority DESC, id DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playbooks for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = rows.Close() }()

	var playbooks []*models.Playbook
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playbook row: %w", err)
		}
		playbooks = append(playbooks, pb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate playbook rows: %w", err)
	}

	for _, pb := range playbooks {
		if err := s.loadSteps(ctx, pb); err != nil {
			return nil, err
		}
	}
	return playbooks, nil
}

func (s *pgPlaybookStore) loadSteps(ctx context.Context, pb *models.Playbook) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook_id, step_order, name, action_type, params
		FROM playbook_step WHERE playbook_id = $1
		ORDER BY step_order ASC`,
		pb.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps of playbook %d: %w", pb.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var step models.PlaybookStep
		var params []byte
		if err := rows.Scan(&step.ID, &step.PlaybookID, &step.StepOrder,
			&step.Name, &step.ActionType, &params); err != nil {
			return fmt.Errorf("failed to scan step row: %w", err)
		}
		if step.Params, err = unmarshalJSONB(params); err != nil {
			return err
		}
		pb.Steps = append(pb.Steps, step)
	}
	return rows.Err()
}

func scanPlaybook(row rowScanner) (*models.Playbook, error) {
	var pb models.Playbook
	var conditions []byte
	err := row.Scan(&pb.ID, &pb.TenantID, &pb.Name, &pb.Version,
		&pb.ExceptionType, &conditions, &pb.Priority)
	if err != nil {
		return nil, err
	}
	if pb.Conditions, err = unmarshalJSONB(conditions); err != nil {
		return nil, err
	}
	return &pb, nil
}
