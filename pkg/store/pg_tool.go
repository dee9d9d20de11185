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

type pgToolStore struct {
	db *sql.DB
}

func (s *pgToolStore) CreateDefinition(ctx context.Context, def *models.ToolDefinition) error {
	config, err := json.Marshal(def.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config of tool %s: %w", def.Name, err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tool_definition (tenant_id, name, type, config)
		VALUES ($1, $2, $3, $4)
		RETURNING tool_id`,
		nullString(def.TenantID), def.Name, def.Type, config).Scan(&def.ID)
	if err != nil {
		return fmt.Errorf("failed to insert tool %s: %w", def.Name, err)
	}
	return nil
}

func (s *pgToolStore) GetDefinition(ctx context.Context, tenantID string, toolID int64) (*models.ToolDefinition, error) {
	// Global tools (tenant_id NULL) are visible to every tenant; a tool
	// owned by another tenant is indistinguishable from a missing one.
	row := s.db.QueryRowContext(ctx, `
		SELECT tool_id, tenant_id, name, type, config FROM tool_definition
		WHERE tool_id = $1 AND (tenant_id IS NULL OR tenant_id = $2)`,
		toolID, tenantID)
	def, err := scanToolDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tool %d: %w", toolID, err)
	}
	return def, nil
}

func (s *pgToolStore) ListDefinitions(ctx context.Context, tenantID string) ([]*models.ToolDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_id, tenant_id, name, type, config FROM tool_definition
		WHERE tenant_id IS NULL OR tenant_id = $1
		ORDER BY tool_id ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = rows.Close() }()

	var defs []*models.ToolDefinition
	for rows.Next() {
		def, err := scanToolDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool row: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *pgToolStore) IsEnabled(ctx context.Context, tenantID string, toolID int64) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM tool_enablement WHERE tenant_id = $1 AND tool_id = $2`,
		tenantID, toolID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		// No row means enabled by default.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check enablement of tool %d: %w", toolID, err)
	}
	return enabled, nil
}

func (s *pgToolStore) SetEnablement(ctx context.Context, tenantID string, toolID int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_enablement (tenant_id, tool_id, enabled, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, tool_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()`,
		tenantID, toolID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set enablement of tool %d: %w", toolID, err)
	}
	return nil
}

func scanToolDefinition(row rowScanner) (*models.ToolDefinition, error) {
	var def models.ToolDefinition
	var tenantID sql.NullString
	var config []byte
	if err := row.Scan(&def.ID, &tenantID, &def.Name, &def.Type, &config); err != nil {
		return nil, err
	}
	if tenantID.Valid {
		def.TenantID = &tenantID.String
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &def.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config of tool %d: %w", def.ID, err)
		}
	}
	return &def, nil
}
