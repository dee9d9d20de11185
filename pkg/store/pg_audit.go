package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

type pgAuditStore struct {
	db *sql.DB
}

func (s *pgAuditStore) Append(ctx context.Context, event *models.GovernanceAuditEvent) error {
	detail, err := marshalJSONB(event.Detail)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO governance_audit_event (tenant_id, actor_type, actor_id, action, entity_type, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		event.TenantID, event.ActorType, event.ActorID, event.Action,
		event.EntityType, event.EntityID, detail).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", event.Action, err)
	}
	return nil
}

func (s *pgAuditStore) List(ctx context.Context, tenantID string, limit int) ([]*models.GovernanceAuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_type, actor_id, action, entity_type, entity_id, detail, created_at
		FROM governance_audit_event WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events for tenant %s: %w", tenantID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.GovernanceAuditEvent
	for rows.Next() {
		var event models.GovernanceAuditEvent
		var detail []byte
		if err := rows.Scan(&event.ID, &event.TenantID, &event.ActorType, &event.ActorID,
			&event.Action, &event.EntityType, &event.EntityID, &detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if event.Detail, err = unmarshalJSONB(detail); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
