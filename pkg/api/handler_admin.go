package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// EnableTool re-enables a tool for the tenant.
func (s *Server) EnableTool(c *gin.Context) {
	s.setEnablement(c, true)
}

// DisableTool disables a tool for the tenant. Running executions finish;
// new dispatches are refused with a scope error.
func (s *Server) DisableTool(c *gin.Context) {
	s.setEnablement(c, false)
}

func (s *Server) setEnablement(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	tenant := tenantID(c)

	toolID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	// Existence and scope check before the flip.
	def, err := s.stores.Tools.GetDefinition(ctx, tenant, toolID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.stores.Tools.SetEnablement(ctx, tenant, toolID, enabled); err != nil {
		respondError(c, err)
		return
	}

	action := "tool_disabled"
	if enabled {
		action = "tool_enabled"
	}
	s.audit(c, action, "tool", def.Name, map[string]any{"tool_id": toolID})

	c.JSON(http.StatusOK, gin.H{"tool_id": toolID, "enabled": enabled})
}

// ListDeadLetters returns the tenant's parked events, pending by default.
func (s *Server) ListDeadLetters(c *gin.Context) {
	status := models.DeadLetterStatus(c.DefaultQuery("status", string(models.DeadLetterStatusPending)))
	if !status.IsValid() {
		respondError(c, errs.NewValidationError("status", "unknown dead letter status"))
		return
	}
	entries, err := s.stores.DeadLetter.List(c.Request.Context(), tenantID(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": entries, "count": len(entries)})
}

// RetryDeadLetter republishes a parked event on its original topic.
func (s *Server) RetryDeadLetter(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)

	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	dle, err := s.stores.DeadLetter.Get(ctx, tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	event, err := bus.Decode(dle.EventPayload)
	if err != nil {
		respondError(c, errs.NewFatalError("decode parked event", err))
		return
	}
	if err := s.stores.DeadLetter.MarkRetrying(ctx, tenant, id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.broker.Publish(ctx, dle.Topic, event.Key(), event); err != nil {
		respondError(c, errs.NewTransientError("dlq republish", 0, err))
		return
	}

	s.audit(c, "dlq_retried", "dead_letter", dle.EventID, map[string]any{
		"dlq_id": id, "worker": dle.WorkerName,
	})
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.DeadLetterStatusRetrying})
}

// DiscardDeadLetter drops a parked event permanently.
func (s *Server) DiscardDeadLetter(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)

	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	dle, err := s.stores.DeadLetter.Get(ctx, tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	operator := actorID(c)
	if err := s.stores.DeadLetter.Discard(ctx, tenant, id, operator); err != nil {
		respondError(c, err)
		return
	}

	s.audit(c, "dlq_discarded", "dead_letter", dle.EventID, map[string]any{
		"dlq_id": id, "worker": dle.WorkerName, "reason": dle.Reason,
	})
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.DeadLetterStatusDiscarded})
}

// ListAlerts returns the tenant's alerts, firing by default.
func (s *Server) ListAlerts(c *gin.Context) {
	status := models.AlertStatus(c.DefaultQuery("status", string(models.AlertStatusFiring)))
	if !status.IsValid() {
		respondError(c, errs.NewValidationError("status", "unknown alert status"))
		return
	}
	alerts, err := s.stores.Alerts.List(c.Request.Context(), tenantID(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// AcknowledgeAlert marks a firing alert as seen.
func (s *Server) AcknowledgeAlert(c *gin.Context) {
	s.alertAction(c, s.stores.Alerts.Acknowledge, models.AlertStatusAcknowledged)
}

// ResolveAlert closes an alert so the rule may fire again.
func (s *Server) ResolveAlert(c *gin.Context) {
	s.alertAction(c, s.stores.Alerts.Resolve, models.AlertStatusResolved)
}

func (s *Server) alertAction(c *gin.Context,
	action func(ctx context.Context, tenantID string, id int64) error, status models.AlertStatus) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := action(c.Request.Context(), tenantID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

// audit appends a governance record; failures are logged by the store,
// never surfaced to the caller.
func (s *Server) audit(c *gin.Context, action, entityType, entityID string, detail map[string]any) {
	_ = s.stores.Audit.Append(c.Request.Context(), &models.GovernanceAuditEvent{
		TenantID:   tenantID(c),
		ActorType:  models.ActorTypeUser,
		ActorID:    actorID(c),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
}
