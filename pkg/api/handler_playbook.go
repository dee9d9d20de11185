package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// stepRequest is the optional body of the step endpoints.
type stepRequest struct {
	Notes string `json:"notes,omitempty"`
}

// PendingApproval is one entry of the approval queue: an in-progress
// exception parked on a risky step that only a human may complete.
type PendingApproval struct {
	ExceptionID  string            `json:"exception_id"`
	PlaybookID   int64             `json:"playbook_id"`
	PlaybookName string            `json:"playbook_name"`
	StepOrder    int               `json:"step_order"`
	StepName     string            `json:"step_name"`
	ActionType   models.ActionType `json:"action_type"`
	Severity     models.Severity   `json:"severity"`
	WaitingSince time.Time         `json:"waiting_since"`
}

// CompleteStep completes the exception's current playbook step as the
// requesting human operator.
func (s *Server) CompleteStep(c *gin.Context) {
	s.stepAction(c, s.executor.CompleteStep)
}

// SkipStep skips the exception's current playbook step.
func (s *Server) SkipStep(c *gin.Context) {
	s.stepAction(c, s.executor.SkipStep)
}

// stepFunc matches the executor's CompleteStep and SkipStep methods.
type stepFunc func(ctx context.Context, tenantID, exceptionID string, playbookID int64, stepOrder int, actor models.Actor, notes string) error

func (s *Server) stepAction(c *gin.Context, action stepFunc) {
	tenant := tenantID(c)
	exceptionID := c.Param("id")

	order64, err := pathID(c, "order")
	if err != nil {
		respondError(c, err)
		return
	}

	var req stepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errs.NewValidationError("body", err.Error()))
			return
		}
	}

	exc, err := s.stores.Exceptions.Get(c.Request.Context(), tenant, exceptionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if exc.CurrentPlaybookID == nil {
		respondError(c, errs.NewPlaybookExecutionError(exceptionID, 0, int(order64),
			"no playbook in progress", nil))
		return
	}

	actor := models.UserActor(actorID(c))
	if err := action(c.Request.Context(), tenant, exceptionID,
		*exc.CurrentPlaybookID, int(order64), actor, req.Notes); err != nil {
		respondError(c, err)
		return
	}

	updated, err := s.stores.Exceptions.Get(c.Request.Context(), tenant, exceptionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ListApprovals returns the tenant's approval queue, oldest first.
func (s *Server) ListApprovals(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantID(c)

	resp, err := s.stores.Exceptions.List(ctx, tenant, models.ExceptionFilters{
		Status: models.ResolutionStatusInProgress,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	approvals := []*PendingApproval{}
	for _, exc := range resp.Exceptions {
		if exc.CurrentPlaybookID == nil || exc.CurrentStep == nil {
			continue
		}
		pb, err := s.stores.Playbooks.Get(ctx, tenant, *exc.CurrentPlaybookID)
		if err != nil {
			respondError(c, err)
			return
		}
		step := pb.StepAt(*exc.CurrentStep)
		if step == nil || !step.ActionType.IsRisky() {
			continue
		}
		approvals = append(approvals, &PendingApproval{
			ExceptionID:  exc.ExceptionID,
			PlaybookID:   pb.ID,
			PlaybookName: pb.Name,
			StepOrder:    step.StepOrder,
			StepName:     step.Name,
			ActionType:   step.ActionType,
			Severity:     exc.Severity,
			WaitingSince: exc.UpdatedAt,
		})
	}
	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].WaitingSince.Before(approvals[j].WaitingSince)
	})
	c.JSON(http.StatusOK, gin.H{"approvals": approvals, "count": len(approvals)})
}
