package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ingestActor identifies the API as the event producer on ingest.
const ingestActor = "api-ingest"

// CreateExceptionResponse acknowledges an accepted ingest.
type CreateExceptionResponse struct {
	ExceptionID string                  `json:"exception_id"`
	TenantID    string                  `json:"tenant_id"`
	Status      models.ResolutionStatus `json:"status"`
}

// CreateException ingests a new exception: it persists the OPEN row and
// publishes ExceptionRaised so the pipeline picks it up. Returns 202;
// triage and resolution happen asynchronously.
func (s *Server) CreateException(c *gin.Context) {
	var req models.CreateExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.NewValidationError("body", err.Error()))
		return
	}
	if err := validateCreateRequest(&req); err != nil {
		respondError(c, err)
		return
	}

	if req.ExceptionID == "" {
		req.ExceptionID = uuid.New().String()
	}
	if req.Severity == "" {
		// Initial guess; triage reassesses from the pack rules.
		req.Severity = models.SeverityMedium
	}

	now := time.Now().UTC()
	exc := &models.Exception{
		ExceptionID:      req.ExceptionID,
		TenantID:         req.TenantID,
		SourceSystem:     req.SourceSystem,
		ExceptionType:    req.ExceptionType,
		Severity:         req.Severity,
		ResolutionStatus: models.ResolutionStatusOpen,
		RawPayload:       req.RawPayload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.stores.Exceptions.Create(c.Request.Context(), exc); err != nil {
		respondError(c, err)
		return
	}

	event, err := bus.NewEvent(bus.EventTypeExceptionRaised, exc.TenantID, exc.ExceptionID,
		models.SystemActor(ingestActor), bus.ExceptionRaisedPayload{
			ExceptionType: exc.ExceptionType,
			Severity:      exc.Severity,
			SourceSystem:  exc.SourceSystem,
			Status:        exc.ResolutionStatus,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.sink.Emit(c.Request.Context(), event); err != nil {
		// The row exists; the reaper or a re-ingest recovers the publish.
		respondError(c, errs.NewTransientError("ingest publish", 0, err))
		return
	}

	c.JSON(http.StatusAccepted, CreateExceptionResponse{
		ExceptionID: exc.ExceptionID,
		TenantID:    exc.TenantID,
		Status:      exc.ResolutionStatus,
	})
}

func validateCreateRequest(req *models.CreateExceptionRequest) error {
	switch {
	case req.TenantID == "":
		return errs.NewValidationError("tenant_id", "is required")
	case req.SourceSystem == "":
		return errs.NewValidationError("source_system", "is required")
	case req.ExceptionType == "":
		return errs.NewValidationError("exception_type", "is required")
	}
	if req.Severity != "" && !req.Severity.IsValid() {
		return errs.NewValidationError("severity", "must be LOW, MEDIUM, HIGH or CRITICAL")
	}
	return nil
}

// ListExceptions returns the tenant's exceptions, filtered and paginated.
func (s *Server) ListExceptions(c *gin.Context) {
	filters, err := parseExceptionFilters(c)
	if err != nil {
		respondError(c, err)
		return
	}
	resp, err := s.stores.Exceptions.List(c.Request.Context(), tenantID(c), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetException returns one exception of the tenant.
func (s *Server) GetException(c *gin.Context) {
	exc, err := s.stores.Exceptions.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exc)
}

// ListExceptionEvents returns the exception's timeline in append order.
func (s *Server) ListExceptionEvents(c *gin.Context) {
	tenant := tenantID(c)
	// A missing exception is a 404, not an empty timeline.
	if _, err := s.stores.Exceptions.Get(c.Request.Context(), tenant, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	events, err := s.stores.Events.ListByException(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func parseExceptionFilters(c *gin.Context) (models.ExceptionFilters, error) {
	var filters models.ExceptionFilters

	if v := c.Query("status"); v != "" {
		status := models.ResolutionStatus(v)
		if !status.IsValid() {
			return filters, errs.NewValidationError("status", "unknown resolution status")
		}
		filters.Status = status
	}
	if v := c.Query("severity"); v != "" {
		sev := models.Severity(v)
		if !sev.IsValid() {
			return filters, errs.NewValidationError("severity", "unknown severity")
		}
		filters.Severity = sev
	}
	filters.ExceptionType = c.Query("exception_type")
	filters.SourceSystem = c.Query("source_system")

	for name, dst := range map[string]**time.Time{
		"created_after":  &filters.CreatedAfter,
		"created_before": &filters.CreatedBefore,
	} {
		if v := c.Query(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filters, errs.NewValidationError(name, "must be RFC3339")
			}
			*dst = &t
		}
	}

	for name, dst := range map[string]*int{
		"limit":  &filters.Limit,
		"offset": &filters.Offset,
	} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filters, errs.NewValidationError(name, "must be a non-negative integer")
			}
			*dst = n
		}
	}
	return filters, nil
}
