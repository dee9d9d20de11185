package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/errs"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// NewMemory builds a full in-memory Stores bundle. Used by tests and the
// end-to-end harness; semantics mirror the PostgreSQL implementations,
// including tenant filtering and monotonic status transitions.
func NewMemory() *Stores {
	return &Stores{
		Exceptions: &memExceptionStore{rows: map[string]*models.Exception{}},
		Events:     &memEventStore{},
		Playbooks:  &memPlaybookStore{},
		Tools:      &memToolStore{enablement: map[string]bool{}},
		Executions: &memExecutionStore{rows: map[string]*models.ToolExecution{}},
		Ledger:     &memLedgerStore{rows: map[string]*models.LedgerEntry{}},
		DeadLetter: &memDeadLetterStore{},
		Audit:      &memAuditStore{},
		Alerts:     &memAlertStore{},
	}
}

func exceptionKey(tenantID, exceptionID string) string {
	return tenantID + "/" + exceptionID
}

// copyMap deep-copies a JSON-shaped map through marshal/unmarshal.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

type memExceptionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Exception
}

func (s *memExceptionStore) Create(_ context.Context, exc *models.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := exceptionKey(exc.TenantID, exc.ExceptionID)
	if _, ok := s.rows[key]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *exc
	cp.RawPayload = copyMap(exc.RawPayload)
	cp.NormalizedContext = copyMap(exc.NormalizedContext)
	s.rows[key] = &cp
	return nil
}

func (s *memExceptionStore) Get(_ context.Context, tenantID, exceptionID string) (*models.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exc, ok := s.rows[exceptionKey(tenantID, exceptionID)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *exc
	cp.RawPayload = copyMap(exc.RawPayload)
	cp.NormalizedContext = copyMap(exc.NormalizedContext)
	return &cp, nil
}

func (s *memExceptionStore) List(_ context.Context, tenantID string, filters models.ExceptionFilters) (*models.ExceptionListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Exception
	for _, exc := range s.rows {
		if exc.TenantID != tenantID {
			continue
		}
		if filters.Status != "" && exc.ResolutionStatus != filters.Status {
			continue
		}
		if filters.ExceptionType != "" && exc.ExceptionType != filters.ExceptionType {
			continue
		}
		if filters.Severity != "" && exc.Severity != filters.Severity {
			continue
		}
		if filters.SourceSystem != "" && exc.SourceSystem != filters.SourceSystem {
			continue
		}
		if filters.CreatedAfter != nil && exc.CreatedAt.Before(*filters.CreatedAfter) {
			continue
		}
		if filters.CreatedBefore != nil && !exc.CreatedAt.Before(*filters.CreatedBefore) {
			continue
		}
		cp := *exc
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filters.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &models.ExceptionListResponse{
		Exceptions: matched[offset:end],
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

func (s *memExceptionStore) Update(_ context.Context, exc *models.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := exceptionKey(exc.TenantID, exc.ExceptionID)
	existing, ok := s.rows[key]
	if !ok {
		return errs.ErrNotFound
	}
	cp := *exc
	cp.RawPayload = copyMap(existing.RawPayload)
	cp.NormalizedContext = copyMap(exc.NormalizedContext)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.rows[key] = &cp
	return nil
}

func (s *memExceptionStore) CountSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exc := range s.rows {
		if exc.TenantID == tenantID && !exc.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memExceptionStore) CountRecurrences(_ context.Context, tenantID, exceptionType string, severity models.Severity, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exc := range s.rows {
		if exc.TenantID == tenantID && exc.ExceptionType == exceptionType &&
			exc.Severity == severity && !exc.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type memEventStore struct {
	mu     sync.RWMutex
	events []*bus.Event
	byID   map[string]*bus.Event
}

func (s *memEventStore) Append(_ context.Context, event *bus.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID == nil {
		s.byID = map[string]*bus.Event{}
	}
	if _, ok := s.byID[event.EventID]; ok {
		return nil // idempotent replay
	}
	cp := *event
	cp.Payload = append(json.RawMessage(nil), event.Payload...)
	s.events = append(s.events, &cp)
	s.byID[event.EventID] = &cp
	return nil
}

func (s *memEventStore) Get(_ context.Context, tenantID, eventID string) (*bus.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.byID[eventID]
	if !ok || event.TenantID != tenantID {
		return nil, errs.ErrNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *memEventStore) ListByException(_ context.Context, tenantID, exceptionID string) ([]*bus.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bus.Event
	for _, event := range s.events {
		if event.TenantID == tenantID && event.ExceptionID == exceptionID {
			cp := *event
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memEventStore) Exists(_ context.Context, tenantID, exceptionID, eventType string, payloadMatch map[string]any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.TenantID != tenantID || event.ExceptionID != exceptionID || event.EventType != eventType {
			continue
		}
		if payloadContains(event.Payload, payloadMatch) {
			return true, nil
		}
	}
	return false, nil
}

// payloadContains mirrors the jsonb @> containment check on top-level keys.
func payloadContains(payload json.RawMessage, match map[string]any) bool {
	if len(match) == 0 {
		return true
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	for k, want := range match {
		got, ok := m[k]
		if !ok {
			return false
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		if string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}

type memPlaybookStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*models.Playbook
}

func (s *memPlaybookStore) Create(_ context.Context, pb *models.Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pb.ID = s.nextID
	cp := *pb
	cp.Conditions = copyMap(pb.Conditions)
	cp.Steps = make([]models.PlaybookStep, len(pb.Steps))
	for i, step := range pb.Steps {
		step.PlaybookID = pb.ID
		step.ID = pb.ID*100 + int64(i+1)
		step.Params = copyMap(step.Params)
		cp.Steps[i] = step
		pb.Steps[i].ID = step.ID
		pb.Steps[i].PlaybookID = pb.ID
	}
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *memPlaybookStore) Get(_ context.Context, tenantID string, playbookID int64) (*models.Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pb := range s.rows {
		if pb.TenantID == tenantID && pb.ID == playbookID {
			cp := *pb
			cp.Steps = append([]models.PlaybookStep(nil), pb.Steps...)
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *memPlaybookStore) ListByTenant(_ context.Context, tenantID string) ([]*models.Playbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Playbook
	for _, pb := range s.rows {
		if pb.TenantID == tenantID {
			cp := *pb
			cp.Steps = append([]models.PlaybookStep(nil), pb.Steps...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

type memToolStore struct {
	mu         sync.RWMutex
	nextID     int64
	defs       []*models.ToolDefinition
	enablement map[string]bool
}

func enablementKey(tenantID string, toolID int64) string {
	return fmt.Sprintf("%s/%d", tenantID, toolID)
}

func (s *memToolStore) CreateDefinition(_ context.Context, def *models.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	def.ID = s.nextID
	cp := *def
	s.defs = append(s.defs, &cp)
	return nil
}

func (s *memToolStore) GetDefinition(_ context.Context, tenantID string, toolID int64) (*models.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.defs {
		if def.ID != toolID {
			continue
		}
		if def.IsGlobal() || *def.TenantID == tenantID {
			cp := *def
			return &cp, nil
		}
		return nil, errs.ErrNotFound
	}
	return nil, errs.ErrNotFound
}

func (s *memToolStore) ListDefinitions(_ context.Context, tenantID string) ([]*models.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ToolDefinition
	for _, def := range s.defs {
		if def.IsGlobal() || *def.TenantID == tenantID {
			cp := *def
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memToolStore) IsEnabled(_ context.Context, tenantID string, toolID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.enablement[enablementKey(tenantID, toolID)]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (s *memToolStore) SetEnablement(_ context.Context, tenantID string, toolID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enablement[enablementKey(tenantID, toolID)] = enabled
	return nil
}

type memExecutionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.ToolExecution
}

func (s *memExecutionStore) Create(_ context.Context, exec *models.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[exec.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *exec
	cp.InputPayload = copyMap(exec.InputPayload)
	s.rows[exec.ID] = &cp
	return nil
}

func (s *memExecutionStore) Get(_ context.Context, tenantID, executionID string) (*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.rows[executionID]
	if !ok || exec.TenantID != tenantID {
		return nil, errs.ErrNotFound
	}
	cp := *exec
	cp.InputPayload = copyMap(exec.InputPayload)
	cp.OutputPayload = copyMap(exec.OutputPayload)
	return &cp, nil
}

func (s *memExecutionStore) UpdateStatus(_ context.Context, tenantID, executionID string, status models.ExecutionStatus, output map[string]any, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.rows[executionID]
	if !ok || exec.TenantID != tenantID {
		return errs.ErrNotFound
	}
	if !exec.Status.CanTransitionTo(status) {
		return errs.ErrInvalidTransition
	}
	exec.Status = status
	exec.OutputPayload = copyMap(output)
	exec.ErrorMessage = errorMessage
	exec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memExecutionStore) CountByStatus(_ context.Context, tenantID string, status models.ExecutionStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exec := range s.rows {
		if exec.TenantID == tenantID && exec.Status == status {
			n++
		}
	}
	return n, nil
}

type memLedgerStore struct {
	mu   sync.Mutex
	rows map[string]*models.LedgerEntry
}

func ledgerKey(eventID, worker string) string {
	return eventID + "/" + worker
}

func (s *memLedgerStore) Claim(_ context.Context, eventID, worker string, lease time.Duration) (bool, *models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	expiry := now.Add(lease)
	key := ledgerKey(eventID, worker)

	entry, ok := s.rows[key]
	if !ok {
		entry = &models.LedgerEntry{
			EventID:        eventID,
			WorkerName:     worker,
			Status:         models.LedgerStatusProcessing,
			Attempts:       1,
			LeaseExpiresAt: &expiry,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.rows[key] = entry
		cp := *entry
		return true, &cp, nil
	}

	switch entry.Status {
	case models.LedgerStatusCompleted:
		cp := *entry
		return false, &cp, nil
	case models.LedgerStatusProcessing:
		if entry.LeaseExpiresAt != nil && entry.LeaseExpiresAt.After(now) {
			cp := *entry
			return false, &cp, nil
		}
	}

	entry.Status = models.LedgerStatusProcessing
	entry.Attempts++
	entry.LeaseExpiresAt = &expiry
	entry.UpdatedAt = now
	cp := *entry
	return true, &cp, nil
}

func (s *memLedgerStore) MarkCompleted(_ context.Context, eventID, worker string) error {
	return s.mark(eventID, worker, models.LedgerStatusCompleted, "")
}

func (s *memLedgerStore) MarkFailed(_ context.Context, eventID, worker, reason string) error {
	return s.mark(eventID, worker, models.LedgerStatusFailed, reason)
}

func (s *memLedgerStore) mark(eventID, worker string, status models.LedgerStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rows[ledgerKey(eventID, worker)]
	if !ok {
		return errs.ErrNotFound
	}
	entry.Status = status
	entry.LastError = reason
	entry.LeaseExpiresAt = nil
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memLedgerStore) Get(_ context.Context, eventID, worker string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rows[ledgerKey(eventID, worker)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *memLedgerStore) ReapStale(_ context.Context, cutoff time.Time) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []*models.LedgerEntry
	for _, entry := range s.rows {
		if entry.Status == models.LedgerStatusProcessing &&
			entry.LeaseExpiresAt != nil && entry.LeaseExpiresAt.Before(cutoff) {
			entry.Status = models.LedgerStatusFailed
			entry.LastError = "lease expired, reaped"
			entry.UpdatedAt = time.Now().UTC()
			cp := *entry
			reaped = append(reaped, &cp)
		}
	}
	return reaped, nil
}

type memDeadLetterStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.DeadLetterEvent
}

func (s *memDeadLetterStore) Park(_ context.Context, dle *models.DeadLetterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.EventID == dle.EventID && row.WorkerName == dle.WorkerName &&
			(row.Status == models.DeadLetterStatusPending || row.Status == models.DeadLetterStatusRetrying) {
			return nil
		}
	}
	s.nextID++
	cp := *dle
	cp.ID = s.nextID
	cp.Status = models.DeadLetterStatusPending
	cp.CreatedAt = time.Now().UTC()
	cp.EventPayload = append(json.RawMessage(nil), dle.EventPayload...)
	s.rows = append(s.rows, &cp)
	dle.ID = cp.ID
	return nil
}

func (s *memDeadLetterStore) Get(_ context.Context, tenantID string, id int64) (*models.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(tenantID, id)
	if row == nil {
		return nil, errs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memDeadLetterStore) List(_ context.Context, tenantID string, status models.DeadLetterStatus) ([]*models.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeadLetterEvent
	for _, row := range s.rows {
		if row.TenantID != tenantID {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memDeadLetterStore) MarkRetrying(_ context.Context, tenantID string, id int64) error {
	return s.transition(tenantID, id, []models.DeadLetterStatus{models.DeadLetterStatusPending},
		func(row *models.DeadLetterEvent) {
			row.Status = models.DeadLetterStatusRetrying
			row.RetryCount++
			now := time.Now().UTC()
			row.RetriedAt = &now
		})
}

func (s *memDeadLetterStore) MarkSucceeded(_ context.Context, tenantID string, id int64) error {
	return s.transition(tenantID, id,
		[]models.DeadLetterStatus{models.DeadLetterStatusPending, models.DeadLetterStatusRetrying},
		func(row *models.DeadLetterEvent) {
			row.Status = models.DeadLetterStatusSucceeded
		})
}

func (s *memDeadLetterStore) Discard(_ context.Context, tenantID string, id int64, discardedBy string) error {
	return s.transition(tenantID, id,
		[]models.DeadLetterStatus{models.DeadLetterStatusPending, models.DeadLetterStatusRetrying},
		func(row *models.DeadLetterEvent) {
			row.Status = models.DeadLetterStatusDiscarded
			now := time.Now().UTC()
			row.DiscardedAt = &now
			row.DiscardedBy = discardedBy
		})
}

func (s *memDeadLetterStore) transition(tenantID string, id int64, from []models.DeadLetterStatus, apply func(*models.DeadLetterEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(tenantID, id)
	if row == nil {
		return errs.ErrNotFound
	}
	for _, status := range from {
		if row.Status == status {
			apply(row)
			return nil
		}
	}
	return errs.ErrInvalidTransition
}

func (s *memDeadLetterStore) find(tenantID string, id int64) *models.DeadLetterEvent {
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.ID == id {
			return row
		}
	}
	return nil
}

type memAuditStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.GovernanceAuditEvent
}

func (s *memAuditStore) Append(_ context.Context, event *models.GovernanceAuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	event.CreatedAt = time.Now().UTC()
	cp := *event
	cp.Detail = copyMap(event.Detail)
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *memAuditStore) List(_ context.Context, tenantID string, limit int) ([]*models.GovernanceAuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*models.GovernanceAuditEvent
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].TenantID == tenantID {
			cp := *s.rows[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memAlertStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Alert
}

func (s *memAlertStore) Fire(_ context.Context, alert *models.Alert) (*models.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.TenantID == alert.TenantID && row.RuleType == alert.RuleType &&
			row.Status == models.AlertStatusFiring {
			cp := *row
			return &cp, false, nil
		}
	}
	s.nextID++
	cp := *alert
	cp.ID = s.nextID
	cp.Status = models.AlertStatusFiring
	cp.CreatedAt = time.Now().UTC()
	cp.Context = copyMap(alert.Context)
	s.rows = append(s.rows, &cp)
	out := cp
	return &out, true, nil
}

func (s *memAlertStore) Get(_ context.Context, tenantID string, id int64) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(tenantID, id)
	if row == nil {
		return nil, errs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memAlertStore) List(_ context.Context, tenantID string, status models.AlertStatus) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Alert
	for _, row := range s.rows {
		if row.TenantID != tenantID {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memAlertStore) Acknowledge(_ context.Context, tenantID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(tenantID, id)
	if row == nil {
		return errs.ErrNotFound
	}
	if row.Status != models.AlertStatusFiring {
		return errs.ErrInvalidTransition
	}
	row.Status = models.AlertStatusAcknowledged
	now := time.Now().UTC()
	row.AcknowledgedAt = &now
	return nil
}

func (s *memAlertStore) Resolve(_ context.Context, tenantID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.find(tenantID, id)
	if row == nil {
		return errs.ErrNotFound
	}
	if row.Status == models.AlertStatusResolved {
		return errs.ErrInvalidTransition
	}
	row.Status = models.AlertStatusResolved
	now := time.Now().UTC()
	row.ResolvedAt = &now
	return nil
}

func (s *memAlertStore) find(tenantID string, id int64) *models.Alert {
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.ID == id {
			return row
		}
	}
	return nil
}
