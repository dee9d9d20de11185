package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// DefaultIncidentThreshold is how many violations of one rule in the
// window it takes before an incident opens.
const DefaultIncidentThreshold = 3

// DefaultIncidentWindow bounds the recurrence count.
const DefaultIncidentWindow = time.Hour

// Incident groups recurring severe violations of one rule for one
// tenant. At most one incident per (tenant, rule) is open at a time.
type Incident struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	RuleID         string          `json:"rule_id"`
	Severity       models.Severity `json:"severity"`
	ViolationCount int             `json:"violation_count"`
	OpenedAt       time.Time       `json:"opened_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Open reports whether the incident is still unresolved.
func (i *Incident) Open() bool { return i.ResolvedAt == nil }

type incidentKey struct {
	tenantID string
	ruleID   string
}

// IncidentManager wraps a violation store, promoting HIGH and CRITICAL
// violations into incidents once they recur past the threshold. It is
// the ViolationRecorder handed to the supervisor agent.
type IncidentManager struct {
	store     *JSONLStore
	threshold int
	window    time.Duration

	mu       sync.Mutex
	open     map[incidentKey]*Incident
	resolved []*Incident
}

// IncidentConfig tunes promotion. Zero values take the defaults.
type IncidentConfig struct {
	Threshold int
	Window    time.Duration
}

// NewIncidentManager creates the manager on top of the JSONL store.
func NewIncidentManager(store *JSONLStore, cfg IncidentConfig) *IncidentManager {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultIncidentThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultIncidentWindow
	}
	return &IncidentManager{
		store:     store,
		threshold: cfg.Threshold,
		window:    cfg.Window,
		open:      make(map[incidentKey]*Incident),
	}
}

// Record persists the violation and promotes it when warranted.
func (m *IncidentManager) Record(ctx context.Context, v *models.Violation) error {
	if err := m.store.Record(ctx, v); err != nil {
		return err
	}
	if v.Severity.Rank() < models.SeverityHigh.Rank() {
		return nil
	}

	count, err := m.store.CountSince(ctx, v.TenantID, v.RuleID, time.Now().UTC().Add(-m.window))
	if err != nil {
		return fmt.Errorf("failed to count violations for rule %s: %w", v.RuleID, err)
	}
	if count < m.threshold {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := incidentKey{tenantID: v.TenantID, ruleID: v.RuleID}
	if inc, ok := m.open[key]; ok {
		inc.ViolationCount = count
		if v.Severity.Rank() > inc.Severity.Rank() {
			inc.Severity = v.Severity
		}
		return nil
	}

	inc := &Incident{
		ID:             uuid.NewString(),
		TenantID:       v.TenantID,
		RuleID:         v.RuleID,
		Severity:       v.Severity,
		ViolationCount: count,
		OpenedAt:       time.Now().UTC(),
	}
	m.open[key] = inc
	slog.Warn("Incident opened", "tenant_id", v.TenantID, "rule_id", v.RuleID,
		"severity", v.Severity, "violation_count", count)
	return nil
}

// Resolve closes the open incident for the rule, if any.
func (m *IncidentManager) Resolve(tenantID, ruleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := incidentKey{tenantID: tenantID, ruleID: ruleID}
	inc, ok := m.open[key]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	inc.ResolvedAt = &now
	delete(m.open, key)
	m.resolved = append(m.resolved, inc)
	slog.Info("Incident resolved", "tenant_id", tenantID, "rule_id", ruleID)
	return true
}

// OpenIncidents lists unresolved incidents for the tenant.
func (m *IncidentManager) OpenIncidents(tenantID string) []*Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Incident
	for _, inc := range m.open {
		if inc.TenantID == tenantID {
			out = append(out, inc)
		}
	}
	return out
}
