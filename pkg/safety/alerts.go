package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Alert rule types. RuleType is also the dedup key: at most one firing
// alert per (tenant, rule_type).
const (
	RuleHighExceptionVolume = "HIGH_EXCEPTION_VOLUME"
	RuleCriticalRecurrence  = "CRITICAL_RECURRENCE"
	RuleBreakerOpen         = "TOOL_CIRCUIT_BREAKER_OPEN"
	RuleApprovalQueueAging  = "APPROVAL_QUEUE_AGING"
)

// AlertConfig tunes the four built-in rules. Zero values take defaults.
type AlertConfig struct {
	VolumeThreshold     int
	VolumeWindow        time.Duration
	RecurrenceThreshold int
	RecurrenceWindow    time.Duration
	ApprovalMaxAge      time.Duration
}

func (c *AlertConfig) applyDefaults() {
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 50
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = 15 * time.Minute
	}
	if c.RecurrenceThreshold <= 0 {
		c.RecurrenceThreshold = 3
	}
	if c.RecurrenceWindow <= 0 {
		c.RecurrenceWindow = time.Hour
	}
	if c.ApprovalMaxAge <= 0 {
		c.ApprovalMaxAge = 30 * time.Minute
	}
}

// Notifier delivers alert notifications. May be nil.
type Notifier interface {
	Notify(ctx context.Context, tenantID, subject, message string) error
}

// BreakerView exposes which tool circuits are open; the tool execution
// breaker registry implements it.
type BreakerView interface {
	OpenTools(tenantID string) []int64
}

// AlertEvaluator runs the operational rules over tenant snapshots,
// dedups firings through the alert store and notifies on new ones.
type AlertEvaluator struct {
	alerts   store.AlertStore
	notifier Notifier
	cfg      AlertConfig
}

// NewAlertEvaluator creates the evaluator. notifier may be nil.
func NewAlertEvaluator(alerts store.AlertStore, notifier Notifier, cfg AlertConfig) *AlertEvaluator {
	cfg.applyDefaults()
	return &AlertEvaluator{alerts: alerts, notifier: notifier, cfg: cfg}
}

// Evaluate runs every rule against the snapshot and returns the alerts
// that fired for the first time. Already-firing alerts are not repeated.
func (e *AlertEvaluator) Evaluate(ctx context.Context, snap metrics.TenantSnapshot) ([]*models.Alert, error) {
	var candidates []*models.Alert

	if snap.ExceptionCount >= e.cfg.VolumeThreshold {
		candidates = append(candidates, &models.Alert{
			TenantID: snap.TenantID,
			RuleType: RuleHighExceptionVolume,
			Severity: models.SeverityHigh,
			Message: fmt.Sprintf("%d exceptions raised in the last %s (threshold %d)",
				snap.ExceptionCount, snap.Window, e.cfg.VolumeThreshold),
			Context: map[string]any{"count": snap.ExceptionCount, "window": snap.Window.String()},
		})
	}
	if snap.CriticalRecurrences >= e.cfg.RecurrenceThreshold {
		candidates = append(candidates, &models.Alert{
			TenantID: snap.TenantID,
			RuleType: RuleCriticalRecurrence,
			Severity: models.SeverityCritical,
			Message: fmt.Sprintf("a CRITICAL exception type recurred %d times in the last %s",
				snap.CriticalRecurrences, e.cfg.RecurrenceWindow),
			Context: map[string]any{"recurrences": snap.CriticalRecurrences},
		})
	}
	if len(snap.OpenBreakerTools) > 0 {
		candidates = append(candidates, &models.Alert{
			TenantID: snap.TenantID,
			RuleType: RuleBreakerOpen,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("%d tool circuit breakers are open", len(snap.OpenBreakerTools)),
			Context:  map[string]any{"tool_ids": snap.OpenBreakerTools},
		})
	}
	if snap.OldestPendingApproval >= e.cfg.ApprovalMaxAge {
		candidates = append(candidates, &models.Alert{
			TenantID: snap.TenantID,
			RuleType: RuleApprovalQueueAging,
			Severity: models.SeverityMedium,
			Message: fmt.Sprintf("oldest pending approval is %s old (max %s)",
				snap.OldestPendingApproval.Round(time.Second), e.cfg.ApprovalMaxAge),
			Context: map[string]any{"age_seconds": snap.OldestPendingApproval.Seconds()},
		})
	}

	var fired []*models.Alert
	for _, candidate := range candidates {
		candidate.Status = models.AlertStatusFiring
		candidate.CreatedAt = time.Now().UTC()
		alert, isNew, err := e.alerts.Fire(ctx, candidate)
		if err != nil {
			return fired, fmt.Errorf("failed to fire alert %s: %w", candidate.RuleType, err)
		}
		if !isNew {
			continue
		}
		fired = append(fired, alert)
		slog.Warn("Alert fired", "tenant_id", alert.TenantID,
			"rule_type", alert.RuleType, "severity", alert.Severity)
		if e.notifier != nil {
			subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.RuleType)
			if err := e.notifier.Notify(ctx, alert.TenantID, subject, alert.Message); err != nil {
				// Notification failures never block alerting.
				slog.Error("Alert notification failed", "tenant_id", alert.TenantID,
					"rule_type", alert.RuleType, "error", err)
			}
		}
	}
	return fired, nil
}
