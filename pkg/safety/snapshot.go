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

// Snapshotter assembles the per-tenant operational view the alert rules
// run against. breakers may be nil when tool execution is disabled.
type Snapshotter struct {
	exceptions store.ExceptionStore
	playbooks  store.PlaybookStore
	breakers   BreakerView
	cfg        AlertConfig
}

// NewSnapshotter creates the snapshot builder.
func NewSnapshotter(exceptions store.ExceptionStore, playbooks store.PlaybookStore, breakers BreakerView, cfg AlertConfig) *Snapshotter {
	cfg.applyDefaults()
	return &Snapshotter{exceptions: exceptions, playbooks: playbooks, breakers: breakers, cfg: cfg}
}

// Snapshot builds the tenant view at the current instant.
func (s *Snapshotter) Snapshot(ctx context.Context, tenantID string) (metrics.TenantSnapshot, error) {
	now := time.Now().UTC()
	snap := metrics.TenantSnapshot{TenantID: tenantID, Window: s.cfg.VolumeWindow}

	count, err := s.exceptions.CountSince(ctx, tenantID, now.Add(-s.cfg.VolumeWindow))
	if err != nil {
		return snap, fmt.Errorf("failed to count exceptions for tenant %s: %w", tenantID, err)
	}
	snap.ExceptionCount = count

	recurrences, err := s.maxCriticalRecurrences(ctx, tenantID, now.Add(-s.cfg.RecurrenceWindow))
	if err != nil {
		return snap, err
	}
	snap.CriticalRecurrences = recurrences

	if s.breakers != nil {
		snap.OpenBreakerTools = s.breakers.OpenTools(tenantID)
	}

	age, err := s.oldestPendingApproval(ctx, tenantID, now)
	if err != nil {
		return snap, err
	}
	snap.OldestPendingApproval = age
	return snap, nil
}

// maxCriticalRecurrences finds the most-repeated CRITICAL exception
// type in the window.
func (s *Snapshotter) maxCriticalRecurrences(ctx context.Context, tenantID string, since time.Time) (int, error) {
	resp, err := s.exceptions.List(ctx, tenantID, models.ExceptionFilters{
		Severity:     models.SeverityCritical,
		CreatedAfter: &since,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list critical exceptions for tenant %s: %w", tenantID, err)
	}
	byType := make(map[string]int)
	max := 0
	for _, exc := range resp.Exceptions {
		byType[exc.ExceptionType]++
		if byType[exc.ExceptionType] > max {
			max = byType[exc.ExceptionType]
		}
	}
	return max, nil
}

// oldestPendingApproval measures how long the oldest exception has been
// parked on a risky step waiting for a human.
func (s *Snapshotter) oldestPendingApproval(ctx context.Context, tenantID string, now time.Time) (time.Duration, error) {
	resp, err := s.exceptions.List(ctx, tenantID, models.ExceptionFilters{
		Status: models.ResolutionStatusInProgress,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list in-progress exceptions for tenant %s: %w", tenantID, err)
	}

	var oldest time.Duration
	for _, exc := range resp.Exceptions {
		if exc.CurrentPlaybookID == nil || exc.CurrentStep == nil {
			continue
		}
		pb, err := s.playbooks.Get(ctx, tenantID, *exc.CurrentPlaybookID)
		if err != nil {
			slog.Warn("Skipping exception with unloadable playbook",
				"tenant_id", tenantID, "exception_id", exc.ExceptionID, "error", err)
			continue
		}
		step := pb.StepAt(*exc.CurrentStep)
		if step == nil || !step.ActionType.IsRisky() {
			continue
		}
		if age := now.Sub(exc.UpdatedAt); age > oldest {
			oldest = age
		}
	}
	return oldest, nil
}
