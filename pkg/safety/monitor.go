package safety

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMonitorInterval is how often the alert rules are evaluated.
const DefaultMonitorInterval = time.Minute

// Monitor periodically snapshots each tenant and runs the alert rules.
type Monitor struct {
	snapshots *Snapshotter
	evaluator *AlertEvaluator
	tenants   []string
	interval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates the monitor; interval <= 0 takes the default.
func NewMonitor(snapshots *Snapshotter, evaluator *AlertEvaluator, tenants []string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		snapshots: snapshots,
		evaluator: evaluator,
		tenants:   tenants,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the evaluation loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
	slog.Info("Alert monitor started", "tenant_count", len(m.tenants), "interval", m.interval)
}

// Stop halts the loop and waits for an in-flight sweep.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, tenantID := range m.tenants {
		snap, err := m.snapshots.Snapshot(ctx, tenantID)
		if err != nil {
			slog.Error("Tenant snapshot failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if _, err := m.evaluator.Evaluate(ctx, snap); err != nil {
			slog.Error("Alert evaluation failed", "tenant_id", tenantID, "error", err)
		}
	}
}
