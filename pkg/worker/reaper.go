package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/store"
)

// DefaultReapInterval is how often stale ledger leases are reclaimed.
const DefaultReapInterval = 30 * time.Second

// Reaper re-opens ledger rows whose processing lease expired, so a
// redelivery can claim work a crashed consumer left behind.
type Reaper struct {
	ledger   store.LedgerStore
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastScan time.Time
	reaped   int
}

// NewReaper creates the reaper; interval <= 0 takes the default.
func NewReaper(ledger store.LedgerStore, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		ledger:   ledger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scan loop.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.scan(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight scan.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Stats reports the last scan time and the lifetime reap count.
func (r *Reaper) Stats() (time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastScan, r.reaped
}

func (r *Reaper) scan(ctx context.Context) {
	entries, err := r.ledger.ReapStale(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Ledger reap scan failed", "error", err)
		return
	}
	r.mu.Lock()
	r.lastScan = time.Now().UTC()
	r.reaped += len(entries)
	r.mu.Unlock()

	for _, entry := range entries {
		slog.Warn("Reclaimed stale ledger lease",
			"event_id", entry.EventID, "worker", entry.WorkerName,
			"attempts", entry.Attempts)
	}
}
