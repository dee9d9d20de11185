package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/remedy/pkg/bus"
)

// Pool subscribes a set of workers to the exceptions topic and owns the
// ledger reaper. One pool per process.
type Pool struct {
	broker  bus.Broker
	workers []*Worker
	reaper  *Reaper

	mu      sync.Mutex
	started bool
}

// NewPool bundles the workers. reaper may be nil.
func NewPool(broker bus.Broker, reaper *Reaper, workers ...*Worker) *Pool {
	return &Pool{broker: broker, workers: workers, reaper: reaper}
}

// Start subscribes every worker under its own consumer group. Safe to
// call once; repeated calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}

	slog.Info("Starting worker pool", "worker_count", len(p.workers))
	for _, w := range p.workers {
		if err := p.broker.Subscribe(ctx, []string{bus.TopicExceptions}, w.Name(), w.Handler()); err != nil {
			return fmt.Errorf("failed to subscribe worker %s: %w", w.Name(), err)
		}
		slog.Info("Worker subscribed", "worker", w.Name())
	}
	if p.reaper != nil {
		p.reaper.Start(ctx)
	}
	p.started = true
	slog.Info("Worker pool started")
	return nil
}

// Stop halts the reaper. Broker subscriptions end when the broker
// closes or the context is cancelled.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool")
	if p.reaper != nil {
		p.reaper.Stop()
	}
	slog.Info("Worker pool stopped")
}

// Health reports the broker view plus the subscribed worker names.
func (p *Pool) Health(ctx context.Context) PoolHealth {
	names := make([]string, 0, len(p.workers))
	for _, w := range p.workers {
		names = append(names, w.Name())
	}
	return PoolHealth{
		Broker:  p.broker.Health(ctx),
		Workers: names,
	}
}

// PoolHealth is the pool's liveness snapshot.
type PoolHealth struct {
	Broker  bus.Health `json:"broker"`
	Workers []string   `json:"workers"`
}
