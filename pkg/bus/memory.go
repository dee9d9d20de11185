package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultPartitions      = 8
	defaultBufferSize      = 256
	defaultMaxDeliveries   = 5
	defaultRedeliveryDelay = 50 * time.Millisecond
)

// MemoryBroker is an in-process partitioned broker. The hash of the
// message key selects a partition; each (group, partition) pair is
// serviced by a single goroutine, so ordering holds within a partition
// and consumption is concurrent across partitions.
//
// There is no retention: events published before a group subscribes are
// not seen by it. Pipeline deployments subscribe every worker before
// ingest starts, which is also the order main wires things in.
type MemoryBroker struct {
	partitions      int
	bufferSize      int
	maxDeliveries   int
	redeliveryDelay time.Duration
	onPoison        PoisonFunc

	mu     sync.RWMutex
	groups map[string]map[string]*memoryGroup // topic → group → consumer
	closed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type memoryGroup struct {
	handler    Handler
	partitions []chan *Event
}

// MemoryOption tunes a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithPartitions sets the partition count (default 8).
func WithPartitions(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// WithMaxDeliveries caps handler attempts per message (default 5).
func WithMaxDeliveries(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithRedeliveryDelay sets the pause between redelivery attempts.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d >= 0 {
			b.redeliveryDelay = d
		}
	}
}

// WithPoisonHandler installs a callback for messages that exhausted their
// delivery attempts.
func WithPoisonHandler(f PoisonFunc) MemoryOption {
	return func(b *MemoryBroker) { b.onPoison = f }
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		partitions:      defaultPartitions,
		bufferSize:      defaultBufferSize,
		maxDeliveries:   defaultMaxDeliveries,
		redeliveryDelay: defaultRedeliveryDelay,
		groups:          make(map[string]map[string]*memoryGroup),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hashes the key onto a partition and hands the event to every
// group subscribed to the topic. Blocks when a partition buffer is full,
// which backpressures producers instead of dropping events.
func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, event *Event) error {
	if event == nil {
		return fmt.Errorf("cannot publish nil event")
	}
	p := partitionFor(key, b.partitions)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, g := range b.groups[topic] {
		select {
		case g.partitions[p] <- event:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCh:
			return ErrBrokerClosed
		}
	}
	return nil
}

// Subscribe registers one consumer per (topic, group) and starts a
// dispatch goroutine per partition.
func (b *MemoryBroker) Subscribe(ctx context.Context, topics []string, group string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	for _, topic := range topics {
		if _, dup := b.groups[topic][group]; dup {
			return fmt.Errorf("%w: topic=%s group=%s", ErrGroupExists, topic, group)
		}
	}

	for _, topic := range topics {
		g := &memoryGroup{handler: handler, partitions: make([]chan *Event, b.partitions)}
		for p := 0; p < b.partitions; p++ {
			ch := make(chan *Event, b.bufferSize)
			g.partitions[p] = ch
			b.wg.Add(1)
			go b.dispatch(ctx, topic, group, ch, handler)
		}
		if b.groups[topic] == nil {
			b.groups[topic] = make(map[string]*memoryGroup)
		}
		b.groups[topic][group] = g
	}
	return nil
}

// dispatch drains one partition channel, retrying failed handlers up to
// maxDeliveries before invoking the poison callback.
func (b *MemoryBroker) dispatch(ctx context.Context, topic, group string, ch <-chan *Event, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(ctx, topic, group, event, handler)
		case <-ctx.Done():
			return
		case <-b.stopCh:
			// Drain what is already buffered, then exit.
			for {
				select {
				case event, ok := <-ch:
					if !ok {
						return
					}
					b.deliver(ctx, topic, group, event, handler)
				default:
					return
				}
			}
		}
	}
}

func (b *MemoryBroker) deliver(ctx context.Context, topic, group string, event *Event, handler Handler) {
	var lastErr error
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		lastErr = handler(ctx, event)
		if lastErr == nil {
			return
		}
		slog.Warn("Event handler failed, redelivering",
			"topic", topic, "group", group, "event_id", event.EventID,
			"attempt", attempt, "error", lastErr)
		select {
		case <-time.After(b.redeliveryDelay):
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		}
	}

	slog.Error("Event exhausted delivery attempts",
		"topic", topic, "group", group, "event_id", event.EventID, "error", lastErr)
	if b.onPoison != nil {
		raw, err := event.Encode()
		if err != nil {
			raw = nil
		}
		b.onPoison(topic, raw, lastErr)
	}
}

// Health reports liveness.
func (b *MemoryBroker) Health(ctx context.Context) Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return Health{Healthy: false, Backend: "memory", Detail: "closed"}
	}
	return Health{Healthy: true, Backend: "memory"}
}

// Close stops accepting publishes, drains buffered events and waits for
// dispatch goroutines to exit.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.stopCh)
	for _, groups := range b.groups {
		for _, g := range groups {
			for _, ch := range g.partitions {
				close(ch)
			}
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// partitionFor maps a key onto [0, n) with FNV-1a.
func partitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
