package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the Redis Streams broker.
type RedisOptions struct {
	// Partitions is the stream count per topic (default 8).
	Partitions int
	// ReadCount is the max entries fetched per XREADGROUP (default 16).
	ReadCount int64
	// BlockTimeout bounds each XREADGROUP blocking read (default 2s).
	BlockTimeout time.Duration
	// ClaimMinIdle is how long a pending entry must sit before another
	// consumer may claim it (default 30s).
	ClaimMinIdle time.Duration
	// ClaimInterval is how often stale-entry recovery runs (default 10s).
	ClaimInterval time.Duration
	// MaxDeliveries caps attempts before an entry goes to the poison
	// callback and is acknowledged away (default 5).
	MaxDeliveries int64
	// OnPoison receives undecodable or exhausted entries.
	OnPoison PoisonFunc
}

func (o *RedisOptions) applyDefaults() {
	if o.Partitions <= 0 {
		o.Partitions = defaultPartitions
	}
	if o.ReadCount <= 0 {
		o.ReadCount = 16
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 2 * time.Second
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = 30 * time.Second
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 10 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
}

// RedisBroker is a Broker over Redis Streams. Each topic maps to
// Partitions streams ("{topic}.{n}"); groups are Redis consumer groups
// created with MKSTREAM. An entry is XACKed only after the handler
// returns nil, so crashed consumers leave pending entries that the
// stale-claim loop recovers.
//
// The broker takes ownership of the client and closes it on Close.
type RedisBroker struct {
	rdb  *redis.Client
	opts RedisOptions

	mu     sync.Mutex
	subs   map[string]bool // "topic/group" pairs already subscribed
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(rdb *redis.Client, opts RedisOptions) *RedisBroker {
	opts.applyDefaults()
	return &RedisBroker{
		rdb:    rdb,
		opts:   opts,
		subs:   make(map[string]bool),
		stopCh: make(chan struct{}),
	}
}

func streamName(topic string, partition int) string {
	return fmt.Sprintf("%s.%d", topic, partition)
}

// Publish appends the encoded event to the partition stream chosen by the key.
func (b *RedisBroker) Publish(ctx context.Context, topic, key string, event *Event) error {
	if event == nil {
		return fmt.Errorf("cannot publish nil event")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.mu.Unlock()

	data, err := event.Encode()
	if err != nil {
		return err
	}
	stream := streamName(topic, partitionFor(key, b.opts.Partitions))
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"event": string(data), "key": key},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}

// Subscribe creates the consumer groups and starts one consume loop plus
// one stale-claim loop per partition stream.
func (b *RedisBroker) Subscribe(ctx context.Context, topics []string, group string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	for _, topic := range topics {
		k := topic + "/" + group
		if b.subs[k] {
			b.mu.Unlock()
			return fmt.Errorf("%w: topic=%s group=%s", ErrGroupExists, topic, group)
		}
		b.subs[k] = true
	}
	b.mu.Unlock()

	consumer := group + "-" + uuid.New().String()[:8]
	for _, topic := range topics {
		for p := 0; p < b.opts.Partitions; p++ {
			stream := streamName(topic, p)
			// Read from the beginning so entries published before the
			// group existed are still consumed.
			err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
			if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
				return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
			}

			b.wg.Add(2)
			go b.consumeLoop(ctx, topic, stream, group, consumer, handler)
			go b.claimLoop(ctx, topic, stream, group, consumer, handler)
		}
	}
	return nil
}

// consumeLoop reads new entries for one partition stream and processes
// them in order.
func (b *RedisBroker) consumeLoop(ctx context.Context, topic, stream, group, consumer string, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		default:
		}

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    b.opts.ReadCount,
			Block:    b.opts.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-time.After(time.Second):
				slog.Warn("Stream read failed, retrying", "stream", stream, "group", group, "error", err)
				continue
			}
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				b.handleEntry(ctx, topic, stream, group, msg, handler)
			}
		}
	}
}

// handleEntry decodes and dispatches one stream entry. Nil handler error
// acks; a decode failure is poison immediately; a handler error leaves
// the entry pending for the claim loop.
func (b *RedisBroker) handleEntry(ctx context.Context, topic, stream, group string, msg redis.XMessage, handler Handler) {
	raw, _ := msg.Values["event"].(string)
	event, err := Decode([]byte(raw))
	if err != nil {
		slog.Error("Dropping undecodable stream entry", "stream", stream, "entry_id", msg.ID, "error", err)
		if b.opts.OnPoison != nil {
			b.opts.OnPoison(topic, []byte(raw), err)
		}
		_ = b.rdb.XAck(ctx, stream, group, msg.ID).Err()
		return
	}

	if err := handler(ctx, event); err != nil {
		slog.Warn("Event handler failed, leaving entry pending",
			"stream", stream, "group", group, "event_id", event.EventID, "error", err)
		return
	}
	if err := b.rdb.XAck(ctx, stream, group, msg.ID).Err(); err != nil {
		// Redelivery after a failed ack is deduplicated by the ledger.
		slog.Warn("Failed to ack stream entry", "stream", stream, "entry_id", msg.ID, "error", err)
	}
}

// claimLoop periodically claims entries that sat pending longer than
// ClaimMinIdle (crashed or stuck consumers) and reprocesses them.
// Entries past MaxDeliveries are acked away through the poison callback.
func (b *RedisBroker) claimLoop(ctx context.Context, topic, stream, group, consumer string, handler Handler) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
		}

		pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Idle:   b.opts.ClaimMinIdle,
			Start:  "-",
			End:    "+",
			Count:  b.opts.ReadCount,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
				slog.Warn("Pending scan failed", "stream", stream, "group", group, "error", err)
			}
			continue
		}

		for _, pe := range pending {
			claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    group,
				Consumer: consumer,
				MinIdle:  b.opts.ClaimMinIdle,
				Messages: []string{pe.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue // another consumer won the claim
			}

			msg := claimed[0]
			if pe.RetryCount >= b.opts.MaxDeliveries {
				raw, _ := msg.Values["event"].(string)
				slog.Error("Entry exhausted delivery attempts",
					"stream", stream, "group", group, "entry_id", msg.ID, "deliveries", pe.RetryCount)
				if b.opts.OnPoison != nil {
					b.opts.OnPoison(topic, []byte(raw), fmt.Errorf("exhausted %d deliveries", pe.RetryCount))
				}
				_ = b.rdb.XAck(ctx, stream, group, msg.ID).Err()
				continue
			}
			b.handleEntry(ctx, topic, stream, group, msg, handler)
		}
	}
}

// Health pings Redis.
func (b *RedisBroker) Health(ctx context.Context) Health {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return Health{Healthy: false, Backend: "redis", Detail: "closed"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		return Health{Healthy: false, Backend: "redis", Detail: err.Error()}
	}
	return Health{Healthy: true, Backend: "redis"}
}

// Close stops all loops, waits for in-flight handlers and closes the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	return b.rdb.Close()
}
