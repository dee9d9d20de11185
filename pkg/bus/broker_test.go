package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// brokerFactory builds a fresh broker per subtest so the contract suite
// runs against every implementation.
type brokerFactory func(t *testing.T) Broker

func memoryFactory(t *testing.T) Broker {
	t.Helper()
	b := NewMemoryBroker(WithPartitions(4), WithRedeliveryDelay(5*time.Millisecond))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func redisFactory(t *testing.T) Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBroker(rdb, RedisOptions{
		Partitions:    4,
		BlockTimeout:  50 * time.Millisecond,
		ClaimMinIdle:  20 * time.Millisecond,
		ClaimInterval: 25 * time.Millisecond,
	})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func brokerImplementations() map[string]brokerFactory {
	return map[string]brokerFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}
}

func testEvent(t *testing.T, exceptionID string, seq int) *Event {
	t.Helper()
	ev, err := NewEvent(EventTypeExceptionRaised, "t1", exceptionID,
		models.SystemActor("test"), map[string]any{"seq": seq})
	require.NoError(t, err)
	return ev
}

func TestBrokerDeliversInOrderPerKey(t *testing.T) {
	for name, factory := range brokerImplementations() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			ctx := context.Background()

			var mu sync.Mutex
			var got []string
			err := b.Subscribe(ctx, []string{TopicExceptions}, "g1", func(_ context.Context, ev *Event) error {
				mu.Lock()
				got = append(got, ev.EventID)
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)

			var want []string
			for i := 0; i < 10; i++ {
				ev := testEvent(t, "exc-ordered", i)
				want = append(want, ev.EventID)
				require.NoError(t, b.Publish(ctx, TopicExceptions, ev.Key(), ev))
			}

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(got) == len(want)
			}, 5*time.Second, 10*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, want, got, "same key means same partition means publish order")
		})
	}
}

func TestBrokerFansOutAcrossGroups(t *testing.T) {
	for name, factory := range brokerImplementations() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			ctx := context.Background()

			counts := map[string]*int{"g1": new(int), "g2": new(int)}
			var mu sync.Mutex
			for group, n := range counts {
				n := n
				err := b.Subscribe(ctx, []string{TopicExceptions}, group, func(_ context.Context, _ *Event) error {
					mu.Lock()
					*n++
					mu.Unlock()
					return nil
				})
				require.NoError(t, err)
			}

			for i := 0; i < 5; i++ {
				ev := testEvent(t, fmt.Sprintf("exc-%d", i), i)
				require.NoError(t, b.Publish(ctx, TopicExceptions, ev.Key(), ev))
			}

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return *counts["g1"] == 5 && *counts["g2"] == 5
			}, 5*time.Second, 10*time.Millisecond, "each group receives every event")
		})
	}
}

func TestBrokerRedeliversOnHandlerError(t *testing.T) {
	for name, factory := range brokerImplementations() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			ctx := context.Background()

			var mu sync.Mutex
			attempts := 0
			err := b.Subscribe(ctx, []string{TopicExceptions}, "g1", func(_ context.Context, _ *Event) error {
				mu.Lock()
				defer mu.Unlock()
				attempts++
				if attempts < 3 {
					return fmt.Errorf("transient handler failure")
				}
				return nil
			})
			require.NoError(t, err)

			ev := testEvent(t, "exc-retry", 0)
			require.NoError(t, b.Publish(ctx, TopicExceptions, ev.Key(), ev))

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return attempts >= 3
			}, 5*time.Second, 10*time.Millisecond, "failed handling is retried")
		})
	}
}

func TestBrokerRejectsDuplicateGroupSubscription(t *testing.T) {
	for name, factory := range brokerImplementations() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			ctx := context.Background()
			h := func(_ context.Context, _ *Event) error { return nil }

			require.NoError(t, b.Subscribe(ctx, []string{TopicExceptions}, "g1", h))
			err := b.Subscribe(ctx, []string{TopicExceptions}, "g1", h)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGroupExists)
		})
	}
}

func TestBrokerHealthAndClose(t *testing.T) {
	for name, factory := range brokerImplementations() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			ctx := context.Background()

			h := b.Health(ctx)
			assert.True(t, h.Healthy)
			assert.NotEmpty(t, h.Backend)

			require.NoError(t, b.Close())
			h = b.Health(ctx)
			assert.False(t, h.Healthy)

			ev := testEvent(t, "exc-closed", 0)
			err := b.Publish(ctx, TopicExceptions, ev.Key(), ev)
			assert.ErrorIs(t, err, ErrBrokerClosed)

			err = b.Subscribe(ctx, []string{TopicExceptions}, "late", func(_ context.Context, _ *Event) error { return nil })
			assert.ErrorIs(t, err, ErrBrokerClosed)

			// Close is idempotent.
			require.NoError(t, b.Close())
		})
	}
}

func TestMemoryBrokerPoisonCallback(t *testing.T) {
	var mu sync.Mutex
	var poisoned [][]byte
	b := NewMemoryBroker(
		WithPartitions(1),
		WithMaxDeliveries(2),
		WithRedeliveryDelay(time.Millisecond),
		WithPoisonHandler(func(_ string, raw []byte, _ error) {
			mu.Lock()
			poisoned = append(poisoned, raw)
			mu.Unlock()
		}),
	)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	err := b.Subscribe(ctx, []string{TopicExceptions}, "g1", func(_ context.Context, _ *Event) error {
		return fmt.Errorf("always fails")
	})
	require.NoError(t, err)

	ev := testEvent(t, "exc-poison", 0)
	require.NoError(t, b.Publish(ctx, TopicExceptions, ev.Key(), ev))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(poisoned) == 1
	}, 5*time.Second, 5*time.Millisecond, "exhausted message reaches the poison callback")
}

func TestRedisBrokerRecoversAbandonedEntries(t *testing.T) {
	mr := miniredis.RunT(t)

	// First consumer reads but never acks, simulating a crash mid-handling.
	crashed := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = crashed.Close() }()
	ctx := context.Background()

	ev := testEvent(t, "exc-abandoned", 0)
	data, err := ev.Encode()
	require.NoError(t, err)
	stream := streamName(TopicExceptions, partitionFor(ev.Key(), 4))
	require.NoError(t, crashed.XGroupCreateMkStream(ctx, stream, "g1", "0").Err())
	require.NoError(t, crashed.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"event": string(data), "key": ev.Key()},
	}).Err())
	_, err = crashed.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: "g1", Consumer: "dead-consumer",
		Streams: []string{stream, ">"}, Count: 1, Block: 10 * time.Millisecond,
	}).Result()
	require.NoError(t, err)

	// Second consumer joins the same group and claims the stale entry.
	b := NewRedisBroker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), RedisOptions{
		Partitions:    4,
		BlockTimeout:  25 * time.Millisecond,
		ClaimMinIdle:  20 * time.Millisecond,
		ClaimInterval: 25 * time.Millisecond,
	})
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	var got []string
	err = b.Subscribe(ctx, []string{TopicExceptions}, "g1", func(_ context.Context, e *Event) error {
		mu.Lock()
		got = append(got, e.EventID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == ev.EventID
	}, 5*time.Second, 10*time.Millisecond, "stale pending entry is claimed and processed")
}
