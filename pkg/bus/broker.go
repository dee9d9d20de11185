package bus

import (
	"context"
	"errors"
)

// Handler processes one delivered event. Returning nil acknowledges the
// message; returning an error leaves it unacknowledged so the broker
// redelivers it. Handlers run concurrently across partitions but are
// serialized within a partition, and must tolerate duplicates.
type Handler func(ctx context.Context, event *Event) error

// Broker is the pub/sub transport contract. Implementations provide
// consumer-group semantics: each message is delivered to exactly one
// consumer per group, with at-least-once delivery.
type Broker interface {
	// Publish appends the event to the topic. Key drives partition
	// affinity; events sharing a key are delivered in publish order.
	Publish(ctx context.Context, topic, key string, event *Event) error

	// Subscribe registers a handler for the topics under a consumer group
	// and starts consuming until ctx is cancelled or the broker closes.
	// One subscription per (topic, group) is allowed.
	Subscribe(ctx context.Context, topics []string, group string, handler Handler) error

	// Health returns a liveness snapshot.
	Health(ctx context.Context) Health

	// Close flushes in-flight work and releases resources.
	Close() error
}

// Health is a broker liveness snapshot.
type Health struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
	Detail  string `json:"detail,omitempty"`
}

var (
	// ErrBrokerClosed is returned by operations on a closed broker.
	ErrBrokerClosed = errors.New("broker is closed")
	// ErrGroupExists is returned when a (topic, group) pair is subscribed twice.
	ErrGroupExists = errors.New("consumer group already subscribed to topic")
)

// PoisonFunc is invoked for a message that exhausted its delivery attempts
// or could not be decoded. After the call the message is acknowledged and
// dropped from the broker; callers park durable copies themselves.
type PoisonFunc func(topic string, raw []byte, err error)
