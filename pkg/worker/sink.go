package worker

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/bus"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// Sink is the production event sink: every emitted event lands in the
// durable timeline first, then goes out on the broker. The components
// holding a sink (tool engine, playbook executor, stage workers) never
// see the broker itself.
type Sink struct {
	events  store.EventStore
	broker  bus.Broker
	metrics *metrics.Registry
}

// NewSink wires the sink. metrics may be nil.
func NewSink(events store.EventStore, broker bus.Broker, m *metrics.Registry) *Sink {
	return &Sink{events: events, broker: broker, metrics: m}
}

// Emit appends and publishes. A failed append stops the publish; a
// failed publish leaves the timeline row in place so a retry stays
// consistent (the append is an idempotent no-op on replay).
func (s *Sink) Emit(ctx context.Context, event *bus.Event) error {
	if err := s.events.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append event %s to timeline: %w", event.EventID, err)
	}
	if err := s.broker.Publish(ctx, bus.TopicExceptions, event.Key(), event); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}
	if s.metrics != nil {
		s.metrics.EventsPublishedTotal.WithLabelValues(bus.TopicExceptions, event.EventType).Inc()
	}
	return nil
}
