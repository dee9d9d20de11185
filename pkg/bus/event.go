// Package bus defines the canonical event envelope and the broker
// abstraction the pipeline runs on.
//
// Every pipeline mutation travels as an Event on the "exceptions" topic.
// The partition key is the exception id, so all events for one exception
// land on the same partition and are consumed in order; no ordering is
// promised across exceptions. Brokers may redeliver: every consumer
// deduplicates through the idempotency ledger before doing work.
//
// Two broker implementations exist: an in-process partitioned broker for
// tests and single-node deploys (memory.go) and a Redis Streams broker
// with consumer groups for multi-process deploys (redis.go).
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TopicExceptions is the primary topic carrying all pipeline events.
const TopicExceptions = "exceptions"

// Pipeline event types. Consumers ignore types they do not know.
const (
	EventTypeExceptionRaised            = "ExceptionRaised"
	EventTypeTriageRequested            = "TriageRequested"
	EventTypeTriageCompleted            = "TriageCompleted"
	EventTypePolicyEvaluationRequested  = "PolicyEvaluationRequested"
	EventTypePolicyEvaluationCompleted  = "PolicyEvaluationCompleted"
	EventTypePlaybookMatched            = "PlaybookMatched"
	EventTypePlaybookStarted            = "PlaybookStarted"
	EventTypePlaybookStepCompleted      = "PlaybookStepCompleted"
	EventTypePlaybookStepSkipped        = "PlaybookStepSkipped"
	EventTypePlaybookCompleted          = "PlaybookCompleted"
	EventTypeToolExecutionRequested     = "ToolExecutionRequested"
	EventTypeToolExecutionCompleted     = "ToolExecutionCompleted"
	// EventTypeToolExecutionFailed is accepted from external producers.
	// The engine and the tool worker emit ToolExecutionCompleted with
	// payload status "failed" instead; consumers discriminate on status.
	EventTypeToolExecutionFailed = "ToolExecutionFailed"
	EventTypeEscalated           = "Escalated"
	EventTypeResolved            = "Resolved"
)

// Event is the canonical envelope carried on every topic and mirrored to
// the exception_event table. Immutable once appended.
type Event struct {
	EventID       string           `json:"event_id"`
	EventType     string           `json:"event_type"`
	TenantID      string           `json:"tenant_id"`
	ExceptionID   string           `json:"exception_id,omitempty"`
	CorrelationID string           `json:"correlation_id"`
	ActorType     models.ActorType `json:"actor_type"`
	ActorID       string           `json:"actor_id"`
	Payload       json.RawMessage  `json:"payload"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewEvent builds an envelope with a fresh uuid v4 id and marshals the
// payload. CorrelationID is the exception id for the whole pipeline.
func NewEvent(eventType, tenantID, exceptionID string, actor models.Actor, payload any) (*Event, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		TenantID:      tenantID,
		ExceptionID:   exceptionID,
		CorrelationID: exceptionID,
		ActorType:     actor.Type,
		ActorID:       actor.ID,
		Payload:       raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Key returns the partition key: the exception id, or the tenant id for
// events not tied to an exception.
func (e *Event) Key() string {
	if e.ExceptionID != "" {
		return e.ExceptionID
	}
	return e.TenantID
}

// Validate checks the required envelope keys of an inbound message.
func (e *Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("event is missing event_id")
	case e.EventType == "":
		return fmt.Errorf("event %s is missing event_type", e.EventID)
	case e.TenantID == "":
		return fmt.Errorf("event %s is missing tenant_id", e.EventID)
	case !e.ActorType.IsValid():
		return fmt.Errorf("event %s has invalid actor_type %q", e.EventID, e.ActorType)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("event %s is missing created_at", e.EventID)
	}
	return nil
}

// Encode marshals the envelope for the wire.
func (e *Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", e.EventID, err)
	}
	return b, nil
}

// Decode parses and validates a wire message.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodePayload unmarshals the event payload into a typed struct.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of event %s: %w", e.EventType, e.EventID, err)
	}
	return nil
}

// PayloadMap returns the payload as a generic JSON tree, never nil.
func (e *Event) PayloadMap() (map[string]any, error) {
	m := map[string]any{}
	if len(e.Payload) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode payload of event %s: %w", e.EventID, err)
	}
	return m, nil
}
