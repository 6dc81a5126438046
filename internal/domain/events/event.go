package events

import (
	"context"
	"time"
)

// DomainEvent is implemented by every event the domain emits.
type DomainEvent interface {
	// EventType identifies the category of the event for routing and handling.
	EventType() EventType
	// OccurredAt records when the event happened.
	OccurredAt() time.Time
}

// EventEnvelope carries an event through the bus along with the metadata the
// transport attaches to it.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business identifier
	// like a generation ID that events can be grouped or partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any

	// Metadata describes where the event was read from, when known.
	Metadata EventMetadata
}

// EventMetadata is the transport position of a consumed event.
type EventMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
}

// AckFunc acknowledges an event. Passing a non-nil error tells the bus the
// event was not processed and must be delivered again.
type AckFunc func(err error)

// HandlerFunc processes one event. It must call ack exactly once.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error
