// Package events defines the events exchanged between the planner and the
// workers and the bus that carries them.
package events

import "context"

// DomainEventPublisher publishes domain events without exposing the
// transport.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus moves envelopes between processes. Delivery is at least once:
// an event whose handler acknowledges with an error is delivered again.
type EventBus interface {
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error
	// Subscribe starts delivering events of eventTypes to handler in the
	// background until ctx is done.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error
	Close() error
}

// NewDomainEventPublisher wraps bus so domain events are enveloped with
// their type and occurrence time.
func NewDomainEventPublisher(bus EventBus) DomainEventPublisher {
	return busPublisher{bus: bus}
}

type busPublisher struct{ bus EventBus }

func (p busPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	params := ApplyOptions(opts)
	return p.bus.Publish(ctx, EventEnvelope{
		Type:      event.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}, opts...)
}
