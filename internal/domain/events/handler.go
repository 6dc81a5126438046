package events

import "context"

// EventHandler is a subscriber that knows which event types it consumes.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt EventEnvelope, ack AckFunc) error
	SupportedEvents() []EventType
}

// SubscribeHandler subscribes h to bus for every type it supports.
func SubscribeHandler(ctx context.Context, bus EventBus, h EventHandler) error {
	return bus.Subscribe(ctx, h.SupportedEvents(), h.HandleEvent)
}
