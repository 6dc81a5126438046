// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for tests and
// single-process deployments where durability is not required. Delivery is
// at-least-once: an event whose handler fails or negatively acknowledges it is
// queued again until the redelivery limit is reached.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// ErrClosed is returned when publishing to or subscribing on a closed broker.
var ErrClosed = errors.New("memory broker closed")

const (
	defaultWorkers         = 4
	defaultMaxRedeliveries = 5
)

// Option configures a Broker.
type Option func(*Broker)

// WithWorkers sets the number of concurrent handler goroutines per
// subscription.
func WithWorkers(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithMaxRedeliveries bounds how many times a failed event is queued again.
func WithMaxRedeliveries(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.maxRedeliveries = n
		}
	}
}

var _ events.EventBus = (*Broker)(nil)

// Broker implements events.EventBus entirely in memory.
type Broker struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool

	// inflight counts deliveries that have been queued but not finished.
	inflight sync.WaitGroup

	workers         int
	maxRedeliveries int
	logger          *logger.Logger
}

// NewBroker creates and initializes a new in-memory broker.
func NewBroker(log *logger.Logger, opts ...Option) *Broker {
	b := &Broker{
		workers:         defaultWorkers,
		maxRedeliveries: defaultMaxRedeliveries,
		logger:          log.With("component", "memory_event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type delivery struct {
	evt      events.EventEnvelope
	attempts int
}

type subscription struct {
	types   map[events.EventType]struct{}
	handler events.HandlerFunc

	mu     sync.Mutex
	queue  []delivery
	signal chan struct{}
	done   chan struct{}
}

func (s *subscription) push(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) pop() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

// Publish queues evt for every subscription interested in its type.
func (b *Broker) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(opts)
	if params.Key != "" {
		evt.Key = params.Key
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subs {
		if _, ok := sub.types[evt.Type]; !ok {
			continue
		}
		b.inflight.Add(1)
		sub.push(delivery{evt: evt})
	}
	return nil
}

// Subscribe registers handler for eventTypes. Handlers run on the broker's
// worker goroutines until ctx is cancelled or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	sub := &subscription{
		types:   make(map[events.EventType]struct{}, len(eventTypes)),
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, et := range eventTypes {
		sub.types[et] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	for i := 0; i < b.workers; i++ {
		go b.work(ctx, sub)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		b.unsubscribe(sub)
	}()

	return nil
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	// Release anything still queued so WaitIdle cannot hang.
	for {
		if _, ok := sub.pop(); !ok {
			break
		}
		b.inflight.Done()
	}
}

func (b *Broker) work(ctx context.Context, sub *subscription) {
	for {
		d, ok := sub.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case <-sub.signal:
				continue
			}
		}
		b.deliver(ctx, sub, d)

		// Another worker may have consumed the signal meant for a later push.
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (b *Broker) deliver(ctx context.Context, sub *subscription, d delivery) {
	var (
		acked  bool
		ackErr error
	)
	ack := func(err error) {
		if acked {
			return
		}
		acked = true
		ackErr = err
	}

	if err := sub.handler(ctx, d.evt, ack); err != nil && ackErr == nil {
		ackErr = err
	}

	if ackErr == nil {
		b.inflight.Done()
		return
	}

	if d.attempts >= b.maxRedeliveries || ctx.Err() != nil || sub.stopped() {
		b.logger.Error(ctx, "Dropping event after failed deliveries",
			"event_type", d.evt.Type,
			"key", d.evt.Key,
			"attempts", d.attempts+1,
			"error", ackErr,
		)
		b.inflight.Done()
		return
	}

	b.logger.Warn(ctx, "Redelivering event",
		"event_type", d.evt.Type,
		"key", d.evt.Key,
		"attempt", d.attempts+1,
		"error", ackErr,
	)
	d.attempts++
	sub.push(d)
}

// WaitIdle blocks until every published event has been handled, dropped or
// released, or until ctx is done.
func (b *Broker) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for idle broker: %w", ctx.Err())
	}
}

// Close stops every subscription. Events still queued are released.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := append([]*subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	return nil
}
