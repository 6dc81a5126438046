// Package kafka carries work items and generation lifecycle events over Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// EventBusMetrics counts records moving through the bus, per topic.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// EventBusConfig names the topics and identities used by an EventBus.
type EventBusConfig struct {
	Brokers []string

	// WorkItemTopic carries work items between fan-out processors. Records
	// are keyed by generation ID.
	WorkItemTopic string
	// LifecycleTopic carries generation finished notifications.
	LifecycleTopic string

	GroupID     string
	ClientID    string
	ServiceType string // "planner" or "worker"
}

func (c *EventBusConfig) routes() (map[events.EventType]string, error) {
	if c.WorkItemTopic == "" || c.LifecycleTopic == "" {
		return nil, errors.New("kafka event bus requires work item and lifecycle topics")
	}
	return map[events.EventType]string{
		events.EventTypeWorkItemCreated:    c.WorkItemTopic,
		events.EventTypeGenerationFinished: c.LifecycleTopic,
	}, nil
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus publishes domain events to the topic routed for their type and
// delivers consumed records to subscribers with at-least-once semantics.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	routes        map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus builds an EventBus over an existing producer and consumer
// group. The consumer group may be nil for publish-only buses.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *EventBusConfig,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, errors.New("metrics are required for kafka event bus")
	}
	routes, err := cfg.routes()
	if err != nil {
		return nil, err
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		routes:        routes,
		logger: logger.With(
			"component", "kafka_event_bus",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
			"service_type", cfg.ServiceType,
		),
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Publish encodes event and sends it to its routed topic. A key supplied
// through options overrides the envelope key.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.routes[event.Type]
	if !ok {
		return fmt.Errorf("no topic routed for event type %q", event.Type)
	}

	params := events.ApplyOptions(opts)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}

	ctx, span := tracing.StartPublish(ctx, b.tracer, topic, event.Key)
	defer span.End()
	span.SetAttributes(attribute.String("event.type", string(event.Type)))

	value, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode event")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("encoding %s: %w", event.Type, err)
	}

	headers := make([]sarama.RecordHeader, 0, len(event.Headers)+1)
	for k, v := range event.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if err := b.send(ctx, topic, event.Key, value, headers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send record")
		return err
	}
	return nil
}

func (b *EventBus) send(ctx context.Context, topic, key string, value []byte, headers []sarama.RecordHeader) error {
	partition, offset, err := b.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(value),
		Headers: tracing.Inject(ctx, headers),
	})
	if err != nil {
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("sending to %s: %w", topic, err)
	}

	b.metrics.IncMessagePublished(ctx, topic)
	b.logger.Debug(ctx, "Record sent",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)
	return nil
}

// Subscribe joins the consumer group for the topics routed to eventTypes and
// hands matching events to handler until ctx is done. Records of a partition
// are handled one at a time.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.consumerGroup == nil {
		return errors.New("event bus has no consumer group")
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	var topics []string
	seen := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := b.routes[et]
		if !ok {
			return fmt.Errorf("subscribe: no topic routed for event type %q", et)
		}
		wanted[et] = struct{}{}
		if _, dup := seen[topic]; !dup {
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}

	claims := &claimHandler{bus: b, handle: handler, wanted: wanted}
	go func() {
		for {
			if err := b.consumerGroup.Consume(ctx, topics, claims); err != nil {
				b.logger.Error(ctx, "Consumer group session ended", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	b.logger.Info(ctx, "Subscribed", "topics", topics, "event_types", eventTypes)
	return nil
}

// Close closes the producer and, when present, the consumer group.
func (b *EventBus) Close() error {
	ctx := context.Background()

	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing producer: %w", err))
	}
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing consumer group: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.logger.Error(ctx, "Failed to close event bus", "error", err)
		return err
	}

	b.logger.Info(ctx, "Event bus closed")
	return nil
}
