// Package tracing carries OpenTelemetry span context through Kafka record
// headers so a work item's processing joins the trace that published it.
package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// StartPublish opens a producer span for a record sent to topic under key.
func StartPublish(ctx context.Context, tracer trace.Tracer, topic, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationPublish,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingKafkaMessageKey(key),
		),
	)
}

// StartDelivery restores the publisher's span context from msg and opens a
// consumer span beneath it.
func StartDelivery(ctx context.Context, tracer trace.Tracer, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := headerCarrier(Headers(msg))
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)

	return tracer.Start(ctx, "process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationReceive,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			semconv.MessagingKafkaDestinationPartition(int(msg.Partition)),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
		),
	)
}

// Inject writes the span context of ctx into headers, replacing any trace
// headers a redelivered record still carries.
func Inject(ctx context.Context, headers []sarama.RecordHeader) []sarama.RecordHeader {
	carrier := headerCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

// Headers copies the headers of a consumed record.
func Headers(msg *sarama.ConsumerMessage) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			out = append(out, *h)
		}
	}
	return out
}

// headerCarrier adapts record headers to propagation.TextMapCarrier.
type headerCarrier []sarama.RecordHeader

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i := range *c {
		if string((*c)[i].Key) == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, string(h.Key))
	}
	return keys
}
