package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestPublishThenDeliverSharesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracer := sdktrace.NewTracerProvider().Tracer("test")

	ctx, publish := StartPublish(context.Background(), tracer, "work-items", "gen-1")
	defer publish.End()

	headers := Inject(ctx, nil)
	require.Len(t, headers, 1)

	// A redelivered record is re-injected in place.
	headers = Inject(ctx, headers)
	assert.Len(t, headers, 1)

	msg := &sarama.ConsumerMessage{Topic: "work-items", Key: []byte("gen-1")}
	for i := range headers {
		msg.Headers = append(msg.Headers, &headers[i])
	}

	deliverCtx, deliver := StartDelivery(context.Background(), tracer, msg)
	defer deliver.End()

	got := trace.SpanContextFromContext(deliverCtx)
	assert.Equal(t, publish.SpanContext().TraceID(), got.TraceID())
	assert.NotEqual(t, publish.SpanContext().SpanID(), got.SpanID())
}

func TestHeaderCarrier(t *testing.T) {
	var c headerCarrier
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestHeadersSkipsNil(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{
		nil,
		{Key: []byte("x"), Value: []byte("y")},
	}}
	assert.Equal(t, []sarama.RecordHeader{{Key: []byte("x"), Value: []byte("y")}}, Headers(msg))
}
