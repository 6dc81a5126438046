package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

func TestEndpointExcluder(t *testing.T) {
	excluder := newEndpointExcluder(map[string]struct{}{"/v1/liveness": {}}, 1.0)

	tests := []struct {
		name   string
		attrs  []attribute.KeyValue
		expect sdktrace.SamplingDecision
	}{
		{
			name:   "excluded probe route is dropped",
			attrs:  []attribute.KeyValue{semconv.HTTPTargetKey.String("/v1/liveness")},
			expect: sdktrace.Drop,
		},
		{
			name:   "stable url.path attribute is honored",
			attrs:  []attribute.KeyValue{urlPathKey.String("/v1/liveness")},
			expect: sdktrace.Drop,
		},
		{
			name:   "other routes are sampled",
			attrs:  []attribute.KeyValue{semconv.HTTPTargetKey.String("/v1/generations")},
			expect: sdktrace.RecordAndSample,
		},
		{
			name:   "spans without a route are sampled",
			expect: sdktrace.RecordAndSample,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := excluder.ShouldSample(sdktrace.SamplingParameters{
				TraceID:    trace.TraceID{1},
				Name:       "span",
				Attributes: tt.attrs,
			})
			assert.Equal(t, tt.expect, res.Decision)
		})
	}
}

func TestGetTraceID(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0xab},
		SpanID:  trace.SpanID{1},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	assert.Equal(t, "ab000000000000000000000000000000", GetTraceID(ctx))
}
