// Package otel wires OpenTelemetry tracing and metrics for the planner and
// worker binaries.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// Config defines the information needed to init telemetry.
type Config struct {
	ServiceName string
	// ExporterEndpoint is an OTLP gRPC collector. Empty keeps spans and
	// metrics in process.
	ExporterEndpoint string
	InsecureExporter bool
	// ExcludedRoutes are request paths never sampled, such as probes.
	ExcludedRoutes     map[string]struct{}
	Probability        float64
	ResourceAttributes map[string]string
}

// InitTelemetry installs the global tracer provider, meter provider and
// propagator. The returned func flushes and shuts both providers down.
func InitTelemetry(log *logger.Logger, cfg Config) (trace.TracerProvider, func(ctx context.Context), error) {
	res := newResource(cfg)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(newEndpointExcluder(cfg.ExcludedRoutes, cfg.Probability)),
		sdktrace.WithResource(res),
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.ExporterEndpoint != "" {
		spans, readings, err := newExporters(cfg)
		if err != nil {
			return nil, nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(spans,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
		))
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(readings,
			sdkmetric.WithInterval(15*time.Second),
		)))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) {
		if err := errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx)); err != nil {
			log.Error(ctx, "telemetry shutdown", "error", err)
		}
	}
	return tp, shutdown, nil
}

func newResource(cfg Config) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	for k, v := range cfg.ResourceAttributes {
		if v != "" {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newExporters(cfg Config) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint)}
	if cfg.InsecureExporter {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	readings, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	return spans, readings, nil
}

// GetMeterProvider returns the meter provider installed by InitTelemetry.
func GetMeterProvider() metric.MeterProvider { return otel.GetMeterProvider() }

// AddSpan starts a span named spanName carrying keyValues.
func AddSpan(ctx context.Context, tracer trace.Tracer, spanName string, keyValues ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, spanName, trace.WithAttributes(keyValues...))
}

// GetTraceID returns the trace ID of the span in ctx, or a zero ID.
func GetTraceID(ctx context.Context) string {
	return trace.SpanContextFromContext(ctx).TraceID().String()
}
