// Package api holds the planner's HTTP-level instrumentation.
package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/schedule-armada/internal/api/mid"
)

const meterName = "schedule_planner_api"

var _ mid.RequestMetrics = (*APIMetrics)(nil)

// APIMetrics records HTTP traffic served by the planner.
type APIMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewAPIMetrics registers the planner's request instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (*APIMetrics, error) {
	meter := mp.Meter(meterName)

	requests, err := meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests served, by route and status"))
	if err != nil {
		return nil, err
	}

	// Synchronous generation requests may run for up to a minute.
	latency, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60))
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("HTTP requests currently being served"))
	if err != nil {
		return nil, err
	}

	return &APIMetrics{requests: requests, latency: latency, inFlight: inFlight}, nil
}

// RequestStarted implements mid.RequestMetrics.
func (m *APIMetrics) RequestStarted(ctx context.Context, route string) {
	m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RequestFinished implements mid.RequestMetrics.
func (m *APIMetrics) RequestFinished(ctx context.Context, method, route string, status int, took time.Duration) {
	m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("route", route)))

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, took.Seconds(), attrs)
}
