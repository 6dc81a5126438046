package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// urlPathKey is the stable HTTP semantic convention otelhttp emits when
// opted in; older releases emit http.target.
const urlPathKey = attribute.Key("url.path")

// endpointExcluder drops spans of excluded request paths and samples the
// rest by trace ID ratio, honoring the parent's decision.
type endpointExcluder struct {
	endpoints map[string]struct{}
	fallback  sdktrace.Sampler
	ratio     float64
}

func newEndpointExcluder(endpoints map[string]struct{}, ratio float64) endpointExcluder {
	return endpointExcluder{
		endpoints: endpoints,
		fallback:  sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)),
		ratio:     ratio,
	}
}

// ShouldSample implements sdktrace.Sampler.
func (e endpointExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key != semconv.HTTPTargetKey && kv.Key != urlPathKey {
			continue
		}
		if _, excluded := e.endpoints[kv.Value.AsString()]; excluded {
			return sdktrace.SamplingResult{Decision: sdktrace.Drop}
		}
	}
	return e.fallback.ShouldSample(p)
}

// Description implements sdktrace.Sampler.
func (e endpointExcluder) Description() string {
	return fmt.Sprintf("EndpointExcluder{ratio=%g,excluded=%d}", e.ratio, len(e.endpoints))
}
