package mid

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/pkg/common/otel"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// Otel wraps each handler in a span named after its route. Responses with a
// 5xx status mark the span as failed.
func Otel(tracer trace.Tracer) web.MidFunc {
	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(ctx context.Context, r *http.Request) web.Encoder {
			ctx, span := otel.AddSpan(ctx, tracer, "handle "+r.Pattern,
				attribute.String("http.route", r.Pattern),
			)
			defer span.End()

			resp := next(ctx, r)
			if status := web.StatusOf(resp); status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return resp
		}
	}
}
