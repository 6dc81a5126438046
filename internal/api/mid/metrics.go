package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/ahrav/schedule-armada/pkg/web"
)

// RequestMetrics observes each request by its matched route pattern.
type RequestMetrics interface {
	RequestStarted(ctx context.Context, route string)
	RequestFinished(ctx context.Context, method, route string, status int, took time.Duration)
}

// Metrics reports every request to m.
func Metrics(m RequestMetrics) web.MidFunc {
	return func(next web.HandlerFunc) web.HandlerFunc {
		return func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()
			m.RequestStarted(ctx, r.Pattern)

			resp := next(ctx, r)

			m.RequestFinished(ctx, r.Method, r.Pattern, web.StatusOf(resp), time.Since(start))
			return resp
		}
	}
}
