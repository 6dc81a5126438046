// Package mux binds the planner's routes and middleware into an http.Handler.
package mux

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/api/mid"
	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/internal/app/guard"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build       string
	Log         *logger.Logger
	Tracer      trace.Tracer
	Metrics     mid.RequestMetrics
	Generations *appgen.Service
	Guard       *guard.Guard
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	mw := []web.MidFunc{
		mid.Otel(cfg.Tracer),
		mid.Logger(cfg.Log),
	}
	if cfg.Metrics != nil {
		mw = append(mw, mid.Metrics(cfg.Metrics))
	}
	mw = append(mw, mid.Errors(cfg.Log), mid.Panics())

	app := web.NewApp(logger, cfg.Tracer, mw...)

	routeAdder.Add(app, cfg)

	return app
}
