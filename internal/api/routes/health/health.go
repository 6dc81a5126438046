// Package health serves the planner's liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/schedule-armada/internal/api/errs"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// readyTimeout bounds one readiness probe of the backing stores.
const readyTimeout = time.Second

// Config contains the dependencies of the probe handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Ready pings backing stores. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Routes binds the probes outside the middleware chain so they are neither
// logged nor traced.
func Routes(app *web.App, cfg Config) {
	app.HandlerFuncNoMid(http.MethodGet, "", "/v1/liveness", func(context.Context, *http.Request) web.Encoder {
		return probe{Status: "ok", Build: cfg.Build}
	})
	app.HandlerFuncNoMid(http.MethodGet, "", "/v1/readiness", readiness(cfg))
}

type probe struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

// Encode implements the web.Encoder interface.
func (p probe) Encode() ([]byte, string, error) {
	data, err := json.Marshal(p)
	return data, "application/json", err
}

func readiness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, _ *http.Request) web.Encoder {
		if cfg.Ready == nil {
			return probe{Status: "ready"}
		}

		ctx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		if err := cfg.Ready(ctx); err != nil {
			cfg.Log.Warn(ctx, "readiness probe failed", "error", err)
			return errs.Newf(errs.Unavailable, "not ready")
		}
		return probe{Status: "ready"}
	}
}
