// Package systemapi exposes the operator kill switch.
package systemapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ahrav/schedule-armada/internal/api/errs"
	"github.com/ahrav/schedule-armada/internal/app/guard"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// Config contains the dependencies needed by the system handlers.
type Config struct {
	Log   *logger.Logger
	Guard *guard.Guard
}

// Routes binds the system status endpoints.
func Routes(app *web.App, cfg Config) {
	app.HandlerFunc(http.MethodGet, "v1", "/system/status", status(cfg))
	app.HandlerFunc(http.MethodPut, "v1", "/system/status", setStatus(cfg))
}

type statusRequest struct {
	Enabled *bool  `json:"enabled" validate:"required"`
	Reason  string `json:"reason" validate:"max=256"`
}

type statusResponse guard.SystemStatus

// Encode implements the web.Encoder interface.
func (sr statusResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(guard.SystemStatus(sr))
	return data, "application/json", err
}

func status(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return statusResponse(cfg.Guard.Status(ctx))
	}
}

func setStatus(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req statusRequest
		if err := web.Decode(r, &req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}
		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		s := guard.SystemStatus{Enabled: *req.Enabled, Reason: req.Reason}
		if err := cfg.Guard.SetStatus(ctx, s); err != nil {
			return errs.New(errs.Unavailable, err)
		}

		return statusResponse(s)
	}
}
