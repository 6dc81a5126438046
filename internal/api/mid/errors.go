package mid

import (
	"context"
	"net/http"
	"path"

	"github.com/ahrav/schedule-armada/internal/api/errs"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// Errors handles errors coming out of the call chain. Errors that are not
// already API errors are mapped from their application kind.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err, isError := resp.(error)
			if !isError {
				return resp
			}

			appErr := errs.GetError(err)
			if appErr == nil {
				appErr = errs.FromApp(err)
			}

			if appErr.HTTPStatus() >= http.StatusInternalServerError {
				log.Error(ctx, "handled error during request",
					"err", err,
					"source_err_file", path.Base(appErr.FileName),
					"source_err_func", path.Base(appErr.FuncName))
			} else {
				log.Warn(ctx, "request rejected", "code", appErr.Code.String(), "err", err)
			}

			// Internal details stay in the logs.
			if appErr.Code == errs.Internal {
				appErr = errs.Newf(errs.Internal, "internal server error")
			}

			return appErr
		}

		return h
	}

	return m
}
