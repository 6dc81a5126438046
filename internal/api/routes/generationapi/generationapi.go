// Package generationapi serves the schedule generation endpoints.
package generationapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ahrav/schedule-armada/internal/api/errs"
	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// UserIDHeader identifies the caller for usage limits.
const UserIDHeader = "X-User-ID"

// Config contains the dependencies needed by the generation handlers.
type Config struct {
	Log     *logger.Logger
	Service *appgen.Service
}

// Routes binds all the generation endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	api := newAPI(cfg)
	app.HandlerFunc(http.MethodPost, version, "/generations", api.generate)
	app.HandlerFunc(http.MethodPost, version, "/generations/async", api.kickoff)
	app.HandlerFunc(http.MethodGet, version, "/generations/{id}", api.get)
	app.HandlerFunc(http.MethodPost, version, "/generations/{id}/cancel", api.cancel)
}

type api struct {
	log *logger.Logger
	svc *appgen.Service
}

func newAPI(cfg Config) *api {
	return &api{log: cfg.Log, svc: cfg.Service}
}

func decodeRequest(r *http.Request) (generateRequest, *errs.Error) {
	var req generateRequest
	if err := web.Decode(r, &req); err != nil {
		return req, errs.New(errs.InvalidArgument, err)
	}
	if err := errs.Check(req); err != nil {
		return req, errs.New(errs.InvalidArgument, err)
	}
	return req, nil
}

func (a *api) generate(ctx context.Context, r *http.Request) web.Encoder {
	req, derr := decodeRequest(r)
	if derr != nil {
		return derr
	}
	domainReq, err := req.toDomain(r.Header.Get(UserIDHeader))
	if err != nil {
		return errs.FromApp(err)
	}

	res, err := a.svc.Generate(ctx, appgen.GenerateRequest{
		Request:  domainReq,
		Limit:    req.Limit,
		Deadline: req.deadline(),
	})
	if err != nil {
		return errs.FromApp(err)
	}

	return syncResponse{
		Status:       res.Outcome,
		GenerationID: res.GenerationID.String(),
		Count:        res.Count(),
		Combinations: toCombinationViews(res.Combinations, wantsWeekly(r)),
	}
}

func (a *api) kickoff(ctx context.Context, r *http.Request) web.Encoder {
	req, derr := decodeRequest(r)
	if derr != nil {
		return derr
	}
	if req.DeadlineMS != 0 {
		return errs.Newf(errs.InvalidArgument, "deadline_ms applies to synchronous generations only")
	}
	domainReq, err := req.toDomain(r.Header.Get(UserIDHeader))
	if err != nil {
		return errs.FromApp(err)
	}

	g, err := a.svc.Kickoff(ctx, domainReq, req.Limit)
	if err != nil {
		return errs.FromApp(err)
	}

	return kickoffResponse{
		GenerationID: g.ID().String(),
		Status:       g.Status(),
		Limit:        g.Limit(),
	}
}

func (a *api) get(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	g, combos, err := a.svc.Get(ctx, id)
	if err != nil {
		return errs.FromApp(err)
	}

	return generationResponse{
		Generation:   g,
		Combinations: toCombinationViews(combos, wantsWeekly(r)),
	}
}

func (a *api) cancel(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	g, err := a.svc.Cancel(ctx, id)
	if err != nil {
		return errs.FromApp(err)
	}

	return recordResponse{g}
}

func parseID(r *http.Request) (uuid.UUID, *errs.Error) {
	id, err := uuid.Parse(web.Param(r, "id"))
	if err != nil {
		return uuid.Nil, errs.Newf(errs.InvalidArgument, "invalid generation id %q", web.Param(r, "id"))
	}
	return id, nil
}

func wantsWeekly(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("view"), "weekly")
}
