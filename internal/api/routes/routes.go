// Package routes binds every planner route.
package routes

import (
	"github.com/ahrav/schedule-armada/internal/api/mux"
	"github.com/ahrav/schedule-armada/internal/api/routes/generationapi"
	"github.com/ahrav/schedule-armada/internal/api/routes/health"
	"github.com/ahrav/schedule-armada/internal/api/routes/systemapi"
	"github.com/ahrav/schedule-armada/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		Ready: cfg.Ready,
	})

	generationapi.Routes(app, generationapi.Config{
		Log:     cfg.Log,
		Service: cfg.Generations,
	})

	if cfg.Guard != nil {
		systemapi.Routes(app, systemapi.Config{
			Log:   cfg.Log,
			Guard: cfg.Guard,
		})
	}
}
