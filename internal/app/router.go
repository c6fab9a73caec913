package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-crm/meridian-crm/internal/identity"
	"github.com/meridian-crm/meridian-crm/internal/observability"
	"github.com/meridian-crm/meridian-crm/internal/roles"
	"github.com/meridian-crm/meridian-crm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Auth         identity.Middleware
	RolesHandler *roles.Handler
	JobsHandler  *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.RolesHandler != nil {
		r.Route("/api/roles", func(r chi.Router) {
			r.Use(params.Auth.RequireAuth)
			params.RolesHandler.MountRoutes(r)
		})
	}

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
