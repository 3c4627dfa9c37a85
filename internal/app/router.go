package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalis-health/vitalis/internal/auth"
	"github.com/vitalis-health/vitalis/internal/observability"
	"github.com/vitalis-health/vitalis/internal/rbac"
	rbachttp "github.com/vitalis-health/vitalis/internal/rbac/http"
	"github.com/vitalis-health/vitalis/internal/users"
	"github.com/vitalis-health/vitalis/jobs"
)

// RouterDeps aggregates the handlers mounted on the router.
type RouterDeps struct {
	Middlewares []func(http.Handler) http.Handler
	Auth        *auth.Handler
	Users       *users.Handler
	RBAC        *rbachttp.Handler
	RBACMw      rbac.Middleware
	Jobs        *jobs.Handler
	Metrics     *observability.Metrics
}

// NewRouter wires the HTTP routes.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	for _, mw := range deps.Middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/auth", deps.Auth.MountRoutes)

	// Every admin route requires an authenticated principal; per-route
	// permission gates are mounted by the handlers themselves.
	r.Group(func(r chi.Router) {
		r.Use(deps.RBACMw.RequireAuthenticated)
		r.Route("/users", deps.Users.MountRoutes)
		r.Route("/rbac", deps.RBAC.MountRoutes)
		if deps.Jobs != nil {
			r.Route("/jobs", deps.Jobs.MountRoutes)
		}
	})

	return r
}
