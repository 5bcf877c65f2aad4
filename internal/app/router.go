package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	"github.com/odyssey-erp/odyssey-authz/internal/departments"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	rbachttp "github.com/odyssey-erp/odyssey-authz/internal/rbac/http"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RBACHandler        *rbachttp.Handler
	AuditHandler       *audithttp.Handler
	DepartmentsHandler *departments.Handler
	UsersHandler       *users.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Route("/rbac", func(rr chi.Router) {
			if params.RBACHandler != nil {
				params.RBACHandler.MountRoutes(rr)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(rr)
			}
		})
		if params.DepartmentsHandler != nil {
			api.Route("/departments", params.DepartmentsHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			api.Route("/users", params.UsersHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
