package rbachttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const checkRateLimit = 600
const rateWindow = time.Minute

// MountRoutes registers the RBAC API under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(checkRateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/check", h.handleCheck)
		gr.Post("/check-batch", h.handleCheckBatch)
	})
	r.Get("/users/{userID}/effective", h.handleEffective)
	r.Get("/users/{userID}/roles/{code}", h.handleHasRole)
	r.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionRead)).Get("/users/{userID}/assignments", h.handleUserAssignments)

	r.Route("/permissions", func(pr chi.Router) {
		pr.With(h.guard.RequirePermission(rbac.ResourcePermission, rbac.ActionList)).Get("/", h.handleListPermissions)
		pr.With(h.guard.RequirePermission(rbac.ResourcePermission, rbac.ActionCreate)).Post("/", h.handleCreatePermission)
		pr.With(h.guard.RequirePermission(rbac.ResourcePermission, rbac.ActionRead)).Get("/{permissionID}", h.handleGetPermission)
		pr.With(h.guard.RequirePermission(rbac.ResourcePermission, rbac.ActionUpdate)).Patch("/{permissionID}", h.handleUpdatePermission)
		pr.With(h.guard.RequirePermission(rbac.ResourcePermission, rbac.ActionDelete)).Delete("/{permissionID}", h.handleDeletePermission)
	})

	r.Route("/roles", func(rr chi.Router) {
		rr.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionList)).Get("/", h.handleListRoles)
		rr.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionCreate)).Post("/", h.handleCreateRole)
		rr.Route("/{roleID}", func(one chi.Router) {
			one.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionRead)).Get("/", h.handleGetRole)
			one.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionUpdate)).Patch("/", h.handleUpdateRole)
			one.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionDelete)).Delete("/", h.handleDeleteRole)
			one.With(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionRead)).Get("/permissions", h.handleRolePermissions)
			one.Group(func(grants chi.Router) {
				grants.Use(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionUpdate))
				grants.Put("/permissions", h.handleSetRolePermissions)
				grants.Put("/permissions/{permissionID}", h.handleGrant)
				grants.Delete("/permissions/{permissionID}", h.handleRevoke)
			})
		})
	})

	r.Group(func(ar chi.Router) {
		ar.Use(h.guard.RequirePermission(rbac.ResourceRole, rbac.ActionUpdate))
		ar.Post("/assignments", h.handleAssign)
		ar.Delete("/assignments", h.handleUnassign)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
