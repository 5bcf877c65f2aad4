package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// TargetFunc extracts the department and owner of the resource a request
// acts on. Either may be nil.
type TargetFunc func(r *http.Request) (departmentID *int64, ownerID *int64)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequirePermission gates the handler on a full CheckPermission decision.
func (m Middleware) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	return m.RequireScoped(resource, action, nil)
}

// RequireScoped is RequirePermission with a target department and owner
// taken from the request.
func (m Middleware) RequireScoped(resource Resource, action Action, target TargetFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			req := CheckRequest{UserID: userID, Resource: resource, Action: action}
			if target != nil {
				req.TargetDepartmentID, req.TargetOwnerID = target(r)
			}
			decision, err := m.Service.Engine.CheckPermission(r.Context(), req)
			if err != nil {
				m.logError("rbac require permission", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				m.logDenied(userID, req.Code(), decision.Reason)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithDecision(r.Context(), decision)))
		})
	}
}

// RequireAny ensures the current user holds at least one of the permission
// codes, using the cached effective-permission snapshot.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	return m.requireCodes(codes, false)
}

// RequireAll ensures the current user holds every permission code.
func (m Middleware) RequireAll(codes ...string) func(http.Handler) http.Handler {
	return m.requireCodes(codes, true)
}

func (m Middleware) requireCodes(codes []string, all bool) func(http.Handler) http.Handler {
	normalized := normalizePermissions(codes)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			snapshot, err := m.Service.Effective.GetEffectivePermissions(r.Context(), userID)
			if err != nil {
				m.logError("rbac require codes", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			granted := 0
			for _, code := range normalized {
				if snapshot.HasCode(code) {
					granted++
				}
			}
			if (all && granted == len(normalized)) || (!all && granted > 0) {
				next.ServeHTTP(w, r)
				return
			}
			m.logDenied(userID, strings.Join(normalized, ","), "missing required permissions")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func (m Middleware) logDenied(userID int64, code, reason string) {
	if m.Logger != nil {
		m.Logger.Info("rbac denied", slog.Int64("user_id", userID), slog.String("permission", code), slog.String("reason", reason))
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalizeCode(p)
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
