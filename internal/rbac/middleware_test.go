package rbac_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

func serve(t *testing.T, h http.Handler, userID int64, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/claims"+target, nil)
	if userID > 0 {
		req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequireScoped(t *testing.T) {
	f := newFixture(t)
	dept := int64(2)
	f.assign(1, f.role("approver", f.permission(rbac.ResourceExpenseClaim, rbac.ActionApprove, rbac.ScopeDepartment)), &dept, nil)

	mw := rbac.Middleware{Service: f.svc}
	target := func(r *http.Request) (*int64, *int64) {
		raw := r.URL.Query().Get("department")
		if raw == "" {
			return nil, nil
		}
		id, _ := strconv.ParseInt(raw, 10, 64)
		return &id, nil
	}
	var seen rbac.Decision
	h := mw.RequireScoped(rbac.ResourceExpenseClaim, rbac.ActionApprove, target)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = rbac.DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	require.Equal(t, http.StatusUnauthorized, serve(t, h, 0, "").Code)
	require.Equal(t, http.StatusForbidden, serve(t, h, 1, "").Code)
	require.Equal(t, http.StatusForbidden, serve(t, h, 1, "?department=3").Code)
	require.Equal(t, http.StatusNoContent, serve(t, h, 1, "?department=2").Code)
	require.True(t, seen.Allowed)
	require.Equal(t, rbac.ScopeDepartment, seen.EffectiveScope)
}

func TestRequirePermissionRejectsBadRequestShape(t *testing.T) {
	f := newFixture(t)
	h := rbac.Middleware{Service: f.svc}.RequirePermission("", rbac.ActionRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusInternalServerError, serve(t, h, 1, "").Code)
}

func TestRequireAnyAndAll(t *testing.T) {
	f := newFixture(t)
	f.assign(1, f.role("reader", f.permission(rbac.ResourceUser, rbac.ActionRead, rbac.ScopeAll)), nil, nil)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := rbac.Middleware{Service: f.svc}

	require.Equal(t, http.StatusOK, serve(t, mw.RequireAny("user:read", "user:delete")(ok), 1, "").Code)
	require.Equal(t, http.StatusForbidden, serve(t, mw.RequireAll("user:read", "user:delete")(ok), 1, "").Code)
	require.Equal(t, http.StatusOK, serve(t, mw.RequireAll(" USER:READ ", "user:read")(ok), 1, "").Code)
	require.Equal(t, http.StatusOK, serve(t, mw.RequireAll()(ok), 0, "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(t, mw.RequireAny("user:read")(ok), 0, "").Code)
}
