package rbachttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac/memstore"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const (
	adminID    int64 = 1
	employeeID int64 = 2
	outsiderID int64 = 3
)

type apiFixture struct {
	t      *testing.T
	svc    *rbac.Service
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := rbac.NewService(rbac.Options{Store: memstore.New(), Now: func() time.Time { return now }})
	_, err := svc.Seed(ctx, rbac.DefaultCatalog())
	require.NoError(t, err)

	for user, code := range map[int64]string{adminID: "super-admin", employeeID: "employee"} {
		role, err := svc.Roles.GetByCode(ctx, code)
		require.NoError(t, err)
		_, err = svc.Assignments.Assign(ctx, rbac.AssignInput{UserID: user, RoleID: role.ID})
		require.NoError(t, err)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if raw := req.Header.Get("X-User-ID"); raw != "" {
				id, _ := strconv.ParseInt(raw, 10, 64)
				req = req.WithContext(shared.ContextWithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return &apiFixture{t: t, svc: svc, router: r}
}

func (f *apiFixture) do(method, target string, principal int64, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(f.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(principal, 10))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestCheckReturnsDecision(t *testing.T) {
	f := newAPIFixture(t)
	owner := int64(99)

	rr := f.do(http.MethodPost, "/check", employeeID, map[string]any{
		"user_id": employeeID, "resource": "EXPENSE_CLAIM", "action": "UPDATE", "target_owner_id": owner,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decision := decode[rbac.Decision](t, rr)
	require.False(t, decision.Allowed)
	require.Equal(t, rbac.ReasonOwnScope, decision.Reason)

	rr = f.do(http.MethodPost, "/check", employeeID, map[string]any{
		"user_id": employeeID, "resource": "EXPENSE_CLAIM", "action": "UPDATE", "target_owner_id": employeeID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decision = decode[rbac.Decision](t, rr)
	require.True(t, decision.Allowed)
	require.Equal(t, rbac.ScopeOwn, decision.EffectiveScope)
}

func TestCheckOnBehalfOfAnotherUser(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]any{"user_id": employeeID, "resource": "ROLE", "action": "DELETE"}

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/check", 0, body).Code)
	require.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/check", outsiderID, body).Code)

	rr := f.do(http.MethodPost, "/check", adminID, body)
	require.Equal(t, http.StatusOK, rr.Code)
	decision := decode[rbac.Decision](t, rr)
	require.False(t, decision.Allowed)
	require.Equal(t, "no permission for role:delete", decision.Reason)
}

func TestCheckRejectsMalformedBodies(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/check", adminID, `{"user_id":`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/check", adminID, `{"user_id":1,"colour":"red"}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/check", adminID, map[string]any{"user_id": adminID, "action": "READ"}).Code)
}

func TestCheckBatch(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(http.MethodPost, "/check-batch", employeeID, map[string]any{
		"user_id": employeeID,
		"checks": []map[string]string{
			{"resource": "FILE", "action": "CREATE"},
			{"resource": "USER", "action": "DELETE"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[batchResponse](t, rr)
	require.Equal(t, map[string]bool{"file:create": true, "user:delete": false}, resp.Results)

	rr = f.do(http.MethodPost, "/check-batch", employeeID, map[string]any{"user_id": employeeID, "checks": []any{}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEffectiveAndHasRole(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(http.MethodGet, "/users/2/effective", employeeID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[effectiveResponse](t, rr)
	require.Equal(t, employeeID, body.UserID)
	require.Contains(t, body.Codes, "file:create")
	require.Len(t, body.Roles, 1)

	require.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/users/2/effective", outsiderID, nil).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/users/abc/effective", adminID, nil).Code)

	rr = f.do(http.MethodGet, "/users/2/roles/employee", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, decode[hasRoleResponse](t, rr).HasRole)

	rr = f.do(http.MethodGet, "/users/2/roles/manager?department_id=4", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, decode[hasRoleResponse](t, rr).HasRole)

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/users/2/roles/employee?department_id=x", adminID, nil).Code)
}

func TestPermissionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	in := map[string]any{"name": "Read Invoice", "resource": "INVOICE", "action": "READ", "scope": "ALL"}

	require.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/permissions/", employeeID, in).Code)

	rr := f.do(http.MethodPost, "/permissions/", adminID, in)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[rbac.Permission](t, rr)
	require.Equal(t, "invoice:read", created.Code)

	require.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/permissions/", adminID, in).Code)

	rr = f.do(http.MethodGet, "/permissions/?resource=INVOICE", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[[]rbac.Permission](t, rr), 1)

	target := "/permissions/" + strconv.FormatInt(created.ID, 10)
	rr = f.do(http.MethodPatch, target, adminID, map[string]any{"name": "View Invoice"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "View Invoice", decode[rbac.Permission](t, rr).Name)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, target, adminID, nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, target, adminID, nil).Code)

	system, err := f.svc.Catalog.GetByCode(context.Background(), "user:read")
	require.NoError(t, err)
	rr = f.do(http.MethodDelete, "/permissions/"+strconv.FormatInt(system.ID, 10), adminID, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestRoleAndAssignmentEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	read, err := f.svc.Catalog.GetByCode(ctx, "report:read")
	require.NoError(t, err)
	export, err := f.svc.Catalog.GetByCode(ctx, "report:export")
	require.NoError(t, err)

	rr := f.do(http.MethodPost, "/roles/", adminID, map[string]any{"code": "analyst", "name": "Analyst", "level": 20})
	require.Equal(t, http.StatusCreated, rr.Code)
	role := decode[rbac.Role](t, rr)
	base := "/roles/" + strconv.FormatInt(role.ID, 10)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodPut, base+"/permissions/"+strconv.FormatInt(read.ID, 10), adminID, nil).Code)
	require.Equal(t, http.StatusNoContent, f.do(http.MethodPut, base+"/permissions/"+strconv.FormatInt(read.ID, 10), adminID, nil).Code)

	rr = f.do(http.MethodPut, base+"/permissions", adminID, map[string]any{"permission_ids": []int64{read.ID, export.ID}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[[]rbac.Permission](t, rr), 2)

	rr = f.do(http.MethodPut, base+"/permissions", adminID, map[string]any{"permission_ids": []int64{read.ID, 99999}})
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(http.MethodGet, base+"/permissions", adminID, nil)
	require.Len(t, decode[[]rbac.Permission](t, rr), 2, "failed replace leaves grants untouched")

	rr = f.do(http.MethodPatch, base, adminID, map[string]any{"parent_role_id": role.ID})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	dept := int64(7)
	rr = f.do(http.MethodPost, "/assignments", adminID, map[string]any{"user_id": outsiderID, "role_id": role.ID, "department_id": dept})
	require.Equal(t, http.StatusOK, rr.Code)
	assignment := decode[rbac.Assignment](t, rr)
	require.NotNil(t, assignment.AssignedBy)
	require.Equal(t, adminID, *assignment.AssignedBy)

	rr = f.do(http.MethodPost, "/check", outsiderID, map[string]any{"user_id": outsiderID, "resource": "REPORT", "action": "EXPORT", "target_department_id": dept})
	require.True(t, decode[rbac.Decision](t, rr).Allowed)

	rr = f.do(http.MethodGet, "/users/3/assignments?active=true", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[[]rbac.Assignment](t, rr), 1)

	rr = f.do(http.MethodDelete, "/assignments", adminID, map[string]any{"user_id": outsiderID, "role_id": role.ID, "department_id": dept})
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(http.MethodGet, "/users/3/assignments?active=true", adminID, nil)
	require.Empty(t, decode[[]rbac.Assignment](t, rr))

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/assignments", adminID, map[string]any{"user_id": outsiderID}).Code)
	require.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/assignments", employeeID, map[string]any{"user_id": employeeID, "role_id": role.ID}).Code)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, base, adminID, nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, base, adminID, nil).Code)
}
