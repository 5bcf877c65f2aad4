package rbachttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

var errorMappings = []httpx.ErrorMapping{
	{Target: rbac.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: rbac.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: rbac.ErrDuplicateCode, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: rbac.ErrSystemProtected, Status: http.StatusConflict, Title: "Protected"},
	{Target: rbac.ErrInvalidParent, Status: http.StatusUnprocessableEntity, Title: "Invalid Parent"},
	{Target: rbac.ErrParentNotFound, Status: http.StatusUnprocessableEntity, Title: "Invalid Parent"},
}

// Handler exposes the RBAC core over JSON.
type Handler struct {
	logger *slog.Logger
	svc    *rbac.Service
	guard  rbac.Middleware
}

// NewHandler constructs the RBAC HTTP handler.
func NewHandler(logger *slog.Logger, svc *rbac.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger: logger,
		svc:    svc,
		guard:  rbac.Middleware{Service: svc, Logger: logger},
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if !clientError(err) {
		h.logger.Error("rbac http", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func clientError(err error) bool {
	if errors.Is(err, httpx.ErrMalformedBody) {
		return true
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.Target) {
			return true
		}
	}
	return false
}

// subject resolves the user a read concerns. Callers may always read about
// themselves; reading another user needs ROLE:READ.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request, userID int64) bool {
	principal, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return false
	}
	if principal == userID {
		return true
	}
	decision, err := h.svc.Engine.CheckPermission(r.Context(), rbac.CheckRequest{
		UserID:   principal,
		Resource: rbac.ResourceRole,
		Action:   rbac.ActionRead,
	})
	if err != nil {
		h.respondError(w, r, err)
		return false
	}
	if !decision.Allowed {
		h.logger.Info("rbac denied", slog.Int64("user_id", principal), slog.Int64("subject", userID), slog.String("reason", decision.Reason))
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return false
	}
	return true
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req rbac.CheckRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if !h.subject(w, r, req.UserID) {
		return
	}
	decision, err := h.svc.CheckPermission(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.respondError(w, r, validationError(err))
		return
	}
	if !h.subject(w, r, req.UserID) {
		return
	}
	result, err := h.svc.Engine.CheckPermissions(r.Context(), req.UserID, req.Checks)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{UserID: req.UserID, Results: result})
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok || !h.subject(w, r, userID) {
		return
	}
	snapshot, err := h.svc.Effective.GetEffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{EffectivePermissions: snapshot, Codes: snapshot.Codes()})
}

func (h *Handler) handleHasRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok || !h.subject(w, r, userID) {
		return
	}
	departmentID, err := optionalQueryID(r, "department_id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")
	has, err := h.svc.Engine.HasRole(r.Context(), userID, code, departmentID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, hasRoleResponse{UserID: userID, Role: code, DepartmentID: departmentID, HasRole: has})
}

func (h *Handler) handleUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var (
		list []rbac.Assignment
		err  error
	)
	if r.URL.Query().Get("active") == "true" {
		var departmentID *int64
		departmentID, err = optionalQueryID(r, "department_id")
		if err == nil {
			list, err = h.svc.Assignments.ActiveAssignments(r.Context(), userID, departmentID)
		}
	} else {
		list, err = h.svc.Assignments.ListForUser(r.Context(), userID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []rbac.Assignment{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	filter := rbac.PermissionFilter{
		Resource:   rbac.Resource(r.URL.Query().Get("resource")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	perms, err := h.svc.Catalog.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var in rbac.PermissionInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	p, err := h.svc.Catalog.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	p, err := h.svc.Catalog.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var patch rbac.PermissionPatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		h.respondError(w, r, err)
		return
	}
	p, err := h.svc.Catalog.Update(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.svc.Catalog.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Roles.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.svc.Roles.Create(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.svc.Roles.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var patch rbac.RolePatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.svc.Roles.Update(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.svc.Roles.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.svc.Roles.Permissions(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.svc.Roles.SetPermissions(r.Context(), id, req.PermissionIDs, actor(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.handleRolePermissions(w, r)
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.svc.Roles.GrantPermission(r.Context(), roleID, permissionID, actor(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.svc.Roles.RevokePermission(r.Context(), roleID, permissionID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var in rbac.AssignInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	in.AssignedBy = actor(r)
	a, err := h.svc.Assignments.Assign(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) handleUnassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.respondError(w, r, validationError(err))
		return
	}
	if err := h.svc.Assignments.Revoke(r.Context(), req.UserID, req.RoleID, req.DepartmentID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func optionalQueryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: invalid %s", rbac.ErrValidation, name)
	}
	return &id, nil
}

func actor(r *http.Request) *int64 {
	id, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		return nil
	}
	return &id
}
