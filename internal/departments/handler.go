package departments

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const defaultLimit = 20

var errorMappings = []httpx.ErrorMapping{
	{Target: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrInvalidParent, Status: http.StatusUnprocessableEntity, Title: "Invalid Parent"},
}

// Handler serves department endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds the department handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: guard}
}

type listResponse struct {
	Departments []Department      `json:"departments"`
	Pagination  shared.Pagination `json:"pagination"`
}

// MountRoutes registers department routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(rbac.ResourceDepartment, rbac.ActionList)).Get("/", h.list)
	r.With(h.rbac.RequirePermission(rbac.ResourceDepartment, rbac.ActionCreate)).Post("/", h.create)
	r.With(h.rbac.RequirePermission(rbac.ResourceDepartment, rbac.ActionRead)).Get("/{id}", h.show)
	r.With(h.rbac.RequirePermission(rbac.ResourceDepartment, rbac.ActionUpdate)).Put("/{id}", h.update)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultLimit
	}
	filters := ListFilters{Page: page, Limit: limit, Search: r.URL.Query().Get("search")}
	if raw := r.URL.Query().Get("parent_id"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.ParentID = &parsed
		}
	}
	depts, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.fail(w, "list departments failed", err)
		return
	}
	if depts == nil {
		depts = []Department{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Departments: depts, Pagination: shared.NewPagination(page, limit, total)})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
		return
	}
	dept, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get department failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dept)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dept, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create department failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dept)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
		return
	}
	var in Input
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dept, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update department failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dept)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err, errorMappings...)
}
