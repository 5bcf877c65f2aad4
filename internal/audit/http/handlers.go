// Package audithttp serves the access decision timeline.
package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 50
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
	dateLayout       = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves decision timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	guard   rbac.Middleware
	now     func() time.Time
}

// NewHandler constructs the audit handler. svc supplies the permission checks
// guarding each route.
func NewHandler(logger *slog.Logger, service TimelineService, svc *rbac.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		guard:   rbac.Middleware{Service: svc, Logger: logger},
		now:     time.Now,
	}
}

type validationError struct {
	field string
}

func (e validationError) Error() string {
	return fmt.Sprintf("invalid %s", e.field)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.respondError(w, "load audit timeline", err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.respondError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.respondError(w, "export audit timeline", err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.respondError(w, "export audit timeline", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"rbac-decisions.csv\"")
	if err := audit.WriteCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var verr validationError
	switch {
	case errors.As(err, &verr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verr.Error())
	case errors.Is(err, audit.ErrInvalidFilter):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// parseFilters reads from/to as inclusive dates; the returned To is the start
// of the day after.
func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	query := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(query.Get("to"))
	if toStr == "" {
		toStr = now.Format(dateLayout)
	}
	toDay, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "to"}
	}
	fromStr := strings.TrimSpace(query.Get("from"))
	if fromStr == "" {
		fromStr = toDay.Add(-defaultDateRange).Format(dateLayout)
	}
	fromDay, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "from"}
	}
	if fromDay.After(toDay) || toDay.Sub(fromDay) > maxDateRange {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}

	filters := audit.TimelineFilters{
		From:     fromDay,
		To:       toDay.AddDate(0, 0, 1),
		Resource: strings.TrimSpace(query.Get("resource")),
		Outcome:  audit.Outcome(strings.ToLower(strings.TrimSpace(query.Get("outcome")))),
		Page:     1,
		PageSize: defaultPageSize,
	}
	if !filters.Outcome.Valid() {
		return audit.TimelineFilters{}, validationError{field: "outcome"}
	}
	if v := strings.TrimSpace(query.Get("user_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return audit.TimelineFilters{}, validationError{field: "user_id"}
		}
		filters.UserID = &id
	}
	if v := strings.TrimSpace(query.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page"}
		}
		filters.Page = parsed
	}
	if v := strings.TrimSpace(query.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page_size"}
		}
		filters.PageSize = min(parsed, maxPageSize)
	}
	return filters, nil
}
