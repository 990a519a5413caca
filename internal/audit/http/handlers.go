package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const maxDateRangeHours = 24 * 90

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves the audit log listing.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	rbac    rbac.Middleware
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	var filters audit.TimelineFilters
	var err error
	if filters.From, err = parseDate(q.Get("from"), "from"); err != nil {
		return audit.TimelineFilters{}, err
	}
	if filters.To, err = parseDate(q.Get("to"), "to"); err != nil {
		return audit.TimelineFilters{}, err
	}
	if !filters.To.IsZero() {
		// inclusive of the whole day
		filters.To = filters.To.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return audit.TimelineFilters{}, fmt.Errorf("%w: from is after to", shared.ErrValidation)
		}
		if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
			return audit.TimelineFilters{}, fmt.Errorf("%w: range exceeds 90 days", shared.ErrValidation)
		}
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, fmt.Errorf("%w: invalid page %q", shared.ErrValidation, v)
		}
		filters.Page = parsed
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, fmt.Errorf("%w: invalid page_size %q", shared.ErrValidation, v)
		}
		filters.PageSize = parsed
	}
	if filters.RefID, err = httpx.OptionalInt64(q.Get("ref_id"), "ref_id"); err != nil {
		return audit.TimelineFilters{}, err
	}
	filters.Actor = strings.TrimSpace(q.Get("actor"))
	filters.Module = strings.TrimSpace(q.Get("module"))
	filters.Action = strings.TrimSpace(q.Get("action"))
	return filters, nil
}

func parseDate(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, field, raw)
	}
	return t, nil
}
