package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapReports))
		r.Get("/inventory-valuation", h.handleValuation)
		r.Get("/vendors", h.handlePartners(SideVendor))
		r.Get("/customers", h.handlePartners(SideCustomer))
		r.Get("/dashboard", h.handleDashboard)
	})
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ValuationFilter
	var err error
	if filter.WarehouseID, err = httpx.OptionalInt64(q.Get("warehouse_id"), "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.ItemID, err = httpx.OptionalInt64(q.Get("item_id"), "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.InventoryValuation(r.Context(), filter)
	if err != nil {
		h.fail(w, "inventory valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handlePartners(side string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		period, err := parsePeriod(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var out PartnerSummary
		if side == SideVendor {
			out, err = h.service.VendorSummary(r.Context(), period)
		} else {
			out, err = h.service.CustomerSummary(r.Context(), period)
		}
		if err != nil {
			h.fail(w, side+" summary", err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.OptionalInt64(r.URL.Query().Get("warehouse_id"), "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Dashboard(r.Context(), warehouseID)
	if err != nil {
		h.fail(w, "dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, report string, err error) {
	if shared.Code(err) == "internal" {
		h.logger.Error("report failed", slog.String("report", report), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parsePeriod reads from/to as YYYY-MM-DD; to covers the whole day.
func parsePeriod(r *http.Request) (PeriodFilter, error) {
	var period PeriodFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return PeriodFilter{}, fmt.Errorf("%w: from must be YYYY-MM-DD", shared.ErrValidation)
		}
		period.From = &from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return PeriodFilter{}, fmt.Errorf("%w: to must be YYYY-MM-DD", shared.ErrValidation)
		}
		to = to.AddDate(0, 0, 1)
		period.To = &to
	}
	return period, nil
}
