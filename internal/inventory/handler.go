package inventory

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryRead))
		r.Get("/balances", h.handleListBalances)
		r.Get("/balances/{item}/{warehouse}", h.handleGetBalance)
		r.Get("/ledger", h.handleLedger)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryAdjust))
		r.Post("/adjustments", h.handleAdjustment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapAdmin))
		r.Post("/reconcile", h.handleReconcile)
	})
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err := httpx.OptionalInt64(q.Get("item_id"), "item_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := httpx.OptionalInt64(q.Get("warehouse_id"), "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.ListBalances(r.Context(), BalanceFilter{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		NonZeroOnly: q.Get("non_zero") == "true",
	})
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.Int64Param(chi.URLParam(r, "item"), "item")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := httpx.Int64Param(chi.URLParam(r, "warehouse"), "warehouse")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Balance(r.Context(), Key{ItemID: itemID, WarehouseID: warehouseID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{
		RefType: strings.ToUpper(strings.TrimSpace(q.Get("ref_type"))),
		Limit:   httpx.IntQuery(r, "limit"),
		Offset:  httpx.IntQuery(r, "offset"),
	}
	var err error
	if filter.ItemID, err = httpx.OptionalInt64(q.Get("item_id"), "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.OptionalInt64(q.Get("warehouse_id"), "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.RefID, err = httpx.OptionalInt64(q.Get("ref_id"), "ref_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

type adjustmentResponse struct {
	Entry   LedgerEntry `json:"entry"`
	Balance Balance     `json:"balance"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var input AdjustmentInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		input.Actor = p.Actor()
	}
	entry, balance, err := h.service.Adjust(r.Context(), input, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.logger.Info("adjustment rejected", slog.Int64("item_id", input.ItemID), slog.Int64("warehouse_id", input.WarehouseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adjustmentResponse{Entry: entry, Balance: balance})
}

type reconcileResponse struct {
	Drifted []ReconcileResult `json:"drifted"`
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	drifted, err := h.service.ReconcileAll(r.Context())
	if err != nil {
		h.logger.Error("reconcile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reconcileResponse{Drifted: drifted})
}
