package masterdata

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes master data over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a master data handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapInventoryRead))
		r.Get("/items", h.listItems)
		r.Get("/items/{id}", h.getItem)
		r.Get("/warehouses", h.listWarehouses)
		r.Get("/warehouses/{id}", h.getWarehouse)
		r.Get("/vendors", h.listPartners(KindVendor))
		r.Get("/vendors/{id}", h.getPartner(KindVendor))
		r.Get("/customers", h.listPartners(KindCustomer))
		r.Get("/customers/{id}", h.getPartner(KindCustomer))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapApprove))
		r.Post("/items", h.createItem)
		r.Post("/warehouses", h.createWarehouse)
	})
	r.With(h.rbac.Require(rbac.CapPurchasing)).Post("/vendors", h.createPartner(KindVendor))
	r.With(h.rbac.Require(rbac.CapSales)).Post("/customers", h.createPartner(KindCustomer))
}

func filtersFrom(r *http.Request) ListFilters {
	return ListFilters{
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:  httpx.IntQuery(r, "limit"),
		Offset: httpx.IntQuery(r, "offset"),
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), filtersFrom(r))
	h.respond(w, http.StatusOK, items, err)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		item, err := h.service.GetItem(r.Context(), id)
		h.respond(w, http.StatusOK, item, err)
	})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var in ItemInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), in)
	h.respond(w, http.StatusCreated, item, err)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	whs, err := h.service.ListWarehouses(r.Context(), filtersFrom(r))
	h.respond(w, http.StatusOK, whs, err)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	withID(w, r, func(id int64) {
		wh, err := h.service.GetWarehouse(r.Context(), id)
		h.respond(w, http.StatusOK, wh, err)
	})
}

func (h *Handler) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var in WarehouseInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	wh, err := h.service.CreateWarehouse(r.Context(), in)
	h.respond(w, http.StatusCreated, wh, err)
}

func (h *Handler) listPartners(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := h.service.ListPartners(r.Context(), kind, filtersFrom(r))
		h.respond(w, http.StatusOK, ps, err)
	}
}

func (h *Handler) getPartner(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withID(w, r, func(id int64) {
			p, err := h.service.GetPartner(r.Context(), kind, id)
			h.respond(w, http.StatusOK, p, err)
		})
	}
}

func (h *Handler) createPartner(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in PartnerInput
		if err := httpx.DecodeAndValidate(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
		p, err := h.service.CreatePartner(r.Context(), kind, in)
		h.respond(w, http.StatusCreated, p, err)
	}
}

func withID(w http.ResponseWriter, r *http.Request, fn func(int64)) {
	id, err := httpx.Int64Param(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fn(id)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		if shared.Code(err) == "internal" {
			h.logger.Error("masterdata request", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, body)
}

