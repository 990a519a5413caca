package documents

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Route describes where a document kind is served and who may touch it.
type Route struct {
	Path       string
	Kind       Kind
	Capability rbac.Capability
}

// Routes lists the document endpoints. Posting endpoints hang off the same
// paths and are registered by the posting handler.
var Routes = []Route{
	{Path: "/purchase-orders", Kind: KindPurchaseOrder, Capability: rbac.CapPurchasing},
	{Path: "/goods-receipts", Kind: KindGoodsReceipt, Capability: rbac.CapPurchasing},
	{Path: "/sales-orders", Kind: KindSalesOrder, Capability: rbac.CapSales},
	{Path: "/shipments", Kind: KindShipment, Capability: rbac.CapSales},
}

// Handler exposes document lifecycle endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the documents handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers list, read, create and line endpoints for every
// kind, plus approval for orders.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, route := range Routes {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.Require(route.Capability))
			r.Get(route.Path, h.handleList(route.Kind))
			r.Post(route.Path, h.handleCreate(route.Kind))
			r.Get(route.Path+"/{id}", h.handleGet(route.Kind))
			r.Post(route.Path+"/{id}/lines", h.handleAddLine(route.Kind))
		})
		if route.Kind.IsOrder() {
			r.With(h.rbac.Require(rbac.CapApprove)).Post(route.Path+"/{id}/approve", h.handleApprove(route.Kind))
		}
	}
}

func (h *Handler) handleList(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Kind:   kind,
			Status: Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
			Limit:  httpx.IntQuery(r, "limit"),
			Offset: httpx.IntQuery(r, "offset"),
		}
		switch filter.Status {
		case "", StatusDraft, StatusApproved, StatusPosted:
		default:
			httpx.RespondError(w, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status))
			return
		}
		var err error
		if filter.CounterpartyID, err = httpx.OptionalInt64(q.Get("counterparty_id"), "counterparty_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.SourceID, err = httpx.OptionalInt64(q.Get("source_id"), "source_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		docs, err := h.service.List(r.Context(), filter)
		if err != nil {
			h.logger.Error("list documents", slog.String("kind", string(kind)), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, docs)
	}
}

func (h *Handler) handleCreate(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateInput
		if err := httpx.DecodeAndValidate(r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Kind = kind
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			input.CreatedBy = p.Actor()
		}
		doc, err := h.service.Create(r.Context(), input, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
		if err != nil {
			h.logger.Info("document rejected", slog.String("kind", string(kind)), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, doc)
	}
}

func (h *Handler) handleGet(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.Int64Param(chi.URLParam(r, "id"), "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.Get(r.Context(), id)
		if err == nil && doc.Kind != kind {
			err = fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind, id)
		}
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) handleAddLine(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.Int64Param(chi.URLParam(r, "id"), "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.ensureKind(r, id, kind); err != nil {
			httpx.RespondError(w, err)
			return
		}
		var input LineInput
		if err := httpx.DecodeAndValidate(r, &input); err != nil {
			httpx.RespondError(w, err)
			return
		}
		line, err := h.service.AddLine(r.Context(), id, input, actorFrom(r))
		if err != nil {
			h.logger.Info("line rejected", slog.Int64("document_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, line)
	}
}

func (h *Handler) handleApprove(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.Int64Param(chi.URLParam(r, "id"), "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.ensureKind(r, id, kind); err != nil {
			httpx.RespondError(w, err)
			return
		}
		doc, err := h.service.Approve(r.Context(), id, actorFrom(r))
		if err != nil {
			h.logger.Info("approve rejected", slog.Int64("document_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) ensureKind(r *http.Request, id int64, kind Kind) error {
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		return err
	}
	if doc.Kind != kind {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind, id)
	}
	return nil
}

func actorFrom(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.Actor()
	}
	return ""
}
