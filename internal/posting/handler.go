package posting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/documents"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
)

// Handler exposes posting endpoints next to the document routes.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the posting handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers POST {path}/{id}/post for every posting kind.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.CapApprove))
		for _, route := range documents.Routes {
			if route.Kind.IsPosting() {
				r.Post(route.Path+"/{id}/post", h.handlePost(route.Kind))
			}
		}
	})
}

func (h *Handler) handlePost(kind documents.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.Int64Param(chi.URLParam(r, "id"), "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		actor := ""
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			actor = p.Actor()
		}
		posted, err := h.service.PostKind(r.Context(), kind, id, actor)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, posted)
	}
}
