package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It expects
// auth.Middleware to have attached a principal.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current user holds at least one of the roles.
func (m Middleware) RequireAny(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if err := Check(principal, roles...); err != nil {
				if m.Logger != nil {
					m.Logger.Info("rbac denied",
						slog.String("actor", principal.Email),
						slog.String("role", string(principal.Role)),
						slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require gates a route on a named capability.
func (m Middleware) Require(c Capability) func(http.Handler) http.Handler {
	return m.RequireAny(roleSets[c]...)
}
