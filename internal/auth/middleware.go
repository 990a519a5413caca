package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Verifier resolves bearer tokens.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// Middleware rejects requests without a valid bearer token and attaches the
// principal to the request context.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httpx.RespondError(w, fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized))
				return
			}
			principal, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
