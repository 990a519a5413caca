// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	code := shared.Code(err)
	switch {
	case errors.Is(err, shared.ErrBusy):
		w.Header().Set("Retry-After", "1")
		problem(w, http.StatusServiceUnavailable, "Busy", err.Error(), code, true)
	case errors.Is(err, shared.ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", err.Error(), code, false)
	case errors.Is(err, shared.ErrInvalidTransition):
		problem(w, http.StatusConflict, "Invalid Transition", err.Error(), code, false)
	case errors.Is(err, shared.ErrDuplicate):
		problem(w, http.StatusConflict, "Duplicate", err.Error(), code, false)
	case errors.Is(err, shared.ErrInsufficientStock):
		problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), code, false)
	case errors.Is(err, shared.ErrInvalidQuantity),
		errors.Is(err, shared.ErrInvalidCost),
		errors.Is(err, shared.ErrInvalidLine),
		errors.Is(err, shared.ErrValidation):
		problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), code, false)
	case errors.Is(err, shared.ErrInvalidCredentials), errors.Is(err, shared.ErrUnauthorized):
		problem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), code, false)
	case errors.Is(err, shared.ErrForbidden):
		problem(w, http.StatusForbidden, "Forbidden", err.Error(), code, false)
	default:
		problem(w, http.StatusInternalServerError, "Internal Error", "", code, false)
	}
}
