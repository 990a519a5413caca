package shared

import "errors"

// Error kinds shared by every module. Domain packages wrap these with context
// so callers can match with errors.Is and still see which document, line or
// id was at fault.
var (
	// ErrInvalidQuantity indicates a movement quantity that is not positive.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidCost indicates a negative unit cost or price.
	ErrInvalidCost = errors.New("invalid cost")
	// ErrInsufficientStock indicates an issue larger than the quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition indicates a lifecycle transition from the wrong status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidLine indicates a document line failing validation.
	ErrInvalidLine = errors.New("invalid line")
	// ErrBusy indicates lock contention; the operation may be retried.
	ErrBusy = errors.New("resource busy, retry later")

	// ErrValidation indicates malformed input outside the posting core.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrUnauthorized indicates a missing or invalid token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsRetryable reports whether err is transient. Only contention is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidCost):
		return "invalid_cost"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
