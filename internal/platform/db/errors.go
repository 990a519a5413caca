package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Postgres SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeLockNotAvailable    = "55P03"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// MapError translates driver errors into shared error kinds, keeping the
// original error in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeSerialization, codeDeadlock:
		return fmt.Errorf("%w: %w", shared.ErrBusy, err)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s: %w", shared.ErrDuplicate, pgErr.ConstraintName, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s: %w", shared.ErrNotFound, pgErr.ConstraintName, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s: %w", shared.ErrValidation, pgErr.ConstraintName, err)
	default:
		return err
	}
}
