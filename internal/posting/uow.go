package posting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/documents"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Tx is the view of every store a posting touches inside one atomic unit.
type Tx interface {
	Documents() documents.TxRepository
	Inventory() inventory.TxRepository
}

// UnitOfWork runs fn atomically: every write fn makes is committed together
// when it returns nil and discarded otherwise.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

type unit struct {
	docs documents.TxRepository
	inv  inventory.TxRepository
}

func (u unit) Documents() documents.TxRepository { return u.docs }
func (u unit) Inventory() inventory.TxRepository { return u.inv }

// PGUnitOfWork binds both stores to one PostgreSQL transaction.
type PGUnitOfWork struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ UnitOfWork = (*PGUnitOfWork)(nil)

// NewPGUnitOfWork constructs PGUnitOfWork. lockTimeout bounds every row-lock
// wait inside the transaction; exhaustion surfaces as shared.ErrBusy.
func NewPGUnitOfWork(pool *pgxpool.Pool, lockTimeout time.Duration) *PGUnitOfWork {
	return &PGUnitOfWork{pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in a READ COMMITTED transaction. The document row and each
// balance row are locked FOR UPDATE as they are first touched.
func (u *PGUnitOfWork) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTxOptions(ctx, u.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(pgTx pgx.Tx) error {
		if err := db.SetLockTimeout(ctx, pgTx, u.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, unit{
			docs: documents.NewTxRepository(pgTx),
			inv:  inventory.NewTxRepository(pgTx),
		})
	})
}

// MemoryUnitOfWork composes the in-memory document and inventory stores.
type MemoryUnitOfWork struct {
	docs *documents.MemoryRepository
	inv  *inventory.MemoryRepository
}

var _ UnitOfWork = (*MemoryUnitOfWork)(nil)

// NewMemoryUnitOfWork constructs MemoryUnitOfWork.
func NewMemoryUnitOfWork(docs *documents.MemoryRepository, inv *inventory.MemoryRepository) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{docs: docs, inv: inv}
}

// WithTx stages writes in both stores and publishes them when fn succeeds.
// The document status is published while the inventory store is still
// write-locked, so no reader sees new balances next to a draft document.
func (u *MemoryUnitOfWork) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	docTx := u.docs.Begin()
	invTx := u.inv.Begin()
	if err := fn(ctx, unit{docs: docTx, inv: invTx}); err != nil {
		invTx.Rollback()
		docTx.Rollback()
		return err
	}
	invTx.CommitWith(docTx.Commit)
	return nil
}
