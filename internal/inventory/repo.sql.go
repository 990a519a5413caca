package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository persists balances and the ledger in PostgreSQL.
type PGRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs PGRepository. lockTimeout bounds row-lock waits.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PGRepository {
	return &PGRepository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken by
// UpsertBalance serialise writers per key while later readers see the latest
// committed row.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if err := db.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q querier
}

// NewTxRepository binds the balance store and ledger to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

func (r *txRepository) GetBalance(ctx context.Context, key Key) (Balance, bool, error) {
	return getBalance(ctx, r.q, key)
}

func (r *txRepository) UpsertBalance(ctx context.Context, key Key, fn Mutator) (Balance, error) {
	// Create the row lazily so there is always something to lock.
	if _, err := r.q.Exec(ctx, `INSERT INTO inventory_balances (item_id, warehouse_id, qty, avg_cost)
VALUES ($1, $2, 0, 0) ON CONFLICT (item_id, warehouse_id) DO NOTHING`, key.ItemID, key.WarehouseID); err != nil {
		return Balance{}, fmt.Errorf("inventory: ensure balance %s: %w", key, db.MapError(err))
	}

	current := Balance{Key: key}
	err := r.q.QueryRow(ctx, `SELECT qty, avg_cost, updated_at FROM inventory_balances
WHERE item_id = $1 AND warehouse_id = $2 FOR UPDATE`, key.ItemID, key.WarehouseID).
		Scan(&current.Qty, &current.AvgCost, &current.UpdatedAt)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: lock balance %s: %w", key, db.MapError(err))
	}

	next, err := fn(current.State())
	if err != nil {
		return current, err
	}

	updated := Balance{Key: key, Qty: next.Qty, AvgCost: next.AvgCost}
	err = r.q.QueryRow(ctx, `UPDATE inventory_balances SET qty = $3, avg_cost = $4, updated_at = NOW()
WHERE item_id = $1 AND warehouse_id = $2 RETURNING updated_at`, key.ItemID, key.WarehouseID, next.Qty, next.AvgCost).
		Scan(&updated.UpdatedAt)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: update balance %s: %w", key, db.MapError(err))
	}
	return updated, nil
}

func (r *txRepository) AppendEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO ledger_entries
(entry_type, direction, item_id, warehouse_id, qty, unit_cost, ref_type, ref_id, batch_id, actor, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at`,
		entry.Type, entry.Direction, entry.ItemID, entry.WarehouseID, entry.Qty, entry.UnitCost,
		entry.RefType, entry.RefID, nullUUID(entry.BatchID), entry.Actor, entry.Note,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: append ledger entry: %w", db.MapError(err))
	}
	return entry, nil
}

// GetBalance reads one balance row without locking.
func (r *PGRepository) GetBalance(ctx context.Context, key Key) (Balance, bool, error) {
	return getBalance(ctx, r.pool, key)
}

// ListBalances returns balances ordered by item and warehouse.
func (r *PGRepository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	query := `SELECT item_id, warehouse_id, qty, avg_cost, updated_at FROM inventory_balances WHERE 1=1`
	args := []any{}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		query += ` AND item_id = $` + strconv.Itoa(len(args))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		query += ` AND warehouse_id = $` + strconv.Itoa(len(args))
	}
	if filter.NonZeroOnly {
		query += ` AND qty <> 0`
	}
	query += ` ORDER BY item_id, warehouse_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: list balances: %w", db.MapError(err))
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.WarehouseID, &b.Qty, &b.AvgCost, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListLedger returns entries newest first. The caller clamps the limit.
func (r *PGRepository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var where []string
	args := []any{}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where = append(where, `item_id = $`+strconv.Itoa(len(args)))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, `warehouse_id = $`+strconv.Itoa(len(args)))
	}
	if filter.RefType != "" {
		args = append(args, filter.RefType)
		where = append(where, `ref_type = $`+strconv.Itoa(len(args)))
	}
	if filter.RefID > 0 {
		args = append(args, filter.RefID)
		where = append(where, `ref_id = $`+strconv.Itoa(len(args)))
	}

	query := ledgerSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	args = append(args, filter.Limit, filter.Offset)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	return queryLedger(ctx, r.pool, query, args...)
}

// LedgerForKey returns the full history of key, oldest first.
func (r *PGRepository) LedgerForKey(ctx context.Context, key Key) ([]LedgerEntry, error) {
	return queryLedger(ctx, r.pool, ledgerForKeySQL, key.ItemID, key.WarehouseID)
}

// Snapshot reads the balance and ledger of key in one read-only REPEATABLE
// READ transaction so both come from the same snapshot.
func (r *PGRepository) Snapshot(ctx context.Context, key Key) (Balance, []LedgerEntry, error) {
	var (
		bal     Balance
		entries []LedgerEntry
	)
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		var err error
		if bal, _, err = getBalance(ctx, tx, key); err != nil {
			return err
		}
		entries, err = queryLedger(ctx, tx, ledgerForKeySQL, key.ItemID, key.WarehouseID)
		return err
	})
	if err != nil {
		return Balance{}, nil, err
	}
	return bal, entries, nil
}

// Keys lists every balance key.
func (r *PGRepository) Keys(ctx context.Context) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, warehouse_id FROM inventory_balances ORDER BY item_id, warehouse_id`)
	if err != nil {
		return nil, fmt.Errorf("inventory: list keys: %w", db.MapError(err))
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ItemID, &k.WarehouseID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const ledgerForKeySQL = ledgerSelect + ` WHERE item_id = $1 AND warehouse_id = $2 ORDER BY id`

const ledgerSelect = `SELECT id, entry_type, direction, item_id, warehouse_id, qty, unit_cost,
ref_type, ref_id, COALESCE(batch_id::text, ''), actor, note, created_at FROM ledger_entries`

func queryLedger(ctx context.Context, q querier, query string, args ...any) ([]LedgerEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inventory: query ledger: %w", db.MapError(err))
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Direction, &e.ItemID, &e.WarehouseID, &e.Qty, &e.UnitCost,
			&e.RefType, &e.RefID, &e.BatchID, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func getBalance(ctx context.Context, q querier, key Key) (Balance, bool, error) {
	b := Balance{Key: key}
	err := q.QueryRow(ctx, `SELECT qty, avg_cost, updated_at FROM inventory_balances
WHERE item_id = $1 AND warehouse_id = $2`, key.ItemID, key.WarehouseID).Scan(&b.Qty, &b.AvgCost, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{Key: key}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("inventory: get balance %s: %w", key, db.MapError(err))
	}
	return b, true, nil
}

func nullUUID(value string) any {
	if value == "" {
		return nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil
	}
	return id
}
