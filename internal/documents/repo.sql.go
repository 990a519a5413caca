package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository persists documents in PostgreSQL.
type PGRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs PGRepository. lockTimeout bounds row-lock waits.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PGRepository {
	return &PGRepository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in a READ COMMITTED transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if err := db.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, NewTxRepository(tx))
	})
}

// Create inserts the header and lines in one transaction.
func (r *PGRepository) Create(ctx context.Context, doc Document) (Document, error) {
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var docDate any
		if !doc.DocDate.IsZero() {
			docDate = doc.DocDate
		}
		err := tx.QueryRow(ctx, `INSERT INTO documents (kind, number, counterparty_id, source_id, status, doc_date, created_by)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7)
RETURNING id, doc_date, created_at`,
			doc.Kind, doc.Number, nullID(doc.CounterpartyID), nullID(doc.SourceID), doc.Status, docDate, doc.CreatedBy,
		).Scan(&doc.ID, &doc.DocDate, &doc.CreatedAt)
		if err != nil {
			return fmt.Errorf("documents: insert %s: %w", doc.Kind, db.MapError(err))
		}
		for i := range doc.Lines {
			line, err := insertLine(ctx, tx, doc.ID, doc.Lines[i])
			if err != nil {
				return err
			}
			doc.Lines[i] = line
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get loads a document with its lines.
func (r *PGRepository) Get(ctx context.Context, id int64) (Document, error) {
	return loadDocument(ctx, r.pool, id, false)
}

// List returns headers newest first. The caller clamps the limit.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	var where []string
	args := []any{}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, `kind = $`+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, `status = $`+strconv.Itoa(len(args)))
	}
	if filter.CounterpartyID > 0 {
		args = append(args, filter.CounterpartyID)
		where = append(where, `counterparty_id = $`+strconv.Itoa(len(args)))
	}
	if filter.SourceID > 0 {
		args = append(args, filter.SourceID)
		where = append(where, `source_id = $`+strconv.Itoa(len(args)))
	}
	query := headerSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	args = append(args, filter.Limit, filter.Offset)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", db.MapError(err))
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type txRepository struct {
	q querier
}

// NewTxRepository binds the document store to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

func (r *txRepository) LockDocument(ctx context.Context, id int64) (Document, error) {
	return loadDocument(ctx, r.q, id, true)
}

func (r *txRepository) InsertLine(ctx context.Context, documentID int64, line Line) (Line, error) {
	return insertLine(ctx, r.q, documentID, line)
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	var column string
	switch status {
	case StatusApproved:
		column = "approved_at"
	case StatusPosted:
		column = "posted_at"
	default:
		return fmt.Errorf("%w: unsupported target status %s", shared.ErrInvalidTransition, status)
	}
	tag, err := r.q.Exec(ctx, `UPDATE documents SET status = $2, `+column+` = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return fmt.Errorf("documents: set status of %d: %w", id, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) SetLineUnitCost(ctx context.Context, lineID int64, cost decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `UPDATE document_lines SET unit_cost = $2 WHERE id = $1`, lineID, cost)
	if err != nil {
		return fmt.Errorf("documents: set cost of line %d: %w", lineID, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: line %d", shared.ErrNotFound, lineID)
	}
	return nil
}

const headerSelect = `SELECT id, kind, number, COALESCE(counterparty_id, 0), COALESCE(source_id, 0), status,
doc_date, created_by, created_at, approved_at, posted_at FROM documents`

func scanHeader(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Kind, &doc.Number, &doc.CounterpartyID, &doc.SourceID, &doc.Status,
		&doc.DocDate, &doc.CreatedBy, &doc.CreatedAt, &doc.ApprovedAt, &doc.PostedAt)
	return doc, err
}

func loadDocument(ctx context.Context, q querier, id int64, forUpdate bool) (Document, error) {
	query := headerSelect + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanHeader(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: document %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("documents: load %d: %w", id, db.MapError(err))
	}

	rows, err := q.Query(ctx, `SELECT id, line_no, item_id, warehouse_id, qty, unit_price, unit_cost
FROM document_lines WHERE document_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return Document{}, fmt.Errorf("documents: load lines of %d: %w", id, db.MapError(err))
	}
	defer rows.Close()
	doc.Lines = []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ItemID, &l.WarehouseID, &l.Qty, &l.UnitPrice, &l.UnitCost); err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, l)
	}
	return doc, rows.Err()
}

func insertLine(ctx context.Context, q querier, documentID int64, line Line) (Line, error) {
	err := q.QueryRow(ctx, `INSERT INTO document_lines (document_id, line_no, item_id, warehouse_id, qty, unit_price, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		documentID, line.LineNo, line.ItemID, line.WarehouseID, line.Qty, line.UnitPrice, line.UnitCost,
	).Scan(&line.ID)
	if err != nil {
		return Line{}, fmt.Errorf("documents: insert line %d of %d: %w", line.LineNo, documentID, db.MapError(err))
	}
	return line, nil
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}
