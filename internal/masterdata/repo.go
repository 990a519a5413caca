package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var tables = map[Kind]string{
	KindItem:      "items",
	KindWarehouse: "warehouses",
	KindVendor:    "vendors",
	KindCustomer:  "customers",
}

func tableFor(kind Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("masterdata: unknown kind %q", kind)
	}
	return t, nil
}

// CreateItem inserts an item.
func (r *PGRepository) CreateItem(ctx context.Context, item Item) (Item, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO items (sku, name, uom, cost_method) VALUES ($1, $2, $3, $4)
RETURNING id, created_at`, item.SKU, item.Name, item.UOM, item.CostMethod).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("masterdata: create item: %w", db.MapError(err))
	}
	return item, nil
}

// GetItem fetches an item.
func (r *PGRepository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, uom, cost_method, created_at FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.SKU, &it.Name, &it.UOM, &it.CostMethod, &it.CreatedAt)
	if err != nil {
		return Item{}, notFound(err, KindItem, id)
	}
	return it, nil
}

// ListItems uses a dynamic query for the optional search.
func (r *PGRepository) ListItems(ctx context.Context, filters ListFilters) ([]Item, error) {
	query, args := listQuery(`SELECT id, sku, name, uom, cost_method, created_at FROM items`, "sku", filters)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("masterdata: list items: %w", db.MapError(err))
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.UOM, &it.CostMethod, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateWarehouse inserts a warehouse.
func (r *PGRepository) CreateWarehouse(ctx context.Context, wh Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name) VALUES ($1, $2) RETURNING id, created_at`,
		wh.Code, wh.Name).Scan(&wh.ID, &wh.CreatedAt)
	if err != nil {
		return Warehouse{}, fmt.Errorf("masterdata: create warehouse: %w", db.MapError(err))
	}
	return wh, nil
}

// GetWarehouse fetches a warehouse.
func (r *PGRepository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var wh Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, created_at FROM warehouses WHERE id = $1`, id).
		Scan(&wh.ID, &wh.Code, &wh.Name, &wh.CreatedAt)
	if err != nil {
		return Warehouse{}, notFound(err, KindWarehouse, id)
	}
	return wh, nil
}

// ListWarehouses lists warehouses.
func (r *PGRepository) ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	query, args := listQuery(`SELECT id, code, name, created_at FROM warehouses`, "code", filters)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("masterdata: list warehouses: %w", db.MapError(err))
	}
	defer rows.Close()
	var whs []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.CreatedAt); err != nil {
			return nil, err
		}
		whs = append(whs, wh)
	}
	return whs, rows.Err()
}

// CreatePartner inserts a vendor or customer.
func (r *PGRepository) CreatePartner(ctx context.Context, kind Kind, p Partner) (Partner, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Partner{}, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO `+table+` (code, name, tax_id, payment_term)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, '')) RETURNING id, created_at`,
		p.Code, p.Name, p.TaxID, p.PaymentTerm).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Partner{}, fmt.Errorf("masterdata: create %s: %w", kind, db.MapError(err))
	}
	return p, nil
}

const partnerColumns = `id, code, name, COALESCE(tax_id, ''), COALESCE(payment_term, ''), created_at`

// GetPartner fetches a vendor or customer.
func (r *PGRepository) GetPartner(ctx context.Context, kind Kind, id int64) (Partner, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Partner{}, err
	}
	var p Partner
	err = r.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM `+table+` WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.TaxID, &p.PaymentTerm, &p.CreatedAt)
	if err != nil {
		return Partner{}, notFound(err, kind, id)
	}
	return p, nil
}

// ListPartners lists vendors or customers.
func (r *PGRepository) ListPartners(ctx context.Context, kind Kind, filters ListFilters) ([]Partner, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query, args := listQuery(`SELECT `+partnerColumns+` FROM `+table, "code", filters)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("masterdata: list %s: %w", kind, db.MapError(err))
	}
	defer rows.Close()
	var ps []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.TaxID, &p.PaymentTerm, &p.CreatedAt); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// Exists reports whether a row of kind with id exists.
func (r *PGRepository) Exists(ctx context.Context, kind Kind, id int64) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("masterdata: exists %s: %w", kind, db.MapError(err))
	}
	return ok, nil
}

func listQuery(base, codeColumn string, filters ListFilters) (string, []any) {
	query := base + ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		query += ` AND (name ILIKE $` + n + ` OR ` + codeColumn + ` ILIKE $` + n + `)`
	}
	query += ` ORDER BY ` + codeColumn
	args = append(args, filters.Limit, filters.Offset)
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	return query, args
}

func notFound(err error, kind Kind, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind, id)
	}
	return fmt.Errorf("masterdata: get %s: %w", kind, db.MapError(err))
}
