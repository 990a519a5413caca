package reports

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// PGRepository runs report queries against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Balances returns non-empty balances with item and warehouse labels.
func (r *PGRepository) Balances(ctx context.Context, filter ValuationFilter) ([]ValuationRow, error) {
	query := `SELECT b.item_id, i.sku, i.name, b.warehouse_id, w.code, b.qty, b.avg_cost
FROM inventory_balances b
JOIN items i ON i.id = b.item_id
JOIN warehouses w ON w.id = b.warehouse_id
WHERE b.qty <> 0`
	args := []any{}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		query += ` AND b.warehouse_id = $` + strconv.Itoa(len(args))
	}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		query += ` AND b.item_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY i.sku, w.code`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []ValuationRow
	for rows.Next() {
		var row ValuationRow
		if err := rows.Scan(&row.ItemID, &row.SKU, &row.ItemName, &row.WarehouseID, &row.WarehouseCode, &row.Qty, &row.AvgCost); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var partnerSides = map[string]struct {
	table string
	order string
	moved string
}{
	SideVendor:   {table: "vendors", order: "purchase_order", moved: "goods_receipt"},
	SideCustomer: {table: "customers", order: "sales_order", moved: "shipment"},
}

// PartnerTotals groups approved orders and posted movements by counterparty.
func (r *PGRepository) PartnerTotals(ctx context.Context, side string, period PeriodFilter) ([]PartnerRow, error) {
	cfg, ok := partnerSides[side]
	if !ok {
		return nil, fmt.Errorf("reports: unknown partner side %q", side)
	}
	query := `SELECT p.id, p.code, p.name,
	COUNT(DISTINCT d.id) FILTER (WHERE d.kind = $1),
	COALESCE(SUM(l.qty) FILTER (WHERE d.kind = $1), 0)::bigint,
	COALESCE(SUM(l.qty * l.unit_price) FILTER (WHERE d.kind = $1), 0),
	COALESCE(SUM(l.qty) FILTER (WHERE d.kind = $2), 0)::bigint,
	COALESCE(SUM(l.qty * l.unit_cost) FILTER (WHERE d.kind = $2), 0)
FROM ` + cfg.table + ` p
JOIN documents d ON d.counterparty_id = p.id
JOIN document_lines l ON l.document_id = d.id
WHERE ((d.kind = $1 AND d.status = 'approved') OR (d.kind = $2 AND d.status = 'posted'))
	AND ($3::timestamptz IS NULL OR d.doc_date >= $3)
	AND ($4::timestamptz IS NULL OR d.doc_date < $4)
GROUP BY p.id, p.code, p.name
ORDER BY 5 DESC, p.code`

	rows, err := r.pool.Query(ctx, query, cfg.order, cfg.moved, period.From, period.To)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []PartnerRow
	for rows.Next() {
		var row PartnerRow
		if err := rows.Scan(&row.PartnerID, &row.Code, &row.Name, &row.Orders, &row.OrderedQty,
			&row.OrderedAmount, &row.MovedQty, &row.MovedValue); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
