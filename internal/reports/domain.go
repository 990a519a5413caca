package reports

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuationRow is one balance valued at its moving-average cost.
type ValuationRow struct {
	ItemID        int64           `json:"item_id"`
	SKU           string          `json:"sku"`
	ItemName      string          `json:"item_name"`
	WarehouseID   int64           `json:"warehouse_id"`
	WarehouseCode string          `json:"warehouse_code"`
	Qty           int64           `json:"qty"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Value         decimal.Decimal `json:"value"`
}

// Valuation is the stock value report.
type Valuation struct {
	Rows       []ValuationRow  `json:"rows"`
	TotalQty   int64           `json:"total_qty"`
	TotalValue decimal.Decimal `json:"total_value"`
	AsOf       time.Time       `json:"as_of"`
}

// ValuationFilter narrows the valuation. Zero fields are ignored.
type ValuationFilter struct {
	WarehouseID int64
	ItemID      int64
}

// PartnerRow sums documents per vendor or customer. Ordered figures come from
// approved orders, moved figures from posted receipts or shipments.
type PartnerRow struct {
	PartnerID     int64           `json:"partner_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Orders        int64           `json:"orders"`
	OrderedQty    int64           `json:"ordered_qty"`
	OrderedAmount decimal.Decimal `json:"ordered_amount"`
	MovedQty      int64           `json:"moved_qty"`
	MovedValue    decimal.Decimal `json:"moved_value"`
}

// PartnerSummary is a vendor or customer report.
type PartnerSummary struct {
	Side string       `json:"side"`
	Rows []PartnerRow `json:"rows"`
	From *time.Time   `json:"from,omitempty"`
	To   *time.Time   `json:"to,omitempty"`
}

// PeriodFilter bounds document dates; From is inclusive, To exclusive.
type PeriodFilter struct {
	From *time.Time
	To   *time.Time
}

// Dashboard bundles every report.
type Dashboard struct {
	Valuation   Valuation      `json:"valuation"`
	Vendors     PartnerSummary `json:"vendors"`
	Customers   PartnerSummary `json:"customers"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Partner sides.
const (
	SideVendor   = "vendor"
	SideCustomer = "customer"
)
