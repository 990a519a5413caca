package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/costing"
)

// EntryType enumerates ledger movement kinds.
type EntryType string

const (
	// EntryReceipt records stock received against a goods receipt.
	EntryReceipt EntryType = "RECEIPT"
	// EntryIssue records stock issued against a shipment.
	EntryIssue EntryType = "ISSUE"
	// EntryAdjust records a manual correction in either direction.
	EntryAdjust EntryType = "ADJUST"
)

// Reference types written on ledger entries.
const (
	RefGoodsReceipt = "GR"
	RefShipment     = "SHIPMENT"
	RefAdjustment   = "ADJ"
)

// Ledger page bounds.
const (
	DefaultLedgerLimit = 100
	MaxLedgerLimit     = 1000
)

// Key identifies one balance row.
type Key struct {
	ItemID      int64 `json:"item_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("item %d, warehouse %d", k.ItemID, k.WarehouseID)
}

// Balance is the stored state of one (item, warehouse) pair.
type Balance struct {
	Key
	Qty       int64           `json:"qty"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// State strips the key and timestamp for the costing engine.
func (b Balance) State() costing.Balance {
	return costing.Balance{Qty: b.Qty, AvgCost: b.AvgCost}
}

// Value returns the stock value at average cost.
func (b Balance) Value() decimal.Decimal {
	return b.State().Value()
}

// LedgerEntry is one immutable stock movement. Qty is always positive; the
// direction is carried separately.
type LedgerEntry struct {
	ID          int64             `json:"id"`
	Type        EntryType         `json:"type"`
	Direction   costing.Direction `json:"direction"`
	ItemID      int64             `json:"item_id"`
	WarehouseID int64             `json:"warehouse_id"`
	Qty         int64             `json:"qty"`
	UnitCost    decimal.Decimal   `json:"unit_cost"`
	RefType     string            `json:"ref_type"`
	RefID       int64             `json:"ref_id"`
	BatchID     string            `json:"batch_id,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	Note        string            `json:"note,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Key returns the balance key the entry moved.
func (e LedgerEntry) Key() Key {
	return Key{ItemID: e.ItemID, WarehouseID: e.WarehouseID}
}

// Movement converts the entry for replay through the costing engine.
func (e LedgerEntry) Movement() costing.Movement {
	return costing.Movement{Direction: e.Direction, Qty: e.Qty, UnitCost: e.UnitCost}
}

// LedgerFilter narrows ledger listings. Zero fields are ignored.
type LedgerFilter struct {
	ItemID      int64
	WarehouseID int64
	RefType     string
	RefID       int64
	Limit       int
	Offset      int
}

// BalanceFilter narrows balance listings. Zero fields are ignored.
type BalanceFilter struct {
	ItemID      int64
	WarehouseID int64
	NonZeroOnly bool
}

// Mutator computes the next balance state from the current one.
type Mutator func(costing.Balance) (costing.Balance, error)

// AdjustmentInput describes a manual stock correction. Delta is signed:
// positive adds stock at UnitCost (the current average when nil), negative
// removes stock at the current average.
type AdjustmentInput struct {
	ItemID      int64            `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64            `json:"warehouse_id" validate:"required,gt=0"`
	Delta       int64            `json:"delta" validate:"required,ne=0"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	Note        string           `json:"note" validate:"max=500"`
	Actor       string           `json:"-"`
}

// ReconcileResult compares the stored balance with one replayed from the ledger.
type ReconcileResult struct {
	Key      Key             `json:"key"`
	Stored   costing.Balance `json:"stored"`
	Replayed costing.Balance `json:"replayed"`
	Entries  int             `json:"entries"`
	Drift    bool            `json:"drift"`
}
