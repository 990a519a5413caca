// Package costing implements moving-average inventory valuation.
//
// Every function here is pure: it takes a balance and a movement and returns
// the next balance together with the unit cost attributed to the movement.
// Receipts revalue the average; issues consume at the current average and
// never change it.
package costing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// CostScale is the number of fractional digits kept on the average cost.
const CostScale int32 = 6

// Balance is the running quantity and average unit cost of one item in one warehouse.
type Balance struct {
	Qty     int64           `json:"qty"`
	AvgCost decimal.Decimal `json:"avg_cost"`
}

// Zero returns the balance of a pair that has never moved.
func Zero() Balance {
	return Balance{AvgCost: decimal.Zero}
}

// Value returns qty multiplied by the average cost.
func (b Balance) Value() decimal.Decimal {
	return b.AvgCost.Mul(decimal.NewFromInt(b.Qty))
}

// Equal compares quantities and costs numerically.
func (b Balance) Equal(other Balance) bool {
	return b.Qty == other.Qty && b.AvgCost.Equal(other.AvgCost)
}

func (b Balance) String() string {
	return fmt.Sprintf("{qty:%d avg:%s}", b.Qty, b.AvgCost.StringFixed(4))
}

// InsufficientStockError reports an issue that exceeds the quantity on hand.
type InsufficientStockError struct {
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// Unwrap exposes the shared error kind.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// ApplyReceipt adds qty units at unitCost and recomputes the weighted average.
// The movement cost is the incoming unit cost.
func ApplyReceipt(b Balance, qty int64, unitCost decimal.Decimal) (Balance, decimal.Decimal, error) {
	if qty <= 0 {
		return b, decimal.Zero, fmt.Errorf("%w: %d", shared.ErrInvalidQuantity, qty)
	}
	if unitCost.IsNegative() {
		return b, decimal.Zero, fmt.Errorf("%w: %s", shared.ErrInvalidCost, unitCost.String())
	}
	if b.Qty > 0 && qty > math.MaxInt64-b.Qty {
		return b, decimal.Zero, fmt.Errorf("%w: %d on top of %d overflows the balance", shared.ErrInvalidQuantity, qty, b.Qty)
	}

	newQty := b.Qty + qty
	if newQty <= 0 {
		return Balance{Qty: newQty, AvgCost: decimal.Zero}, unitCost, nil
	}

	// A non-positive starting quantity carries no value.
	oldValue := decimal.Zero
	if b.Qty > 0 {
		oldValue = b.Value()
	}
	total := oldValue.Add(unitCost.Mul(decimal.NewFromInt(qty)))
	avg := total.DivRound(decimal.NewFromInt(newQty), CostScale)
	return Balance{Qty: newQty, AvgCost: avg}, unitCost, nil
}

// ApplyIssue removes qty units at the current average. The movement cost is the
// average before the movement. An issue larger than the quantity on hand fails
// and the balance is returned untouched.
func ApplyIssue(b Balance, qty int64) (Balance, decimal.Decimal, error) {
	if qty <= 0 {
		return b, decimal.Zero, fmt.Errorf("%w: %d", shared.ErrInvalidQuantity, qty)
	}
	if b.Qty < qty {
		return b, decimal.Zero, &InsufficientStockError{Available: b.Qty, Requested: qty}
	}

	movementCost := b.AvgCost
	newQty := b.Qty - qty
	if newQty == 0 {
		return Balance{Qty: 0, AvgCost: decimal.Zero}, movementCost, nil
	}
	return Balance{Qty: newQty, AvgCost: b.AvgCost}, movementCost, nil
}
