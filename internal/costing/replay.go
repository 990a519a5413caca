package costing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction tells whether a movement adds to or removes from stock.
type Direction string

const (
	// In adds stock at the movement's unit cost.
	In Direction = "IN"
	// Out removes stock at the running average.
	Out Direction = "OUT"
)

// Movement is the minimal shape of a recorded stock movement.
type Movement struct {
	Direction Direction
	Qty       int64
	UnitCost  decimal.Decimal
}

// Replay folds movements, oldest first, into a balance starting from zero.
// It fails on the first movement the engine rejects and reports its position.
func Replay(movements []Movement) (Balance, error) {
	bal := Zero()
	for i, mv := range movements {
		var err error
		switch mv.Direction {
		case In:
			bal, _, err = ApplyReceipt(bal, mv.Qty, mv.UnitCost)
		case Out:
			bal, _, err = ApplyIssue(bal, mv.Qty)
		default:
			err = fmt.Errorf("unknown direction %q", mv.Direction)
		}
		if err != nil {
			return bal, fmt.Errorf("costing: replay movement %d: %w", i+1, err)
		}
	}
	return bal, nil
}
