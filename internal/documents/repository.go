package documents

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxRepository is the document store seen from inside one unit of work.
// LockDocument holds the header until the unit of work ends.
type TxRepository interface {
	// LockDocument loads id with its lines ordered by line number and keeps
	// the header locked. Lock waits are bounded and surface shared.ErrBusy.
	LockDocument(ctx context.Context, id int64) (Document, error)
	// InsertLine appends a line to a locked document.
	InsertLine(ctx context.Context, documentID int64, line Line) (Line, error)
	// SetStatus moves a locked document to status and stamps the matching timestamp.
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
	// SetLineUnitCost records the cost a shipment line was issued at.
	SetLineUnitCost(ctx context.Context, lineID int64, cost decimal.Decimal) error
}

// Repository is the read side plus creation and the unit-of-work entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Create stores a draft header and its lines atomically and returns the
	// stored document.
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id int64) (Document, error)
	// List returns headers without lines, newest first.
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}
