package documents

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Kind identifies a document type.
type Kind string

const (
	KindPurchaseOrder Kind = "purchase_order"
	KindSalesOrder    Kind = "sales_order"
	KindGoodsReceipt  Kind = "goods_receipt"
	KindShipment      Kind = "shipment"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchaseOrder, KindSalesOrder, KindGoodsReceipt, KindShipment:
		return true
	}
	return false
}

// Prefix returns the number prefix of k.
func (k Kind) Prefix() string {
	switch k {
	case KindPurchaseOrder:
		return "PO"
	case KindSalesOrder:
		return "SO"
	case KindGoodsReceipt:
		return "GR"
	case KindShipment:
		return "SHP"
	}
	return "DOC"
}

// IsOrder reports whether k is approved rather than posted.
func (k Kind) IsOrder() bool {
	return k == KindPurchaseOrder || k == KindSalesOrder
}

// IsPosting reports whether k moves stock when posted.
func (k Kind) IsPosting() bool {
	return k == KindGoodsReceipt || k == KindShipment
}

// SourceKind returns the order kind a posting document may reference.
func (k Kind) SourceKind() (Kind, bool) {
	switch k {
	case KindGoodsReceipt:
		return KindPurchaseOrder, true
	case KindShipment:
		return KindSalesOrder, true
	}
	return "", false
}

// Status is a lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusPosted   Status = "posted"
)

// Line is one document line. Lines are owned by their document.
type Line struct {
	ID          int64           `json:"id"`
	LineNo      int             `json:"line_no"`
	ItemID      int64           `json:"item_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Qty         int64           `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Document is a header with its ordered lines.
type Document struct {
	ID             int64      `json:"id"`
	Kind           Kind       `json:"kind"`
	Number         string     `json:"number"`
	CounterpartyID int64      `json:"counterparty_id,omitempty"`
	SourceID       int64      `json:"source_id,omitempty"`
	Status         Status     `json:"status"`
	DocDate        time.Time  `json:"doc_date"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	Lines          []Line     `json:"lines"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.Lines = append([]Line(nil), d.Lines...)
	if d.ApprovedAt != nil {
		t := *d.ApprovedAt
		out.ApprovedAt = &t
	}
	if d.PostedAt != nil {
		t := *d.PostedAt
		out.PostedAt = &t
	}
	return out
}

// NewNumber builds a human-readable document number.
func NewNumber(kind Kind, now time.Time) string {
	return fmt.Sprintf("%s-%d", kind.Prefix(), now.UnixNano())
}

// CanEdit returns nil when lines may still be attached.
func CanEdit(d Document) error {
	if d.Status != StatusDraft {
		return fmt.Errorf("%w: %s %s is %s; lines can only change while draft", shared.ErrInvalidTransition, d.Kind, d.Number, d.Status)
	}
	return nil
}

// CanApprove returns nil when d may move draft to approved.
func CanApprove(d Document) error {
	if !d.Kind.IsOrder() {
		return fmt.Errorf("%w: %s %s is posted, not approved", shared.ErrInvalidTransition, d.Kind, d.Number)
	}
	if d.Status != StatusDraft {
		return fmt.Errorf("%w: cannot approve %s %s from status %s", shared.ErrInvalidTransition, d.Kind, d.Number, d.Status)
	}
	return nil
}

// CanPost returns nil when d may move draft to posted.
func CanPost(d Document) error {
	if !d.Kind.IsPosting() {
		return fmt.Errorf("%w: %s %s is approved, not posted", shared.ErrInvalidTransition, d.Kind, d.Number)
	}
	if d.Status != StatusDraft {
		return fmt.Errorf("%w: cannot post %s %s from status %s", shared.ErrInvalidTransition, d.Kind, d.Number, d.Status)
	}
	if len(d.Lines) == 0 {
		return fmt.Errorf("%w: %s %s has no lines", shared.ErrInvalidLine, d.Kind, d.Number)
	}
	return nil
}

// LineInput attaches a line. UnitPrice applies to orders and shipments,
// UnitCost to goods receipts; shipment costs are set when posted.
type LineInput struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty         int64           `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// CreateInput creates a draft document with optional initial lines.
type CreateInput struct {
	Kind           Kind        `json:"-"`
	CounterpartyID int64       `json:"counterparty_id" validate:"gte=0"`
	SourceID       int64       `json:"source_id" validate:"gte=0"`
	DocDate        *time.Time  `json:"doc_date,omitempty"`
	Lines          []LineInput `json:"lines" validate:"dive"`
	CreatedBy      string      `json:"-"`
}

// ListFilter narrows document listings. Zero fields are ignored.
type ListFilter struct {
	Kind           Kind
	Status         Status
	CounterpartyID int64
	SourceID       int64
	Limit          int
	Offset         int
}

// Document page bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)
