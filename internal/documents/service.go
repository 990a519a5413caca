package documents

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/costing"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MasterData checks the references a document carries.
type MasterData interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
	VendorExists(ctx context.Context, id int64) (bool, error)
	CustomerExists(ctx context.Context, id int64) (bool, error)
}

// Service runs the document lifecycle up to approval. Posting lives in the
// posting package because it also moves stock.
type Service struct {
	repo        Repository
	master      MasterData
	audit       *audit.Emitter
	idempotency shared.Idempotency
	logger      *slog.Logger
	now         func() time.Time
	lastNumber  atomic.Int64
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	MasterData  MasterData
	Audit       *audit.Emitter
	Idempotency shared.Idempotency
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		master:      cfg.MasterData,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new draft of input.Kind. Orders need a counterparty of the
// matching side; receipts and shipments may reference an approved order and
// inherit its counterparty.
func (s *Service) Create(ctx context.Context, input CreateInput, idempotencyKey string) (Document, error) {
	if !input.Kind.Valid() {
		return Document{}, fmt.Errorf("%w: unknown document kind %q", shared.ErrValidation, input.Kind)
	}
	doc := Document{
		Kind:           input.Kind,
		Number:         s.nextNumber(input.Kind),
		CounterpartyID: input.CounterpartyID,
		Status:         StatusDraft,
		CreatedBy:      input.CreatedBy,
	}
	if input.DocDate != nil {
		doc.DocDate = input.DocDate.UTC()
	}

	if input.SourceID != 0 {
		source, err := s.checkSource(ctx, input.Kind, input.SourceID)
		if err != nil {
			return Document{}, err
		}
		doc.SourceID = source.ID
		if doc.CounterpartyID == 0 {
			doc.CounterpartyID = source.CounterpartyID
		} else if source.CounterpartyID != 0 && doc.CounterpartyID != source.CounterpartyID {
			return Document{}, fmt.Errorf("%w: counterparty %d does not match %s %s", shared.ErrValidation, doc.CounterpartyID, source.Kind, source.Number)
		}
	}
	if err := s.checkCounterparty(ctx, doc.Kind, doc.CounterpartyID); err != nil {
		return Document{}, err
	}

	for i, in := range input.Lines {
		line, err := s.buildLine(ctx, doc.Kind, i+1, in)
		if err != nil {
			return Document{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if doc.Lines == nil {
		doc.Lines = []Line{}
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "documents"); err != nil {
			return Document{}, err
		}
	}
	created, err := s.repo.Create(ctx, doc)
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, idempotencyKey, "documents")
		}
		return Document{}, err
	}

	_ = s.audit.Emit(ctx, audit.Record{
		Actor:  input.CreatedBy,
		Action: "create",
		Module: string(created.Kind),
		RefID:  created.ID,
		After: map[string]any{
			"number": created.Number,
			"status": created.Status,
			"lines":  len(created.Lines),
		},
	})
	return created, nil
}

// AddLine attaches a line to a draft document. The line takes the next
// line number.
func (s *Service) AddLine(ctx context.Context, id int64, input LineInput, actor string) (Line, error) {
	var added Line
	var kind Kind
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if err := CanEdit(doc); err != nil {
			return err
		}
		kind = doc.Kind
		next := 1
		for _, l := range doc.Lines {
			if l.LineNo >= next {
				next = l.LineNo + 1
			}
		}
		line, err := s.buildLine(ctx, doc.Kind, next, input)
		if err != nil {
			return err
		}
		added, err = tx.InsertLine(ctx, id, line)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	_ = s.audit.Emit(ctx, audit.Record{
		Actor:  actor,
		Action: "add_line",
		Module: string(kind),
		RefID:  id,
		Details: map[string]any{
			"line_no":      added.LineNo,
			"item_id":      added.ItemID,
			"warehouse_id": added.WarehouseID,
			"qty":          added.Qty,
		},
	})
	return added, nil
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns headers newest first with a bounded page size.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	filter.Limit = shared.ClampLimit(filter.Limit, DefaultListLimit, MaxListLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	docs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Approve moves a draft order to approved. It fails with
// shared.ErrInvalidTransition from any other status and for posting kinds.
func (s *Service) Approve(ctx context.Context, id int64, actor string) (Document, error) {
	var approved Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if err := CanApprove(doc); err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return fmt.Errorf("%w: %s %s has no lines", shared.ErrInvalidLine, doc.Kind, doc.Number)
		}
		at := s.now()
		if err := tx.SetStatus(ctx, id, StatusApproved, at); err != nil {
			return err
		}
		doc.Status = StatusApproved
		doc.ApprovedAt = &at
		approved = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	_ = s.audit.Emit(ctx, audit.Record{
		Actor:  actor,
		Action: "approve",
		Module: string(approved.Kind),
		RefID:  approved.ID,
		Before: map[string]any{"status": StatusDraft},
		After:  map[string]any{"status": StatusApproved, "number": approved.Number},
	})
	return approved, nil
}

// nextNumber keeps numbers unique within the process when the clock repeats.
func (s *Service) nextNumber(kind Kind) string {
	nanos := s.now().UnixNano()
	for {
		last := s.lastNumber.Load()
		if nanos <= last {
			nanos = last + 1
		}
		if s.lastNumber.CompareAndSwap(last, nanos) {
			return NewNumber(kind, time.Unix(0, nanos))
		}
	}
}

func (s *Service) buildLine(ctx context.Context, kind Kind, lineNo int, in LineInput) (Line, error) {
	if in.Qty <= 0 {
		return Line{}, fmt.Errorf("%w: line %d: quantity must be positive, got %d", shared.ErrInvalidLine, lineNo, in.Qty)
	}
	if in.UnitPrice.IsNegative() {
		return Line{}, fmt.Errorf("%w: line %d: unit price %s is negative", shared.ErrInvalidLine, lineNo, in.UnitPrice)
	}
	if in.UnitCost.IsNegative() {
		return Line{}, fmt.Errorf("%w: line %d: unit cost %s is negative", shared.ErrInvalidLine, lineNo, in.UnitCost)
	}
	// Stored columns keep costing.CostScale digits; anything finer would be rounded away.
	if !in.UnitPrice.Equal(in.UnitPrice.Round(costing.CostScale)) {
		return Line{}, fmt.Errorf("%w: line %d: unit price %s has more than %d decimal places", shared.ErrInvalidLine, lineNo, in.UnitPrice, costing.CostScale)
	}
	if !in.UnitCost.Equal(in.UnitCost.Round(costing.CostScale)) {
		return Line{}, fmt.Errorf("%w: line %d: unit cost %s has more than %d decimal places", shared.ErrInvalidLine, lineNo, in.UnitCost, costing.CostScale)
	}
	if err := s.exists(ctx, "item", in.ItemID, s.itemExists); err != nil {
		return Line{}, fmt.Errorf("line %d: %w", lineNo, err)
	}
	if err := s.exists(ctx, "warehouse", in.WarehouseID, s.warehouseExists); err != nil {
		return Line{}, fmt.Errorf("line %d: %w", lineNo, err)
	}

	line := Line{
		LineNo:      lineNo,
		ItemID:      in.ItemID,
		WarehouseID: in.WarehouseID,
		Qty:         in.Qty,
		UnitPrice:   in.UnitPrice,
	}
	if kind == KindGoodsReceipt {
		line.UnitCost = in.UnitCost
	}
	return line, nil
}

func (s *Service) checkSource(ctx context.Context, kind Kind, sourceID int64) (Document, error) {
	want, ok := kind.SourceKind()
	if !ok {
		return Document{}, fmt.Errorf("%w: %s cannot reference another document", shared.ErrValidation, kind)
	}
	source, err := s.repo.Get(ctx, sourceID)
	if err != nil {
		return Document{}, err
	}
	if source.Kind != want {
		return Document{}, fmt.Errorf("%w: document %d is a %s, expected %s", shared.ErrValidation, sourceID, source.Kind, want)
	}
	if source.Status != StatusApproved {
		return Document{}, fmt.Errorf("%w: %s %s is %s, not approved", shared.ErrInvalidTransition, source.Kind, source.Number, source.Status)
	}
	return source, nil
}

func (s *Service) checkCounterparty(ctx context.Context, kind Kind, id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: counterparty id must not be negative", shared.ErrValidation)
	}
	if id == 0 {
		if kind.IsOrder() {
			return fmt.Errorf("%w: %s requires a counterparty", shared.ErrValidation, kind)
		}
		return nil
	}
	switch kind {
	case KindPurchaseOrder, KindGoodsReceipt:
		return s.exists(ctx, "vendor", id, s.vendorExists)
	default:
		return s.exists(ctx, "customer", id, s.customerExists)
	}
}

func (s *Service) exists(ctx context.Context, what string, id int64, check func(context.Context, int64) (bool, error)) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s id required", shared.ErrValidation, what)
	}
	if s.master == nil {
		return nil
	}
	ok, err := check(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, what, id)
	}
	return nil
}

func (s *Service) itemExists(ctx context.Context, id int64) (bool, error) {
	return s.master.ItemExists(ctx, id)
}

func (s *Service) warehouseExists(ctx context.Context, id int64) (bool, error) {
	return s.master.WarehouseExists(ctx, id)
}

func (s *Service) vendorExists(ctx context.Context, id int64) (bool, error) {
	return s.master.VendorExists(ctx, id)
}

func (s *Service) customerExists(ctx context.Context, id int64) (bool, error) {
	return s.master.CustomerExists(ctx, id)
}
