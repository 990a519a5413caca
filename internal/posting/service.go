package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/costing"
	"github.com/odyssey-erp/odyssey-stock/internal/documents"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// LineError names the document line a posting failed on.
type LineError struct {
	DocumentID  int64
	Number      string
	LineNo      int
	ItemID      int64
	WarehouseID int64
	Err         error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("post %s (document %d) line %d (item %d, warehouse %d): %v",
		e.Number, e.DocumentID, e.LineNo, e.ItemID, e.WarehouseID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// PostedDocument is the outcome of a committed posting.
type PostedDocument struct {
	Document documents.Document      `json:"document"`
	Entries  []inventory.LedgerEntry `json:"entries"`
	Balances []inventory.Balance     `json:"balances"`
	BatchID  string                  `json:"batch_id"`
}

// Recorder receives posting outcomes. *observability.PostingMetrics
// implements it.
type Recorder interface {
	Observe(kind, outcome string, elapsed time.Duration)
	AuditDropped()
}

var _ Recorder = (*observability.PostingMetrics)(nil)

type nopRecorder struct{}

func (nopRecorder) Observe(string, string, time.Duration) {}
func (nopRecorder) AuditDropped()                         {}

// Invalidator drops cached reads derived from balances. *reports.Cache
// implements it.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service posts goods receipts and shipments.
type Service struct {
	uow         UnitOfWork
	audit       *audit.Emitter
	metrics     Recorder
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       *audit.Emitter
	Metrics     Recorder
	Invalidator Invalidator
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(uow UnitOfWork, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics Recorder = nopRecorder{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &Service{
		uow:         uow,
		audit:       cfg.Audit,
		metrics:     metrics,
		invalidator: cfg.Invalidator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Post moves a draft receipt or shipment to posted. Every line mutates its
// balance and appends one ledger entry; the whole document commits or
// nothing does. The caller's cancellation is ignored once posting starts.
func (s *Service) Post(ctx context.Context, id int64, actor string) (PostedDocument, error) {
	return s.post(ctx, id, "", actor)
}

// PostKind is Post restricted to documents of kind; other kinds report
// shared.ErrNotFound.
func (s *Service) PostKind(ctx context.Context, kind documents.Kind, id int64, actor string) (PostedDocument, error) {
	return s.post(ctx, id, kind, actor)
}

func (s *Service) post(ctx context.Context, id int64, want documents.Kind, actor string) (PostedDocument, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	var result PostedDocument
	kind := string(want)

	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		result = PostedDocument{}
		doc, err := tx.Documents().LockDocument(ctx, id)
		if err != nil {
			return err
		}
		kind = string(doc.Kind)
		if want != "" && doc.Kind != want {
			return fmt.Errorf("%w: %s %d", shared.ErrNotFound, want, id)
		}
		if err := documents.CanPost(doc); err != nil {
			return err
		}

		lines := append([]documents.Line(nil), doc.Lines...)
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineNo < lines[j].LineNo })

		batchID := uuid.NewString()
		latest := make(map[inventory.Key]int)
		for _, line := range lines {
			entry, balance, err := s.postLine(ctx, tx, doc, line, batchID, actor)
			if err != nil {
				return &LineError{
					DocumentID:  doc.ID,
					Number:      doc.Number,
					LineNo:      line.LineNo,
					ItemID:      line.ItemID,
					WarehouseID: line.WarehouseID,
					Err:         err,
				}
			}
			result.Entries = append(result.Entries, entry)
			if i, seen := latest[balance.Key]; seen {
				result.Balances[i] = balance
			} else {
				latest[balance.Key] = len(result.Balances)
				result.Balances = append(result.Balances, balance)
			}
			if doc.Kind == documents.KindShipment {
				for i := range doc.Lines {
					if doc.Lines[i].ID == line.ID {
						doc.Lines[i].UnitCost = entry.UnitCost
					}
				}
			}
		}

		at := s.now()
		if err := tx.Documents().SetStatus(ctx, doc.ID, documents.StatusPosted, at); err != nil {
			return err
		}
		doc.Status = documents.StatusPosted
		doc.PostedAt = &at
		result.Document = doc
		result.BatchID = batchID
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.Observe(kind, shared.Code(err), elapsed)
		s.logFailure(id, kind, err)
		return PostedDocument{}, err
	}
	s.metrics.Observe(kind, observability.OutcomePosted, elapsed)
	s.logger.Info("document posted",
		slog.Int64("document_id", result.Document.ID),
		slog.String("number", result.Document.Number),
		slog.String("kind", kind),
		slog.Int("lines", len(result.Entries)),
		slog.Duration("duration", elapsed))

	if err := s.audit.Emit(ctx, s.auditRecord(result, actor)); err != nil {
		s.metrics.AuditDropped()
	}
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Int64("document_id", result.Document.ID), slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) postLine(ctx context.Context, tx Tx, doc documents.Document, line documents.Line, batchID, actor string) (inventory.LedgerEntry, inventory.Balance, error) {
	key := inventory.Key{ItemID: line.ItemID, WarehouseID: line.WarehouseID}
	var movementCost decimal.Decimal
	var entryType inventory.EntryType
	var direction costing.Direction
	var refType string

	var mutate inventory.Mutator
	switch doc.Kind {
	case documents.KindGoodsReceipt:
		entryType, direction, refType = inventory.EntryReceipt, costing.In, inventory.RefGoodsReceipt
		mutate = func(cur costing.Balance) (costing.Balance, error) {
			next, mc, err := costing.ApplyReceipt(cur, line.Qty, line.UnitCost)
			movementCost = mc
			return next, err
		}
	case documents.KindShipment:
		entryType, direction, refType = inventory.EntryIssue, costing.Out, inventory.RefShipment
		mutate = func(cur costing.Balance) (costing.Balance, error) {
			next, mc, err := costing.ApplyIssue(cur, line.Qty)
			movementCost = mc
			return next, err
		}
	default:
		return inventory.LedgerEntry{}, inventory.Balance{}, fmt.Errorf("%w: %s does not move stock", shared.ErrInvalidTransition, doc.Kind)
	}

	balance, err := tx.Inventory().UpsertBalance(ctx, key, mutate)
	if err != nil {
		return inventory.LedgerEntry{}, inventory.Balance{}, err
	}
	entry, err := tx.Inventory().AppendEntry(ctx, inventory.LedgerEntry{
		Type:        entryType,
		Direction:   direction,
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		Qty:         line.Qty,
		UnitCost:    movementCost,
		RefType:     refType,
		RefID:       doc.ID,
		BatchID:     batchID,
		Actor:       actor,
		Note:        fmt.Sprintf("%s line %d", doc.Number, line.LineNo),
	})
	if err != nil {
		return inventory.LedgerEntry{}, inventory.Balance{}, err
	}
	if doc.Kind == documents.KindShipment {
		if err := tx.Documents().SetLineUnitCost(ctx, line.ID, movementCost); err != nil {
			return inventory.LedgerEntry{}, inventory.Balance{}, err
		}
	}
	return entry, balance, nil
}

func (s *Service) auditRecord(result PostedDocument, actor string) audit.Record {
	balances := make([]map[string]any, 0, len(result.Balances))
	for _, b := range result.Balances {
		balances = append(balances, map[string]any{
			"item_id":      b.ItemID,
			"warehouse_id": b.WarehouseID,
			"qty":          b.Qty,
			"avg_cost":     b.AvgCost.String(),
		})
	}
	return audit.Record{
		Actor:  actor,
		Action: "post",
		Module: string(result.Document.Kind),
		RefID:  result.Document.ID,
		Before: map[string]any{"status": documents.StatusDraft},
		After: map[string]any{
			"status":   documents.StatusPosted,
			"number":   result.Document.Number,
			"lines":    len(result.Entries),
			"balances": balances,
		},
		Details: map[string]any{"batch_id": result.BatchID},
	}
}

func (s *Service) logFailure(id int64, kind string, err error) {
	attrs := []any{slog.Int64("document_id", id), slog.String("kind", kind), slog.Any("error", err)}
	switch {
	case shared.IsRetryable(err):
		s.logger.Warn("posting contended", attrs...)
	case errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrInvalidLine),
		errors.Is(err, shared.ErrInvalidQuantity),
		errors.Is(err, shared.ErrInvalidCost),
		errors.Is(err, shared.ErrNotFound):
		s.logger.Info("posting rejected", attrs...)
	default:
		s.logger.Error("posting failed", attrs...)
	}
}
