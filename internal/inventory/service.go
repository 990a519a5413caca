package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/costing"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MasterData checks references before stock moves.
type MasterData interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
}

// Service coordinates inventory reads, manual adjustments and reconciliation.
type Service struct {
	repo        Repository
	master      MasterData
	audit       *audit.Emitter
	idempotency shared.Idempotency
	logger      *slog.Logger
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
	}
}

// Balance returns the balance of key, zero when the pair has never moved.
func (s *Service) Balance(ctx context.Context, key Key) (Balance, error) {
	b, _, err := s.repo.GetBalance(ctx, key)
	return b, err
}

// Upsert applies fn to key in its own unit of work.
func (s *Service) Upsert(ctx context.Context, key Key, fn Mutator) (Balance, error) {
	var out Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.UpsertBalance(ctx, key, fn)
		return err
	})
	return out, err
}

// ListBalances lists balances matching filter.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	balances, err := s.repo.ListBalances(ctx, filter)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []Balance{}
	}
	return balances, nil
}

// ListLedger lists ledger entries newest first with a bounded page size.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	filter.Limit = shared.ClampLimit(filter.Limit, DefaultLedgerLimit, MaxLedgerLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	entries, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	return entries, nil
}

// Adjust posts a manual correction. A positive delta revalues like a receipt at
// the given unit cost, or at the current average when none is given. A
// negative delta consumes stock at the current average.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput, idempotencyKey string) (LedgerEntry, Balance, error) {
	if input.ItemID <= 0 || input.WarehouseID <= 0 {
		return LedgerEntry{}, Balance{}, fmt.Errorf("%w: item and warehouse required", shared.ErrValidation)
	}
	if input.Delta == 0 {
		return LedgerEntry{}, Balance{}, fmt.Errorf("%w: adjustment delta must not be zero", shared.ErrInvalidQuantity)
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return LedgerEntry{}, Balance{}, fmt.Errorf("%w: %s", shared.ErrInvalidCost, input.UnitCost)
	}
	if err := s.checkRefs(ctx, input.ItemID, input.WarehouseID); err != nil {
		return LedgerEntry{}, Balance{}, err
	}
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "inventory"); err != nil {
			return LedgerEntry{}, Balance{}, err
		}
	}

	key := Key{ItemID: input.ItemID, WarehouseID: input.WarehouseID}
	var before Balance
	var entry LedgerEntry
	var after Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var movementCost decimal.Decimal
		var err error
		after, err = tx.UpsertBalance(ctx, key, func(cur costing.Balance) (costing.Balance, error) {
			before = Balance{Key: key, Qty: cur.Qty, AvgCost: cur.AvgCost}
			if input.Delta > 0 {
				cost := cur.AvgCost
				if input.UnitCost != nil {
					cost = *input.UnitCost
				}
				next, mc, err := costing.ApplyReceipt(cur, input.Delta, cost)
				movementCost = mc
				return next, err
			}
			next, mc, err := costing.ApplyIssue(cur, -input.Delta)
			movementCost = mc
			return next, err
		})
		if err != nil {
			return err
		}
		direction := costing.In
		qty := input.Delta
		if qty < 0 {
			direction, qty = costing.Out, -qty
		}
		entry, err = tx.AppendEntry(ctx, LedgerEntry{
			Type:        EntryAdjust,
			Direction:   direction,
			ItemID:      key.ItemID,
			WarehouseID: key.WarehouseID,
			Qty:         qty,
			UnitCost:    movementCost,
			RefType:     RefAdjustment,
			BatchID:     uuid.NewString(),
			Actor:       input.Actor,
			Note:        input.Note,
		})
		return err
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, idempotencyKey, "inventory")
		}
		return LedgerEntry{}, Balance{}, err
	}

	_ = s.audit.Emit(ctx, audit.Record{
		Actor:  input.Actor,
		Action: "adjust",
		Module: "inventory",
		RefID:  entry.ID,
		Before: balanceState(before),
		After:  balanceState(after),
		Details: map[string]any{
			"item_id":      key.ItemID,
			"warehouse_id": key.WarehouseID,
			"delta":        input.Delta,
			"unit_cost":    entry.UnitCost.String(),
			"note":         input.Note,
		},
	})
	return entry, after, nil
}

// Reconcile replays the ledger of key and compares it with the stored balance.
// Both are read from one snapshot.
func (s *Service) Reconcile(ctx context.Context, key Key) (ReconcileResult, error) {
	stored, entries, err := s.repo.Snapshot(ctx, key)
	if err != nil {
		return ReconcileResult{}, err
	}
	movements := make([]costing.Movement, len(entries))
	for i, e := range entries {
		movements[i] = e.Movement()
	}
	replayed, err := costing.Replay(movements)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("inventory: reconcile %s: %w", key, err)
	}
	res := ReconcileResult{
		Key:      key,
		Stored:   stored.State(),
		Replayed: replayed,
		Entries:  len(entries),
	}
	res.Drift = !res.Stored.Equal(replayed)
	return res, nil
}

// ReconcileAll reconciles every key with bounded concurrency and returns only
// the keys that drifted.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	keys, err := s.repo.Keys(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ReconcileResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range keys {
		g.Go(func() error {
			res, err := s.Reconcile(gctx, key)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	drifted := []ReconcileResult{}
	for _, res := range results {
		if res.Drift {
			s.logger.Warn("inventory drift",
				slog.Int64("item_id", res.Key.ItemID),
				slog.Int64("warehouse_id", res.Key.WarehouseID),
				slog.String("stored", res.Stored.String()),
				slog.String("replayed", res.Replayed.String()))
			drifted = append(drifted, res)
		}
	}
	return drifted, nil
}

func (s *Service) checkRefs(ctx context.Context, itemID, warehouseID int64) error {
	if s.master == nil {
		return nil
	}
	ok, err := s.master.ItemExists(ctx, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	ok, err = s.master.WarehouseExists(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: warehouse %d", shared.ErrNotFound, warehouseID)
	}
	return nil
}

func balanceState(b Balance) map[string]any {
	return map[string]any{
		"item_id":      b.ItemID,
		"warehouse_id": b.WarehouseID,
		"qty":          b.Qty,
		"avg_cost":     b.AvgCost.String(),
	}
}

