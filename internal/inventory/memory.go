package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/keylock"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MemoryRepository keeps balances and the ledger in process. Each key is
// guarded by a keylock slot held from the first mutation until the unit of
// work commits or rolls back.
type MemoryRepository struct {
	mu          sync.RWMutex
	balances    map[Key]Balance
	ledger      []LedgerEntry
	nextID      int64
	locks       *keylock.Locker
	lockTimeout time.Duration
	now         func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty store. lockTimeout bounds how long a
// unit of work waits for a key held by another.
func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		balances:    make(map[Key]Balance),
		locks:       keylock.New(),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Begin opens a unit of work. Callers must finish it with Commit or Rollback.
func (r *MemoryRepository) Begin() *MemoryTx {
	return &MemoryTx{
		repo:     r,
		staged:   make(map[Key]Balance),
		releases: make(map[Key]func()),
	}
}

// WithTx runs fn in a unit of work and commits when it returns nil.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := r.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// GetBalance returns the committed balance of key.
func (r *MemoryRepository) GetBalance(_ context.Context, key Key) (Balance, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.balances[key]
	if !ok {
		return Balance{Key: key}, false, nil
	}
	return b, true, nil
}

// ListBalances returns committed balances ordered by item and warehouse.
func (r *MemoryRepository) ListBalances(_ context.Context, filter BalanceFilter) ([]Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Balance
	for key, b := range r.balances {
		if filter.ItemID > 0 && key.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID > 0 && key.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.NonZeroOnly && b.Qty == 0 {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out, nil
}

// ListLedger returns committed entries newest first.
func (r *MemoryRepository) ListLedger(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	r.mu.RLock()
	matched := make([]LedgerEntry, 0, len(r.ledger))
	for _, e := range r.ledger {
		if filter.ItemID > 0 && e.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID > 0 && e.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.RefType != "" && e.RefType != filter.RefType {
			continue
		}
		if filter.RefID > 0 && e.RefID != filter.RefID {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if filter.Offset >= len(matched) {
		return []LedgerEntry{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// LedgerForKey returns committed entries of key, oldest first.
func (r *MemoryRepository) LedgerForKey(_ context.Context, key Key) ([]LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledgerForKey(key), nil
}

// Snapshot reads the balance and ledger of key under one read lock.
func (r *MemoryRepository) Snapshot(_ context.Context, key Key) (Balance, []LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.balances[key]
	if !ok {
		b = Balance{Key: key}
	}
	return b, r.ledgerForKey(key), nil
}

func (r *MemoryRepository) ledgerForKey(key Key) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range r.ledger {
		if e.Key() == key {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Keys lists every key with a committed balance.
func (r *MemoryRepository) Keys(_ context.Context) ([]Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.balances))
	for k := range r.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemID != keys[j].ItemID {
			return keys[i].ItemID < keys[j].ItemID
		}
		return keys[i].WarehouseID < keys[j].WarehouseID
	})
	return keys, nil
}

// MemoryTx is one unit of work against a MemoryRepository.
type MemoryTx struct {
	repo     *MemoryRepository
	staged   map[Key]Balance
	entries  []LedgerEntry
	releases map[Key]func()
	done     bool
}

var _ TxRepository = (*MemoryTx)(nil)

// GetBalance reads the staged value first, then the committed one.
func (tx *MemoryTx) GetBalance(ctx context.Context, key Key) (Balance, bool, error) {
	if b, ok := tx.staged[key]; ok {
		return b, true, nil
	}
	return tx.repo.GetBalance(ctx, key)
}

// UpsertBalance locks key for the rest of the unit of work and stages fn's result.
func (tx *MemoryTx) UpsertBalance(ctx context.Context, key Key, fn Mutator) (Balance, error) {
	if tx.done {
		return Balance{}, errors.New("inventory: unit of work already finished")
	}
	if _, held := tx.releases[key]; !held {
		release, err := tx.repo.locks.Acquire(ctx, lockName(key), tx.repo.lockTimeout)
		if errors.Is(err, keylock.ErrTimeout) {
			return Balance{}, fmt.Errorf("%w: balance %s is locked by another posting", shared.ErrBusy, key)
		}
		if err != nil {
			return Balance{}, fmt.Errorf("inventory: lock balance %s: %w", key, err)
		}
		tx.releases[key] = release
	}

	current, _, err := tx.GetBalance(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	next, err := fn(current.State())
	if err != nil {
		return current, err
	}
	updated := Balance{Key: key, Qty: next.Qty, AvgCost: next.AvgCost, UpdatedAt: tx.repo.now()}
	tx.staged[key] = updated
	return updated, nil
}

// AppendEntry assigns an id and timestamp and stages the entry.
func (tx *MemoryTx) AppendEntry(_ context.Context, entry LedgerEntry) (LedgerEntry, error) {
	if tx.done {
		return LedgerEntry{}, errors.New("inventory: unit of work already finished")
	}
	tx.repo.mu.Lock()
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	entry.CreatedAt = tx.repo.now()
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

// Commit publishes staged balances and entries atomically and releases locks.
func (tx *MemoryTx) Commit() {
	tx.CommitWith(nil)
}

// CommitWith publishes like Commit and runs publish before readers can observe
// the new balances, so a caller can make other stores visible in the same
// critical section.
func (tx *MemoryTx) CommitWith(publish func()) {
	if tx.done {
		return
	}
	tx.repo.mu.Lock()
	for key, b := range tx.staged {
		tx.repo.balances[key] = b
	}
	tx.repo.ledger = append(tx.repo.ledger, tx.entries...)
	if publish != nil {
		publish()
	}
	tx.repo.mu.Unlock()
	tx.finish()
}

// Rollback discards staged changes and releases locks.
func (tx *MemoryTx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *MemoryTx) finish() {
	tx.done = true
	for _, release := range tx.releases {
		release()
	}
	tx.releases = nil
	tx.staged = nil
	tx.entries = nil
}

func lockName(key Key) string {
	return fmt.Sprintf("balance:%d:%d", key.ItemID, key.WarehouseID)
}
