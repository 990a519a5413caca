package inventory

import "context"

// TxRepository is the balance store and ledger as seen from inside one unit of
// work. Balance mutations hold the key until the unit of work ends.
type TxRepository interface {
	// GetBalance returns the current row without locking; ok is false when the
	// pair has never moved.
	GetBalance(ctx context.Context, key Key) (Balance, bool, error)
	// UpsertBalance locks key, treats a missing row as zero, applies fn and
	// stages the result. Lock waits are bounded and surface shared.ErrBusy.
	UpsertBalance(ctx context.Context, key Key, fn Mutator) (Balance, error)
	// AppendEntry writes a ledger entry and returns it with id and timestamp.
	AppendEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
}

// Repository is the read side plus the unit-of-work entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key Key) (Balance, bool, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	// LedgerForKey returns every entry of key, oldest first.
	LedgerForKey(ctx context.Context, key Key) ([]LedgerEntry, error)
	// Snapshot reads the balance and the full ledger of key as of one point in
	// time; no posting commits between the two reads.
	Snapshot(ctx context.Context, key Key) (Balance, []LedgerEntry, error)
	// Keys returns every key that has a balance row.
	Keys(ctx context.Context) ([]Key, error)
}
