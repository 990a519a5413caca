package documents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/keylock"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MemoryRepository keeps documents in process. A locked document stays
// locked until its unit of work commits or rolls back.
type MemoryRepository struct {
	mu          sync.RWMutex
	docs        map[int64]Document
	numbers     map[string]int64
	nextDocID   int64
	nextLineID  int64
	locks       *keylock.Locker
	lockTimeout time.Duration
	now         func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		docs:        make(map[int64]Document),
		numbers:     make(map[string]int64),
		locks:       keylock.New(),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Begin opens a unit of work. Callers must finish it with Commit or Rollback.
func (r *MemoryRepository) Begin() *MemoryTx {
	return &MemoryTx{
		repo:     r,
		staged:   make(map[int64]Document),
		releases: make(map[int64]func()),
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

// Create stores doc as a new draft.
func (r *MemoryRepository) Create(_ context.Context, doc Document) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.numbers[doc.Number]; taken {
		return Document{}, fmt.Errorf("%w: document number %s", shared.ErrDuplicate, doc.Number)
	}
	r.nextDocID++
	doc.ID = r.nextDocID
	doc.CreatedAt = r.now()
	if doc.DocDate.IsZero() {
		doc.DocDate = doc.CreatedAt
	}
	lines := make([]Line, len(doc.Lines))
	for i, l := range doc.Lines {
		r.nextLineID++
		l.ID = r.nextLineID
		lines[i] = l
	}
	doc.Lines = lines
	r.docs[doc.ID] = doc
	r.numbers[doc.Number] = doc.ID
	return doc.Clone(), nil
}

// Get returns the committed document id.
func (r *MemoryRepository) Get(_ context.Context, id int64) (Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %d", shared.ErrNotFound, id)
	}
	return doc.Clone(), nil
}

// List returns committed headers newest first.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Document, error) {
	r.mu.RLock()
	matched := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.CounterpartyID > 0 && d.CounterpartyID != filter.CounterpartyID {
			continue
		}
		if filter.SourceID > 0 && d.SourceID != filter.SourceID {
			continue
		}
		header := d.Clone()
		header.Lines = nil
		matched = append(matched, header)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if filter.Offset >= len(matched) {
		return []Document{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// MemoryTx is one unit of work against a MemoryRepository.
type MemoryTx struct {
	repo     *MemoryRepository
	staged   map[int64]Document
	releases map[int64]func()
	done     bool
}

var _ TxRepository = (*MemoryTx)(nil)

var errFinished = errors.New("documents: unit of work already finished")

// LockDocument locks id for the rest of the unit of work.
func (tx *MemoryTx) LockDocument(ctx context.Context, id int64) (Document, error) {
	if tx.done {
		return Document{}, errFinished
	}
	if doc, ok := tx.staged[id]; ok {
		return doc.Clone(), nil
	}
	release, err := tx.repo.locks.Acquire(ctx, fmt.Sprintf("document:%d", id), tx.repo.lockTimeout)
	if errors.Is(err, keylock.ErrTimeout) {
		return Document{}, fmt.Errorf("%w: document %d is locked by another operation", shared.ErrBusy, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("documents: lock document %d: %w", id, err)
	}
	doc, err := tx.repo.Get(ctx, id)
	if err != nil {
		release()
		return Document{}, err
	}
	tx.releases[id] = release
	tx.staged[id] = doc
	return doc.Clone(), nil
}

func (tx *MemoryTx) locked(id int64) (Document, error) {
	if tx.done {
		return Document{}, errFinished
	}
	doc, ok := tx.staged[id]
	if !ok {
		return Document{}, fmt.Errorf("documents: document %d is not locked in this unit of work", id)
	}
	return doc, nil
}

// InsertLine stages a new line on a locked document.
func (tx *MemoryTx) InsertLine(_ context.Context, documentID int64, line Line) (Line, error) {
	doc, err := tx.locked(documentID)
	if err != nil {
		return Line{}, err
	}
	for _, l := range doc.Lines {
		if l.LineNo == line.LineNo {
			return Line{}, fmt.Errorf("%w: document %d line %d", shared.ErrDuplicate, documentID, line.LineNo)
		}
	}
	tx.repo.mu.Lock()
	tx.repo.nextLineID++
	line.ID = tx.repo.nextLineID
	tx.repo.mu.Unlock()
	doc.Lines = append(doc.Lines, line)
	tx.staged[documentID] = doc
	return line, nil
}

// SetStatus stages a status change on a locked document.
func (tx *MemoryTx) SetStatus(_ context.Context, id int64, status Status, at time.Time) error {
	doc, err := tx.locked(id)
	if err != nil {
		return err
	}
	doc.Status = status
	stamp := at
	switch status {
	case StatusApproved:
		doc.ApprovedAt = &stamp
	case StatusPosted:
		doc.PostedAt = &stamp
	}
	tx.staged[id] = doc
	return nil
}

// SetLineUnitCost stages the cost of a line on a locked document.
func (tx *MemoryTx) SetLineUnitCost(_ context.Context, lineID int64, cost decimal.Decimal) error {
	if tx.done {
		return errFinished
	}
	for id, doc := range tx.staged {
		for i := range doc.Lines {
			if doc.Lines[i].ID == lineID {
				doc.Lines[i].UnitCost = cost
				tx.staged[id] = doc
				return nil
			}
		}
	}
	return fmt.Errorf("%w: line %d in a locked document", shared.ErrNotFound, lineID)
}

// Commit publishes staged documents and releases locks.
func (tx *MemoryTx) Commit() {
	if tx.done {
		return
	}
	tx.repo.mu.Lock()
	for id, doc := range tx.staged {
		tx.repo.docs[id] = doc
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
}
