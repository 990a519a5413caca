package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/costing"
	"github.com/odyssey-erp/odyssey-stock/internal/documents"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type sinkFunc func(context.Context, audit.Record) error

func (f sinkFunc) Record(ctx context.Context, rec audit.Record) error { return f(ctx, rec) }

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	dropped  int
}

func (r *countingRecorder) Observe(kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind+"/"+outcome]++
}

func (r *countingRecorder) AuditDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *countingRecorder) count(kind, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[kind+"/"+outcome]
}

type fixture struct {
	docs    *documents.Service
	docRepo *documents.MemoryRepository
	invRepo *inventory.MemoryRepository
	uow     *MemoryUnitOfWork
	inv     *inventory.Service
	svc     *Service
	metrics *countingRecorder
	records chan audit.Record
	bumps   *bumpCounter
}

type bumpCounter struct {
	n atomic.Int32
}

func (b *bumpCounter) Bump(context.Context) error {
	b.n.Add(1)
	return nil
}

func newFixture(t *testing.T, lockTimeout time.Duration, sink audit.Sink) *fixture {
	t.Helper()
	docRepo := documents.NewMemoryRepository(lockTimeout)
	invRepo := inventory.NewMemoryRepository(lockTimeout)
	f := &fixture{
		docs:    documents.NewService(docRepo, documents.ServiceConfig{}),
		docRepo: docRepo,
		invRepo: invRepo,
		uow:     NewMemoryUnitOfWork(docRepo, invRepo),
		inv:     inventory.NewService(invRepo, inventory.ServiceConfig{}),
		metrics: &countingRecorder{outcomes: make(map[string]int)},
		records: make(chan audit.Record, 64),
		bumps:   &bumpCounter{},
	}
	if sink == nil {
		sink = sinkFunc(func(_ context.Context, rec audit.Record) error {
			f.records <- rec
			return nil
		})
	}
	f.svc = NewService(f.uow, ServiceConfig{
		Audit:       audit.NewEmitter(sink, nil, time.Second),
		Metrics:     f.metrics,
		Invalidator: f.bumps,
	})
	return f
}

func receiptLine(item int64, qty int64, cost string) documents.LineInput {
	return documents.LineInput{ItemID: item, WarehouseID: 1, Qty: qty, UnitCost: dec(cost)}
}

func issueLine(item int64, qty int64) documents.LineInput {
	return documents.LineInput{ItemID: item, WarehouseID: 1, Qty: qty, UnitPrice: dec("99")}
}

func (f *fixture) draft(t *testing.T, kind documents.Kind, lines ...documents.LineInput) documents.Document {
	t.Helper()
	doc, err := f.docs.Create(context.Background(), documents.CreateInput{Kind: kind, Lines: lines}, "")
	require.NoError(t, err)
	return doc
}

func (f *fixture) balance(t *testing.T, item int64) inventory.Balance {
	t.Helper()
	b, err := f.inv.Balance(context.Background(), inventory.Key{ItemID: item, WarehouseID: 1})
	require.NoError(t, err)
	return b
}

func (f *fixture) ledger(t *testing.T, item int64) []inventory.LedgerEntry {
	t.Helper()
	entries, err := f.invRepo.LedgerForKey(context.Background(), inventory.Key{ItemID: item, WarehouseID: 1})
	require.NoError(t, err)
	return entries
}

func TestPostReceiptsAndShipment(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx := context.Background()

	gr1 := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 10, "5"))
	posted, err := f.svc.Post(ctx, gr1.ID, "clerk@example.com")
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, posted.Document.Status)
	require.NotNil(t, posted.Document.PostedAt)
	require.NotEmpty(t, posted.BatchID)
	require.Len(t, posted.Entries, 1)
	require.Equal(t, inventory.EntryReceipt, posted.Entries[0].Type)
	require.Equal(t, inventory.RefGoodsReceipt, posted.Entries[0].RefType)
	require.Equal(t, gr1.ID, posted.Entries[0].RefID)
	require.Equal(t, posted.BatchID, posted.Entries[0].BatchID)
	require.Equal(t, "clerk@example.com", posted.Entries[0].Actor)

	gr2 := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 10, "7"))
	_, err = f.svc.Post(ctx, gr2.ID, "clerk@example.com")
	require.NoError(t, err)
	b := f.balance(t, 1)
	require.Equal(t, int64(20), b.Qty)
	require.True(t, dec("6").Equal(b.AvgCost), b.AvgCost.String())

	shp := f.draft(t, documents.KindShipment, issueLine(1, 4))
	posted, err = f.svc.Post(ctx, shp.ID, "picker@example.com")
	require.NoError(t, err)
	require.Equal(t, inventory.EntryIssue, posted.Entries[0].Type)
	require.Equal(t, costing.Out, posted.Entries[0].Direction)
	require.Equal(t, inventory.RefShipment, posted.Entries[0].RefType)
	require.True(t, dec("6").Equal(posted.Entries[0].UnitCost))
	require.True(t, dec("6").Equal(posted.Document.Lines[0].UnitCost))
	require.Len(t, posted.Balances, 1)
	require.Equal(t, int64(16), posted.Balances[0].Qty)

	stored, err := f.docs.Get(ctx, shp.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, stored.Status)
	require.True(t, dec("6").Equal(stored.Lines[0].UnitCost), "shipment line keeps the cost it was issued at")

	b = f.balance(t, 1)
	require.Equal(t, int64(16), b.Qty)
	require.True(t, dec("6").Equal(b.AvgCost))
	require.Len(t, f.ledger(t, 1), 3)
	require.Equal(t, 2, f.metrics.count("goods_receipt", observability.OutcomePosted))
	require.Equal(t, 1, f.metrics.count("shipment", observability.OutcomePosted))
}

func TestPostInvalidatesReportsOnlyOnCommit(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx := context.Background()

	shp := f.draft(t, documents.KindShipment, issueLine(1, 1))
	_, err := f.svc.Post(ctx, shp.ID, "picker@example.com")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int32(0), f.bumps.n.Load())

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, "1"))
	_, err = f.svc.Post(ctx, gr.ID, "clerk@example.com")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.bumps.n.Load())
}

func TestPostLinesInOrderOnSameKey(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx := context.Background()

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 5, "10"), receiptLine(1, 5, "20"), receiptLine(2, 1, "3"))
	posted, err := f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)
	require.Len(t, posted.Entries, 3)
	require.Len(t, posted.Balances, 2)
	require.Equal(t, int64(10), posted.Balances[0].Qty)
	require.True(t, dec("15").Equal(posted.Balances[0].AvgCost))

	shp := f.draft(t, documents.KindShipment, issueLine(1, 6), issueLine(1, 4))
	posted, err = f.svc.Post(ctx, shp.ID, "picker")
	require.NoError(t, err)
	require.Equal(t, int64(0), posted.Balances[0].Qty)
	require.True(t, posted.Balances[0].AvgCost.IsZero())

	entries := f.ledger(t, 1)
	require.Len(t, entries, 4)
	require.Equal(t, int64(5), entries[0].Qty)
	require.True(t, dec("10").Equal(entries[0].UnitCost))
	require.True(t, dec("20").Equal(entries[1].UnitCost))
	require.Equal(t, int64(6), entries[2].Qty)
	require.Equal(t, int64(4), entries[3].Qty)
	require.True(t, dec("15").Equal(entries[3].UnitCost))
}

func TestPostInsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx := context.Background()

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 3, "4"), receiptLine(2, 2, "1"))
	_, err := f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)

	shp := f.draft(t, documents.KindShipment, issueLine(2, 1), issueLine(1, 5))
	_, err = f.svc.Post(ctx, shp.ID, "picker")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 2, lineErr.LineNo)
	require.Equal(t, int64(1), lineErr.ItemID)
	require.Equal(t, shp.Number, lineErr.Number)
	require.Contains(t, err.Error(), "available 3, requested 5")

	var stockErr *costing.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, int64(3), stockErr.Available)

	require.Equal(t, int64(2), f.balance(t, 2).Qty, "line 1 must not survive the failed posting")
	require.Equal(t, int64(3), f.balance(t, 1).Qty)
	require.Len(t, f.ledger(t, 2), 1)

	stored, err := f.docs.Get(ctx, shp.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, stored.Status)
	require.True(t, stored.Lines[0].UnitCost.IsZero())
	require.Equal(t, 1, f.metrics.count("shipment", "insufficient_stock"))
}

func TestPostTransitionErrors(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx := context.Background()

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, "1"))
	_, err := f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, gr.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Len(t, f.ledger(t, 1), 1, "a posted document never moves stock twice")

	_, err = f.svc.Post(ctx, 404, "clerk")
	require.ErrorIs(t, err, shared.ErrNotFound)

	so, err := f.docs.Create(ctx, documents.CreateInput{Kind: documents.KindSalesOrder, CounterpartyID: 5, Lines: []documents.LineInput{issueLine(1, 1)}}, "")
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, so.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	empty := f.draft(t, documents.KindShipment)
	_, err = f.svc.Post(ctx, empty.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidLine)

	other := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, "1"))
	_, err = f.svc.PostKind(ctx, documents.KindShipment, other.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 2, "3"))
	_, err := f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, int64(2), f.balance(t, 1).Qty)
}

func TestPostBusyWhenBalanceLocked(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, nil)
	ctx := context.Background()
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 2, "3"))

	holder := f.invRepo.Begin()
	_, err := holder.UpsertBalance(ctx, inventory.Key{ItemID: 1, WarehouseID: 1}, func(b costing.Balance) (costing.Balance, error) {
		return b, nil
	})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, gr.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrBusy)
	require.True(t, shared.IsRetryable(err))
	holder.Rollback()

	stored, err := f.docs.Get(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, stored.Status)

	_, err = f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)
}

func TestAuditFailureDoesNotFailPosting(t *testing.T) {
	f := newFixture(t, time.Second, sinkFunc(func(context.Context, audit.Record) error {
		return errors.New("audit store down")
	}))
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, "1"))
	_, err := f.svc.Post(context.Background(), gr.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, 1, f.metrics.dropped)
	require.Equal(t, int64(1), f.balance(t, 1).Qty)
}

func TestAuditRecordCapturesBeforeAndAfter(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 4, "2.5"))
	posted, err := f.svc.Post(context.Background(), gr.ID, "clerk")
	require.NoError(t, err)

	rec := <-f.records
	require.Equal(t, "post", rec.Action)
	require.Equal(t, "goods_receipt", rec.Module)
	require.Equal(t, gr.ID, rec.RefID)
	require.Equal(t, "clerk", rec.Actor)
	require.Equal(t, documents.StatusDraft, rec.Before["status"])
	require.Equal(t, documents.StatusPosted, rec.After["status"])
	require.Equal(t, 1, rec.After["lines"])
	require.Equal(t, posted.BatchID, rec.Details["batch_id"])
	balances := rec.After["balances"].([]map[string]any)
	require.Len(t, balances, 1)
	require.Equal(t, "2.5", balances[0]["avg_cost"])
}

func TestConcurrentReceiptsSameKeySerialize(t *testing.T) {
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	const n = 20
	ids := make([]int64, n)
	for i := range ids {
		cost := "10"
		if i%2 == 1 {
			cost = "20"
		}
		ids[i] = f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, cost)).ID
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := f.svc.Post(ctx, id, "clerk")
			return err
		})
	}
	require.NoError(t, g.Wait())

	b := f.balance(t, 1)
	require.Equal(t, int64(n), b.Qty)
	require.True(t, b.AvgCost.Sub(dec("15")).Abs().LessThan(dec("0.0001")), b.AvgCost.String())
	require.Len(t, f.ledger(t, 1), n)

	replayed, err := f.inv.Reconcile(ctx, inventory.Key{ItemID: 1, WarehouseID: 1})
	require.NoError(t, err)
	require.False(t, replayed.Drift)
}

func TestConcurrentShipmentsNeverOversell(t *testing.T) {
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 5, "2"))
	_, err := f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)

	ids := make([]int64, 10)
	for i := range ids {
		ids[i] = f.draft(t, documents.KindShipment, issueLine(1, 1)).ID
	}
	var ok, short atomic.Int32
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := f.svc.Post(ctx, id, "picker")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(5), ok.Load())
	require.Equal(t, int32(5), short.Load())
	require.Equal(t, int64(0), f.balance(t, 1).Qty)
}

func TestConcurrentDoublePostOnlyOnce(t *testing.T) {
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 3, "1"))

	var ok, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := f.svc.Post(ctx, gr.ID, "clerk")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInvalidTransition):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(1), rejected.Load())
	require.Equal(t, int64(3), f.balance(t, 1).Qty)
}

func TestDisjointKeysPostIndependently(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, nil)
	ctx := context.Background()
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(2, 1, "1"))

	holder := f.invRepo.Begin()
	defer holder.Rollback()
	_, err := holder.UpsertBalance(ctx, inventory.Key{ItemID: 1, WarehouseID: 1}, func(b costing.Balance) (costing.Balance, error) {
		return b, nil
	})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, gr.ID, "clerk")
	require.NoError(t, err)
}

// gatedUnitOfWork pauses the first posting right after it takes its first
// balance lock, until release is closed.
type gatedUnitOfWork struct {
	inner   UnitOfWork
	armed   atomic.Bool
	held    chan struct{}
	release chan struct{}
}

func newGatedUnitOfWork(inner UnitOfWork) *gatedUnitOfWork {
	g := &gatedUnitOfWork{inner: inner, held: make(chan struct{}), release: make(chan struct{})}
	g.armed.Store(true)
	return g
}

func (g *gatedUnitOfWork) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return g.inner.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, gatedTx{Tx: tx, gate: g})
	})
}

type gatedTx struct {
	Tx
	gate *gatedUnitOfWork
}

func (t gatedTx) Inventory() inventory.TxRepository {
	return gatedInventory{TxRepository: t.Tx.Inventory(), gate: t.gate}
}

type gatedInventory struct {
	inventory.TxRepository
	gate *gatedUnitOfWork
}

func (g gatedInventory) UpsertBalance(ctx context.Context, key inventory.Key, fn inventory.Mutator) (inventory.Balance, error) {
	b, err := g.TxRepository.UpsertBalance(ctx, key, fn)
	if err == nil && g.gate.armed.CompareAndSwap(true, false) {
		close(g.gate.held)
		<-g.gate.release
	}
	return b, err
}

type postResult struct {
	doc PostedDocument
	err error
}

// raceReceiptAndShipment posts a receipt and a shipment on the same key while
// the first one named holds the balance lock, forcing the second to wait.
func raceReceiptAndShipment(t *testing.T, receiptCost string, receiptFirst bool) (inventory.Balance, PostedDocument, PostedDocument) {
	t.Helper()
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	seed := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 10, "2"))
	_, err := f.svc.Post(ctx, seed.ID, "clerk")
	require.NoError(t, err)

	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 5, receiptCost))
	shp := f.draft(t, documents.KindShipment, issueLine(1, 6))
	first, second := gr.ID, shp.ID
	if !receiptFirst {
		first, second = shp.ID, gr.ID
	}

	gate := newGatedUnitOfWork(f.uow)
	svc := NewService(gate, ServiceConfig{})
	firstDone := make(chan postResult, 1)
	secondDone := make(chan postResult, 1)
	go func() {
		doc, err := svc.Post(ctx, first, "clerk")
		firstDone <- postResult{doc: doc, err: err}
	}()
	<-gate.held
	go func() {
		doc, err := svc.Post(ctx, second, "picker")
		secondDone <- postResult{doc: doc, err: err}
	}()

	select {
	case res := <-secondDone:
		t.Fatalf("second posting finished while the key was held: %+v", res.err)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	a := <-firstDone
	require.NoError(t, a.err)
	b := <-secondDone
	require.NoError(t, b.err)

	receipt, shipment := a.doc, b.doc
	if !receiptFirst {
		receipt, shipment = b.doc, a.doc
	}
	return f.balance(t, 1), receipt, shipment
}

func TestConcurrentReceiptAndShipmentSameKey(t *testing.T) {
	cases := []struct {
		name         string
		receiptCost  string
		receiptFirst bool
		wantAvg      string
		wantShipCost string
	}{
		{name: "receipt then shipment", receiptCost: "5", receiptFirst: true, wantAvg: "3", wantShipCost: "3"},
		{name: "shipment then receipt", receiptCost: "5", receiptFirst: false, wantAvg: "3.666667", wantShipCost: "2"},
		{name: "receipt at average then shipment", receiptCost: "2", receiptFirst: true, wantAvg: "2", wantShipCost: "2"},
		{name: "shipment then receipt at average", receiptCost: "2", receiptFirst: false, wantAvg: "2", wantShipCost: "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bal, receipt, shipment := raceReceiptAndShipment(t, tc.receiptCost, tc.receiptFirst)

			// Same result as posting the two documents one after the other.
			seq := costing.Balance{Qty: 10, AvgCost: dec("2")}
			var shipCost decimal.Decimal
			var err error
			if tc.receiptFirst {
				seq, _, err = costing.ApplyReceipt(seq, 5, dec(tc.receiptCost))
				require.NoError(t, err)
				seq, shipCost, err = costing.ApplyIssue(seq, 6)
			} else {
				seq, shipCost, err = costing.ApplyIssue(seq, 6)
				require.NoError(t, err)
				seq, _, err = costing.ApplyReceipt(seq, 5, dec(tc.receiptCost))
			}
			require.NoError(t, err)

			require.Equal(t, int64(9), bal.Qty)
			require.True(t, bal.State().Equal(seq), "stored %s, sequential %s", bal.State().String(), seq.String())
			require.True(t, bal.AvgCost.Equal(dec(tc.wantAvg)), bal.AvgCost.String())

			require.Len(t, receipt.Entries, 1)
			require.Equal(t, inventory.EntryReceipt, receipt.Entries[0].Type)
			require.True(t, receipt.Entries[0].UnitCost.Equal(dec(tc.receiptCost)))
			require.Len(t, shipment.Entries, 1)
			require.Equal(t, inventory.EntryIssue, shipment.Entries[0].Type)
			require.True(t, shipment.Entries[0].UnitCost.Equal(shipCost))
			require.True(t, shipment.Entries[0].UnitCost.Equal(dec(tc.wantShipCost)), shipment.Entries[0].UnitCost.String())
		})
	}
}

func TestReconcileDuringPostingsNeverDrifts(t *testing.T) {
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	key := inventory.Key{ItemID: 1, WarehouseID: 1}
	const n = 30
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 1, fmt.Sprintf("%d", i+1))).ID
	}

	stop := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			res, err := f.inv.Reconcile(ctx, key)
			if err != nil {
				return err
			}
			if res.Drift {
				return fmt.Errorf("drift at %d entries: stored %s, replayed %s", res.Entries, res.Stored.String(), res.Replayed.String())
			}
		}
	})
	var posts errgroup.Group
	for _, id := range ids {
		posts.Go(func() error {
			_, err := f.svc.Post(ctx, id, "clerk")
			return err
		})
	}
	require.NoError(t, posts.Wait())
	close(stop)
	require.NoError(t, g.Wait())
}

func TestMemoryPostingPublishesDocumentWithBalance(t *testing.T) {
	f := newFixture(t, 5*time.Second, nil)
	ctx := context.Background()
	const n = 20
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = f.draft(t, documents.KindGoodsReceipt, documents.LineInput{ItemID: int64(i + 1), WarehouseID: 1, Qty: 1, UnitCost: dec("1")}).ID
	}

	stop := make(chan struct{})
	var g errgroup.Group
	for i, id := range ids {
		key := inventory.Key{ItemID: int64(i + 1), WarehouseID: 1}
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				b, _, err := f.invRepo.GetBalance(ctx, key)
				if err != nil {
					return err
				}
				if b.Qty == 0 {
					continue
				}
				doc, err := f.docRepo.Get(ctx, id)
				if err != nil {
					return err
				}
				if doc.Status != documents.StatusPosted {
					return fmt.Errorf("document %d is %s while its balance is visible", id, doc.Status)
				}
				return nil
			}
		})
	}
	var posts errgroup.Group
	for _, id := range ids {
		posts.Go(func() error {
			_, err := f.svc.Post(ctx, id, "clerk")
			return err
		})
	}
	require.NoError(t, posts.Wait())
	close(stop)
	require.NoError(t, g.Wait())
}

func newTestRouter(svc *Service, role auth.Role) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: 1, Email: string(role) + "@example.com", Role: role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, svc, rbac.Middleware{}).MountRoutes(r)
	return r
}

func TestHandlerPost(t *testing.T) {
	f := newFixture(t, time.Second, nil)
	gr := f.draft(t, documents.KindGoodsReceipt, receiptLine(1, 2, "3"))
	shp := f.draft(t, documents.KindShipment, issueLine(1, 5))

	buyer := newTestRouter(f.svc, auth.RolePurchasing)
	rec := httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/goods-receipts/%d/post", gr.ID), nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	manager := newTestRouter(f.svc, auth.RoleManager)
	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/shipments/%d/post", gr.ID), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/goods-receipts/%d/post", gr.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var posted PostedDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.Equal(t, documents.StatusPosted, posted.Document.Status)
	require.Equal(t, "manager@example.com", posted.Entries[0].Actor)

	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/goods-receipts/%d/post", gr.ID), nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/shipments/%d/post", shp.ID), nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "line 1")
}
