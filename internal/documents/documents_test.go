package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/auth"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type stubMaster struct{}

func (stubMaster) ItemExists(_ context.Context, id int64) (bool, error)      { return id == 1 || id == 2, nil }
func (stubMaster) WarehouseExists(_ context.Context, id int64) (bool, error) { return id == 1, nil }
func (stubMaster) VendorExists(_ context.Context, id int64) (bool, error)    { return id == 10, nil }
func (stubMaster) CustomerExists(_ context.Context, id int64) (bool, error)  { return id == 20, nil }

func newService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository(50 * time.Millisecond)
	svc := NewService(repo, ServiceConfig{MasterData: stubMaster{}, Idempotency: shared.NewMemoryIdempotency()})
	var tick atomic.Int64
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) }
	return svc, repo
}

func line(item int64, qty int64, price, cost string) LineInput {
	return LineInput{
		ItemID:      item,
		WarehouseID: 1,
		Qty:         qty,
		UnitPrice:   decimal.RequireFromString(price),
		UnitCost:    decimal.RequireFromString(cost),
	}
}

func approvedPO(t *testing.T, svc *Service) Document {
	t.Helper()
	ctx := context.Background()
	po, err := svc.Create(ctx, CreateInput{Kind: KindPurchaseOrder, CounterpartyID: 10, Lines: []LineInput{line(1, 5, "10", "0")}}, "")
	require.NoError(t, err)
	po, err = svc.Approve(ctx, po.ID, "manager@example.com")
	require.NoError(t, err)
	return po
}

func TestKindHelpers(t *testing.T) {
	require.Equal(t, "PO", KindPurchaseOrder.Prefix())
	require.Equal(t, "SHP", KindShipment.Prefix())
	require.True(t, KindSalesOrder.IsOrder())
	require.True(t, KindGoodsReceipt.IsPosting())
	require.False(t, Kind("invoice").Valid())

	src, ok := KindShipment.SourceKind()
	require.True(t, ok)
	require.Equal(t, KindSalesOrder, src)
	_, ok = KindPurchaseOrder.SourceKind()
	require.False(t, ok)

	number := NewNumber(KindGoodsReceipt, time.Unix(0, 42))
	require.Equal(t, "GR-42", number)
}

func TestTransitionGuards(t *testing.T) {
	oneLine := []Line{{LineNo: 1, ItemID: 1, WarehouseID: 1, Qty: 1}}
	cases := []struct {
		name    string
		doc     Document
		approve error
		post    error
	}{
		{"draft order", Document{Kind: KindPurchaseOrder, Status: StatusDraft, Lines: oneLine}, nil, shared.ErrInvalidTransition},
		{"approved order", Document{Kind: KindSalesOrder, Status: StatusApproved, Lines: oneLine}, shared.ErrInvalidTransition, shared.ErrInvalidTransition},
		{"draft receipt", Document{Kind: KindGoodsReceipt, Status: StatusDraft, Lines: oneLine}, shared.ErrInvalidTransition, nil},
		{"posted shipment", Document{Kind: KindShipment, Status: StatusPosted, Lines: oneLine}, shared.ErrInvalidTransition, shared.ErrInvalidTransition},
		{"empty receipt", Document{Kind: KindGoodsReceipt, Status: StatusDraft}, shared.ErrInvalidTransition, shared.ErrInvalidLine},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.approve == nil {
				require.NoError(t, CanApprove(tc.doc))
			} else {
				require.ErrorIs(t, CanApprove(tc.doc), tc.approve)
			}
			if tc.post == nil {
				require.NoError(t, CanPost(tc.doc))
			} else {
				require.ErrorIs(t, CanPost(tc.doc), tc.post)
			}
		})
	}
}

func TestCreateOrder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	po, err := svc.Create(ctx, CreateInput{
		Kind:           KindPurchaseOrder,
		CounterpartyID: 10,
		Lines:          []LineInput{line(1, 5, "12.50", "99"), line(2, 1, "3", "0")},
		CreatedBy:      "buyer@example.com",
	}, "")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, po.Status)
	require.True(t, strings.HasPrefix(po.Number, "PO-"))
	require.Len(t, po.Lines, 2)
	require.Equal(t, 1, po.Lines[0].LineNo)
	require.Equal(t, 2, po.Lines[1].LineNo)
	require.True(t, po.Lines[0].UnitCost.IsZero(), "orders carry prices, not costs")

	_, err = svc.Create(ctx, CreateInput{Kind: KindPurchaseOrder}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Kind: KindSalesOrder, CounterpartyID: 10}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.ErrorContains(t, err, "customer 10")

	_, err = svc.Create(ctx, CreateInput{Kind: Kind("invoice")}, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateValidatesLines(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		line LineInput
		want error
		msg  string
	}{
		{"zero qty", line(1, 0, "1", "1"), shared.ErrInvalidLine, "line 1"},
		{"negative cost", line(1, 1, "0", "-1"), shared.ErrInvalidLine, "unit cost"},
		{"negative price", line(1, 1, "-2", "0"), shared.ErrInvalidLine, "unit price"},
		{"price too precise", line(1, 1, "1.0000001", "0"), shared.ErrInvalidLine, "decimal places"},
		{"cost too precise", line(1, 1, "0", "2.1234567"), shared.ErrInvalidLine, "decimal places"},
		{"unknown item", line(99, 1, "0", "1"), shared.ErrNotFound, "item 99"},
		{"unknown warehouse", LineInput{ItemID: 1, WarehouseID: 7, Qty: 1}, shared.ErrNotFound, "warehouse 7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, Lines: []LineInput{tc.line}}, "")
			require.ErrorIs(t, err, tc.want)
			require.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestCreateKeepsSixDecimalPlaces(t *testing.T) {
	svc, _ := newService(t)
	doc, err := svc.Create(context.Background(), CreateInput{Kind: KindGoodsReceipt, Lines: []LineInput{line(1, 1, "1.125000", "2.123456")}}, "")
	require.NoError(t, err)
	require.Equal(t, "1.125", doc.Lines[0].UnitPrice.String())
	require.Equal(t, "2.123456", doc.Lines[0].UnitCost.String())
}

func TestReceiptFromOrder(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	draft, err := svc.Create(ctx, CreateInput{Kind: KindPurchaseOrder, CounterpartyID: 10}, "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, SourceID: draft.ID}, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	po := approvedPO(t, svc)
	gr, err := svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, SourceID: po.ID, Lines: []LineInput{line(1, 5, "0", "10.25")}}, "")
	require.NoError(t, err)
	require.Equal(t, int64(10), gr.CounterpartyID)
	require.Equal(t, po.ID, gr.SourceID)
	require.True(t, decimal.RequireFromString("10.25").Equal(gr.Lines[0].UnitCost))

	_, err = svc.Create(ctx, CreateInput{Kind: KindShipment, SourceID: po.ID}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, SourceID: 404}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	shp, err := svc.Create(ctx, CreateInput{Kind: KindShipment, Lines: []LineInput{line(1, 1, "20", "5")}}, "")
	require.NoError(t, err)
	require.True(t, shp.Lines[0].UnitCost.IsZero(), "shipment cost is set when posted")
}

func TestAddLine(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	gr, err := svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, Lines: []LineInput{line(1, 1, "0", "1")}}, "")
	require.NoError(t, err)

	added, err := svc.AddLine(ctx, gr.ID, line(2, 3, "0", "4"), "clerk")
	require.NoError(t, err)
	require.Equal(t, 2, added.LineNo)
	require.NotZero(t, added.ID)

	_, err = svc.AddLine(ctx, gr.ID, line(2, -1, "0", "4"), "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidLine)

	got, err := svc.Get(ctx, gr.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)

	po := approvedPO(t, svc)
	_, err = svc.AddLine(ctx, po.ID, line(1, 1, "1", "0"), "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.AddLine(ctx, 999, line(1, 1, "1", "0"), "clerk")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApprove(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	po := approvedPO(t, svc)
	require.Equal(t, StatusApproved, po.Status)
	require.NotNil(t, po.ApprovedAt)

	_, err := svc.Approve(ctx, po.ID, "manager")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	empty, err := svc.Create(ctx, CreateInput{Kind: KindSalesOrder, CounterpartyID: 20}, "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, empty.ID, "manager")
	require.ErrorIs(t, err, shared.ErrInvalidLine)

	gr, err := svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, Lines: []LineInput{line(1, 1, "0", "1")}}, "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, gr.ID, "manager")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := svc.Get(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		doc, err := svc.Create(ctx, CreateInput{Kind: KindShipment, Lines: []LineInput{line(1, 1, "1", "0")}}, "")
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	_ = approvedPO(t, svc)

	docs, err := svc.List(ctx, ListFilter{Kind: KindShipment})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, ids[2], docs[0].ID)
	require.Nil(t, docs[0].Lines)

	docs, err = svc.List(ctx, ListFilter{Kind: KindShipment, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, ids[1], docs[0].ID)

	docs, err = svc.List(ctx, ListFilter{Status: StatusApproved})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, KindPurchaseOrder, docs[0].Kind)

	docs, err = svc.List(ctx, ListFilter{Kind: KindShipment, Offset: 10})
	require.NoError(t, err)
	require.NotNil(t, docs)
	require.Empty(t, docs)
}

func TestCreateIdempotencyKey(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	input := CreateInput{Kind: KindSalesOrder, CounterpartyID: 20, Lines: []LineInput{line(1, 1, "1", "0")}}

	_, err := svc.Create(ctx, input, "so-1")
	require.NoError(t, err)
	_, err = svc.Create(ctx, input, "so-1")
	require.ErrorIs(t, err, shared.ErrDuplicate)

	bad := input
	bad.Lines = []LineInput{line(1, 0, "1", "0")}
	_, err = svc.Create(ctx, bad, "so-2")
	require.ErrorIs(t, err, shared.ErrInvalidLine)
	_, err = svc.Create(ctx, input, "so-2")
	require.NoError(t, err, "a rejected request must not burn its key")
}

func TestMemoryTxDocumentLock(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	gr, err := svc.Create(ctx, CreateInput{Kind: KindGoodsReceipt, Lines: []LineInput{line(1, 1, "0", "1")}}, "")
	require.NoError(t, err)

	holder := repo.Begin()
	_, err = holder.LockDocument(ctx, gr.ID)
	require.NoError(t, err)
	require.NoError(t, holder.SetLineUnitCost(ctx, gr.Lines[0].ID, decimal.NewFromInt(7)))

	_, err = svc.AddLine(ctx, gr.ID, line(2, 1, "0", "1"), "clerk")
	require.ErrorIs(t, err, shared.ErrBusy)
	require.True(t, shared.IsRetryable(err))

	holder.Rollback()
	got, err := svc.Get(ctx, gr.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1).Equal(got.Lines[0].UnitCost))

	_, err = svc.AddLine(ctx, gr.ID, line(2, 1, "0", "1"), "clerk")
	require.NoError(t, err)
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

func TestHandlerOrderFlow(t *testing.T) {
	svc, _ := newService(t)
	buyer := newTestRouter(svc, auth.RolePurchasing)
	manager := newTestRouter(svc, auth.RoleManager)

	rec := httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/purchase-orders",
		strings.NewReader(`{"counterparty_id":10,"lines":[{"item_id":1,"warehouse_id":1,"qty":5,"unit_price":"12.5"}]}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var po Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	require.Equal(t, "purchasing@example.com", po.CreatedBy)

	path := fmt.Sprintf("/purchase-orders/%d", po.ID)
	rec = httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/lines", strings.NewReader(`{"item_id":2,"warehouse_id":1,"qty":1,"unit_price":"3"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/approve", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/approve", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path+"/approve", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, StatusApproved, got.Status)
	require.Len(t, got.Lines, 2)

	rec = httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/purchase-orders?status=approved", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = httptest.NewRecorder()
	buyer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/purchase-orders?status=void", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerKindAndRoleGates(t *testing.T) {
	svc, _ := newService(t)
	po := approvedPO(t, svc)

	sales := newTestRouter(svc, auth.RoleSales)
	rec := httptest.NewRecorder()
	sales.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/purchase-orders", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	sales.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/sales-orders/%d", po.ID), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	sales.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/shipments",
		strings.NewReader(`{"lines":[{"item_id":1,"warehouse_id":1,"qty":0}]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	sales.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/shipments", strings.NewReader(`{"lines":[{"item_id":99,"warehouse_id":1,"qty":1}]}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	manager := newTestRouter(svc, auth.RoleManager)
	rec = httptest.NewRecorder()
	manager.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/goods-receipts/1/approve", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
