package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesPostingMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Postings().Observe("goods_receipt", OutcomePosted, 20*time.Millisecond)
	metrics.Postings().Observe("shipment", "insufficient_stock", time.Millisecond)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, `odyssey_postings_total{kind="goods_receipt",outcome="posted"} 1`)
	require.Contains(t, body, `odyssey_postings_total{kind="shipment",outcome="insufficient_stock"} 1`)
	require.Contains(t, body, `odyssey_posting_duration_seconds_bucket{kind="shipment"`)
}

func TestPostingMetricsNilSafe(t *testing.T) {
	var m *PostingMetrics
	m.Observe("goods_receipt", OutcomePosted, time.Second)
	m.AuditDropped()

	var all *Metrics
	require.Nil(t, all.Postings())
}

func TestPostingMetricsAuditDropped(t *testing.T) {
	metrics := NewMetrics()
	metrics.Postings().AuditDropped()
	metrics.Postings().AuditDropped()
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Postings().auditDropped))
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := metricsRR.Body.String()
	require.Contains(t, body, `http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `http_request_duration_seconds_bucket{route="/test"`)
}
