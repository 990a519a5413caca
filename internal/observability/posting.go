package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Posting outcomes besides error codes.
const (
	OutcomePosted = "posted"
)

// PostingMetrics counts posting attempts per document kind and outcome.
type PostingMetrics struct {
	total        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	auditDropped prometheus.Counter
}

// NewPostingMetrics registers the posting collectors against registerer.
func NewPostingMetrics(registerer prometheus.Registerer) *PostingMetrics {
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_postings_total",
		Help: "Posting attempts partitioned by document kind and outcome.",
	}, []string{"kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_posting_duration_seconds",
		Help:    "Duration of posting transactions per document kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_posting_audit_dropped_total",
		Help: "Audit records for committed postings that the sink rejected.",
	})
	registerer.MustRegister(total, duration, dropped)
	return &PostingMetrics{total: total, duration: duration, auditDropped: dropped}
}

// Observe records one attempt. A nil receiver is a no-op.
func (m *PostingMetrics) Observe(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.total.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// AuditDropped counts an audit record lost after commit.
func (m *PostingMetrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
