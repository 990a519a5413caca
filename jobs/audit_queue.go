package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

// AuditQueue is an audit.Sink that hands records to the worker so the
// request path never waits on the audit table.
type AuditQueue struct {
	client Enqueuer
}

var _ audit.Sink = (*AuditQueue)(nil)

// NewAuditQueue constructs AuditQueue.
func NewAuditQueue(client Enqueuer) *AuditQueue {
	return &AuditQueue{client: client}
}

// Record enqueues rec.
func (q *AuditQueue) Record(ctx context.Context, rec audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	task, err := NewAuditRecordTask(rec)
	if err != nil {
		return fmt.Errorf("audit queue: encode: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("audit queue: enqueue: %w", err)
	}
	return nil
}

// AuditWriteJob drains the audit queue into a sink.
type AuditWriteJob struct {
	Sink    audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditWriteJob initialises the audit writer.
func NewAuditWriteJob(sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditWriteJob {
	return &AuditWriteJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle writes one record. Undecodable or invalid payloads are not retried.
func (j *AuditWriteJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("audit write: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditRecord)
	defer func() { err = tracker.End(err) }()

	var rec audit.Record
	if err := json.Unmarshal(t.Payload(), &rec); err != nil {
		j.logger().Warn("audit payload rejected", slog.Any("error", err))
		return fmt.Errorf("decode audit record: %v: %w", err, asynq.SkipRetry)
	}
	if err := rec.Validate(); err != nil {
		j.logger().Warn("audit payload rejected", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := j.Sink.Record(ctx, rec); err != nil {
		j.logger().Error("audit write failed",
			slog.String("action", rec.Action),
			slog.String("module", rec.Module),
			slog.Int64("ref_id", rec.RefID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *AuditWriteJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
