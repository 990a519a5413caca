package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Reconciler is satisfied by *inventory.Service.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]inventory.ReconcileResult, error)
}

// ReconcileJob replays the ledger nightly and reports balances that drifted.
type ReconcileJob struct {
	Inventory Reconciler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(inv Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Inventory: inv,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconciliation.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Inventory == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskInventoryReconcile)
	defer func() { err = tracker.End(err) }()

	logger := j.logger()
	logger.Info("starting inventory reconciliation")
	drifted, err := j.Inventory.ReconcileAll(ctx)
	if err != nil {
		logger.Error("reconciliation failed", slog.Any("error", err))
		return err
	}
	for _, d := range drifted {
		logger.Warn("balance drift detected",
			slog.Int64("item_id", d.Key.ItemID),
			slog.Int64("warehouse_id", d.Key.WarehouseID),
			slog.String("stored", d.Stored.String()),
			slog.String("replayed", d.Replayed.String()),
			slog.Int("entries", d.Entries))
	}
	j.Metrics.AddDrift(len(drifted))
	logger.Info("completed inventory reconciliation",
		slog.Int("drifted", len(drifted)),
		slog.Duration("duration", j.clock().Sub(start)))
	return nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
