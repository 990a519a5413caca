package audit

import (
	"context"
	"log/slog"
	"time"
)

// Emitter sends records to a Sink after the business transaction has
// committed. Failures are logged and returned for counting; callers must not
// treat them as failures of the operation being audited.
type Emitter struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewEmitter wraps sink. A zero timeout defaults to two seconds.
func NewEmitter(sink Sink, logger *slog.Logger, timeout time.Duration) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Emitter{sink: sink, logger: logger, timeout: timeout, now: func() time.Time { return time.Now().UTC() }}
}

// Emit records rec on a context detached from the caller's cancellation and
// bounded by the emitter timeout. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, rec Record) error {
	if e == nil || e.sink == nil {
		return nil
	}
	if rec.At.IsZero() {
		rec.At = e.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.sink.Record(ctx, rec); err != nil {
		e.logger.Warn("audit record dropped",
			slog.String("action", rec.Action),
			slog.String("module", rec.Module),
			slog.Int64("ref_id", rec.RefID),
			slog.Any("error", err))
		return err
	}
	return nil
}
