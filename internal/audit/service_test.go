package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	mu         sync.Mutex
	rows       []Record
	inserted   []Record
	lastOffset int
	lastLimit  int
	err        error
}

func (s *stubRepo) Insert(_ context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.inserted = append(s.inserted, rec)
	return int64(len(s.inserted)), nil
}

func (s *stubRepo) Window(_ context.Context, _ TimelineFilters, offset, limit int) ([]Record, error) {
	s.lastOffset, s.lastLimit = offset, limit
	end := offset + limit
	if offset > len(s.rows) {
		return nil, nil
	}
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ID: int64(n - i), Action: "post", Module: "goods_receipt"}
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: records(3)}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.lastOffset)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 51, repo.lastLimit)
	require.Equal(t, 50, result.Paging.PageSize)
	require.NotNil(t, result.Rows)

	_, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, 21, repo.lastLimit)
}

func TestServiceRecordValidates(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	require.Error(t, svc.Record(context.Background(), Record{Module: "inventory"}))
	require.NoError(t, svc.Record(context.Background(), Record{Action: "adjust", Module: "inventory"}))
	require.Len(t, repo.inserted, 1)
}

type blockingSink struct{}

func (blockingSink) Record(ctx context.Context, _ Record) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEmitterDetachesAndBounds(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := &stubRepo{}
	e := NewEmitter(NewService(repo), logger, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Emit(ctx, Record{Action: "post", Module: "shipment", RefID: 4}))
	require.Len(t, repo.inserted, 1)
	require.False(t, repo.inserted[0].At.IsZero())

	slow := NewEmitter(blockingSink{}, logger, 20*time.Millisecond)
	err := slow.Emit(context.Background(), Record{Action: "post", Module: "shipment"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	failing := NewEmitter(NewService(&stubRepo{err: errors.New("db down")}), logger, time.Second)
	require.Error(t, failing.Emit(context.Background(), Record{Action: "post", Module: "shipment"}))

	var nilEmitter *Emitter
	require.NoError(t, nilEmitter.Emit(context.Background(), Record{}))
}
