package audit

import (
	"context"
	"fmt"
)

// Sink accepts audit records. Implementations may write synchronously or queue.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Repository reads and writes persisted audit records.
type Repository interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Record, error)
}

// Service coordinates audit writes and the paged timeline.
type Service struct {
	repo Repository
}

// NewService constructs the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record validates and persists rec. It satisfies Sink.
func (s *Service) Record(ctx context.Context, rec Record) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("audit: repository not configured")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.repo.Insert(ctx, rec)
	return err
}

// Timeline returns one page of records, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Record{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
