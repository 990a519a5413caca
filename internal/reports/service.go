package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository runs the read-only aggregation queries.
type Repository interface {
	Balances(ctx context.Context, filter ValuationFilter) ([]ValuationRow, error)
	PartnerTotals(ctx context.Context, side string, period PeriodFilter) ([]PartnerRow, error)
}

// Service assembles reports from Repository rows.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Repository with an optional Cache.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// InventoryValuation values every non-empty balance at qty × average cost.
func (s *Service) InventoryValuation(ctx context.Context, filter ValuationFilter) (Valuation, error) {
	rows, err := s.repo.Balances(ctx, filter)
	if err != nil {
		return Valuation{}, fmt.Errorf("reports: valuation: %w", err)
	}
	out := Valuation{Rows: make([]ValuationRow, 0, len(rows)), TotalValue: decimal.Zero, AsOf: s.now()}
	for _, row := range rows {
		row.Value = row.AvgCost.Mul(decimal.NewFromInt(row.Qty))
		out.TotalQty += row.Qty
		out.TotalValue = out.TotalValue.Add(row.Value)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// VendorSummary sums approved purchase orders and posted receipts per vendor.
func (s *Service) VendorSummary(ctx context.Context, period PeriodFilter) (PartnerSummary, error) {
	return s.partnerSummary(ctx, SideVendor, period)
}

// CustomerSummary sums approved sales orders and posted shipments per customer.
func (s *Service) CustomerSummary(ctx context.Context, period PeriodFilter) (PartnerSummary, error) {
	return s.partnerSummary(ctx, SideCustomer, period)
}

func (s *Service) partnerSummary(ctx context.Context, side string, period PeriodFilter) (PartnerSummary, error) {
	if period.From != nil && period.To != nil && !period.From.Before(*period.To) {
		return PartnerSummary{}, fmt.Errorf("%w: from must be before to", shared.ErrValidation)
	}
	rows, err := s.repo.PartnerTotals(ctx, side, period)
	if err != nil {
		return PartnerSummary{}, fmt.Errorf("reports: %s summary: %w", side, err)
	}
	if rows == nil {
		rows = []PartnerRow{}
	}
	return PartnerSummary{Side: side, Rows: rows, From: period.From, To: period.To}, nil
}

// Dashboard runs every report concurrently. The result is cached until the
// cache version is bumped or the TTL expires; cache failures fall back to a
// fresh load.
func (s *Service) Dashboard(ctx context.Context, warehouseID int64) (Dashboard, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "dashboard", strconv.FormatInt(warehouseID, 10))
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		return s.loadDashboard(ctx, warehouseID)
	}
	var out Dashboard
	var loadErr error
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		d, err := s.loadDashboard(ctx, warehouseID)
		loadErr = err
		return d, err
	})
	if loadErr != nil {
		return Dashboard{}, loadErr
	}
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		return s.loadDashboard(ctx, warehouseID)
	}
	return out, nil
}

func (s *Service) loadDashboard(ctx context.Context, warehouseID int64) (Dashboard, error) {
	var out Dashboard
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.InventoryValuation(ctx, ValuationFilter{WarehouseID: warehouseID})
		out.Valuation = v
		return err
	})
	g.Go(func() error {
		v, err := s.VendorSummary(ctx, PeriodFilter{})
		out.Vendors = v
		return err
	})
	g.Go(func() error {
		c, err := s.CustomerSummary(ctx, PeriodFilter{})
		out.Customers = c
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	out.GeneratedAt = s.now()
	return out, nil
}
