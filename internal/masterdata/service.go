package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Service implements master-data business rules.
type Service struct {
	repo Repository
}

var _ Checker = (*Service)(nil)

// NewService creates a new master data service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateItem validates and stores an item.
func (s *Service) CreateItem(ctx context.Context, in ItemInput) (Item, error) {
	item := Item{
		SKU:        normalizeCode(in.SKU),
		Name:       normalizeName(in.Name),
		UOM:        normalizeCode(in.UOM),
		CostMethod: CostMethodMovAvg,
	}
	if item.UOM == "" {
		item.UOM = DefaultUOM
	}
	if item.SKU == "" || item.Name == "" {
		return Item{}, fmt.Errorf("%w: sku and name are required", shared.ErrValidation)
	}
	created, err := s.repo.CreateItem(ctx, item)
	return created, duplicate(err, KindItem, item.SKU)
}

// GetItem fetches an item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
	}
	return s.repo.GetItem(ctx, id)
}

// ListItems lists items by SKU.
func (s *Service) ListItems(ctx context.Context, filters ListFilters) ([]Item, error) {
	items, err := s.repo.ListItems(ctx, clamp(filters))
	if items == nil && err == nil {
		items = []Item{}
	}
	return items, err
}

// CreateWarehouse validates and stores a warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, in WarehouseInput) (Warehouse, error) {
	wh := Warehouse{Code: normalizeCode(in.Code), Name: normalizeName(in.Name)}
	if wh.Code == "" || wh.Name == "" {
		return Warehouse{}, fmt.Errorf("%w: code and name are required", shared.ErrValidation)
	}
	created, err := s.repo.CreateWarehouse(ctx, wh)
	return created, duplicate(err, KindWarehouse, wh.Code)
}

// GetWarehouse fetches a warehouse.
func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("%w: warehouse %d", shared.ErrNotFound, id)
	}
	return s.repo.GetWarehouse(ctx, id)
}

// ListWarehouses lists warehouses by code.
func (s *Service) ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	whs, err := s.repo.ListWarehouses(ctx, clamp(filters))
	if whs == nil && err == nil {
		whs = []Warehouse{}
	}
	return whs, err
}

// CreatePartner validates and stores a vendor or customer.
func (s *Service) CreatePartner(ctx context.Context, kind Kind, in PartnerInput) (Partner, error) {
	if err := partnerKind(kind); err != nil {
		return Partner{}, err
	}
	p := Partner{
		Code:        normalizeCode(in.Code),
		Name:        normalizeName(in.Name),
		TaxID:       normalizeCode(in.TaxID),
		PaymentTerm: normalizeCode(in.PaymentTerm),
	}
	if p.Code == "" || p.Name == "" {
		return Partner{}, fmt.Errorf("%w: code and name are required", shared.ErrValidation)
	}
	created, err := s.repo.CreatePartner(ctx, kind, p)
	return created, duplicate(err, kind, p.Code)
}

// GetPartner fetches a vendor or customer.
func (s *Service) GetPartner(ctx context.Context, kind Kind, id int64) (Partner, error) {
	if err := partnerKind(kind); err != nil {
		return Partner{}, err
	}
	if id <= 0 {
		return Partner{}, fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind, id)
	}
	return s.repo.GetPartner(ctx, kind, id)
}

// ListPartners lists vendors or customers by code.
func (s *Service) ListPartners(ctx context.Context, kind Kind, filters ListFilters) ([]Partner, error) {
	if err := partnerKind(kind); err != nil {
		return nil, err
	}
	ps, err := s.repo.ListPartners(ctx, kind, clamp(filters))
	if ps == nil && err == nil {
		ps = []Partner{}
	}
	return ps, err
}

// ItemExists reports whether item id exists.
func (s *Service) ItemExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, KindItem, id)
}

// WarehouseExists reports whether warehouse id exists.
func (s *Service) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, KindWarehouse, id)
}

// VendorExists reports whether vendor id exists.
func (s *Service) VendorExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, KindVendor, id)
}

// CustomerExists reports whether customer id exists.
func (s *Service) CustomerExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, KindCustomer, id)
}

func (s *Service) exists(ctx context.Context, kind Kind, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	return s.repo.Exists(ctx, kind, id)
}

func partnerKind(kind Kind) error {
	if kind != KindVendor && kind != KindCustomer {
		return fmt.Errorf("%w: %q is not a partner kind", shared.ErrValidation, kind)
	}
	return nil
}

func clamp(f ListFilters) ListFilters {
	f.Limit = shared.ClampLimit(f.Limit, defaultListLimit, maxListLimit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func duplicate(err error, kind Kind, code string) error {
	if errors.Is(err, shared.ErrDuplicate) {
		return fmt.Errorf("%w: %s %s already exists", shared.ErrDuplicate, kind, code)
	}
	return err
}
