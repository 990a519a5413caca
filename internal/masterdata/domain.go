package masterdata

import (
	"context"
	"time"
)

// Kind names a master-data entity.
type Kind string

const (
	KindItem      Kind = "item"
	KindWarehouse Kind = "warehouse"
	KindVendor    Kind = "vendor"
	KindCustomer  Kind = "customer"
)

// Defaults applied to new items.
const (
	DefaultUOM       = "PCS"
	CostMethodMovAvg = "moving_avg"
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListFilters represents standard list filters.
type ListFilters struct {
	Search string
	Limit  int
	Offset int
}

// Item is a stock-keeping unit.
type Item struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	UOM        string    `json:"uom"`
	CostMethod string    `json:"cost_method"`
	CreatedAt  time.Time `json:"created_at"`
}

// Warehouse is a stock location.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Partner is a vendor or a customer; both share one shape.
type Partner struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	TaxID       string    `json:"tax_id,omitempty"`
	PaymentTerm string    `json:"payment_term,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ItemInput creates an item.
type ItemInput struct {
	SKU  string `json:"sku" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=200"`
	UOM  string `json:"uom" validate:"omitempty,max=16"`
}

// WarehouseInput creates a warehouse.
type WarehouseInput struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=200"`
}

// PartnerInput creates a vendor or customer.
type PartnerInput struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required,max=200"`
	TaxID       string `json:"tax_id" validate:"omitempty,max=64"`
	PaymentTerm string `json:"payment_term" validate:"omitempty,max=32"`
}

// Repository persists master data.
type Repository interface {
	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filters ListFilters) ([]Item, error)

	CreateWarehouse(ctx context.Context, wh Warehouse) (Warehouse, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context, filters ListFilters) ([]Warehouse, error)

	CreatePartner(ctx context.Context, kind Kind, p Partner) (Partner, error)
	GetPartner(ctx context.Context, kind Kind, id int64) (Partner, error)
	ListPartners(ctx context.Context, kind Kind, filters ListFilters) ([]Partner, error)

	Exists(ctx context.Context, kind Kind, id int64) (bool, error)
}

// Checker answers existence questions for references on documents and movements.
type Checker interface {
	ItemExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
	VendorExists(ctx context.Context, id int64) (bool, error)
	CustomerExists(ctx context.Context, id int64) (bool, error)
}
