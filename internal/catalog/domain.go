package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Category classifies an item.
type Category string

const (
	CategoryRawMaterial  Category = "raw_material"
	CategoryComponent    Category = "component"
	CategoryFinishedGood Category = "finished_good"
	CategoryKit          Category = "kit"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryRawMaterial, CategoryComponent, CategoryFinishedGood, CategoryKit}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRawMaterial, CategoryComponent, CategoryFinishedGood, CategoryKit:
		return true
	}
	return false
}

// ParseCategory converts raw input into a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", &InvalidCategoryError{Category: c}
	}
	return c, nil
}

// Item is one stock keeping unit.
type Item struct {
	ID              int64
	SKU             string
	Title           string
	Description     string
	Category        Category
	BaseCost        decimal.Decimal
	CalculatedCost  decimal.Decimal
	SellPrice       decimal.Decimal
	SupplierName    string
	SupplierURL     string
	WeightKg        decimal.Decimal
	Dimensions      string
	StorageLocation string
	ReorderPoint    int64
	ReorderQuantity int64
	TrackInventory  bool
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsKit reports whether the item is assembled from a BOM.
func (i Item) IsKit() bool { return i.Category == CategoryKit }

// UnitCost returns the rolled-up cost for kits and the base cost otherwise.
func (i Item) UnitCost() decimal.Decimal {
	if i.IsKit() {
		return i.CalculatedCost
	}
	return i.BaseCost
}

// RegisterInput carries a new catalog entry.
type RegisterInput struct {
	SKU             string          `json:"sku" validate:"required,max=64"`
	Title           string          `json:"title" validate:"required,max=200"`
	Description     string          `json:"description"`
	Category        Category        `json:"category" validate:"required"`
	BaseCost        decimal.Decimal `json:"base_cost"`
	SellPrice       decimal.Decimal `json:"sell_price"`
	SupplierName    string          `json:"supplier_name" validate:"max=200"`
	SupplierURL     string          `json:"supplier_url" validate:"omitempty,url"`
	WeightKg        decimal.Decimal `json:"weight_kg"`
	Dimensions      string          `json:"dimensions"`
	StorageLocation string          `json:"storage_location"`
	ReorderPoint    int64           `json:"reorder_point" validate:"gte=0"`
	ReorderQuantity int64           `json:"reorder_quantity" validate:"gte=0"`
	TrackInventory  *bool           `json:"track_inventory"`
	Actor           string          `json:"-"`
}

// Patch updates selected fields. Nil pointers leave values unchanged.
type Patch struct {
	Title           *string          `json:"title" validate:"omitempty,max=200"`
	Description     *string          `json:"description"`
	Category        *Category        `json:"category"`
	BaseCost        *decimal.Decimal `json:"base_cost"`
	CalculatedCost  *decimal.Decimal `json:"calculated_cost"`
	SellPrice       *decimal.Decimal `json:"sell_price"`
	SupplierName    *string          `json:"supplier_name" validate:"omitempty,max=200"`
	SupplierURL     *string          `json:"supplier_url" validate:"omitempty,url"`
	WeightKg        *decimal.Decimal `json:"weight_kg"`
	Dimensions      *string          `json:"dimensions"`
	StorageLocation *string          `json:"storage_location"`
	ReorderPoint    *int64           `json:"reorder_point" validate:"omitempty,gte=0"`
	ReorderQuantity *int64           `json:"reorder_quantity" validate:"omitempty,gte=0"`
	TrackInventory  *bool            `json:"track_inventory"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Category   Category
	ActiveOnly bool
	Search     string
	Limit      int
	Offset     int
}

// Change describes an item mutation delivered to ChangeHandlers after commit.
type Change struct {
	Before *Item
	After  Item
}

// CostChanged reports whether the effective unit cost moved.
func (c Change) CostChanged() bool {
	if c.Before == nil {
		return false
	}
	return !c.Before.UnitCost().Equal(c.After.UnitCost())
}

// NormalizeSKU trims, NFKC-folds and upper-cases a SKU.
func NormalizeSKU(raw string) string {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	return cases.Upper(language.Und).String(s)
}

// DuplicateSKUError is returned when registering an existing SKU.
type DuplicateSKUError struct {
	SKU string
}

func (e *DuplicateSKUError) Error() string {
	return fmt.Sprintf("catalog: sku %s already exists", e.SKU)
}

func (e *DuplicateSKUError) Is(target error) bool { return target == shared.ErrConflict }

// ProblemContext exposes structured detail for API responses.
func (e *DuplicateSKUError) ProblemContext() map[string]any {
	return map[string]any{"sku": e.SKU}
}

// InvalidStateError reports an operation the item cannot accept.
type InvalidStateError struct {
	SKU    string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("catalog: item %s: %s", e.SKU, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool { return target == shared.ErrInvalidState }

// ProblemContext exposes structured detail for API responses.
func (e *InvalidStateError) ProblemContext() map[string]any {
	return map[string]any{"sku": e.SKU, "reason": e.Reason}
}

// InvalidCategoryError reports an unknown category or an item of the wrong category.
type InvalidCategoryError struct {
	SKU      string
	Category Category
	Want     Category
}

func (e *InvalidCategoryError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("catalog: item %s is %s, want %s", e.SKU, e.Category, e.Want)
	}
	return fmt.Sprintf("catalog: invalid category %q", e.Category)
}

func (e *InvalidCategoryError) Is(target error) bool { return target == shared.ErrValidation }

// ProblemContext exposes structured detail for API responses.
func (e *InvalidCategoryError) ProblemContext() map[string]any {
	return map[string]any{"sku": e.SKU, "category": e.Category, "expected": e.Want}
}

// RequireKit fails with InvalidCategoryError unless item is a kit.
func RequireKit(item Item) error {
	if !item.IsKit() {
		return &InvalidCategoryError{SKU: item.SKU, Category: item.Category, Want: CategoryKit}
	}
	return nil
}
