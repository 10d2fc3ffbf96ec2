// Package reports builds the inventory levels read model and its exports.
package reports

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
)

// LevelRow is one line of the inventory levels report.
type LevelRow struct {
	SKU             string           `json:"sku"`
	Title           string           `json:"title"`
	Category        catalog.Category `json:"category"`
	OnHand          int64            `json:"on_hand"`
	Reserved        int64            `json:"reserved"`
	Available       int64            `json:"available"`
	ReorderPoint    int64            `json:"reorder_point"`
	UnitCost        decimal.Decimal  `json:"unit_cost"`
	TotalValue      decimal.Decimal  `json:"total_value"`
	StorageLocation string           `json:"storage_location"`
}

// LevelFilter narrows the report.
type LevelFilter struct {
	Category        catalog.Category
	IncludeInactive bool
}

// Totals sums quantity and value columns.
type Totals struct {
	OnHand     int64           `json:"on_hand"`
	Reserved   int64           `json:"reserved"`
	Available  int64           `json:"available"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Sum totals rows.
func Sum(rows []LevelRow) Totals {
	t := Totals{TotalValue: decimal.Zero}
	for _, r := range rows {
		t.OnHand += r.OnHand
		t.Reserved += r.Reserved
		t.Available += r.Available
		t.TotalValue = t.TotalValue.Add(r.TotalValue)
	}
	return t
}

// PositionReader exposes catalog positions joined with balances.
type PositionReader interface {
	Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error)
}

// Service assembles report rows.
type Service struct {
	positions PositionReader
}

// NewService constructs Service.
func NewService(positions PositionReader) *Service {
	return &Service{positions: positions}
}

// Levels returns tracked items with their balances and valuation, by SKU.
func (s *Service) Levels(ctx context.Context, filter LevelFilter) ([]LevelRow, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, &catalog.InvalidCategoryError{Category: filter.Category}
	}
	positions, err := s.positions.Positions(ctx, inventory.PositionFilter{
		ActiveOnly:  !filter.IncludeInactive,
		TrackedOnly: true,
		Category:    filter.Category,
	})
	if err != nil {
		return nil, err
	}
	rows := make([]LevelRow, 0, len(positions))
	for _, p := range positions {
		cost := p.Item.UnitCost()
		rows = append(rows, LevelRow{
			SKU:             p.Item.SKU,
			Title:           p.Item.Title,
			Category:        p.Item.Category,
			OnHand:          p.Balance.OnHand,
			Reserved:        p.Balance.Reserved,
			Available:       p.Available(),
			ReorderPoint:    p.Item.ReorderPoint,
			UnitCost:        cost,
			TotalValue:      cost.Mul(decimal.NewFromInt(p.Balance.OnHand)),
			StorageLocation: p.Item.StorageLocation,
		})
	}
	slices.SortFunc(rows, func(a, b LevelRow) int { return cmp.Compare(a.SKU, b.SKU) })
	return rows, nil
}
