package reorder

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
)

// Suggestion is one item at or below its reorder point.
type Suggestion struct {
	ItemID            int64            `json:"item_id"`
	SKU               string           `json:"sku"`
	Title             string           `json:"title"`
	Category          catalog.Category `json:"category"`
	OnHand            int64            `json:"on_hand"`
	Reserved          int64            `json:"reserved"`
	Available         int64            `json:"available"`
	ReorderPoint      int64            `json:"reorder_point"`
	ReorderQuantity   int64            `json:"reorder_quantity"`
	Shortfall         int64            `json:"shortfall"`
	SuggestedQuantity int64            `json:"suggested_quantity"`
	UnitCost          decimal.Decimal  `json:"unit_cost"`
	SupplierName      string           `json:"supplier_name"`
	SupplierURL       string           `json:"supplier_url"`
	StorageLocation   string           `json:"storage_location"`
}

// Report is the below-reorder-point listing.
type Report struct {
	Suggestions []Suggestion `json:"suggestions"`
	Count       int          `json:"count"`
}

// Suggest selects active tracked positions whose available quantity is at
// or below the reorder point, largest shortfall first.
func Suggest(positions []inventory.Position) []Suggestion {
	out := []Suggestion{}
	for _, p := range positions {
		item := p.Item
		if !item.Active || !item.TrackInventory {
			continue
		}
		available := p.Available()
		if available > item.ReorderPoint {
			continue
		}
		shortfall := item.ReorderPoint - available
		out = append(out, Suggestion{
			ItemID:            item.ID,
			SKU:               item.SKU,
			Title:             item.Title,
			Category:          item.Category,
			OnHand:            p.Balance.OnHand,
			Reserved:          p.Balance.Reserved,
			Available:         available,
			ReorderPoint:      item.ReorderPoint,
			ReorderQuantity:   item.ReorderQuantity,
			Shortfall:         shortfall,
			SuggestedQuantity: max(item.ReorderQuantity, shortfall),
			UnitCost:          item.UnitCost(),
			SupplierName:      item.SupplierName,
			SupplierURL:       item.SupplierURL,
			StorageLocation:   item.StorageLocation,
		})
	}
	slices.SortFunc(out, func(a, b Suggestion) int {
		if c := cmp.Compare(b.Shortfall, a.Shortfall); c != 0 {
			return c
		}
		return cmp.Compare(a.SKU, b.SKU)
	})
	return out
}
