package assembly

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// ReferenceType tags ledger postings created by an assembly.
const ReferenceType = "assembly"

// Input requests quantity kits of KitSKU.
type Input struct {
	KitSKU   string `json:"kit_sku" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	Note     string `json:"note" validate:"max=500"`
	Actor    string `json:"-"`
}

// Result describes a committed assembly.
type Result struct {
	ReferenceID  string                  `json:"reference_id"`
	KitSKU       string                  `json:"kit_sku"`
	Quantity     int64                   `json:"quantity"`
	UnitCost     decimal.Decimal         `json:"unit_cost"`
	Transactions []inventory.Transaction `json:"transactions"`
}

// InsufficientComponentsError reports the lines that cannot cover the requested quantity.
type InsufficientComponentsError struct {
	KitSKU    string
	Requested int64
	Buildable int64
	Limiting  []bom.LineAvailability
}

func (e *InsufficientComponentsError) Error() string {
	skus := make([]string, 0, len(e.Limiting))
	for _, l := range e.Limiting {
		skus = append(skus, fmt.Sprintf("%s short %d", l.ComponentSKU, l.Shortfall))
	}
	return fmt.Sprintf("assembly: cannot build %d of %s, only %d buildable (%v)", e.Requested, e.KitSKU, e.Buildable, skus)
}

func (e *InsufficientComponentsError) Is(target error) bool { return target == shared.ErrInvalidState }

// ProblemContext exposes structured detail for API responses.
func (e *InsufficientComponentsError) ProblemContext() map[string]any {
	return map[string]any{
		"kit_sku":   e.KitSKU,
		"requested": e.Requested,
		"buildable": e.Buildable,
		"limiting":  e.Limiting,
	}
}
