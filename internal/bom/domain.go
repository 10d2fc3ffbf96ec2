package bom

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Line is one component requirement of a kit, joined with the component's catalog data.
type Line struct {
	KitID             int64
	KitSKU            string
	ComponentID       int64
	ComponentSKU      string
	ComponentTitle    string
	ComponentCategory catalog.Category
	ComponentTracked  bool
	ComponentActive   bool
	Quantity          int64
	ComponentCost     decimal.Decimal
}

// ExtendedCost is the line's contribution to one kit's cost.
func (l Line) ExtendedCost() decimal.Decimal {
	return l.ComponentCost.Mul(decimal.NewFromInt(l.Quantity))
}

// LineInput is one requested component when replacing a BOM.
type LineInput struct {
	ComponentSKU string `json:"component_sku" validate:"required"`
	Quantity     int64  `json:"quantity" validate:"gt=0"`
}

// Edge is a parent to component link in the recipe graph.
type Edge struct {
	KitID       int64
	ComponentID int64
	Quantity    int64
}

// LineAvailability reports how far stock of one component goes.
type LineAvailability struct {
	ComponentID  int64  `json:"component_id"`
	ComponentSKU string `json:"component_sku"`
	PerKit       int64  `json:"per_kit"`
	Required     int64  `json:"required"`
	Available    int64  `json:"available"`
	Buildable    int64  `json:"buildable"`
	Shortfall    int64  `json:"shortfall"`
	Tracked      bool   `json:"tracked"`
}

// Buildability is the result of checking a kit against current stock.
type Buildability struct {
	KitSKU    string             `json:"kit_sku"`
	Requested int64              `json:"requested"`
	Buildable int64              `json:"buildable"`
	Unbounded bool               `json:"unbounded"`
	Lines     []LineAvailability `json:"lines"`
	// Limiting holds the lines that cap Buildable.
	Limiting []LineAvailability `json:"limiting"`
}

// CanBuild reports whether the requested quantity fits.
func (b Buildability) CanBuild() bool {
	return b.Unbounded || b.Requested <= b.Buildable
}

// Shortfalls returns the lines lacking stock for the requested quantity.
func (b Buildability) Shortfalls() []LineAvailability {
	out := []LineAvailability{}
	for _, l := range b.Lines {
		if l.Tracked && l.Shortfall > 0 {
			out = append(out, l)
		}
	}
	return out
}

// CyclicBOMError is returned when a kit would contain itself.
type CyclicBOMError struct {
	KitSKU string
	Path   []string
}

func (e *CyclicBOMError) Error() string {
	return fmt.Sprintf("bom: kit %s would contain itself via %s", e.KitSKU, strings.Join(e.Path, " -> "))
}

func (e *CyclicBOMError) Is(target error) bool { return target == shared.ErrValidation }

// ProblemContext exposes structured detail for API responses.
func (e *CyclicBOMError) ProblemContext() map[string]any {
	return map[string]any{"kit_sku": e.KitSKU, "path": e.Path}
}

// Evaluate computes buildability of requested kits from per-component availability.
// Untracked components never limit the result.
func Evaluate(kitSKU string, lines []Line, available map[int64]int64, requested int64) Buildability {
	result := Buildability{KitSKU: kitSKU, Requested: requested, Lines: make([]LineAvailability, 0, len(lines))}
	lowest := int64(-1)
	for _, line := range lines {
		la := LineAvailability{
			ComponentID:  line.ComponentID,
			ComponentSKU: line.ComponentSKU,
			PerKit:       line.Quantity,
			Required:     requested * line.Quantity,
			Tracked:      line.ComponentTracked,
		}
		if line.ComponentTracked {
			la.Available = max(available[line.ComponentID], 0)
			la.Buildable = la.Available / line.Quantity
			la.Shortfall = max(la.Required-la.Available, 0)
			if lowest < 0 || la.Buildable < lowest {
				lowest = la.Buildable
			}
		}
		result.Lines = append(result.Lines, la)
	}
	if lowest < 0 {
		result.Unbounded = true
		result.Limiting = []LineAvailability{}
		return result
	}
	result.Buildable = lowest
	result.Limiting = []LineAvailability{}
	for _, la := range result.Lines {
		if la.Tracked && la.Buildable == lowest {
			result.Limiting = append(result.Limiting, la)
		}
	}
	return result
}
