package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TypeInboundReceipt records stock received against a purchase order.
	TypeInboundReceipt TransactionType = "inbound_receipt"
	// TypeOutboundShipment records stock leaving the building.
	TypeOutboundShipment TransactionType = "outbound_shipment"
	// TypeAdjustment records manual corrections in either direction.
	TypeAdjustment TransactionType = "adjustment"
	// TypeKitConsume records components used by an assembly.
	TypeKitConsume TransactionType = "kit_assembly_consume"
	// TypeKitProduce records kits produced by an assembly.
	TypeKitProduce TransactionType = "kit_assembly_produce"
)

// TransactionTypes lists every movement type.
var TransactionTypes = []TransactionType{TypeInboundReceipt, TypeOutboundShipment, TypeAdjustment, TypeKitConsume, TypeKitProduce}

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	return t.Sign() != 0 || t == TypeAdjustment
}

// Sign is +1 for types that only add stock, -1 for types that only remove it
// and 0 for adjustments, which go either way.
func (t TransactionType) Sign() int {
	switch t {
	case TypeInboundReceipt, TypeKitProduce:
		return 1
	case TypeOutboundShipment, TypeKitConsume:
		return -1
	case TypeAdjustment:
		return 0
	}
	return 0
}

// RequiresActiveItem reports whether the movement is refused for deactivated items.
func (t TransactionType) RequiresActiveItem() bool {
	switch t {
	case TypeInboundReceipt, TypeKitConsume, TypeKitProduce:
		return true
	case TypeOutboundShipment, TypeAdjustment:
		return false
	}
	return true
}

// CheckDelta validates the direction of delta for t.
func (t TransactionType) CheckDelta(delta int64) error {
	if !t.Valid() {
		return shared.Invalid("type", "unknown transaction type %q", t)
	}
	switch {
	case delta == 0:
		return fmt.Errorf("%w: zero delta", ErrInvalidQuantity)
	case t.Sign() > 0 && delta < 0, t.Sign() < 0 && delta > 0:
		return fmt.Errorf("%w: %s cannot carry delta %d", ErrInvalidQuantity, t, delta)
	}
	return nil
}

// Balance is the current stock position of one tracked item.
type Balance struct {
	ItemID    int64     `json:"item_id"`
	SKU       string    `json:"sku"`
	OnHand    int64     `json:"on_hand"`
	Reserved  int64     `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is on hand minus reserved.
func (b Balance) Available() int64 { return b.OnHand - b.Reserved }

// BalanceView adds the derived available quantity for read models.
type BalanceView struct {
	Balance
	Available int64 `json:"available"`
}

// View renders b with its available quantity.
func (b Balance) View() BalanceView { return BalanceView{Balance: b, Available: b.Available()} }

// Transaction is one immutable ledger record.
type Transaction struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	SKU           string          `json:"sku"`
	Type          TransactionType `json:"type"`
	QuantityDelta int64           `json:"quantity_delta"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Note          string          `json:"note"`
	Actor         string          `json:"actor"`
	OnHandAfter   int64           `json:"on_hand_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Entry is a posting request.
type Entry struct {
	SKU           string
	Type          TransactionType
	Delta         int64
	UnitCost      decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Note          string
	Actor         string
}

// HistoryFilter selects a page of transactions, newest first.
type HistoryFilter struct {
	SKU         string
	ItemID      int64
	Type        TransactionType
	ReferenceID string
	Limit       int
	// Before is an exclusive transaction id cursor; zero starts at the newest.
	Before int64
}

// HistoryPage is one page of history. NextBefore is zero on the last page.
type HistoryPage struct {
	Transactions []Transaction `json:"transactions"`
	NextBefore   int64         `json:"next_before,omitempty"`
}

// Position joins an item with its balance.
type Position struct {
	Item    catalog.Item
	Balance Balance
}

// Available is the item's available quantity.
func (p Position) Available() int64 { return p.Balance.Available() }

// PositionFilter narrows Positions.
type PositionFilter struct {
	ActiveOnly  bool
	TrackedOnly bool
	Category    catalog.Category
}

// Reconciliation compares the stored balance with the replayed ledger.
type Reconciliation struct {
	ItemID       int64  `json:"item_id"`
	SKU          string `json:"sku"`
	OnHand       int64  `json:"on_hand"`
	LedgerSum    int64  `json:"ledger_sum"`
	Transactions int64  `json:"transactions"`
}

// Balanced reports whether the balance equals the signed sum of its transactions.
func (r Reconciliation) Balanced() bool { return r.OnHand == r.LedgerSum }

var (
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrNotTracked indicates an item excluded from the ledger.
	ErrNotTracked = fmt.Errorf("inventory: item does not track inventory: %w", shared.ErrInvalidState)
)

// InsufficientStockError is returned when a change would leave on hand negative or below reserved.
type InsufficientStockError struct {
	SKU      string
	OnHand   int64
	Reserved int64
	Delta    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: on hand %d, reserved %d, change %d", e.SKU, e.OnHand, e.Reserved, e.Delta)
}

func (e *InsufficientStockError) Is(target error) bool { return target == shared.ErrInvalidState }

// ProblemContext exposes structured detail for API responses.
func (e *InsufficientStockError) ProblemContext() map[string]any {
	return map[string]any{
		"sku":       e.SKU,
		"on_hand":   e.OnHand,
		"reserved":  e.Reserved,
		"available": e.OnHand - e.Reserved,
		"requested": e.Delta,
	}
}

// IsInsufficientStock reports whether err carries an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
