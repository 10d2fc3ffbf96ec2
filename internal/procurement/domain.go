package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Status is the purchase order lifecycle state.
type Status string

const (
	StatusOrdered   Status = "ordered"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOrdered, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the order can still receive goods or be edited.
func (s Status) Open() bool {
	switch s {
	case StatusOrdered, StatusInTransit:
		return true
	case StatusReceived, StatusCancelled:
		return false
	}
	return false
}

// CanTransitionTo enforces ordered -> in_transit -> received and
// ordered/in_transit -> cancelled. Terminal states have no exits.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusOrdered:
		return next == StatusInTransit || next == StatusReceived || next == StatusCancelled
	case StatusInTransit:
		return next == StatusReceived || next == StatusCancelled
	case StatusReceived, StatusCancelled:
		return false
	}
	return false
}

// FormatPONumber renders a sequence value as a supplier-facing PO number.
func FormatPONumber(seq int64) string {
	return fmt.Sprintf("PO%06d", seq)
}

// Order is an inbound purchase order.
type Order struct {
	ID           int64           `json:"id"`
	PONumber     string          `json:"po_number"`
	SupplierName string          `json:"supplier_name"`
	SupplierRef  string          `json:"supplier_ref"`
	SupplierURL  string          `json:"supplier_url"`
	Status       Status          `json:"status"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date,omitempty"`
	ReceivedDate *time.Time      `json:"received_date,omitempty"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Total        decimal.Decimal `json:"total"`
	Notes        string          `json:"notes"`
	Lines        []Line          `json:"lines"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Recalculate derives subtotal and total from lines, shipping and tax.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for _, l := range o.Lines {
		subtotal = subtotal.Add(l.ExtendedCost())
	}
	o.Subtotal = subtotal
	o.Total = subtotal.Add(o.ShippingCost).Add(o.Tax)
}

// FullyReceived reports whether every line is satisfied.
func (o Order) FullyReceived() bool {
	for _, l := range o.Lines {
		if !l.Satisfied() {
			return false
		}
	}
	return true
}

// AnyReceived reports whether any line has received stock.
func (o Order) AnyReceived() bool {
	for _, l := range o.Lines {
		if l.QuantityReceived > 0 {
			return true
		}
	}
	return false
}

// Line finds a line by id.
func (o Order) Line(id int64) (Line, bool) {
	for _, l := range o.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Line is one SKU within an order.
type Line struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	ItemID           int64           `json:"item_id"`
	SKU              string          `json:"sku"`
	QuantityOrdered  int64           `json:"quantity_ordered"`
	QuantityReceived int64           `json:"quantity_received"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

// Remaining is the quantity still receivable.
func (l Line) Remaining() int64 { return max(l.QuantityOrdered-l.QuantityReceived, 0) }

// Satisfied reports whether the ordered quantity has been received.
func (l Line) Satisfied() bool { return l.QuantityReceived >= l.QuantityOrdered }

// ExtendedCost is unit cost times ordered quantity.
func (l Line) ExtendedCost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.QuantityOrdered))
}

// LineInput requests one order line. A nil UnitCost uses the item's base cost.
type LineInput struct {
	SKU      string           `json:"sku" validate:"required"`
	Quantity int64            `json:"quantity" validate:"gt=0"`
	UnitCost *decimal.Decimal `json:"unit_cost"`
}

// CreateOrderInput carries a new purchase order.
type CreateOrderInput struct {
	SupplierName string          `json:"supplier_name" validate:"required,max=200"`
	SupplierRef  string          `json:"supplier_ref" validate:"max=200"`
	SupplierURL  string          `json:"supplier_url" validate:"omitempty,url"`
	OrderDate    time.Time       `json:"order_date"`
	ExpectedDate *time.Time      `json:"expected_date"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
	Notes        string          `json:"notes"`
	Lines        []LineInput     `json:"lines" validate:"required,min=1,dive"`
	Actor        string          `json:"-"`
}

// UpdateOrderInput edits header fields. Nil pointers leave values unchanged.
type UpdateOrderInput struct {
	SupplierName *string          `json:"supplier_name" validate:"omitempty,max=200"`
	SupplierRef  *string          `json:"supplier_ref" validate:"omitempty,max=200"`
	SupplierURL  *string          `json:"supplier_url" validate:"omitempty,url"`
	ExpectedDate *time.Time       `json:"expected_date"`
	ShippingCost *decimal.Decimal `json:"shipping_cost"`
	Tax          *decimal.Decimal `json:"tax"`
	Notes        *string          `json:"notes"`
	Actor        string           `json:"-"`
}

// ReceiptLine is quantity received now against one order line.
type ReceiptLine struct {
	LineID   int64 `json:"line_id" validate:"required"`
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

// ReceiveInput records one receiving event. ClosePartial forces the order
// to received even when lines remain outstanding.
type ReceiveInput struct {
	OrderID      int64         `json:"-"`
	Lines        []ReceiptLine `json:"lines" validate:"dive"`
	ReceivedDate time.Time     `json:"received_date"`
	Note         string        `json:"note" validate:"max=500"`
	ClosePartial bool          `json:"close_partial"`
	Actor        string        `json:"-"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	Statuses []Status
	Supplier string
	Limit    int
	Offset   int
}

// ErrOrderClosed indicates an edit on a received or cancelled order.
var ErrOrderClosed = fmt.Errorf("procurement: order is closed: %w", shared.ErrInvalidState)

// OverReceiptError is returned when receiving would exceed the ordered quantity.
type OverReceiptError struct {
	PONumber  string
	LineID    int64
	SKU       string
	Ordered   int64
	Received  int64
	Attempted int64
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("procurement: %s line %d (%s): receiving %d would exceed ordered %d (already received %d)",
		e.PONumber, e.LineID, e.SKU, e.Attempted, e.Ordered, e.Received)
}

func (e *OverReceiptError) Is(target error) bool { return target == shared.ErrInvalidState }

// ProblemContext exposes structured detail for API responses.
func (e *OverReceiptError) ProblemContext() map[string]any {
	return map[string]any{
		"po_number": e.PONumber,
		"line_id":   e.LineID,
		"sku":       e.SKU,
		"ordered":   e.Ordered,
		"received":  e.Received,
		"attempted": e.Attempted,
		"remaining": max(e.Ordered-e.Received, 0),
	}
}

// InvalidTransitionError is returned for a status change the lifecycle forbids.
type InvalidTransitionError struct {
	PONumber string
	From     Status
	To       Status
	Reason   string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("procurement: %s cannot move from %s to %s", e.PONumber, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == shared.ErrInvalidState }

// ProblemContext exposes structured detail for API responses.
func (e *InvalidTransitionError) ProblemContext() map[string]any {
	return map[string]any{"po_number": e.PONumber, "from": e.From, "to": e.To, "reason": e.Reason}
}
