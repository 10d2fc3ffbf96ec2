package procurement

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// ReferenceType tags ledger postings caused by receiving against an order.
const ReferenceType = "inbound_order"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	GetOrderByPONumber(ctx context.Context, po string) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
}

// Ledger posts entries inside a caller-owned unit of work.
type Ledger interface {
	PostInTx(ctx context.Context, tx inventory.TxRepository, entries []inventory.Entry) ([]inventory.Transaction, error)
	Notify(ctx context.Context, txs []inventory.Transaction)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates purchase orders and their receipts.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	audit  AuditPort
	logger *slog.Logger
	retry  db.RetryPolicy
	now    func() time.Time
}

// NewService builds procurement service.
func NewService(repo RepositoryPort, ledger Ledger, audit AuditPort, logger *slog.Logger, retry db.RetryPolicy) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger, retry: retry, now: time.Now}
}

// CreateOrder assigns the next PO number and stores the order with its lines.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	for i := range in.Lines {
		in.Lines[i].SKU = catalog.NormalizeSKU(in.Lines[i].SKU)
	}
	if err := shared.Validate(in); err != nil {
		return Order{}, err
	}
	if err := nonNegative("shipping_cost", in.ShippingCost); err != nil {
		return Order{}, err
	}
	if err := nonNegative("tax", in.Tax); err != nil {
		return Order{}, err
	}
	actor := s.actor(ctx, in.Actor)
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = s.now().UTC()
	}

	var order Order
	err := shared.RunWithRetry(ctx, "procurement.create", s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			lines, err := resolveLines(ctx, tx, in.Lines)
			if err != nil {
				return err
			}
			seq, err := tx.NextPOSequence(ctx)
			if err != nil {
				return err
			}
			draft := Order{
				PONumber:     FormatPONumber(seq),
				SupplierName: in.SupplierName,
				SupplierRef:  in.SupplierRef,
				SupplierURL:  in.SupplierURL,
				Status:       StatusOrdered,
				OrderDate:    orderDate,
				ExpectedDate: in.ExpectedDate,
				ShippingCost: in.ShippingCost,
				Tax:          in.Tax,
				Notes:        in.Notes,
				Lines:        lines,
			}
			draft.Recalculate()
			order, err = tx.InsertOrder(ctx, draft)
			return err
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, actor, "procurement.create", order, map[string]any{"lines": len(order.Lines), "total": order.Total.String()})
	s.logger.Info("purchase order created",
		slog.String("po_number", order.PONumber),
		slog.String("supplier", order.SupplierName),
		slog.String("total", order.Total.String()))
	return order, nil
}

// GetOrder returns an order with its lines.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetOrderByPONumber returns an order by its PO number.
func (s *Service) GetOrderByPONumber(ctx context.Context, po string) (Order, error) {
	return s.repo.GetOrderByPONumber(ctx, po)
}

// ListOrders lists order headers.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, shared.Invalid("status", "unknown status %q", st)
		}
	}
	filter.Limit = shared.ClampLimit(filter.Limit, shared.DefaultPageLimit, shared.MaxPageLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListOrders(ctx, filter)
}

// PendingOrders lists open orders, soonest expected first. Orders without
// an expected date come last.
func (s *Service) PendingOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.repo.ListOrders(ctx, ListFilter{Statuses: []Status{StatusOrdered, StatusInTransit}})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(orders, func(a, b Order) int {
		switch {
		case a.ExpectedDate == nil && b.ExpectedDate == nil:
			return cmp.Compare(a.ID, b.ID)
		case a.ExpectedDate == nil:
			return 1
		case b.ExpectedDate == nil:
			return -1
		}
		if c := a.ExpectedDate.Compare(*b.ExpectedDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return orders, nil
}

// UpdateOrder edits header fields of an open order and recomputes totals.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (Order, error) {
	if err := shared.Validate(in); err != nil {
		return Order{}, err
	}
	if in.ShippingCost != nil {
		if err := nonNegative("shipping_cost", *in.ShippingCost); err != nil {
			return Order{}, err
		}
	}
	if in.Tax != nil {
		if err := nonNegative("tax", *in.Tax); err != nil {
			return Order{}, err
		}
	}
	if in.SupplierName != nil && *in.SupplierName == "" {
		return Order{}, shared.Invalid("supplier_name", "required")
	}
	return s.mutate(ctx, "procurement.update", id, s.actor(ctx, in.Actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if err := requireOpen(*order); err != nil {
			return nil, err
		}
		if in.SupplierName != nil {
			order.SupplierName = *in.SupplierName
		}
		if in.SupplierRef != nil {
			order.SupplierRef = *in.SupplierRef
		}
		if in.SupplierURL != nil {
			order.SupplierURL = *in.SupplierURL
		}
		if in.ExpectedDate != nil {
			order.ExpectedDate = in.ExpectedDate
		}
		if in.ShippingCost != nil {
			order.ShippingCost = *in.ShippingCost
		}
		if in.Tax != nil {
			order.Tax = *in.Tax
		}
		if in.Notes != nil {
			order.Notes = *in.Notes
		}
		order.Recalculate()
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// ReplaceLines swaps the whole line set of an open order that has not
// received anything yet.
func (s *Service) ReplaceLines(ctx context.Context, id int64, inputs []LineInput, actor string) (Order, error) {
	if len(inputs) == 0 {
		return Order{}, shared.Invalid("lines", "at least one line is required")
	}
	for i := range inputs {
		inputs[i].SKU = catalog.NormalizeSKU(inputs[i].SKU)
		if err := shared.Validate(inputs[i]); err != nil {
			return Order{}, err
		}
	}
	return s.mutate(ctx, "procurement.replace_lines", id, s.actor(ctx, actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if err := requireOpen(*order); err != nil {
			return nil, err
		}
		if order.AnyReceived() {
			return nil, fmt.Errorf("%w: %s has received stock, lines can no longer be replaced", ErrOrderClosed, order.PONumber)
		}
		lines, err := resolveLines(ctx, tx, inputs)
		if err != nil {
			return nil, err
		}
		for _, l := range order.Lines {
			if err := tx.DeleteLine(ctx, l.ID); err != nil {
				return nil, err
			}
		}
		order.Lines = make([]Line, 0, len(lines))
		for _, l := range lines {
			l.OrderID = order.ID
			saved, err := tx.InsertLine(ctx, l)
			if err != nil {
				return nil, err
			}
			order.Lines = append(order.Lines, saved)
		}
		order.Recalculate()
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// AddLine appends a line to an open order.
func (s *Service) AddLine(ctx context.Context, id int64, in LineInput, actor string) (Order, error) {
	in.SKU = catalog.NormalizeSKU(in.SKU)
	if err := shared.Validate(in); err != nil {
		return Order{}, err
	}
	return s.mutate(ctx, "procurement.add_line", id, s.actor(ctx, actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if err := requireOpen(*order); err != nil {
			return nil, err
		}
		lines, err := resolveLines(ctx, tx, []LineInput{in})
		if err != nil {
			return nil, err
		}
		line := lines[0]
		line.OrderID = order.ID
		saved, err := tx.InsertLine(ctx, line)
		if err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, saved)
		order.Recalculate()
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// RemoveLine drops a line that has nothing received. The last line stays.
func (s *Service) RemoveLine(ctx context.Context, id, lineID int64, actor string) (Order, error) {
	return s.mutate(ctx, "procurement.remove_line", id, s.actor(ctx, actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if err := requireOpen(*order); err != nil {
			return nil, err
		}
		line, ok := order.Line(lineID)
		if !ok {
			return nil, shared.NotFound("order line", strconv.FormatInt(lineID, 10))
		}
		if line.QuantityReceived > 0 {
			return nil, shared.Invalid("line_id", "line %d already has received stock", lineID)
		}
		if len(order.Lines) == 1 {
			return nil, shared.Invalid("line_id", "an order needs at least one line")
		}
		if err := tx.DeleteLine(ctx, lineID); err != nil {
			return nil, err
		}
		order.Lines = slices.DeleteFunc(order.Lines, func(l Line) bool { return l.ID == lineID })
		order.Recalculate()
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// UpdateStatus moves an order through its lifecycle. Moving to received
// requires every line to be satisfied; Receive with ClosePartial closes
// short. Setting the current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, id int64, next Status, actor string) (Order, error) {
	if !next.Valid() {
		return Order{}, shared.Invalid("status", "unknown status %q", next)
	}
	if next == StatusCancelled {
		return s.Cancel(ctx, id, "", actor)
	}
	return s.mutate(ctx, "procurement.status", id, s.actor(ctx, actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if order.Status == next {
			return nil, nil
		}
		if !order.Status.CanTransitionTo(next) {
			return nil, &InvalidTransitionError{PONumber: order.PONumber, From: order.Status, To: next}
		}
		if next == StatusReceived {
			if !order.FullyReceived() {
				return nil, &InvalidTransitionError{PONumber: order.PONumber, From: order.Status, To: next, Reason: "lines are still outstanding"}
			}
			stamp := s.now().UTC()
			order.ReceivedDate = &stamp
		}
		order.Status = next
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// Receive books one receiving event. Every line is checked against its
// ordered quantity before anything is written; tracked items get one
// inbound_receipt posting per line inside the order's unit of work.
func (s *Service) Receive(ctx context.Context, in ReceiveInput) (Order, error) {
	if err := shared.Validate(in); err != nil {
		return Order{}, err
	}
	in.Actor = s.actor(ctx, in.Actor)
	return s.mutate(ctx, "procurement.receive", in.OrderID, in.Actor, func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		return s.receive(ctx, tx, order, in)
	})
}

// ReceiveRemaining receives every outstanding quantity, which closes the order.
func (s *Service) ReceiveRemaining(ctx context.Context, orderID int64, receivedDate time.Time, note, actor string) (Order, error) {
	in := ReceiveInput{OrderID: orderID, ReceivedDate: receivedDate, Note: note, Actor: s.actor(ctx, actor)}
	return s.mutate(ctx, "procurement.receive", orderID, in.Actor, func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		in.Lines = nil
		for _, l := range order.Lines {
			if rem := l.Remaining(); rem > 0 {
				in.Lines = append(in.Lines, ReceiptLine{LineID: l.ID, Quantity: rem})
			}
		}
		return s.receive(ctx, tx, order, in)
	})
}

func (s *Service) receive(ctx context.Context, tx TxRepository, order *Order, in ReceiveInput) ([]inventory.Transaction, error) {
	if !order.Status.Open() {
		return nil, &InvalidTransitionError{PONumber: order.PONumber, From: order.Status, To: StatusReceived, Reason: "order is closed"}
	}
	received := make(map[int64]int64, len(in.Lines))
	accepted := make([]ReceiptLine, 0, len(in.Lines))
	skus := make([]string, 0, len(in.Lines))
	seen := make(map[int64]struct{}, len(in.Lines))
	for _, rl := range in.Lines {
		if _, dup := seen[rl.LineID]; dup {
			return nil, shared.Invalid("lines", "line %d listed more than once", rl.LineID)
		}
		seen[rl.LineID] = struct{}{}
		line, ok := order.Line(rl.LineID)
		if !ok {
			return nil, shared.NotFound("order line", strconv.FormatInt(rl.LineID, 10))
		}
		if rl.Quantity == 0 {
			continue
		}
		if rl.Quantity > line.Remaining() {
			return nil, &OverReceiptError{
				PONumber:  order.PONumber,
				LineID:    line.ID,
				SKU:       line.SKU,
				Ordered:   line.QuantityOrdered,
				Received:  line.QuantityReceived,
				Attempted: rl.Quantity,
			}
		}
		received[line.ID] = line.QuantityReceived + rl.Quantity
		accepted = append(accepted, rl)
		skus = append(skus, line.SKU)
	}

	var posted []inventory.Transaction
	if len(accepted) > 0 {
		items, err := tx.ItemsBySKU(ctx, skus)
		if err != nil {
			return nil, err
		}
		note := in.Note
		if note == "" {
			note = "received against " + order.PONumber
		}
		entries := make([]inventory.Entry, 0, len(accepted))
		for _, rl := range accepted {
			line, _ := order.Line(rl.LineID)
			item, ok := items[line.SKU]
			if !ok {
				return nil, shared.NotFound("item", line.SKU)
			}
			if !item.Active {
				return nil, &catalog.InvalidStateError{SKU: item.SKU, Reason: "inactive items cannot be received"}
			}
			if !item.TrackInventory {
				continue
			}
			entries = append(entries, inventory.Entry{
				SKU:           line.SKU,
				Type:          inventory.TypeInboundReceipt,
				Delta:         rl.Quantity,
				UnitCost:      line.UnitCost,
				ReferenceType: ReferenceType,
				ReferenceID:   strconv.FormatInt(order.ID, 10),
				Note:          note,
				Actor:         in.Actor,
			})
		}
		if posted, err = s.ledger.PostInTx(ctx, tx, entries); err != nil {
			return nil, err
		}
		for i, l := range order.Lines {
			qty, ok := received[l.ID]
			if !ok {
				continue
			}
			if err := tx.SetLineReceived(ctx, l.ID, qty); err != nil {
				return nil, err
			}
			order.Lines[i].QuantityReceived = qty
		}
	}

	if order.FullyReceived() || in.ClosePartial {
		stamp := in.ReceivedDate
		if stamp.IsZero() {
			stamp = s.now().UTC()
		}
		order.Status = StatusReceived
		order.ReceivedDate = &stamp
	} else if len(accepted) == 0 {
		return nil, nil
	}
	return posted, tx.UpdateOrder(ctx, *order)
}

// Cancel closes an open order. Stock already received stays on hand and
// the unreceived remainder can no longer be received.
func (s *Service) Cancel(ctx context.Context, id int64, note, actor string) (Order, error) {
	return s.mutate(ctx, "procurement.cancel", id, s.actor(ctx, actor), func(ctx context.Context, tx TxRepository, order *Order) ([]inventory.Transaction, error) {
		if !order.Status.CanTransitionTo(StatusCancelled) {
			return nil, &InvalidTransitionError{PONumber: order.PONumber, From: order.Status, To: StatusCancelled}
		}
		order.Status = StatusCancelled
		if note != "" {
			if order.Notes != "" {
				order.Notes += "\n"
			}
			order.Notes += "Cancelled: " + note
		}
		return nil, tx.UpdateOrder(ctx, *order)
	})
}

// mutate locks the order, runs fn and commits, retrying storage conflicts.
// Ledger observers hear about postings only after commit.
func (s *Service) mutate(ctx context.Context, action string, id int64, actor string, fn func(context.Context, TxRepository, *Order) ([]inventory.Transaction, error)) (Order, error) {
	var (
		order  Order
		posted []inventory.Transaction
	)
	err := shared.RunWithRetry(ctx, action, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			if order, err = tx.GetOrderForUpdate(ctx, id); err != nil {
				return err
			}
			posted, err = fn(ctx, tx, &order)
			return err
		})
	})
	if err != nil {
		return Order{}, err
	}
	if len(posted) > 0 {
		s.ledger.Notify(ctx, posted)
	}
	s.record(ctx, actor, action, order, map[string]any{"status": order.Status, "postings": len(posted)})
	s.logger.Info("purchase order updated",
		slog.String("action", action),
		slog.String("po_number", order.PONumber),
		slog.String("status", string(order.Status)),
		slog.Int("postings", len(posted)))
	return order, nil
}

func resolveLines(ctx context.Context, tx TxRepository, inputs []LineInput) ([]Line, error) {
	skus := make([]string, 0, len(inputs))
	for _, in := range inputs {
		skus = append(skus, in.SKU)
	}
	items, err := tx.ItemsBySKU(ctx, skus)
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		item, ok := items[in.SKU]
		if !ok {
			return nil, shared.NotFound("item", in.SKU)
		}
		if !item.Active {
			return nil, &catalog.InvalidStateError{SKU: item.SKU, Reason: "inactive items cannot be ordered"}
		}
		cost := item.UnitCost()
		if in.UnitCost != nil {
			if err := nonNegative("unit_cost", *in.UnitCost); err != nil {
				return nil, err
			}
			cost = *in.UnitCost
		}
		lines = append(lines, Line{ItemID: item.ID, SKU: item.SKU, QuantityOrdered: in.Quantity, UnitCost: cost})
	}
	return lines, nil
}

func requireOpen(order Order) error {
	if !order.Status.Open() {
		return fmt.Errorf("%w: %s is %s", ErrOrderClosed, order.PONumber, order.Status)
	}
	return nil
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return shared.Invalid(field, "must not be negative")
	}
	return nil
}

func (s *Service) actor(ctx context.Context, actor string) string {
	if actor != "" {
		return actor
	}
	return shared.ActorFromContext(ctx)
}

func (s *Service) record(ctx context.Context, actor, action string, order Order, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "inbound_order",
		EntityID: order.PONumber,
		Meta:     meta,
	}); err != nil {
		s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
