package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes order and ledger operations inside one unit of work.
type TxRepository interface {
	inventory.TxRepository
	NextPOSequence(ctx context.Context) (int64, error)
	InsertOrder(ctx context.Context, order Order) (Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	InsertLine(ctx context.Context, line Line) (Line, error)
	DeleteLine(ctx context.Context, lineID int64) error
	SetLineReceived(ctx context.Context, lineID, received int64) error
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// NewTxRepository binds order statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const orderColumns = `o.id, o.po_number, o.supplier_name, o.supplier_ref, o.supplier_url, o.status, o.order_date,
o.expected_date, o.received_date, o.shipping_cost::text, o.tax::text, o.subtotal::text, o.total::text, o.notes,
o.created_at, o.updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, r.pool, `SELECT `+orderColumns+` FROM inbound_orders o WHERE o.id=$1`, id, strconv.FormatInt(id, 10))
}

// GetOrderByPONumber loads an order by its supplier-facing number.
func (r *Repository) GetOrderByPONumber(ctx context.Context, po string) (Order, error) {
	return loadOrder(ctx, r.pool, `SELECT `+orderColumns+` FROM inbound_orders o WHERE o.po_number=$1`, po, po)
}

// ListOrders returns orders newest first, without lines.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("o.status = ANY($%d)", len(args)))
	}
	if filter.Supplier != "" {
		args = append(args, "%"+filter.Supplier+"%")
		where = append(where, fmt.Sprintf("o.supplier_name ILIKE $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM inbound_orders o`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (t *txRepo) NextPOSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO po_sequences (name, last_value) VALUES ('po', 1)
ON CONFLICT (name) DO UPDATE SET last_value = po_sequences.last_value + 1
RETURNING last_value`).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertOrder(ctx context.Context, order Order) (Order, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO inbound_orders (po_number, supplier_name, supplier_ref, supplier_url, status, order_date,
expected_date, received_date, shipping_cost, tax, subtotal, total, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		order.PONumber, order.SupplierName, order.SupplierRef, order.SupplierURL, string(order.Status), order.OrderDate,
		order.ExpectedDate, order.ReceivedDate, order.ShippingCost, order.Tax, order.Subtotal, order.Total, order.Notes).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	for i, line := range order.Lines {
		line.OrderID = order.ID
		saved, err := t.InsertLine(ctx, line)
		if err != nil {
			return Order{}, err
		}
		order.Lines[i] = saved
	}
	return order, nil
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM inbound_orders o WHERE o.id=$1 FOR UPDATE`, id, strconv.FormatInt(id, 10))
}

func (t *txRepo) UpdateOrder(ctx context.Context, order Order) error {
	_, err := t.tx.Exec(ctx, `UPDATE inbound_orders SET supplier_name=$2, supplier_ref=$3, supplier_url=$4, status=$5,
expected_date=$6, received_date=$7, shipping_cost=$8, tax=$9, subtotal=$10, total=$11, notes=$12, updated_at=NOW()
WHERE id=$1`, order.ID, order.SupplierName, order.SupplierRef, order.SupplierURL, string(order.Status),
		order.ExpectedDate, order.ReceivedDate, order.ShippingCost, order.Tax, order.Subtotal, order.Total, order.Notes)
	return err
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (Line, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO inbound_order_lines (order_id, item_id, quantity_ordered, quantity_received, unit_cost)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, line.OrderID, line.ItemID, line.QuantityOrdered, line.QuantityReceived, line.UnitCost).
		Scan(&line.ID)
	return line, err
}

func (t *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM inbound_order_lines WHERE id=$1 AND quantity_received = 0`, lineID)
	return err
}

func (t *txRepo) SetLineReceived(ctx context.Context, lineID, received int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE inbound_order_lines SET quantity_received=$2 WHERE id=$1`, lineID, received)
	return err
}

func loadOrder(ctx context.Context, q querier, query string, arg any, key string) (Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("order", key)
	}
	if err != nil {
		return Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT l.id, l.order_id, l.item_id, i.sku, l.quantity_ordered, l.quantity_received, l.unit_cost::text
FROM inbound_order_lines l JOIN items i ON i.id = l.item_id
WHERE l.order_id=$1 ORDER BY l.id`, order.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	order.Lines = []Line{}
	for rows.Next() {
		var (
			line Line
			cost string
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.SKU, &line.QuantityOrdered, &line.QuantityReceived, &cost); err != nil {
			return Order{}, err
		}
		if line.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return Order{}, fmt.Errorf("procurement: parse unit_cost: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	return order, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                         Order
		status                    string
		expected, received        *time.Time
		shipping, tax, sub, total string
	)
	if err := row.Scan(&o.ID, &o.PONumber, &o.SupplierName, &o.SupplierRef, &o.SupplierURL, &status, &o.OrderDate,
		&expected, &received, &shipping, &tax, &sub, &total, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.ExpectedDate, o.ReceivedDate = expected, received
	var err error
	for _, pair := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&o.ShippingCost, shipping}, {&o.Tax, tax}, {&o.Subtotal, sub}, {&o.Total, total}} {
		if *pair.dst, err = decimal.NewFromString(pair.raw); err != nil {
			return Order{}, fmt.Errorf("procurement: parse amount: %w", err)
		}
	}
	return o, nil
}
