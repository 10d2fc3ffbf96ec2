package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	ItemsBySKU(ctx context.Context, skus []string) (map[string]catalog.Item, error)
	LockBalances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	SaveBalance(ctx context.Context, balance Balance) error
}

type txRepository struct {
	catalog.TxRepository
	tx pgx.Tx
}

// NewTxRepository binds ledger statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxRepository: catalog.NewTxRepository(tx), tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// FindItem loads the catalog entry for sku.
func (r *Repository) FindItem(ctx context.Context, sku string) (catalog.Item, error) {
	item, err := catalog.ScanItem(r.pool.QueryRow(ctx, `SELECT `+catalog.Columns("")+` FROM items WHERE sku=$1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Item{}, shared.NotFound("item", sku)
	}
	return item, err
}

// Balances returns stored balances for the given items; missing rows are omitted.
func (r *Repository) Balances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.item_id, i.sku, b.on_hand, b.reserved, b.updated_at
FROM inventory_balances b JOIN items i ON i.id = b.item_id
WHERE b.item_id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, err
	}
	return collectBalances(rows)
}

// History returns up to filter.Limit transactions, newest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.item_id, i.sku, t.tx_type, t.quantity_delta, t.unit_cost::text,
t.reference_type, t.reference_id, t.note, t.actor, t.on_hand_after, t.created_at
FROM inventory_transactions t JOIN items i ON i.id = t.item_id
WHERE ($1::bigint = 0 OR t.item_id = $1)
  AND ($2::bigint = 0 OR t.id < $2)
  AND ($3::text = '' OR t.tx_type = $3)
  AND ($4::text = '' OR t.reference_id = $4)
ORDER BY t.id DESC
LIMIT $5`, filter.ItemID, filter.Before, string(filter.Type), filter.ReferenceID, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txs := []Transaction{}
	for rows.Next() {
		var (
			t        Transaction
			txType   string
			unitCost string
		)
		if err := rows.Scan(&t.ID, &t.ItemID, &t.SKU, &txType, &t.QuantityDelta, &unitCost,
			&t.ReferenceType, &t.ReferenceID, &t.Note, &t.Actor, &t.OnHandAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TransactionType(txType)
		if t.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
			return nil, fmt.Errorf("inventory: parse unit_cost: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Positions joins catalog items with their balances, ordered by SKU.
func (r *Repository) Positions(ctx context.Context, filter PositionFilter) ([]Position, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "i.active")
	}
	if filter.TrackedOnly {
		where = append(where, "i.track_inventory")
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("i.category = $%d", len(args)))
	}
	query := `SELECT ` + catalog.Columns("i") + `, COALESCE(b.on_hand, 0), COALESCE(b.reserved, 0), COALESCE(b.updated_at, i.created_at)
FROM items i LEFT JOIN inventory_balances b ON b.item_id = i.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.sku"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	positions := []Position{}
	for rows.Next() {
		var bal Balance
		item, err := catalog.ScanItem(rows, &bal.OnHand, &bal.Reserved, &bal.UpdatedAt)
		if err != nil {
			return nil, err
		}
		bal.ItemID, bal.SKU = item.ID, item.SKU
		positions = append(positions, Position{Item: item, Balance: bal})
	}
	return positions, rows.Err()
}

// Reconcile sums the ledger of one item next to its stored on hand.
func (r *Repository) Reconcile(ctx context.Context, itemID int64) (Reconciliation, error) {
	rec := Reconciliation{ItemID: itemID}
	err := r.pool.QueryRow(ctx, `SELECT i.sku,
COALESCE((SELECT on_hand FROM inventory_balances WHERE item_id = i.id), 0),
COALESCE((SELECT SUM(quantity_delta) FROM inventory_transactions WHERE item_id = i.id), 0),
(SELECT COUNT(*) FROM inventory_transactions WHERE item_id = i.id)
FROM items i WHERE i.id = $1`, itemID).Scan(&rec.SKU, &rec.OnHand, &rec.LedgerSum, &rec.Transactions)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reconciliation{}, shared.NotFound("item", fmt.Sprint(itemID))
	}
	return rec, err
}

// LockBalances creates missing balance rows, then locks them in ascending id order.
func (r *txRepository) LockBalances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error) {
	if len(itemIDs) == 0 {
		return map[int64]Balance{}, nil
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (item_id, on_hand, reserved, updated_at)
SELECT id, 0, 0, NOW() FROM unnest($1::bigint[]) AS id
ON CONFLICT (item_id) DO NOTHING`, itemIDs); err != nil {
		return nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT b.item_id, i.sku, b.on_hand, b.reserved, b.updated_at
FROM inventory_balances b JOIN items i ON i.id = b.item_id
WHERE b.item_id = ANY($1)
ORDER BY b.item_id
FOR UPDATE OF b`, itemIDs)
	if err != nil {
		return nil, err
	}
	return collectBalances(rows)
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions (item_id, tx_type, quantity_delta, unit_cost, reference_type,
reference_id, note, actor, on_hand_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id, created_at`,
		t.ItemID, string(t.Type), t.QuantityDelta, t.UnitCost, t.ReferenceType, t.ReferenceID, t.Note, t.Actor, t.OnHandAfter).
		Scan(&t.ID, &t.CreatedAt)
	return t, err
}

func (r *txRepository) SaveBalance(ctx context.Context, balance Balance) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_balances SET on_hand=$2, reserved=$3, updated_at=NOW() WHERE item_id=$1`,
		balance.ItemID, balance.OnHand, balance.Reserved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: balance row for item %d not locked", balance.ItemID)
	}
	return nil
}

func collectBalances(rows pgx.Rows) (map[int64]Balance, error) {
	defer rows.Close()
	out := map[int64]Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.SKU, &b.OnHand, &b.Reserved, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out[b.ItemID] = b
	}
	return out, rows.Err()
}
