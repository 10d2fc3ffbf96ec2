package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Repository persists catalog items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes item reads and writes inside a unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, sku string) (Item, error)
	ItemsBySKU(ctx context.Context, skus []string) (map[string]Item, error)
	ItemsByID(ctx context.Context, ids []int64) (map[int64]Item, error)
	Insert(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, item Item) (Item, error)
	SetCalculatedCost(ctx context.Context, id int64, cost decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds catalog statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// Columns returns the item column list, optionally qualified by a table alias.
// Numeric columns are cast to text so they round-trip through decimal.Decimal.
func Columns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	cols := []string{
		p + "id", p + "sku", p + "title", p + "description", p + "category",
		p + "base_cost::text", p + "calculated_cost::text", p + "sell_price::text",
		p + "supplier_name", p + "supplier_url", p + "weight_kg::text", p + "dimensions",
		p + "storage_location", p + "reorder_point", p + "reorder_quantity",
		p + "track_inventory", p + "active", p + "created_at", p + "updated_at",
	}
	return strings.Join(cols, ", ")
}

// ScanItem reads the Columns projection followed by any extra destinations.
func ScanItem(row pgx.Row, extra ...any) (Item, error) {
	var (
		item                      Item
		category                  string
		base, calc, sell, weight string
	)
	dest := []any{
		&item.ID, &item.SKU, &item.Title, &item.Description, &category,
		&base, &calc, &sell,
		&item.SupplierName, &item.SupplierURL, &weight, &item.Dimensions,
		&item.StorageLocation, &item.ReorderPoint, &item.ReorderQuantity,
		&item.TrackInventory, &item.Active, &item.CreatedAt, &item.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Item{}, err
	}
	item.Category = Category(category)
	var err error
	if item.BaseCost, err = decimal.NewFromString(base); err != nil {
		return Item{}, fmt.Errorf("catalog: parse base_cost: %w", err)
	}
	if item.CalculatedCost, err = decimal.NewFromString(calc); err != nil {
		return Item{}, fmt.Errorf("catalog: parse calculated_cost: %w", err)
	}
	if item.SellPrice, err = decimal.NewFromString(sell); err != nil {
		return Item{}, fmt.Errorf("catalog: parse sell_price: %w", err)
	}
	if item.WeightKg, err = decimal.NewFromString(weight); err != nil {
		return Item{}, fmt.Errorf("catalog: parse weight_kg: %w", err)
	}
	return item, nil
}

// FindBySKU loads a single item.
func (r *Repository) FindBySKU(ctx context.Context, sku string) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+Columns("")+` FROM items WHERE sku=$1`, sku)
	item, err := ScanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFound("item", sku)
	}
	return item, err
}

// List returns items ordered by SKU.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(sku ILIKE $%d OR title ILIKE $%d)", len(args), len(args)))
	}
	query := `SELECT ` + Columns("") + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sku"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := ScanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) GetForUpdate(ctx context.Context, sku string) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+Columns("")+` FROM items WHERE sku=$1 FOR UPDATE`, sku)
	item, err := ScanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFound("item", sku)
	}
	return item, err
}

func (r *txRepository) ItemsBySKU(ctx context.Context, skus []string) (map[string]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+Columns("")+` FROM items WHERE sku = ANY($1)`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Item, len(skus))
	for rows.Next() {
		item, err := ScanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.SKU] = item
	}
	return out, rows.Err()
}

func (r *txRepository) ItemsByID(ctx context.Context, ids []int64) (map[int64]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+Columns("")+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Item, len(ids))
	for rows.Next() {
		item, err := ScanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (r *txRepository) Insert(ctx context.Context, item Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO items (sku, title, description, category, base_cost, calculated_cost, sell_price,
supplier_name, supplier_url, weight_kg, dimensions, storage_location, reorder_point, reorder_quantity, track_inventory, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
RETURNING `+Columns(""),
		item.SKU, item.Title, item.Description, string(item.Category), item.BaseCost, item.CalculatedCost, item.SellPrice,
		item.SupplierName, item.SupplierURL, item.WeightKg, item.Dimensions, item.StorageLocation,
		item.ReorderPoint, item.ReorderQuantity, item.TrackInventory, item.Active)
	saved, err := ScanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, &DuplicateSKUError{SKU: item.SKU}
		}
		return Item{}, err
	}
	return saved, nil
}

func (r *txRepository) Update(ctx context.Context, item Item) (Item, error) {
	row := r.tx.QueryRow(ctx, `UPDATE items SET title=$2, description=$3, base_cost=$4, calculated_cost=$5, sell_price=$6,
supplier_name=$7, supplier_url=$8, weight_kg=$9, dimensions=$10, storage_location=$11, reorder_point=$12,
reorder_quantity=$13, track_inventory=$14, active=$15, updated_at=NOW()
WHERE id=$1 RETURNING `+Columns(""),
		item.ID, item.Title, item.Description, item.BaseCost, item.CalculatedCost, item.SellPrice,
		item.SupplierName, item.SupplierURL, item.WeightKg, item.Dimensions, item.StorageLocation,
		item.ReorderPoint, item.ReorderQuantity, item.TrackInventory, item.Active)
	saved, err := ScanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFound("item", item.SKU)
	}
	return saved, err
}

func (r *txRepository) SetCalculatedCost(ctx context.Context, id int64, cost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE items SET calculated_cost=$2, updated_at=NOW() WHERE id=$1 AND category='kit'`, id, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("kit", fmt.Sprint(id))
	}
	return nil
}
