package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Repository persists BOM lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes recipe graph operations inside a unit of work.
type TxRepository interface {
	catalog.TxRepository
	LockGraph(ctx context.Context) error
	Edges(ctx context.Context) ([]Edge, error)
	KitIDs(ctx context.Context) ([]int64, error)
	LinesForKit(ctx context.Context, kitID int64) ([]Line, error)
	ReplaceLines(ctx context.Context, kitID int64, edges []Edge) error
}

type txRepository struct {
	catalog.TxRepository
	tx pgx.Tx
}

// NewTxRepository binds BOM statements to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxRepository: catalog.NewTxRepository(tx), tx: tx}
}

// graphTxOptions runs recipe units at read committed. Every statement after
// LockGraph then sees edges committed by the previous lock holder; a
// repeatable-read snapshot would be pinned by the lock statement itself.
var graphTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("bom repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, graphTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// CatalogRepository serves catalog units of work on graph-capable
// transactions, so an item cost edit and its kit cascade commit together.
type CatalogRepository struct {
	*catalog.Repository
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{Repository: catalog.NewRepository(pool), pool: pool}
}

// WithTx implements catalog.RepositoryPort with the recipe isolation level.
func (r *CatalogRepository) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	if r == nil {
		return errors.New("bom catalog repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, graphTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

func (r *txRepository) LockGraph(ctx context.Context) error {
	return db.AdvisoryXactLock(ctx, r.tx, shared.BOMLockKey())
}

func (r *txRepository) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := r.tx.Query(ctx, `SELECT parent_item_id, component_item_id, quantity FROM bom_lines ORDER BY parent_item_id, component_item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := []Edge{}
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.KitID, &e.ComponentID, &e.Quantity); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (r *txRepository) KitIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM items WHERE category='kit' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) LinesForKit(ctx context.Context, kitID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT b.parent_item_id, p.sku, b.component_item_id, c.sku, c.title, c.category,
c.track_inventory, c.active, b.quantity,
(CASE WHEN c.category='kit' THEN c.calculated_cost ELSE c.base_cost END)::text
FROM bom_lines b
JOIN items p ON p.id = b.parent_item_id
JOIN items c ON c.id = b.component_item_id
WHERE b.parent_item_id=$1
ORDER BY c.sku`, kitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var (
			line     Line
			category string
			cost     string
		)
		if err := rows.Scan(&line.KitID, &line.KitSKU, &line.ComponentID, &line.ComponentSKU, &line.ComponentTitle, &category,
			&line.ComponentTracked, &line.ComponentActive, &line.Quantity, &cost); err != nil {
			return nil, err
		}
		line.ComponentCategory = catalog.Category(category)
		if line.ComponentCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("bom: parse component cost: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) ReplaceLines(ctx context.Context, kitID int64, edges []Edge) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM bom_lines WHERE parent_item_id=$1`, kitID); err != nil {
		return err
	}
	for _, e := range edges {
		if _, err := r.tx.Exec(ctx, `INSERT INTO bom_lines (parent_item_id, component_item_id, quantity) VALUES ($1,$2,$3)`, kitID, e.ComponentID, e.Quantity); err != nil {
			return err
		}
	}
	return nil
}
