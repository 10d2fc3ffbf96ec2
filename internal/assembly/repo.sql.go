package assembly

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
)

// Repository opens units of work spanning recipes and the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the ledger view plus recipe lookups inside one transaction.
type TxRepository interface {
	inventory.TxRepository
	LinesForKit(ctx context.Context, kitID int64) ([]bom.Line, error)
}

type txRepository struct {
	inventory.TxRepository
	recipes bom.TxRepository
}

func (r *txRepository) LinesForKit(ctx context.Context, kitID int64) ([]bom.Line, error) {
	return r.recipes.LinesForKit(ctx, kitID)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("assembly repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: inventory.NewTxRepository(tx), recipes: bom.NewTxRepository(tx)})
	})
}
