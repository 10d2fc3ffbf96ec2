package reorder

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/cache"
)

// PositionReader exposes catalog positions joined with balances.
type PositionReader interface {
	Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error)
}

// Service answers below-reorder-point queries. It only reads.
type Service struct {
	positions PositionReader
	cache     *cache.Versioned
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService wires the advisor. A nil cache computes every request.
func NewService(positions PositionReader, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{positions: positions, cache: c, logger: logger}
}

// BelowReorderPoint returns the current report, served from cache when the
// ledger and catalog have not changed since it was built.
func (s *Service) BelowReorderPoint(ctx context.Context) ([]Suggestion, error) {
	key, err := s.cache.BuildKey(ctx, "below")
	if err != nil {
		s.logger.Warn("reorder cache unavailable", slog.Any("error", err))
		return s.Compute(ctx)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		var out []Suggestion
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.Compute(ctx)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Suggestion), nil
	}
}

// Compute builds the report from current state, bypassing the cache.
func (s *Service) Compute(ctx context.Context) ([]Suggestion, error) {
	positions, err := s.positions.Positions(ctx, inventory.PositionFilter{ActiveOnly: true, TrackedOnly: true})
	if err != nil {
		return nil, err
	}
	return Suggest(positions), nil
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// PostingsCommitted implements inventory.PostingObserver.
func (s *Service) PostingsCommitted(ctx context.Context, txs []inventory.Transaction) {
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Warn("reorder cache bump failed", slog.Int("postings", len(txs)), slog.Any("error", err))
	}
}

// ItemChanged implements catalog.ChangeHandler.
func (s *Service) ItemChanged(ctx context.Context, change catalog.Change) error {
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Warn("reorder cache bump failed", slog.String("sku", change.After.SKU), slog.Any("error", err))
	}
	return nil
}
