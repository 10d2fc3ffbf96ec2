package reorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/cache"
)

type fakePositions struct {
	mu        sync.Mutex
	calls     int
	positions []inventory.Position
	err       error
	filter    inventory.PositionFilter
}

func (f *fakePositions) Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filter = filter
	return f.positions, f.err
}

func (f *fakePositions) set(p ...inventory.Position) {
	f.mu.Lock()
	f.positions = p
	f.mu.Unlock()
}

func newCachedService(t *testing.T, positions PositionReader) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(positions, cache.NewVersioned(client, "reorder", time.Minute), nil)
}

func TestBelowReorderPointCachesUntilPosting(t *testing.T) {
	ctx := context.Background()
	repo := &fakePositions{positions: []inventory.Position{position("LOW", 2, 0, 5, 10)}}
	svc := newCachedService(t, repo)

	got, err := svc.BelowReorderPoint(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, repo.filter.ActiveOnly)
	require.True(t, repo.filter.TrackedOnly)

	repo.set(position("LOW", 9, 0, 5, 10))
	got, err = svc.BelowReorderPoint(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, repo.calls)

	svc.PostingsCommitted(ctx, []inventory.Transaction{{SKU: "LOW", QuantityDelta: 7}})
	got, err = svc.BelowReorderPoint(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 2, repo.calls)
}

func TestItemChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := &fakePositions{positions: []inventory.Position{position("LOW", 6, 0, 5, 10)}}
	svc := newCachedService(t, repo)

	got, err := svc.BelowReorderPoint(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	raised := position("LOW", 6, 0, 8, 10)
	repo.set(raised)
	require.NoError(t, svc.ItemChanged(ctx, catalog.Change{After: raised.Item}))

	got, err = svc.BelowReorderPoint(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 2, got[0].Shortfall)
	require.Equal(t, "1.5", got[0].UnitCost.String())
}

func TestBelowReorderPointWithoutCache(t *testing.T) {
	repo := &fakePositions{positions: []inventory.Position{position("LOW", 0, 0, 1, 0)}}
	svc := NewService(repo, nil, nil)

	for range 2 {
		got, err := svc.BelowReorderPoint(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	require.Equal(t, 2, repo.calls)
	require.NoError(t, svc.Invalidate(context.Background()))

	repo.err = errors.New("boom")
	_, err := svc.BelowReorderPoint(context.Background())
	require.EqualError(t, err, "boom")
}
