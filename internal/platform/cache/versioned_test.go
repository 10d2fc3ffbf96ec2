package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "reorder", time.Minute)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []string{"SKU-A"}, nil
	}

	key, err := c.BuildKey(ctx, "below")
	require.NoError(t, err)
	require.Equal(t, "reorder:below:v1", key)

	var out []string
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, []string{"SKU-A"}, out)
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "below")
	require.NoError(t, err)
	require.Equal(t, "reorder:below:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 2, calls)
}

func TestNilClientFallsThroughToLoader(t *testing.T) {
	ctx := context.Background()
	c := NewVersioned(nil, "reorder", time.Minute)

	key, err := c.BuildKey(ctx, "below")
	require.NoError(t, err)
	require.Equal(t, "reorder:below", key)

	var out map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) {
		return map[string]int{"a": 1}, nil
	}))
	require.Equal(t, 1, out["a"])
	require.NoError(t, c.Bump(ctx))
}
