package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesOptions(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), Options{
		Addr:        mr.Addr(),
		PoolSize:    7,
		DialTimeout: time.Second,
		IOTimeout:   250 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	opts := client.Options()
	require.Equal(t, 7, opts.PoolSize)
	require.Equal(t, time.Second, opts.DialTimeout)
	require.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	require.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
}

func TestNewFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{Addr: addr, DialTimeout: 100 * time.Millisecond, PingTimeout: 500 * time.Millisecond})
	require.ErrorContains(t, err, addr)
}
