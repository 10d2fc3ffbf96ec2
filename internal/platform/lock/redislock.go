// Package lock provides Redis backed mutual exclusion for work that must not
// run concurrently across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the lock.
var ErrBusy = errors.New("platform/lock: lock held elsewhere")

// Locker obtains short lived locks keyed by name.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// New builds a Locker. A nil Redis client yields a Locker that never blocks.
func New(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if rdb == nil {
		return &Locker{ttl: ttl}
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

// Run executes fn while holding key. The lock is refreshed at half its TTL so
// long running work keeps ownership.
func (l *Locker) Run(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	held, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return fmt.Errorf("platform/lock: obtain %s: %w", key, err)
	}
	defer func() {
		// Release with a fresh context so cancellation of ctx still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = held.Release(releaseCtx)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := held.Refresh(runCtx, l.ttl, nil); err != nil {
					return
				}
			}
		}
	}()
	return fn(runCtx)
}
