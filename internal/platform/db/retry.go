package db

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// ErrConflict lets stores other than PostgreSQL signal a retryable write conflict.
var ErrConflict = errors.New("platform/db: concurrent update conflict")

// IsConflict reports whether err is a transient concurrency conflict that may succeed on retry.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return errors.Is(err, ErrConflict)
}

// RetryPolicy bounds how often a unit of work is re-run after a conflict.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is used when callers pass a zero policy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 10 * time.Millisecond}

// Retry runs fn until it succeeds, fails with a non-conflict error, or the
// attempts are exhausted. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) (int, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultRetryPolicy.Attempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err = fn(ctx)
		if !IsConflict(err) {
			return attempt, err
		}
		if attempt == policy.Attempts {
			return attempt, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		delay := policy.BaseDelay*time.Duration(attempt) + time.Duration(rand.Int64N(int64(policy.BaseDelay)))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return policy.Attempts, err
}
