package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsConflict(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	require.True(t, IsConflict(ErrConflict))
	require.False(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsConflict(errors.New("boom")))
	require.False(t, IsConflict(nil))
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	retried := 0
	attempts, err := Retry(context.Background(), RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		OnRetry:   func(int, error) { retried++ },
	}, func(context.Context) error {
		return &pgconn.PgError{Code: "40001"}
	})
	require.True(t, IsConflict(err))
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, retried)
}

func TestRetryDoesNotRetryBusinessErrors(t *testing.T) {
	businessErr := errors.New("insufficient stock")
	calls := 0
	attempts, err := Retry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return businessErr
	})
	require.ErrorIs(t, err, businessErr)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}
