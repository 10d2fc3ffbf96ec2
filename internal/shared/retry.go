package shared

import (
	"context"

	"github.com/odyssey-erp/kitledger/internal/platform/db"
)

// RunWithRetry runs fn under policy and converts an exhausted conflict budget
// into a ConcurrentModificationError for op.
func RunWithRetry(ctx context.Context, op string, policy db.RetryPolicy, fn func(context.Context) error) error {
	attempts, err := db.Retry(ctx, policy, fn)
	if err != nil && db.IsConflict(err) {
		return &ConcurrentModificationError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}
