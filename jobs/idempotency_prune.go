package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
)

// DefaultIdempotencyRetention applies when neither the job nor the task sets one.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyPruner deletes keys older than a cutoff.
type IdempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPruneJob keeps the idempotency_keys table bounded. Keys older
// than Retention can no longer reject a replayed request.
type IdempotencyPruneJob struct {
	Store     IdempotencyPruner
	Retention time.Duration
	Locker    Locker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyPrune.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency prune: handler not configured")
	}
	retention, err := j.retention(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskIdempotencyPrune)
	defer func() { err = tracker.End(err) }()

	return runLocked(ctx, j.Locker, TaskIdempotencyPrune, func(ctx context.Context) error {
		removed, err := j.Store.Cleanup(ctx, retention)
		if err != nil {
			return fmt.Errorf("idempotency prune: %w", err)
		}
		j.Metrics.AddItems(TaskIdempotencyPrune, int(removed))
		loggerOr(j.Logger).Info("idempotency keys pruned",
			slog.Int64("removed", removed),
			slog.Duration("retention", retention))
		return nil
	})
}

func (j *IdempotencyPruneJob) retention(t *asynq.Task) (time.Duration, error) {
	retention := j.Retention
	if t != nil {
		var payload IdempotencyPrunePayload
		if err := decodePayload(t, &payload); err != nil {
			return 0, err
		}
		if payload.Retention != "" {
			d, err := time.ParseDuration(payload.Retention)
			if err != nil || d <= 0 {
				return 0, fmt.Errorf("%w: retention %q", asynq.SkipRetry, payload.Retention)
			}
			retention = d
		}
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return retention, nil
}
