package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Locker serialises a job across workers.
type Locker interface {
	Run(ctx context.Context, key string, fn func(context.Context) error) error
}

// CostRecomputer rebuilds kit costs.
type CostRecomputer interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// CostRollupJob repairs calculated costs that drifted from their BOMs.
type CostRollupJob struct {
	Resolver CostRecomputer
	Locker   Locker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskCostRollup.
func (j *CostRollupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Resolver == nil {
		return errors.New("cost rollup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskCostRollup)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	return runLocked(ctx, j.Locker, TaskCostRollup, func(ctx context.Context) error {
		changed, err := j.Resolver.RecomputeAll(ctx)
		if err != nil {
			loggerOr(j.Logger).Error("cost rollup failed", slog.Any("error", err))
			return err
		}
		j.Metrics.AddItems(TaskCostRollup, changed)
		loggerOr(j.Logger).Info("cost rollup completed",
			slog.Int("kits_updated", changed),
			slog.Duration("duration", time.Since(start)))
		return nil
	})
}

func runLocked(ctx context.Context, l Locker, task string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	return l.Run(ctx, shared.JobLockKey(task), fn)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
