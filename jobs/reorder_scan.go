package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
	"github.com/odyssey-erp/kitledger/internal/reorder"
)

// ReorderAdvisor serves the below-reorder-point report.
type ReorderAdvisor interface {
	Invalidate(ctx context.Context) error
	BelowReorderPoint(ctx context.Context) ([]reorder.Suggestion, error)
}

// ReorderScanJob rebuilds the cached reorder report so the first reader
// after a quiet period does not pay for it.
type ReorderScanJob struct {
	Advisor ReorderAdvisor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskReorderScan.
func (j *ReorderScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Advisor == nil {
		return errors.New("reorder scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskReorderScan)
	defer func() { err = tracker.End(err) }()

	if err := j.Advisor.Invalidate(ctx); err != nil {
		loggerOr(j.Logger).Warn("reorder cache bump failed", slog.Any("error", err))
	}
	suggestions, err := j.Advisor.BelowReorderPoint(ctx)
	if err != nil {
		return err
	}
	j.Metrics.AddItems(TaskReorderScan, len(suggestions))
	loggerOr(j.Logger).Info("reorder scan completed", slog.Int("below_reorder_point", len(suggestions)))
	return nil
}
