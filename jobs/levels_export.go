package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
	"github.com/odyssey-erp/kitledger/internal/reports"
)

// Snapshotter stores a levels export.
type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
}

// LevelsExportJob writes the scheduled inventory levels workbook.
type LevelsExportJob struct {
	Exporter Snapshotter
	Locker   Locker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskLevelsExport.
func (j *LevelsExportJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Exporter == nil {
		return errors.New("levels export: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLevelsExport)
	defer func() { err = tracker.End(err) }()

	return runLocked(ctx, j.Locker, TaskLevelsExport, func(ctx context.Context) error {
		location, err := j.Exporter.Snapshot(ctx)
		if errors.Is(err, reports.ErrExportDisabled) {
			loggerOr(j.Logger).Info("levels export skipped, object storage not configured")
			return nil
		}
		if err != nil {
			return err
		}
		loggerOr(j.Logger).Info("levels export stored", slog.String("location", location))
		return nil
	})
}
