package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/kitledger/internal/app"
	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
	"github.com/odyssey-erp/kitledger/internal/observability"
	"github.com/odyssey-erp/kitledger/internal/platform/cache"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/platform/lock"
	"github.com/odyssey-erp/kitledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, cfg.Postgres("worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis("worker"))
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, err := app.NewObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("connect object store", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServiceDeps{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Store:   store,
		Metrics: metrics,
	})
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	locker := lock.New(redisClient, 10*time.Minute)

	costRollup := &jobs.CostRollupJob{Resolver: services.BOM, Locker: locker, Logger: logger, Metrics: jobMetrics}
	integrity := &jobs.LedgerIntegrityJob{
		Ledger:     services.Ledger,
		Locker:     locker,
		Mismatches: metrics.Ledger,
		Logger:     logger,
		Metrics:    jobMetrics,
	}
	reorderScan := &jobs.ReorderScanJob{Advisor: services.Reorder, Logger: logger, Metrics: jobMetrics}
	levelsExport := &jobs.LevelsExportJob{Exporter: services.Exporter, Locker: locker, Logger: logger, Metrics: jobMetrics}
	prune := &jobs.IdempotencyPruneJob{
		Store:     services.Idempotency,
		Retention: cfg.IdempotencyRetention,
		Locker:    locker,
		Logger:    logger,
		Metrics:   jobMetrics,
	}

	cron, err := cronRegistrations(cfg)
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:         cfg.RedisAddr,
			PoolSize:     cfg.RedisPoolSize,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisIOTimeout,
			WriteTimeout: cfg.RedisIOTimeout,
		},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCostRollup, Handler: costRollup.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.Handle},
			{Type: jobs.TaskReorderScan, Handler: reorderScan.Handle},
			{Type: jobs.TaskLevelsExport, Handler: levelsExport.Handle},
			{Type: jobs.TaskIdempotencyPrune, Handler: prune.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// cronRegistrations schedules every task whose cron spec is non-empty.
func cronRegistrations(cfg *app.Config) ([]jobs.CronRegistration, error) {
	specs := []struct {
		spec, task string
	}{
		{cfg.CostRollupCron, jobs.TaskCostRollup},
		{cfg.LedgerIntegrityCron, jobs.TaskLedgerIntegrity},
		{cfg.ReorderScanCron, jobs.TaskReorderScan},
		{cfg.LevelsExportCron, jobs.TaskLevelsExport},
		{cfg.IdempotencyPruneCron, jobs.TaskIdempotencyPrune},
	}
	var out []jobs.CronRegistration
	for _, s := range specs {
		if s.spec == "" {
			continue
		}
		if s.task == jobs.TaskLevelsExport && !cfg.ExportsEnabled() {
			continue
		}
		task, err := jobs.NewTask(s.task, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, jobs.CronRegistration{Spec: s.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	return out, nil
}
