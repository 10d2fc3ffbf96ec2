package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/kitledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
)

const defaultIntegrityParallelism = 4

// LedgerVerifier replays the ledger for one item.
type LedgerVerifier interface {
	Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error)
	Verify(ctx context.Context, sku string) (inventory.Reconciliation, error)
}

// MismatchCounter records balances out of step with the ledger.
type MismatchCounter interface {
	AddMismatches(n int)
}

// LedgerIntegrityJob compares each stored balance with the sum of its
// transactions. It never repairs anything.
type LedgerIntegrityJob struct {
	Ledger     LedgerVerifier
	Locker     Locker
	Mismatches MismatchCounter
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// IntegrityReport summarises one run.
type IntegrityReport struct {
	Checked    int
	Mismatched []inventory.Reconciliation
}

// Handle processes TaskLedgerIntegrity.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	return runLocked(ctx, j.Locker, TaskLedgerIntegrity, func(ctx context.Context) error {
		report, err := j.Run(ctx, payload)
		if err != nil {
			return err
		}
		j.Metrics.AddItems(TaskLedgerIntegrity, report.Checked)
		if j.Mismatches != nil {
			j.Mismatches.AddMismatches(len(report.Mismatched))
		}
		logger := loggerOr(j.Logger)
		for _, rec := range report.Mismatched {
			logger.Error("ledger mismatch",
				slog.String("sku", rec.SKU),
				slog.Int64("on_hand", rec.OnHand),
				slog.Int64("ledger_sum", rec.LedgerSum))
		}
		logger.Info("ledger integrity completed",
			slog.Int("checked", report.Checked),
			slog.Int("mismatched", len(report.Mismatched)))
		return nil
	})
}

// Run verifies the selected items with bounded parallelism.
func (j *LedgerIntegrityJob) Run(ctx context.Context, payload LedgerIntegrityPayload) (IntegrityReport, error) {
	skus := []string{payload.SKU}
	if payload.SKU == "" {
		positions, err := j.Ledger.Positions(ctx, inventory.PositionFilter{TrackedOnly: true})
		if err != nil {
			return IntegrityReport{}, err
		}
		skus = skus[:0]
		for _, p := range positions {
			skus = append(skus, p.Item.SKU)
		}
	}
	limit := payload.Parallelism
	if limit <= 0 {
		limit = defaultIntegrityParallelism
	}

	var (
		mu     sync.Mutex
		report = IntegrityReport{Checked: len(skus)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, sku := range skus {
		g.Go(func() error {
			rec, err := j.Ledger.Verify(gctx, sku)
			if err != nil {
				return err
			}
			if !rec.Balanced() {
				mu.Lock()
				report.Mismatched = append(report.Mismatched, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}
