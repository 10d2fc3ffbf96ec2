package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/kitledger/internal/jobs"
	"github.com/odyssey-erp/kitledger/internal/platform/lock"
	"github.com/odyssey-erp/kitledger/internal/reorder"
	"github.com/odyssey-erp/kitledger/internal/reports"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

type fakeRecomputer struct{ calls int }

func (f *fakeRecomputer) RecomputeAll(ctx context.Context) (int, error) {
	f.calls++
	return 2, nil
}

func TestCostRollupRespectsLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver := &fakeRecomputer{}
	job := &CostRollupJob{
		Resolver: resolver,
		Locker:   lock.New(client, time.Second),
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	task, err := NewTask(TaskCostRollup, nil)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, resolver.calls)

	require.NoError(t, mr.Set(shared.JobLockKey(TaskCostRollup), "other-worker"))
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, lock.ErrBusy)
	require.Equal(t, 1, resolver.calls)
}

type fakeLedger struct {
	mu       sync.Mutex
	skus     []string
	off      map[string]int64
	verified []string
}

func (f *fakeLedger) Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error) {
	out := make([]inventory.Position, 0, len(f.skus))
	for _, sku := range f.skus {
		out = append(out, inventory.Position{Item: catalog.Item{SKU: sku}})
	}
	return out, nil
}

func (f *fakeLedger) Verify(ctx context.Context, sku string) (inventory.Reconciliation, error) {
	f.mu.Lock()
	f.verified = append(f.verified, sku)
	f.mu.Unlock()
	if sku == "BROKEN" {
		return inventory.Reconciliation{}, errors.New("boom")
	}
	return inventory.Reconciliation{SKU: sku, OnHand: 10, LedgerSum: 10 - f.off[sku]}, nil
}

type countingMismatches struct{ n int }

func (c *countingMismatches) AddMismatches(n int) { c.n += n }

func TestLedgerIntegrityReportsMismatches(t *testing.T) {
	ledger := &fakeLedger{skus: []string{"A", "B", "C", "D", "E"}, off: map[string]int64{"B": 2, "E": -1}}
	counter := &countingMismatches{}
	job := &LedgerIntegrityJob{Ledger: ledger, Mismatches: counter}

	report, err := job.Run(context.Background(), LedgerIntegrityPayload{Parallelism: 2})
	require.NoError(t, err)
	require.Equal(t, 5, report.Checked)
	require.Len(t, report.Mismatched, 2)
	require.ElementsMatch(t, ledger.skus, ledger.verified)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{SKU: "B"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, counter.n)

	ledger.skus = append(ledger.skus, "BROKEN")
	_, err = job.Run(context.Background(), LedgerIntegrityPayload{})
	require.EqualError(t, err, "boom")

	err = job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeAdvisor struct {
	bumped int
}

func (f *fakeAdvisor) Invalidate(ctx context.Context) error {
	f.bumped++
	return nil
}

func (f *fakeAdvisor) BelowReorderPoint(ctx context.Context) ([]reorder.Suggestion, error) {
	return []reorder.Suggestion{{SKU: "LOW"}}, nil
}

func TestReorderScanRefreshesCache(t *testing.T) {
	advisor := &fakeAdvisor{}
	job := &ReorderScanJob{Advisor: advisor}
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskReorderScan, nil)))
	require.Equal(t, 1, advisor.bumped)
}

type fakeSnapshotter struct{ err error }

func (f fakeSnapshotter) Snapshot(ctx context.Context) (string, error) {
	return "kitledger-exports/levels/x.xlsx", f.err
}

func TestLevelsExportSkipsWithoutStorage(t *testing.T) {
	task := asynq.NewTask(TaskLevelsExport, nil)
	require.NoError(t, (&LevelsExportJob{Exporter: fakeSnapshotter{}}).Handle(context.Background(), task))
	require.NoError(t, (&LevelsExportJob{Exporter: fakeSnapshotter{err: reports.ErrExportDisabled}}).Handle(context.Background(), task))

	boom := errors.New("upload failed")
	require.ErrorIs(t, (&LevelsExportJob{Exporter: fakeSnapshotter{err: boom}}).Handle(context.Background(), task), boom)
}

func TestNewTaskRejectsUnknownTypes(t *testing.T) {
	_, err := NewTask("mail:send", nil)
	require.Error(t, err)

	for _, typ := range TaskTypes {
		task, err := NewTask(typ, nil)
		require.NoError(t, err)
		require.Equal(t, typ, task.Type())
	}
}

func TestUnconfiguredHandlersFail(t *testing.T) {
	ctx := context.Background()
	require.Error(t, (*CostRollupJob)(nil).Handle(ctx, nil))
	require.Error(t, (&LedgerIntegrityJob{}).Handle(ctx, asynq.NewTask(TaskLedgerIntegrity, nil)))
	require.Error(t, (&ReorderScanJob{}).Handle(ctx, nil))
	require.Error(t, (&LevelsExportJob{}).Handle(ctx, nil))
}

type fakePruner struct {
	retentions []time.Duration
	removed    int64
	err        error
}

func (f *fakePruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retentions = append(f.retentions, olderThan)
	return f.removed, f.err
}

func TestIdempotencyPruneUsesRetention(t *testing.T) {
	ctx := context.Background()
	store := &fakePruner{removed: 4}
	job := &IdempotencyPruneJob{Store: store, Retention: 72 * time.Hour, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewIdempotencyPruneTask(IdempotencyPrunePayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	task, err = NewIdempotencyPruneTask(IdempotencyPrunePayload{Retention: "2h"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	require.NoError(t, (&IdempotencyPruneJob{Store: store}).Handle(ctx, nil))
	require.Equal(t, []time.Duration{72 * time.Hour, 2 * time.Hour, DefaultIdempotencyRetention}, store.retentions)

	task, err = NewIdempotencyPruneTask(IdempotencyPrunePayload{Retention: "soon"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, task), asynq.SkipRetry)
	require.Len(t, store.retentions, 3)

	store.err = errors.New("db down")
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskIdempotencyPrune, nil)), store.err)
	require.Error(t, (&IdempotencyPruneJob{}).Handle(ctx, nil))
}

func TestIdempotencyPruneRespectsLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &fakePruner{}
	job := &IdempotencyPruneJob{Store: store, Locker: lock.New(client, time.Second)}
	require.NoError(t, mr.Set(shared.JobLockKey(TaskIdempotencyPrune), "other-worker"))
	require.ErrorIs(t, job.Handle(context.Background(), nil), lock.ErrBusy)
	require.Empty(t, store.retentions)
}
