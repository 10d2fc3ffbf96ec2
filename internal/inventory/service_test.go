package inventory

import (
	"context"
	"errors"
	"maps"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

type memoryRepo struct {
	items    map[string]catalog.Item
	balances map[int64]Balance
	txs      []Transaction
	nextID   int64
	// conflicts makes the next N units of work fail with a retryable conflict.
	conflicts int
	// bareLocks makes LockBalances return rows without item id or SKU.
	bareLocks bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(items ...catalog.Item) *memoryRepo {
	repo := &memoryRepo{items: map[string]catalog.Item{}, balances: map[int64]Balance{}}
	for i, item := range items {
		item.ID = int64(i + 1)
		repo.items[item.SKU] = item
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.conflicts > 0 {
		r.conflicts--
		return db.ErrConflict
	}
	balances := maps.Clone(r.balances)
	txs := append([]Transaction(nil), r.txs...)
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.balances, r.txs, r.nextID = balances, txs, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) FindItem(ctx context.Context, sku string) (catalog.Item, error) {
	item, ok := r.items[sku]
	if !ok {
		return catalog.Item{}, shared.NotFound("item", sku)
	}
	return item, nil
}

func (r *memoryRepo) Balances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error) {
	out := map[int64]Balance{}
	for _, id := range itemIDs {
		if b, ok := r.balances[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (r *memoryRepo) History(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	out := []Transaction{}
	for i := len(r.txs) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		t := r.txs[i]
		if filter.ItemID != 0 && t.ItemID != filter.ItemID {
			continue
		}
		if filter.Before != 0 && t.ID >= filter.Before {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) Positions(ctx context.Context, filter PositionFilter) ([]Position, error) {
	out := []Position{}
	for _, item := range r.items {
		if filter.TrackedOnly && !item.TrackInventory {
			continue
		}
		bal := r.balances[item.ID]
		bal.ItemID, bal.SKU = item.ID, item.SKU
		out = append(out, Position{Item: item, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.SKU < out[j].Item.SKU })
	return out, nil
}

func (r *memoryRepo) Reconcile(ctx context.Context, itemID int64) (Reconciliation, error) {
	rec := Reconciliation{ItemID: itemID, OnHand: r.balances[itemID].OnHand}
	for _, t := range r.txs {
		if t.ItemID == itemID {
			rec.LedgerSum += t.QuantityDelta
			rec.Transactions++
		}
	}
	return rec, nil
}

func (tx *memoryTx) ItemsBySKU(ctx context.Context, skus []string) (map[string]catalog.Item, error) {
	out := map[string]catalog.Item{}
	for _, sku := range skus {
		if item, ok := tx.repo.items[sku]; ok {
			out[sku] = item
		}
	}
	return out, nil
}

func (tx *memoryTx) LockBalances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error) {
	out := map[int64]Balance{}
	for _, id := range itemIDs {
		bal := tx.repo.balances[id]
		if !tx.repo.bareLocks {
			bal.ItemID, bal.SKU = id, tx.repo.skuOf(id)
		}
		out[id] = bal
	}
	return out, nil
}

func (r *memoryRepo) skuOf(id int64) string {
	for sku, item := range r.items {
		if item.ID == id {
			return sku
		}
	}
	return ""
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.txs = append(tx.repo.txs, t)
	return t, nil
}

func (tx *memoryTx) SaveBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balance.ItemID] = balance
	return nil
}

func item(sku string) catalog.Item {
	return catalog.Item{SKU: sku, Title: sku, Category: catalog.CategoryComponent, TrackInventory: true, Active: true}
}

func TestApplyMaintainsLedgerSum(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Apply(ctx, Entry{SKU: "A", Type: TypeInboundReceipt, Delta: 10, ReferenceID: "1"})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, "a", -3, "damaged", "tester")
	require.NoError(t, err)
	posted, err := svc.Apply(ctx, Entry{SKU: "A", Type: TypeOutboundShipment, Delta: -2})
	require.NoError(t, err)
	require.Equal(t, int64(5), posted.OnHandAfter)

	bal, err := svc.GetBalance(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.OnHand)

	rec, err := svc.Verify(ctx, "A")
	require.NoError(t, err)
	require.True(t, rec.Balanced())
	require.Equal(t, int64(3), rec.Transactions)
}

func TestApplyRejectsNegativeOnHand(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "A", 2, "", "tester")
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, "A", -3, "", "tester")
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(2), stockErr.OnHand)
	require.Equal(t, int64(-3), stockErr.Delta)
	require.Len(t, repo.txs, 1)
	require.Equal(t, int64(2), repo.balances[1].OnHand)
}

func TestApplyValidatesDirection(t *testing.T) {
	svc := NewService(newMemoryRepo(item("A")), nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Apply(ctx, Entry{SKU: "A", Type: TypeInboundReceipt, Delta: -1})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Apply(ctx, Entry{SKU: "A", Type: TypeKitConsume, Delta: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Apply(ctx, Entry{SKU: "A", Type: TypeAdjustment, Delta: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.Apply(ctx, Entry{SKU: "A", Type: TransactionType("teleport"), Delta: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Apply(ctx, Entry{SKU: "MISSING", Type: TypeAdjustment, Delta: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUntrackedAndInactiveItems(t *testing.T) {
	untracked := item("INFO")
	untracked.TrackInventory = false
	inactive := item("OLD")
	inactive.Active = false
	svc := NewService(newMemoryRepo(untracked, inactive), nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "INFO", 1, "", "tester")
	require.ErrorIs(t, err, ErrNotTracked)
	_, err = svc.GetBalance(ctx, "INFO")
	require.ErrorIs(t, err, ErrNotTracked)

	_, err = svc.Apply(ctx, Entry{SKU: "OLD", Type: TypeInboundReceipt, Delta: 1})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Adjust(ctx, "OLD", 4, "recount", "tester")
	require.NoError(t, err)
}

func TestMissingBalanceReadsAsZero(t *testing.T) {
	svc := NewService(newMemoryRepo(item("A")), nil, nil, ServiceConfig{})
	bal, err := svc.GetBalance(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.OnHand)
	require.Equal(t, int64(0), bal.Available())
}

func TestReservationsKeepOnHandAboveReserved(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "A", 5, "", "tester")
	require.NoError(t, err)
	bal, err := svc.Reserve(ctx, "A", 4, "tester")
	require.NoError(t, err)
	require.Equal(t, int64(1), bal.Available())
	require.Len(t, repo.txs, 1)

	_, err = svc.Reserve(ctx, "A", 2, "tester")
	require.True(t, IsInsufficientStock(err))

	_, err = svc.Adjust(ctx, "A", -2, "", "tester")
	require.True(t, IsInsufficientStock(err))

	_, err = svc.SetOnHand(ctx, "A", 3, "count", "tester")
	require.True(t, IsInsufficientStock(err))

	bal, err = svc.Release(ctx, "A", 4, "tester")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Reserved)

	_, err = svc.Release(ctx, "A", 1, "tester")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Reserve(ctx, "A", 0, "tester")
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestSetOnHandPostsDifference(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "A", 7, "", "tester")
	require.NoError(t, err)
	posted, err := svc.SetOnHand(ctx, "A", 4, "cycle count", "tester")
	require.NoError(t, err)
	require.Equal(t, int64(-3), posted.QuantityDelta)
	require.Equal(t, TypeAdjustment, posted.Type)
	require.Equal(t, "stock_count", posted.ReferenceType)

	same, err := svc.SetOnHand(ctx, "A", 4, "recount", "tester")
	require.NoError(t, err)
	require.Zero(t, same.ID)
	require.Len(t, repo.txs, 2)

	_, err = svc.SetOnHand(ctx, "A", -1, "", "tester")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostInTxIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo(item("A"), item("B"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	_, err := svc.Adjust(ctx, "A", 5, "", "tester")
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.PostInTx(ctx, tx, []Entry{
			{SKU: "A", Type: TypeKitConsume, Delta: -2},
			{SKU: "B", Type: TypeKitConsume, Delta: -1},
		})
		return err
	})
	require.True(t, IsInsufficientStock(err))
	require.Len(t, repo.txs, 1)
	require.Equal(t, int64(5), repo.balances[1].OnHand)
}

func TestPostInTxAppliesRepeatedItemsCumulatively(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()
	_, err := svc.Adjust(ctx, "A", 3, "", "tester")
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.PostInTx(ctx, tx, []Entry{
			{SKU: "A", Type: TypeOutboundShipment, Delta: -2},
			{SKU: "A", Type: TypeOutboundShipment, Delta: -2},
		})
		return err
	})
	require.True(t, IsInsufficientStock(err))
	require.Equal(t, int64(3), repo.balances[1].OnHand)
}

func TestApplyRetriesConflicts(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	retries := 0
	svc := NewService(repo, nil, nil, ServiceConfig{Retry: db.RetryPolicy{Attempts: 3, BaseDelay: 1, OnRetry: func(int, error) { retries++ }}})
	ctx := context.Background()

	repo.conflicts = 2
	_, err := svc.Adjust(ctx, "A", 1, "", "tester")
	require.NoError(t, err)
	require.Equal(t, 2, retries)

	repo.conflicts = 3
	_, err = svc.Adjust(ctx, "A", 1, "", "tester")
	var cm *shared.ConcurrentModificationError
	require.True(t, errors.As(err, &cm))
	require.Equal(t, 3, cm.Attempts)
	require.Equal(t, int64(1), repo.balances[1].OnHand)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	repo := newMemoryRepo(item("A"), item("B"))
	svc := NewService(repo, nil, nil, ServiceConfig{HistoryDefaultLimit: 2, HistoryMaxLimit: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Adjust(ctx, "A", 1, "", "tester")
		require.NoError(t, err)
	}
	_, err := svc.Adjust(ctx, "B", 1, "", "tester")
	require.NoError(t, err)

	page, err := svc.History(ctx, HistoryFilter{SKU: "A"})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.Equal(t, int64(5), page.Transactions[0].ID)
	require.Equal(t, int64(4), page.NextBefore)

	page, err = svc.History(ctx, HistoryFilter{SKU: "A", Limit: 100, Before: page.NextBefore})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	require.Zero(t, page.NextBefore)

	var ids []int64
	for tx, err := range svc.Iterate(ctx, HistoryFilter{Limit: 2}) {
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	require.Equal(t, []int64{6, 5, 4, 3, 2, 1}, ids)

	_, err = svc.History(ctx, HistoryFilter{Type: "bogus"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNotifyReachesObservers(t *testing.T) {
	svc := NewService(newMemoryRepo(item("A")), nil, nil, ServiceConfig{})
	var seen []Transaction
	svc.Subscribe(ObserverFunc(func(ctx context.Context, txs []Transaction) { seen = append(seen, txs...) }))

	_, err := svc.Adjust(context.Background(), "A", 2, "", "tester")
	require.NoError(t, err)
	_, err = svc.Adjust(context.Background(), "A", -5, "", "tester")
	require.Error(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, "A", seen[0].SKU)
}

func TestAvailableTreatsMissingAsZero(t *testing.T) {
	svc := NewService(newMemoryRepo(item("A"), item("B")), nil, nil, ServiceConfig{})
	_, err := svc.Adjust(context.Background(), "A", 2, "", "tester")
	require.NoError(t, err)
	avail, err := svc.Available(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{1: 2, 2: 0}, avail)
}

func TestPostingKeysBalancesByItemEvenWhenLockedRowsAreBare(t *testing.T) {
	repo := newMemoryRepo(item("A"), item("B"))
	repo.bareLocks = true
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "A", 4, "", "tester")
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, "B", 1, "", "tester")
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "A", 3, "tester")
	require.NoError(t, err)

	require.NotContains(t, repo.balances, int64(0))
	require.Equal(t, Balance{ItemID: 1, SKU: "A", OnHand: 4, Reserved: 3}, repo.balances[1])
	require.Equal(t, Balance{ItemID: 2, SKU: "B", OnHand: 1}, repo.balances[2])
}

func TestPostInTxLeavesCallerEntriesUntouched(t *testing.T) {
	repo := newMemoryRepo(item("A"))
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := shared.ContextWithActor(context.Background(), "clerk")

	entries := []Entry{{SKU: " a ", Type: TypeAdjustment, Delta: 2}}
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := svc.PostInTx(ctx, tx, entries)
		require.NoError(t, err)
		require.Len(t, posted, 1)
		require.Equal(t, "A", posted[0].SKU)
		require.Equal(t, "clerk", posted[0].Actor)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []Entry{{SKU: " a ", Type: TypeAdjustment, Delta: 2}}, entries)
}

