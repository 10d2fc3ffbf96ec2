package catalog

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

type memoryRepo struct {
	items  map[string]Item
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[string]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[string]Item, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) FindBySKU(ctx context.Context, sku string) (Item, error) {
	item, ok := r.items[sku]
	if !ok {
		return Item{}, shared.NotFound("item", sku)
	}
	return item, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	out := []Item{}
	for _, item := range r.items {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.ActiveOnly && !item.Active {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, sku string) (Item, error) {
	return tx.repo.FindBySKU(ctx, sku)
}

func (tx *memoryTx) ItemsBySKU(ctx context.Context, skus []string) (map[string]Item, error) {
	out := map[string]Item{}
	for _, sku := range skus {
		if item, ok := tx.repo.items[sku]; ok {
			out[sku] = item
		}
	}
	return out, nil
}

func (tx *memoryTx) ItemsByID(ctx context.Context, ids []int64) (map[int64]Item, error) {
	out := map[int64]Item{}
	for _, item := range tx.repo.items {
		for _, id := range ids {
			if item.ID == id {
				out[id] = item
			}
		}
	}
	return out, nil
}

func (tx *memoryTx) Insert(ctx context.Context, item Item) (Item, error) {
	if _, ok := tx.repo.items[item.SKU]; ok {
		return Item{}, &DuplicateSKUError{SKU: item.SKU}
	}
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.SKU] = item
	return item, nil
}

func (tx *memoryTx) Update(ctx context.Context, item Item) (Item, error) {
	tx.repo.items[item.SKU] = item
	return item, nil
}

func (tx *memoryTx) SetCalculatedCost(ctx context.Context, id int64, cost decimal.Decimal) error {
	for sku, item := range tx.repo.items {
		if item.ID == id {
			item.CalculatedCost = cost
			tx.repo.items[sku] = item
			return nil
		}
	}
	return shared.NotFound("kit", "")
}

type recordingHandler struct {
	changes []Change
	err     error
}

func (h *recordingHandler) ItemChanged(ctx context.Context, change Change) error {
	h.changes = append(h.changes, change)
	return h.err
}

func TestRegisterNormalisesSKUAndRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	item, err := svc.Register(ctx, RegisterInput{SKU: "  widget-01 ", Title: "Widget", Category: CategoryComponent, BaseCost: decimal.RequireFromString("2.50")})
	require.NoError(t, err)
	require.Equal(t, "WIDGET-01", item.SKU)
	require.True(t, item.TrackInventory)
	require.True(t, item.Active)
	require.True(t, item.CalculatedCost.IsZero())

	_, err = svc.Register(ctx, RegisterInput{SKU: "Widget-01", Title: "Again", Category: CategoryComponent})
	var dup *DuplicateSKUError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, "WIDGET-01", dup.SKU)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRegisterFullWidthSKUFoldsToASCII(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	item, err := svc.Register(context.Background(), RegisterInput{SKU: "ｋｉｔ１", Title: "Kit", Category: CategoryKit})
	require.NoError(t, err)
	require.Equal(t, "KIT1", item.SKU)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{SKU: "A", Title: "A", Category: Category("gadget")})
	var catErr *InvalidCategoryError
	require.True(t, errors.As(err, &catErr))

	_, err = svc.Register(ctx, RegisterInput{SKU: "A", Title: "A", Category: CategoryComponent, ReorderPoint: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Register(ctx, RegisterInput{SKU: "A", Title: "A", Category: CategoryComponent, BaseCost: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Register(ctx, RegisterInput{SKU: "", Title: "A", Category: CategoryComponent})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateRejectsCalculatedCostOnKit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{SKU: "KIT", Title: "Kit", Category: CategoryKit})
	require.NoError(t, err)

	cost := decimal.NewFromInt(99)
	_, err = svc.Update(ctx, "kit", Patch{CalculatedCost: &cost}, "tester")
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.True(t, repo.items["KIT"].CalculatedCost.IsZero())
}

func TestUpdateRejectsCategoryChange(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{SKU: "RAW", Title: "Raw", Category: CategoryRawMaterial})
	require.NoError(t, err)

	kit := CategoryKit
	_, err = svc.Update(ctx, "RAW", Patch{Category: &kit}, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUpdateUnknownSKU(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	title := "x"
	_, err := svc.Update(context.Background(), "NOPE", Patch{Title: &title}, "tester")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateNotifiesCostChange(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	handler := &recordingHandler{}
	svc.Subscribe(handler)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{SKU: "RAW", Title: "Raw", Category: CategoryRawMaterial, BaseCost: decimal.NewFromInt(1)})
	require.NoError(t, err)

	cost := decimal.NewFromInt(3)
	item, err := svc.Update(ctx, "RAW", Patch{BaseCost: &cost}, "tester")
	require.NoError(t, err)
	require.True(t, item.BaseCost.Equal(cost))
	require.Len(t, handler.changes, 2)
	require.False(t, handler.changes[0].CostChanged())
	require.True(t, handler.changes[1].CostChanged())

	title := "Raw v2"
	_, err = svc.Update(ctx, "RAW", Patch{Title: &title}, "tester")
	require.NoError(t, err)
	require.False(t, handler.changes[2].CostChanged())
}

func TestHandlerFailureStillReturnsCommittedItem(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{SKU: "RAW", Title: "Raw", Category: CategoryRawMaterial})
	require.NoError(t, err)
	svc.Subscribe(&recordingHandler{err: errors.New("boom")})

	cost := decimal.NewFromInt(5)
	item, err := svc.Update(ctx, "RAW", Patch{BaseCost: &cost}, "tester")
	require.Error(t, err)
	require.Equal(t, "RAW", item.SKU)
	require.True(t, item.BaseCost.Equal(cost))
}

func TestDeactivateIsIdempotent(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	handler := &recordingHandler{}
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{SKU: "RAW", Title: "Raw", Category: CategoryRawMaterial})
	require.NoError(t, err)
	svc.Subscribe(handler)

	item, err := svc.Deactivate(ctx, "RAW", "tester")
	require.NoError(t, err)
	require.False(t, item.Active)
	item, err = svc.Deactivate(ctx, "RAW", "tester")
	require.NoError(t, err)
	require.False(t, item.Active)
	require.Len(t, handler.changes, 1)

	active, err := svc.List(ctx, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, active)

	item, err = svc.Activate(ctx, "RAW", "tester")
	require.NoError(t, err)
	require.True(t, item.Active)
}

func TestListFiltersByCategory(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	for _, in := range []RegisterInput{
		{SKU: "B", Title: "B", Category: CategoryComponent},
		{SKU: "A", Title: "A", Category: CategoryComponent},
		{SKU: "K", Title: "K", Category: CategoryKit},
	} {
		_, err := svc.Register(ctx, in)
		require.NoError(t, err)
	}
	items, err := svc.List(ctx, ListFilter{Category: CategoryComponent})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "A", items[0].SKU)

	_, err = svc.List(ctx, ListFilter{Category: "bogus"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Kit ")
	require.NoError(t, err)
	require.Equal(t, CategoryKit, c)
	_, err = ParseCategory("gizmo")
	require.Error(t, err)
}

type stubCascade struct {
	calls []int64
	err   error
}

func (c *stubCascade) CascadeInTx(ctx context.Context, tx TxRepository, itemID int64) (int, error) {
	c.calls = append(c.calls, itemID)
	return len(c.calls), c.err
}

func TestUpdateCascadesCostInsideUnitOfWork(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	cascade := &stubCascade{}
	svc.UseCascade(cascade, db.RetryPolicy{})
	ctx := context.Background()
	raw, err := svc.Register(ctx, RegisterInput{SKU: "RAW", Title: "Raw", Category: CategoryRawMaterial, BaseCost: decimal.NewFromInt(1)})
	require.NoError(t, err)

	title := "Raw v2"
	_, err = svc.Update(ctx, "RAW", Patch{Title: &title}, "tester")
	require.NoError(t, err)
	require.Empty(t, cascade.calls)

	cost := decimal.NewFromInt(2)
	_, err = svc.Update(ctx, "RAW", Patch{BaseCost: &cost}, "tester")
	require.NoError(t, err)
	require.Equal(t, []int64{raw.ID}, cascade.calls)

	cascade.err = errors.New("graph unavailable")
	cost = decimal.NewFromInt(7)
	_, err = svc.Update(ctx, "RAW", Patch{BaseCost: &cost}, "tester")
	require.ErrorContains(t, err, "graph unavailable")
	stored, err := svc.Find(ctx, "RAW")
	require.NoError(t, err)
	require.True(t, stored.BaseCost.Equal(decimal.NewFromInt(2)))
	require.Equal(t, "Raw v2", stored.Title)
}
