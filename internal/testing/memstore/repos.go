package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/odyssey-erp/kitledger/internal/assembly"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// CatalogRepo implements catalog.RepositoryPort.
type CatalogRepo struct{ s *Store }

// Catalog returns the catalog view of the store.
func (s *Store) Catalog() CatalogRepo { return CatalogRepo{s: s} }

func (r CatalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r CatalogRepo) FindBySKU(ctx context.Context, sku string) (catalog.Item, error) {
	var (
		item catalog.Item
		ok   bool
	)
	r.s.read(func(st *state) { item, ok = st.itemBySKU(sku) })
	if !ok {
		return catalog.Item{}, shared.NotFound("item", sku)
	}
	return item, nil
}

func (r CatalogRepo) List(ctx context.Context, filter catalog.ListFilter) ([]catalog.Item, error) {
	items := []catalog.Item{}
	r.s.read(func(st *state) {
		for _, item := range st.items {
			if filter.Category != "" && item.Category != filter.Category {
				continue
			}
			if filter.ActiveOnly && !item.Active {
				continue
			}
			if filter.Search != "" && !containsFold(item.SKU, filter.Search) && !containsFold(item.Title, filter.Search) {
				continue
			}
			items = append(items, item)
		}
	})
	slices.SortFunc(items, func(a, b catalog.Item) int { return cmp.Compare(a.SKU, b.SKU) })
	return page(items, filter.Limit, filter.Offset), nil
}

// BOMRepo implements bom.RepositoryPort.
type BOMRepo struct{ s *Store }

// BOM returns the recipe view of the store.
func (s *Store) BOM() BOMRepo { return BOMRepo{s: s} }

func (r BOMRepo) WithTx(ctx context.Context, fn func(context.Context, bom.TxRepository) error) error {
	return r.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// LedgerRepo implements inventory.RepositoryPort.
type LedgerRepo struct{ s *Store }

// Ledger returns the ledger view of the store.
func (s *Store) Ledger() LedgerRepo { return LedgerRepo{s: s} }

func (r LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r LedgerRepo) FindItem(ctx context.Context, sku string) (catalog.Item, error) {
	return r.s.Catalog().FindBySKU(ctx, sku)
}

func (r LedgerRepo) Balances(ctx context.Context, itemIDs []int64) (map[int64]inventory.Balance, error) {
	out := map[int64]inventory.Balance{}
	r.s.read(func(st *state) {
		for _, id := range itemIDs {
			if b, ok := st.balances[id]; ok {
				b.SKU = st.items[id].SKU
				out[id] = b
			}
		}
	})
	return out, nil
}

func (r LedgerRepo) History(ctx context.Context, filter inventory.HistoryFilter) ([]inventory.Transaction, error) {
	out := []inventory.Transaction{}
	r.s.read(func(st *state) {
		for i := len(st.txs) - 1; i >= 0 && len(out) < filter.Limit; i-- {
			t := st.txs[i]
			switch {
			case filter.ItemID != 0 && t.ItemID != filter.ItemID,
				filter.Before != 0 && t.ID >= filter.Before,
				filter.Type != "" && t.Type != filter.Type,
				filter.ReferenceID != "" && t.ReferenceID != filter.ReferenceID:
				continue
			}
			t.SKU = st.items[t.ItemID].SKU
			out = append(out, t)
		}
	})
	return out, nil
}

func (r LedgerRepo) Positions(ctx context.Context, filter inventory.PositionFilter) ([]inventory.Position, error) {
	out := []inventory.Position{}
	r.s.read(func(st *state) {
		for _, item := range st.items {
			if filter.ActiveOnly && !item.Active || filter.TrackedOnly && !item.TrackInventory {
				continue
			}
			if filter.Category != "" && item.Category != filter.Category {
				continue
			}
			bal, ok := st.balances[item.ID]
			if !ok {
				bal = inventory.Balance{UpdatedAt: item.CreatedAt}
			}
			bal.ItemID, bal.SKU = item.ID, item.SKU
			out = append(out, inventory.Position{Item: item, Balance: bal})
		}
	})
	slices.SortFunc(out, func(a, b inventory.Position) int { return cmp.Compare(a.Item.SKU, b.Item.SKU) })
	return out, nil
}

func (r LedgerRepo) Reconcile(ctx context.Context, itemID int64) (inventory.Reconciliation, error) {
	rec := inventory.Reconciliation{ItemID: itemID}
	var ok bool
	r.s.read(func(st *state) {
		var item catalog.Item
		if item, ok = st.items[itemID]; !ok {
			return
		}
		rec.SKU, rec.OnHand = item.SKU, st.balances[itemID].OnHand
		for _, t := range st.txs {
			if t.ItemID == itemID {
				rec.LedgerSum += t.QuantityDelta
				rec.Transactions++
			}
		}
	})
	if !ok {
		return inventory.Reconciliation{}, shared.NotFound("item", fmtID(itemID))
	}
	return rec, nil
}

// AssemblyRepo implements assembly.RepositoryPort.
type AssemblyRepo struct{ s *Store }

// Assembly returns the assembly view of the store.
func (s *Store) Assembly() AssemblyRepo { return AssemblyRepo{s: s} }

func (r AssemblyRepo) WithTx(ctx context.Context, fn func(context.Context, assembly.TxRepository) error) error {
	return r.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// ProcurementRepo implements procurement.RepositoryPort.
type ProcurementRepo struct{ s *Store }

// Procurement returns the purchase order view of the store.
func (s *Store) Procurement() ProcurementRepo { return ProcurementRepo{s: s} }

func (r ProcurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r ProcurementRepo) GetOrder(ctx context.Context, id int64) (procurement.Order, error) {
	var (
		order procurement.Order
		err   error
	)
	r.s.read(func(st *state) { order, err = st.order(id) })
	return order, err
}

func (r ProcurementRepo) GetOrderByPONumber(ctx context.Context, po string) (procurement.Order, error) {
	var (
		order procurement.Order
		err   = shared.NotFound("order", po)
	)
	r.s.read(func(st *state) {
		for id, o := range st.orders {
			if o.PONumber == po {
				order, err = st.order(id)
				return
			}
		}
	})
	return order, err
}

func (r ProcurementRepo) ListOrders(ctx context.Context, filter procurement.ListFilter) ([]procurement.Order, error) {
	out := []procurement.Order{}
	r.s.read(func(st *state) {
		for _, o := range st.orders {
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, o.Status) {
				continue
			}
			if filter.Supplier != "" && !containsFold(o.SupplierName, filter.Supplier) {
				continue
			}
			o.Lines = nil
			out = append(out, o)
		}
	})
	slices.SortFunc(out, func(a, b procurement.Order) int { return cmp.Compare(b.ID, a.ID) })
	return page(out, filter.Limit, filter.Offset), nil
}
