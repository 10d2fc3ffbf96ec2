// Package memstore is an in-memory stand-in for the kitledger schema. Units
// of work run one at a time on a private copy of the state, which replaces
// the committed state only when the callback succeeds.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/assembly"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

type state struct {
	items    map[int64]catalog.Item
	edges    map[int64][]bom.Edge
	balances map[int64]inventory.Balance
	txs      []inventory.Transaction
	orders   map[int64]procurement.Order
	poSeq    int64
	ids      map[string]int64
}

func (s state) clone() state {
	out := state{
		items:    maps.Clone(s.items),
		edges:    make(map[int64][]bom.Edge, len(s.edges)),
		balances: maps.Clone(s.balances),
		txs:      slices.Clone(s.txs),
		orders:   make(map[int64]procurement.Order, len(s.orders)),
		poSeq:    s.poSeq,
		ids:      maps.Clone(s.ids),
	}
	for k, v := range s.edges {
		out.edges[k] = slices.Clone(v)
	}
	for k, v := range s.orders {
		v.Lines = slices.Clone(v.Lines)
		out.orders[k] = v
	}
	return out
}

func (s *state) next(seq string) int64 {
	s.ids[seq]++
	return s.ids[seq]
}

// Store holds committed state.
type Store struct {
	mu       sync.Mutex
	state    state
	failNext int
}

// New returns an empty store.
func New() *Store {
	return &Store{state: state{
		items:    map[int64]catalog.Item{},
		edges:    map[int64][]bom.Edge{},
		balances: map[int64]inventory.Balance{},
		orders:   map[int64]procurement.Order{},
		ids:      map[string]int64{},
	}}
}

// FailNext makes the next n units of work fail with a retryable conflict
// before running.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Transactions returns every committed ledger row in insertion order.
func (s *Store) Transactions() []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.txs)
}

func (s *Store) run(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return db.ErrConflict
	}
	work := s.state.clone()
	if err := fn(&Tx{st: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) read(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Tx implements every package's TxRepository against one working copy.
type Tx struct {
	st *state
}

var (
	_ catalog.TxRepository     = (*Tx)(nil)
	_ bom.TxRepository         = (*Tx)(nil)
	_ inventory.TxRepository   = (*Tx)(nil)
	_ assembly.TxRepository    = (*Tx)(nil)
	_ procurement.TxRepository = (*Tx)(nil)
)

func (st *state) itemBySKU(sku string) (catalog.Item, bool) {
	for _, item := range st.items {
		if item.SKU == sku {
			return item, true
		}
	}
	return catalog.Item{}, false
}

// GetForUpdate implements catalog.TxRepository.
func (t *Tx) GetForUpdate(ctx context.Context, sku string) (catalog.Item, error) {
	item, ok := t.st.itemBySKU(sku)
	if !ok {
		return catalog.Item{}, shared.NotFound("item", sku)
	}
	return item, nil
}

// ItemsBySKU implements catalog.TxRepository.
func (t *Tx) ItemsBySKU(ctx context.Context, skus []string) (map[string]catalog.Item, error) {
	out := make(map[string]catalog.Item, len(skus))
	for _, sku := range skus {
		if item, ok := t.st.itemBySKU(sku); ok {
			out[sku] = item
		}
	}
	return out, nil
}

// ItemsByID implements catalog.TxRepository.
func (t *Tx) ItemsByID(ctx context.Context, ids []int64) (map[int64]catalog.Item, error) {
	out := make(map[int64]catalog.Item, len(ids))
	for _, id := range ids {
		if item, ok := t.st.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

// Insert implements catalog.TxRepository.
func (t *Tx) Insert(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	if _, ok := t.st.itemBySKU(item.SKU); ok {
		return catalog.Item{}, &catalog.DuplicateSKUError{SKU: item.SKU}
	}
	now := time.Now().UTC()
	item.ID = t.st.next("items")
	item.CreatedAt, item.UpdatedAt = now, now
	t.st.items[item.ID] = item
	return item, nil
}

// Update implements catalog.TxRepository. SKU and category are immutable.
func (t *Tx) Update(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	current, ok := t.st.items[item.ID]
	if !ok {
		return catalog.Item{}, shared.NotFound("item", item.SKU)
	}
	item.SKU, item.Category, item.CreatedAt = current.SKU, current.Category, current.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	t.st.items[item.ID] = item
	return item, nil
}

// SetCalculatedCost implements catalog.TxRepository.
func (t *Tx) SetCalculatedCost(ctx context.Context, id int64, cost decimal.Decimal) error {
	item, ok := t.st.items[id]
	if !ok || !item.IsKit() {
		return shared.NotFound("kit", strconv.FormatInt(id, 10))
	}
	item.CalculatedCost = cost
	item.UpdatedAt = time.Now().UTC()
	t.st.items[id] = item
	return nil
}

// LockGraph implements bom.TxRepository. Units of work are already serial.
func (t *Tx) LockGraph(ctx context.Context) error { return nil }

// Edges implements bom.TxRepository.
func (t *Tx) Edges(ctx context.Context) ([]bom.Edge, error) {
	out := []bom.Edge{}
	for _, kit := range slices.Sorted(maps.Keys(t.st.edges)) {
		out = append(out, t.st.edges[kit]...)
	}
	return out, nil
}

// KitIDs implements bom.TxRepository.
func (t *Tx) KitIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	for id, item := range t.st.items {
		if item.IsKit() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// LinesForKit implements bom.TxRepository.
func (t *Tx) LinesForKit(ctx context.Context, kitID int64) ([]bom.Line, error) {
	kit := t.st.items[kitID]
	lines := []bom.Line{}
	for _, e := range t.st.edges[kitID] {
		c := t.st.items[e.ComponentID]
		lines = append(lines, bom.Line{
			KitID:             kitID,
			KitSKU:            kit.SKU,
			ComponentID:       c.ID,
			ComponentSKU:      c.SKU,
			ComponentTitle:    c.Title,
			ComponentCategory: c.Category,
			ComponentTracked:  c.TrackInventory,
			ComponentActive:   c.Active,
			Quantity:          e.Quantity,
			ComponentCost:     c.UnitCost(),
		})
	}
	slices.SortFunc(lines, func(a, b bom.Line) int { return cmp.Compare(a.ComponentSKU, b.ComponentSKU) })
	return lines, nil
}

// ReplaceLines implements bom.TxRepository.
func (t *Tx) ReplaceLines(ctx context.Context, kitID int64, edges []bom.Edge) error {
	if len(edges) == 0 {
		delete(t.st.edges, kitID)
		return nil
	}
	stored := make([]bom.Edge, 0, len(edges))
	for _, e := range edges {
		e.KitID = kitID
		stored = append(stored, e)
	}
	slices.SortFunc(stored, func(a, b bom.Edge) int { return cmp.Compare(a.ComponentID, b.ComponentID) })
	t.st.edges[kitID] = stored
	return nil
}

// LockBalances implements inventory.TxRepository, creating missing rows.
func (t *Tx) LockBalances(ctx context.Context, itemIDs []int64) (map[int64]inventory.Balance, error) {
	out := make(map[int64]inventory.Balance, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := t.st.items[id]
		if !ok {
			return nil, fmt.Errorf("memstore: balance for unknown item %d", id)
		}
		bal, ok := t.st.balances[id]
		if !ok {
			bal = inventory.Balance{ItemID: id, UpdatedAt: time.Now().UTC()}
			t.st.balances[id] = bal
		}
		bal.SKU = item.SKU
		out[id] = bal
	}
	return out, nil
}

// InsertTransaction implements inventory.TxRepository.
func (t *Tx) InsertTransaction(ctx context.Context, tx inventory.Transaction) (inventory.Transaction, error) {
	if _, ok := t.st.items[tx.ItemID]; !ok {
		return inventory.Transaction{}, fmt.Errorf("memstore: transaction for unknown item %d", tx.ItemID)
	}
	tx.ID = t.st.next("transactions")
	tx.CreatedAt = time.Now().UTC()
	t.st.txs = append(t.st.txs, tx)
	return tx, nil
}

// SaveBalance implements inventory.TxRepository and enforces the table checks.
func (t *Tx) SaveBalance(ctx context.Context, b inventory.Balance) error {
	if _, ok := t.st.balances[b.ItemID]; !ok {
		return fmt.Errorf("memstore: balance row for item %d not locked", b.ItemID)
	}
	if b.OnHand < 0 || b.Reserved < 0 || b.OnHand < b.Reserved {
		return fmt.Errorf("memstore: balance check violated for item %d", b.ItemID)
	}
	b.UpdatedAt = time.Now().UTC()
	t.st.balances[b.ItemID] = b
	return nil
}

// NextPOSequence implements procurement.TxRepository.
func (t *Tx) NextPOSequence(ctx context.Context) (int64, error) {
	t.st.poSeq++
	return t.st.poSeq, nil
}

// InsertOrder implements procurement.TxRepository.
func (t *Tx) InsertOrder(ctx context.Context, order procurement.Order) (procurement.Order, error) {
	for _, o := range t.st.orders {
		if o.PONumber == order.PONumber {
			return procurement.Order{}, fmt.Errorf("memstore: duplicate po_number %s", order.PONumber)
		}
	}
	now := time.Now().UTC()
	order.ID = t.st.next("orders")
	order.CreatedAt, order.UpdatedAt = now, now
	lines := order.Lines
	order.Lines = nil
	t.st.orders[order.ID] = order
	saved := make([]procurement.Line, 0, len(lines))
	for _, l := range lines {
		l.OrderID = order.ID
		line, err := t.InsertLine(ctx, l)
		if err != nil {
			return procurement.Order{}, err
		}
		saved = append(saved, line)
	}
	order.Lines = saved
	return order, nil
}

// GetOrderForUpdate implements procurement.TxRepository.
func (t *Tx) GetOrderForUpdate(ctx context.Context, id int64) (procurement.Order, error) {
	return t.st.order(id)
}

func (st *state) order(id int64) (procurement.Order, error) {
	order, ok := st.orders[id]
	if !ok {
		return procurement.Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	order.Lines = slices.Clone(order.Lines)
	if order.Lines == nil {
		order.Lines = []procurement.Line{}
	}
	for i, l := range order.Lines {
		order.Lines[i].SKU = st.items[l.ItemID].SKU
	}
	return order, nil
}

// UpdateOrder implements procurement.TxRepository. Lines, number and order
// date are left alone.
func (t *Tx) UpdateOrder(ctx context.Context, order procurement.Order) error {
	current, ok := t.st.orders[order.ID]
	if !ok {
		return shared.NotFound("order", strconv.FormatInt(order.ID, 10))
	}
	order.Lines, order.PONumber, order.OrderDate, order.CreatedAt = current.Lines, current.PONumber, current.OrderDate, current.CreatedAt
	order.UpdatedAt = time.Now().UTC()
	t.st.orders[order.ID] = order
	return nil
}

// InsertLine implements procurement.TxRepository.
func (t *Tx) InsertLine(ctx context.Context, line procurement.Line) (procurement.Line, error) {
	order, ok := t.st.orders[line.OrderID]
	if !ok {
		return procurement.Line{}, shared.NotFound("order", strconv.FormatInt(line.OrderID, 10))
	}
	if _, ok := t.st.items[line.ItemID]; !ok {
		return procurement.Line{}, fmt.Errorf("memstore: line for unknown item %d", line.ItemID)
	}
	line.ID = t.st.next("order_lines")
	order.Lines = append(slices.Clone(order.Lines), line)
	t.st.orders[order.ID] = order
	return line, nil
}

// DeleteLine implements procurement.TxRepository.
func (t *Tx) DeleteLine(ctx context.Context, lineID int64) error {
	for id, order := range t.st.orders {
		order.Lines = slices.DeleteFunc(slices.Clone(order.Lines), func(l procurement.Line) bool {
			return l.ID == lineID && l.QuantityReceived == 0
		})
		t.st.orders[id] = order
	}
	return nil
}

// SetLineReceived implements procurement.TxRepository and enforces the
// received <= ordered check.
func (t *Tx) SetLineReceived(ctx context.Context, lineID, received int64) error {
	for id, order := range t.st.orders {
		for i, l := range order.Lines {
			if l.ID != lineID {
				continue
			}
			if received < 0 || received > l.QuantityOrdered {
				return fmt.Errorf("memstore: received check violated for line %d", lineID)
			}
			order.Lines = slices.Clone(order.Lines)
			order.Lines[i].QuantityReceived = received
			t.st.orders[id] = order
			return nil
		}
	}
	return shared.NotFound("order line", strconv.FormatInt(lineID, 10))
}

func fmtID(id int64) string { return strconv.FormatInt(id, 10) }

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
