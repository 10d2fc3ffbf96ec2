package inventory

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindItem(ctx context.Context, sku string) (catalog.Item, error)
	Balances(ctx context.Context, itemIDs []int64) (map[int64]Balance, error)
	History(ctx context.Context, filter HistoryFilter) ([]Transaction, error)
	Positions(ctx context.Context, filter PositionFilter) ([]Position, error)
	Reconcile(ctx context.Context, itemID int64) (Reconciliation, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Retry               db.RetryPolicy
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

// Service is the ledger: the only writer of balances.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	cfg    ServiceConfig

	mu        sync.RWMutex
	observers []PostingObserver
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = shared.DefaultPageLimit
	}
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = shared.MaxPageLimit
	}
	return &Service{repo: repo, audit: audit, logger: logger, cfg: cfg}
}

// RetryPolicy exposes the conflict retry budget so composite operations share it.
func (s *Service) RetryPolicy() db.RetryPolicy { return s.cfg.Retry }

// GetBalance returns the balance of a tracked item. A missing row reads as zero.
func (s *Service) GetBalance(ctx context.Context, sku string) (Balance, error) {
	item, err := s.repo.FindItem(ctx, catalog.NormalizeSKU(sku))
	if err != nil {
		return Balance{}, err
	}
	if !item.TrackInventory {
		return Balance{}, fmt.Errorf("%w: %s", ErrNotTracked, item.SKU)
	}
	balances, err := s.repo.Balances(ctx, []int64{item.ID})
	if err != nil {
		return Balance{}, err
	}
	bal, ok := balances[item.ID]
	if !ok {
		return Balance{ItemID: item.ID, SKU: item.SKU}, nil
	}
	return bal, nil
}

// Available reports available quantity per item id; items without a balance read as zero.
func (s *Service) Available(ctx context.Context, itemIDs []int64) (map[int64]int64, error) {
	balances, err := s.repo.Balances(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = balances[id].Available()
	}
	return out, nil
}

// Apply posts a single entry in its own unit of work.
func (s *Service) Apply(ctx context.Context, entry Entry) (Transaction, error) {
	var posted []Transaction
	err := shared.RunWithRetry(ctx, "inventory.apply", s.cfg.Retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			posted, err = s.PostInTx(ctx, tx, []Entry{entry})
			return err
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	s.committed(ctx, "inventory."+string(entry.Type), posted)
	return posted[0], nil
}

// PostInTx validates entries, checks them against locked balances and only
// then appends the transactions and writes the new balances. Nothing is
// written when any entry fails. Callers must call Notify after commit.
func (s *Service) PostInTx(ctx context.Context, tx TxRepository, entries []Entry) ([]Transaction, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	entries = slices.Clone(entries)
	skus := make([]string, 0, len(entries))
	for i := range entries {
		entries[i].SKU = catalog.NormalizeSKU(entries[i].SKU)
		if entries[i].SKU == "" {
			return nil, shared.Invalid("sku", "required")
		}
		if err := entries[i].Type.CheckDelta(entries[i].Delta); err != nil {
			return nil, err
		}
		if entries[i].Actor == "" {
			entries[i].Actor = shared.ActorFromContext(ctx)
		}
		skus = append(skus, entries[i].SKU)
	}
	items, err := tx.ItemsBySKU(ctx, skus)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, e := range entries {
		item, ok := items[e.SKU]
		if !ok {
			return nil, shared.NotFound("item", e.SKU)
		}
		if !item.TrackInventory {
			return nil, fmt.Errorf("%w: %s", ErrNotTracked, item.SKU)
		}
		if !item.Active && e.Type.RequiresActiveItem() {
			return nil, &catalog.InvalidStateError{SKU: item.SKU, Reason: fmt.Sprintf("inactive items cannot take %s postings", e.Type)}
		}
		ids = append(ids, item.ID)
	}
	ids = sortedUnique(ids)
	balances, err := tx.LockBalances(ctx, ids)
	if err != nil {
		return nil, err
	}

	pending := make([]Transaction, 0, len(entries))
	for _, e := range entries {
		item := items[e.SKU]
		bal := balances[item.ID]
		bal.ItemID, bal.SKU = item.ID, item.SKU
		next := bal.OnHand + e.Delta
		if next < 0 || next < bal.Reserved {
			return nil, &InsufficientStockError{SKU: item.SKU, OnHand: bal.OnHand, Reserved: bal.Reserved, Delta: e.Delta}
		}
		bal.OnHand = next
		balances[item.ID] = bal
		pending = append(pending, Transaction{
			ItemID:        item.ID,
			SKU:           item.SKU,
			Type:          e.Type,
			QuantityDelta: e.Delta,
			UnitCost:      e.UnitCost,
			ReferenceType: e.ReferenceType,
			ReferenceID:   e.ReferenceID,
			Note:          e.Note,
			Actor:         e.Actor,
			OnHandAfter:   next,
		})
	}

	posted := make([]Transaction, 0, len(pending))
	for _, t := range pending {
		saved, err := tx.InsertTransaction(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("inventory: append transaction for %s: %w", t.SKU, err)
		}
		saved.SKU = t.SKU
		posted = append(posted, saved)
	}
	for _, id := range ids {
		if err := tx.SaveBalance(ctx, balances[id]); err != nil {
			return nil, fmt.Errorf("inventory: save balance: %w", err)
		}
	}
	return posted, nil
}

// Adjust posts a manual correction of delta units.
func (s *Service) Adjust(ctx context.Context, sku string, delta int64, note, actor string) (Transaction, error) {
	return s.Apply(ctx, Entry{
		SKU:           sku,
		Type:          TypeAdjustment,
		Delta:         delta,
		ReferenceType: "adjustment",
		ReferenceID:   uuid.NewString(),
		Note:          note,
		Actor:         actor,
	})
}

// SetOnHand posts the adjustment that brings on hand to count. A zero
// transaction ID means the count already matched and nothing was posted.
func (s *Service) SetOnHand(ctx context.Context, sku string, count int64, note, actor string) (Transaction, error) {
	if count < 0 {
		return Transaction{}, shared.Invalid("count", "must not be negative")
	}
	sku = catalog.NormalizeSKU(sku)
	var posted []Transaction
	err := shared.RunWithRetry(ctx, "inventory.set_on_hand", s.cfg.Retry, func(ctx context.Context) error {
		posted = nil
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, bal, err := s.lockOne(ctx, tx, sku)
			if err != nil {
				return err
			}
			delta := count - bal.OnHand
			if delta == 0 {
				posted = []Transaction{{ItemID: item.ID, SKU: item.SKU, Type: TypeAdjustment, OnHandAfter: count}}
				return nil
			}
			posted, err = s.PostInTx(ctx, tx, []Entry{{
				SKU:           sku,
				Type:          TypeAdjustment,
				Delta:         delta,
				ReferenceType: "stock_count",
				ReferenceID:   uuid.NewString(),
				Note:          note,
				Actor:         actor,
			}})
			return err
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	if posted[0].ID != 0 {
		s.committed(ctx, "inventory.set_on_hand", posted)
	}
	return posted[0], nil
}

// Reserve earmarks qty units, keeping reserved within on hand.
func (s *Service) Reserve(ctx context.Context, sku string, qty int64, actor string) (Balance, error) {
	if qty <= 0 {
		return Balance{}, fmt.Errorf("%w: reservation must be positive", ErrInvalidQuantity)
	}
	return s.changeReserved(ctx, sku, qty, actor)
}

// Release returns qty previously reserved units.
func (s *Service) Release(ctx context.Context, sku string, qty int64, actor string) (Balance, error) {
	if qty <= 0 {
		return Balance{}, fmt.Errorf("%w: release must be positive", ErrInvalidQuantity)
	}
	return s.changeReserved(ctx, sku, -qty, actor)
}

func (s *Service) changeReserved(ctx context.Context, sku string, delta int64, actor string) (Balance, error) {
	sku = catalog.NormalizeSKU(sku)
	var saved Balance
	err := shared.RunWithRetry(ctx, "inventory.reserve", s.cfg.Retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, bal, err := s.lockOne(ctx, tx, sku)
			if err != nil {
				return err
			}
			next := bal.Reserved + delta
			if next < 0 {
				return shared.Invalid("quantity", "release of %d exceeds reserved %d", -delta, bal.Reserved)
			}
			if next > bal.OnHand {
				return &InsufficientStockError{SKU: bal.SKU, OnHand: bal.OnHand, Reserved: bal.Reserved, Delta: -delta}
			}
			bal.Reserved = next
			saved = bal
			return tx.SaveBalance(ctx, bal)
		})
	})
	if err != nil {
		return Balance{}, err
	}
	action := "inventory.reserve"
	if delta < 0 {
		action = "inventory.release"
	}
	s.record(ctx, actor, action, saved.SKU, map[string]any{"quantity": abs(delta), "reserved": saved.Reserved})
	s.logger.Info("reservation changed", slog.String("sku", saved.SKU), slog.Int64("delta", delta), slog.Int64("reserved", saved.Reserved))
	return saved, nil
}

func (s *Service) lockOne(ctx context.Context, tx TxRepository, sku string) (catalog.Item, Balance, error) {
	items, err := tx.ItemsBySKU(ctx, []string{sku})
	if err != nil {
		return catalog.Item{}, Balance{}, err
	}
	item, ok := items[sku]
	if !ok {
		return catalog.Item{}, Balance{}, shared.NotFound("item", sku)
	}
	if !item.TrackInventory {
		return catalog.Item{}, Balance{}, fmt.Errorf("%w: %s", ErrNotTracked, item.SKU)
	}
	balances, err := tx.LockBalances(ctx, []int64{item.ID})
	if err != nil {
		return catalog.Item{}, Balance{}, err
	}
	bal := balances[item.ID]
	bal.ItemID, bal.SKU = item.ID, item.SKU
	return item, bal, nil
}

// History returns one page of transactions, newest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) (HistoryPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return HistoryPage{}, shared.Invalid("type", "unknown transaction type %q", filter.Type)
	}
	if filter.Before < 0 {
		return HistoryPage{}, shared.Invalid("before", "must not be negative")
	}
	if filter.SKU != "" {
		item, err := s.repo.FindItem(ctx, catalog.NormalizeSKU(filter.SKU))
		if err != nil {
			return HistoryPage{}, err
		}
		filter.ItemID = item.ID
	}
	limit := shared.ClampLimit(filter.Limit, s.cfg.HistoryDefaultLimit, s.cfg.HistoryMaxLimit)
	filter.Limit = limit + 1
	txs, err := s.repo.History(ctx, filter)
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Transactions: txs}
	if len(txs) > limit {
		page.Transactions = txs[:limit]
		page.NextBefore = txs[limit-1].ID
	}
	return page, nil
}

// Iterate walks history lazily page by page. Ranging again restarts from the filter's cursor.
func (s *Service) Iterate(ctx context.Context, filter HistoryFilter) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		f := filter
		for {
			page, err := s.History(ctx, f)
			if err != nil {
				yield(Transaction{}, err)
				return
			}
			for _, t := range page.Transactions {
				if !yield(t, nil) {
					return
				}
			}
			if page.NextBefore == 0 {
				return
			}
			f.Before = page.NextBefore
		}
	}
}

// Positions joins the catalog with balances.
func (s *Service) Positions(ctx context.Context, filter PositionFilter) ([]Position, error) {
	return s.repo.Positions(ctx, filter)
}

// Verify replays the ledger of one item against its stored on hand.
func (s *Service) Verify(ctx context.Context, sku string) (Reconciliation, error) {
	item, err := s.repo.FindItem(ctx, catalog.NormalizeSKU(sku))
	if err != nil {
		return Reconciliation{}, err
	}
	return s.repo.Reconcile(ctx, item.ID)
}

func (s *Service) committed(ctx context.Context, action string, txs []Transaction) {
	for _, t := range txs {
		s.record(ctx, t.Actor, action, t.SKU, map[string]any{
			"transaction_id": t.ID,
			"delta":          t.QuantityDelta,
			"on_hand_after":  t.OnHandAfter,
			"reference_id":   t.ReferenceID,
		})
		s.logger.Info("ledger posting committed",
			slog.String("sku", t.SKU),
			slog.String("type", string(t.Type)),
			slog.Int64("quantity", t.QuantityDelta),
			slog.Int64("on_hand", t.OnHandAfter),
			slog.String("reference_id", t.ReferenceID))
	}
	s.Notify(ctx, txs)
}

func (s *Service) record(ctx context.Context, actor, action, sku string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.ActorFromContext(ctx)
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "inventory", EntityID: sku, Meta: meta}); err != nil {
		s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func sortedUnique(ids []int64) []int64 {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]int64, 0, len(sorted))
	for _, id := range sorted {
		if len(out) == 0 || id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
