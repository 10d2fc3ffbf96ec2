package bom

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AvailabilityReader reports available stock per item id.
type AvailabilityReader interface {
	Available(ctx context.Context, itemIDs []int64) (map[int64]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service resolves recipes and keeps rolled-up kit costs consistent.
type Service struct {
	repo   RepositoryPort
	stock  AvailabilityReader
	audit  AuditPort
	logger *slog.Logger
	retry  db.RetryPolicy
}

// NewService builds Service. retry bounds how often a conflicting recipe
// unit is replayed.
func NewService(repo RepositoryPort, stock AvailabilityReader, audit AuditPort, logger *slog.Logger, retry db.RetryPolicy) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, audit: audit, logger: logger, retry: retry}
}

func (s *Service) mutate(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	return shared.RunWithRetry(ctx, op, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

// SetBOM replaces the kit's component lines and rolls the new cost up the graph.
func (s *Service) SetBOM(ctx context.Context, kitSKU string, inputs []LineInput, actor string) (catalog.Item, error) {
	kitSKU = catalog.NormalizeSKU(kitSKU)
	inputs = slices.Clone(inputs)
	skus := make([]string, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for i := range inputs {
		inputs[i].ComponentSKU = catalog.NormalizeSKU(inputs[i].ComponentSKU)
		if err := shared.Validate(inputs[i]); err != nil {
			return catalog.Item{}, err
		}
		if seen[inputs[i].ComponentSKU] {
			return catalog.Item{}, shared.Invalid("lines", "component %s listed more than once", inputs[i].ComponentSKU)
		}
		seen[inputs[i].ComponentSKU] = true
		skus = append(skus, inputs[i].ComponentSKU)
	}

	var (
		kit     catalog.Item
		updated int
	)
	err := s.mutate(ctx, "bom.set", func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockGraph(ctx); err != nil {
			return err
		}
		var err error
		kit, err = tx.GetForUpdate(ctx, kitSKU)
		if err != nil {
			return err
		}
		if err := catalog.RequireKit(kit); err != nil {
			return err
		}
		components, err := tx.ItemsBySKU(ctx, skus)
		if err != nil {
			return err
		}
		edges := make([]Edge, 0, len(inputs))
		for _, in := range inputs {
			comp, ok := components[in.ComponentSKU]
			if !ok {
				return shared.NotFound("item", in.ComponentSKU)
			}
			if !comp.Active {
				return &catalog.InvalidStateError{SKU: comp.SKU, Reason: "inactive items cannot be used as components"}
			}
			if comp.ID == kit.ID {
				return &CyclicBOMError{KitSKU: kit.SKU, Path: []string{kit.SKU, kit.SKU}}
			}
			edges = append(edges, Edge{KitID: kit.ID, ComponentID: comp.ID, Quantity: in.Quantity})
		}

		all, err := tx.Edges(ctx)
		if err != nil {
			return err
		}
		graph := NewGraph(all)
		graph.Replace(kit.ID, edges)
		if path := graph.FindCycle(kit.ID); path != nil {
			return s.cycleError(ctx, tx, kit.SKU, path)
		}
		if err := tx.ReplaceLines(ctx, kit.ID, edges); err != nil {
			return err
		}
		targets := append([]int64{kit.ID}, graph.Ancestors(kit.ID)...)
		updated, err = recompute(ctx, tx, graph, targets)
		if err != nil {
			return err
		}
		refreshed, err := tx.ItemsByID(ctx, []int64{kit.ID})
		if err != nil {
			return err
		}
		kit = refreshed[kit.ID]
		return nil
	})
	if err != nil {
		return catalog.Item{}, err
	}
	s.record(ctx, actor, "bom.set", kit, map[string]any{"lines": len(inputs), "kits_recomputed": updated})
	s.logger.Info("bom replaced", slog.String("sku", kit.SKU), slog.Int("lines", len(inputs)),
		slog.String("calculated_cost", kit.CalculatedCost.String()), slog.Int("kits_recomputed", updated))
	return kit, nil
}

// Lines returns the current recipe of a kit.
func (s *Service) Lines(ctx context.Context, kitSKU string) ([]Line, error) {
	kitSKU = catalog.NormalizeSKU(kitSKU)
	var lines []Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		kit, err := lookup(ctx, tx, kitSKU)
		if err != nil {
			return err
		}
		if err := catalog.RequireKit(kit); err != nil {
			return err
		}
		lines, err = tx.LinesForKit(ctx, kit.ID)
		return err
	})
	return lines, err
}

// RecomputeCost re-derives the kit's cost bottom-up without changing lines,
// then cascades to every kit containing it.
func (s *Service) RecomputeCost(ctx context.Context, kitSKU string) (catalog.Item, error) {
	kitSKU = catalog.NormalizeSKU(kitSKU)
	var kit catalog.Item
	err := s.mutate(ctx, "bom.recompute", func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockGraph(ctx); err != nil {
			return err
		}
		var err error
		kit, err = lookup(ctx, tx, kitSKU)
		if err != nil {
			return err
		}
		if err := catalog.RequireKit(kit); err != nil {
			return err
		}
		graph, err := loadGraph(ctx, tx)
		if err != nil {
			return err
		}
		targets := append(graph.Descendants(kit.ID), kit.ID)
		targets = append(targets, graph.Ancestors(kit.ID)...)
		if _, err := recompute(ctx, tx, graph, targets); err != nil {
			return err
		}
		refreshed, err := tx.ItemsByID(ctx, []int64{kit.ID})
		if err != nil {
			return err
		}
		kit = refreshed[kit.ID]
		return nil
	})
	return kit, err
}

// ComponentCostChanged cascades a cost change of sku to every kit that
// directly or transitively contains it.
func (s *Service) ComponentCostChanged(ctx context.Context, sku string) (int, error) {
	sku = catalog.NormalizeSKU(sku)
	var updated int
	err := s.mutate(ctx, "bom.cascade", func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockGraph(ctx); err != nil {
			return err
		}
		item, err := lookup(ctx, tx, sku)
		if err != nil {
			return err
		}
		updated, err = s.cascade(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.logger.Info("kit costs cascaded", slog.String("sku", sku), slog.Int("kits_recomputed", updated))
	}
	return updated, nil
}

// CascadeInTx implements catalog.CostCascade. It recomputes every kit that
// contains itemID inside the caller's unit of work, which must be able to
// read the recipe graph.
func (s *Service) CascadeInTx(ctx context.Context, tx catalog.TxRepository, itemID int64) (int, error) {
	graphTx, ok := tx.(TxRepository)
	if !ok {
		return 0, fmt.Errorf("bom: cascade needs a recipe transaction, got %T", tx)
	}
	if err := graphTx.LockGraph(ctx); err != nil {
		return 0, err
	}
	return s.cascade(ctx, graphTx, itemID)
}

func (s *Service) cascade(ctx context.Context, tx TxRepository, itemID int64) (int, error) {
	graph, err := loadGraph(ctx, tx)
	if err != nil {
		return 0, err
	}
	ancestors := graph.Ancestors(itemID)
	if len(ancestors) == 0 {
		return 0, nil
	}
	return recompute(ctx, tx, graph, ancestors)
}

// RecomputeAll recomputes every kit in topological order and returns how many costs changed.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	var updated int
	err := s.mutate(ctx, "bom.recompute_all", func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockGraph(ctx); err != nil {
			return err
		}
		graph, err := loadGraph(ctx, tx)
		if err != nil {
			return err
		}
		kits, err := tx.KitIDs(ctx)
		if err != nil {
			return err
		}
		updated, err = recompute(ctx, tx, graph, kits)
		return err
	})
	return updated, err
}

// CanAssemble reports how many kits current available stock supports.
func (s *Service) CanAssemble(ctx context.Context, kitSKU string, quantity int64) (Buildability, error) {
	if quantity <= 0 {
		return Buildability{}, shared.Invalid("quantity", "must be positive")
	}
	kitSKU = catalog.NormalizeSKU(kitSKU)
	var lines []Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		kit, err := lookup(ctx, tx, kitSKU)
		if err != nil {
			return err
		}
		if err := catalog.RequireKit(kit); err != nil {
			return err
		}
		lines, err = tx.LinesForKit(ctx, kit.ID)
		return err
	})
	if err != nil {
		return Buildability{}, err
	}
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ComponentTracked {
			ids = append(ids, l.ComponentID)
		}
	}
	available := map[int64]int64{}
	if len(ids) > 0 {
		if s.stock == nil {
			return Buildability{}, fmt.Errorf("bom: availability reader not configured")
		}
		if available, err = s.stock.Available(ctx, ids); err != nil {
			return Buildability{}, err
		}
	}
	return Evaluate(kitSKU, lines, available, quantity), nil
}

// recompute rolls costs up for targets in dependency order and returns how many changed.
func recompute(ctx context.Context, tx TxRepository, graph *Graph, targets []int64) (int, error) {
	order, err := graph.TopoOrder(dedupe(targets))
	if err != nil {
		return 0, err
	}
	ids := append([]int64(nil), order...)
	for _, id := range order {
		for _, e := range graph.Children(id) {
			ids = append(ids, e.ComponentID)
		}
	}
	items, err := tx.ItemsByID(ctx, dedupe(ids))
	if err != nil {
		return 0, err
	}
	costs := make(map[int64]decimal.Decimal, len(items))
	for id, item := range items {
		costs[id] = item.UnitCost()
	}
	updated := 0
	for _, id := range order {
		item, ok := items[id]
		if !ok || !item.IsKit() {
			continue
		}
		total := decimal.Zero
		for _, e := range graph.Children(id) {
			total = total.Add(costs[e.ComponentID].Mul(decimal.NewFromInt(e.Quantity)))
		}
		costs[id] = total
		if total.Equal(item.CalculatedCost) {
			continue
		}
		if err := tx.SetCalculatedCost(ctx, id, total); err != nil {
			return 0, err
		}
		updated++
	}
	return updated, nil
}

func (s *Service) cycleError(ctx context.Context, tx TxRepository, kitSKU string, path []int64) error {
	items, err := tx.ItemsByID(ctx, dedupe(path))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(path))
	for _, id := range path {
		names = append(names, items[id].SKU)
	}
	return &CyclicBOMError{KitSKU: kitSKU, Path: names}
}

func (s *Service) record(ctx context.Context, actor, action string, kit catalog.Item, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.ActorFromContext(ctx)
	}
	meta["calculated_cost"] = kit.CalculatedCost.String()
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "bom", EntityID: kit.SKU, Meta: meta}); err != nil {
		s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func lookup(ctx context.Context, tx TxRepository, sku string) (catalog.Item, error) {
	items, err := tx.ItemsBySKU(ctx, []string{sku})
	if err != nil {
		return catalog.Item{}, err
	}
	item, ok := items[sku]
	if !ok {
		return catalog.Item{}, shared.NotFound("item", sku)
	}
	return item, nil
}

func loadGraph(ctx context.Context, tx TxRepository) (*Graph, error) {
	edges, err := tx.Edges(ctx)
	if err != nil {
		return nil, err
	}
	return NewGraph(edges), nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
