package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindBySKU(ctx context.Context, sku string) (Item, error)
	List(ctx context.Context, filter ListFilter) ([]Item, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ChangeHandler reacts to committed item changes.
type ChangeHandler interface {
	ItemChanged(ctx context.Context, change Change) error
}

// CostCascade propagates a unit cost change inside the unit of work that
// made it. A cascade failure rolls the change back.
type CostCascade interface {
	CascadeInTx(ctx context.Context, tx TxRepository, itemID int64) (int, error)
}

// Service owns item definitions.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []ChangeHandler
	cascade  CostCascade
	retry    db.RetryPolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Subscribe registers a handler invoked after every committed change.
func (s *Service) Subscribe(h ChangeHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// UseCascade installs the cost cascade run by Update. retry bounds how often
// a conflicting update is replayed.
func (s *Service) UseCascade(c CostCascade, retry db.RetryPolicy) {
	s.mu.Lock()
	s.cascade, s.retry = c, retry
	s.mu.Unlock()
}

// Register creates a new item.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Item, error) {
	input.SKU = NormalizeSKU(input.SKU)
	if err := shared.Validate(input); err != nil {
		return Item{}, err
	}
	if !input.Category.Valid() {
		return Item{}, &InvalidCategoryError{SKU: input.SKU, Category: input.Category}
	}
	item := Item{
		SKU:             input.SKU,
		Title:           input.Title,
		Description:     input.Description,
		Category:        input.Category,
		BaseCost:        input.BaseCost,
		SellPrice:       input.SellPrice,
		SupplierName:    input.SupplierName,
		SupplierURL:     input.SupplierURL,
		WeightKg:        input.WeightKg,
		Dimensions:      input.Dimensions,
		StorageLocation: input.StorageLocation,
		ReorderPoint:    input.ReorderPoint,
		ReorderQuantity: input.ReorderQuantity,
		TrackInventory:  true,
		Active:          true,
	}
	if input.TrackInventory != nil {
		item.TrackInventory = *input.TrackInventory
	}
	if err := validateAmounts(item); err != nil {
		return Item{}, err
	}
	var saved Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ItemsBySKU(ctx, []string{item.SKU})
		if err != nil {
			return err
		}
		if _, ok := existing[item.SKU]; ok {
			return &DuplicateSKUError{SKU: item.SKU}
		}
		saved, err = tx.Insert(ctx, item)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, input.Actor, "catalog.register", saved, nil)
	s.logger.Info("item registered", slog.String("sku", saved.SKU), slog.String("category", string(saved.Category)))
	return saved, s.notify(ctx, Change{After: saved})
}

// Update applies a patch to an existing item.
func (s *Service) Update(ctx context.Context, sku string, patch Patch, actor string) (Item, error) {
	sku = NormalizeSKU(sku)
	if err := shared.Validate(patch); err != nil {
		return Item{}, err
	}
	s.mu.RLock()
	cascade, retry := s.cascade, s.retry
	s.mu.RUnlock()
	var (
		before   Item
		saved    Item
		cascaded int
	)
	err := shared.RunWithRetry(ctx, "catalog.update", retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, sku)
			if err != nil {
				return err
			}
			before = current
			next, err := applyPatch(current, patch)
			if err != nil {
				return err
			}
			if saved, err = tx.Update(ctx, next); err != nil {
				return err
			}
			cascaded = 0
			if cascade == nil || before.UnitCost().Equal(saved.UnitCost()) {
				return nil
			}
			cascaded, err = cascade.CascadeInTx(ctx, tx, saved.ID)
			return err
		})
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actor, "catalog.update", saved, map[string]any{"unit_cost_before": before.UnitCost().String(), "kits_recomputed": cascaded})
	s.logger.Info("item updated", slog.String("sku", saved.SKU), slog.Int("kits_recomputed", cascaded))
	return saved, s.notify(ctx, Change{Before: &before, After: saved})
}

// Deactivate hides the item from assembly and receiving. Repeated calls are no-ops.
func (s *Service) Deactivate(ctx context.Context, sku, actor string) (Item, error) {
	return s.setActive(ctx, sku, false, actor)
}

// Activate reverses Deactivate.
func (s *Service) Activate(ctx context.Context, sku, actor string) (Item, error) {
	return s.setActive(ctx, sku, true, actor)
}

func (s *Service) setActive(ctx context.Context, sku string, active bool, actor string) (Item, error) {
	sku = NormalizeSKU(sku)
	var (
		before  Item
		saved   Item
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, sku)
		if err != nil {
			return err
		}
		before, saved = current, current
		if current.Active == active {
			return nil
		}
		current.Active = active
		saved, err = tx.Update(ctx, current)
		changed = err == nil
		return err
	})
	if err != nil {
		return Item{}, err
	}
	if !changed {
		return saved, nil
	}
	action := "catalog.deactivate"
	if active {
		action = "catalog.activate"
	}
	s.record(ctx, actor, action, saved, nil)
	s.logger.Info("item activation changed", slog.String("sku", saved.SKU), slog.Bool("active", active))
	return saved, s.notify(ctx, Change{Before: &before, After: saved})
}

// Find returns one item by SKU.
func (s *Service) Find(ctx context.Context, sku string) (Item, error) {
	return s.repo.FindBySKU(ctx, NormalizeSKU(sku))
}

// List returns items matching filter ordered by SKU.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, &InvalidCategoryError{Category: filter.Category}
	}
	return s.repo.List(ctx, filter)
}

func applyPatch(item Item, patch Patch) (Item, error) {
	if patch.Category != nil && *patch.Category != item.Category {
		return Item{}, &InvalidStateError{SKU: item.SKU, Reason: "category cannot be changed"}
	}
	if patch.CalculatedCost != nil {
		if item.IsKit() {
			return Item{}, &InvalidStateError{SKU: item.SKU, Reason: "calculated cost of a kit is derived from its BOM"}
		}
		item.CalculatedCost = *patch.CalculatedCost
	}
	if patch.Title != nil {
		if *patch.Title == "" {
			return Item{}, shared.Invalid("title", "must not be empty")
		}
		item.Title = *patch.Title
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.BaseCost != nil {
		item.BaseCost = *patch.BaseCost
	}
	if patch.SellPrice != nil {
		item.SellPrice = *patch.SellPrice
	}
	if patch.SupplierName != nil {
		item.SupplierName = *patch.SupplierName
	}
	if patch.SupplierURL != nil {
		item.SupplierURL = *patch.SupplierURL
	}
	if patch.WeightKg != nil {
		item.WeightKg = *patch.WeightKg
	}
	if patch.Dimensions != nil {
		item.Dimensions = *patch.Dimensions
	}
	if patch.StorageLocation != nil {
		item.StorageLocation = *patch.StorageLocation
	}
	if patch.ReorderPoint != nil {
		item.ReorderPoint = *patch.ReorderPoint
	}
	if patch.ReorderQuantity != nil {
		item.ReorderQuantity = *patch.ReorderQuantity
	}
	if patch.TrackInventory != nil {
		item.TrackInventory = *patch.TrackInventory
	}
	if err := validateAmounts(item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func validateAmounts(item Item) error {
	switch {
	case item.BaseCost.IsNegative():
		return shared.Invalid("base_cost", "must not be negative")
	case item.CalculatedCost.IsNegative():
		return shared.Invalid("calculated_cost", "must not be negative")
	case item.SellPrice.IsNegative():
		return shared.Invalid("sell_price", "must not be negative")
	case item.WeightKg.IsNegative():
		return shared.Invalid("weight_kg", "must not be negative")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, change Change) error {
	s.mu.RLock()
	handlers := append([]ChangeHandler(nil), s.handlers...)
	s.mu.RUnlock()
	var errs []error
	for _, h := range handlers {
		if err := h.ItemChanged(ctx, change); err != nil {
			s.logger.Error("item change handler failed", slog.String("sku", change.After.SKU), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: propagate change for %s: %w", change.After.SKU, errors.Join(errs...))
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, item Item, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = shared.ActorFromContext(ctx)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["unit_cost"] = item.UnitCost().String()
	meta["active"] = item.Active
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "item", EntityID: item.SKU, Meta: meta}); err != nil {
		s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
