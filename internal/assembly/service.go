package assembly

import (
	"context"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Ledger posts entries inside a caller-owned unit of work.
type Ledger interface {
	PostInTx(ctx context.Context, tx inventory.TxRepository, entries []inventory.Entry) ([]inventory.Transaction, error)
	Notify(ctx context.Context, txs []inventory.Transaction)
}

// Previewer answers read-only buildability questions.
type Previewer interface {
	CanAssemble(ctx context.Context, kitSKU string, quantity int64) (bom.Buildability, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service assembles kits from their components.
type Service struct {
	repo    RepositoryPort
	ledger  Ledger
	preview Previewer
	audit   AuditPort
	logger  *slog.Logger
	retry   db.RetryPolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, preview Previewer, audit AuditPort, logger *slog.Logger, retry db.RetryPolicy) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, preview: preview, audit: audit, logger: logger, retry: retry}
}

// Assemble consumes components and produces kits in one unit of work. The
// availability check runs on the same locked balances the postings use.
func (s *Service) Assemble(ctx context.Context, in Input) (Result, error) {
	in.KitSKU = catalog.NormalizeSKU(in.KitSKU)
	if err := shared.Validate(in); err != nil {
		return Result{}, err
	}
	if in.Actor == "" {
		in.Actor = shared.ActorFromContext(ctx)
	}
	ref := uuid.New().String()
	var result Result
	err := shared.RunWithRetry(ctx, "assembly.assemble", s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			result, err = s.assemble(ctx, tx, in, ref)
			return err
		})
	})
	if err != nil {
		return Result{}, err
	}
	s.ledger.Notify(ctx, result.Transactions)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    in.Actor,
			Action:   "assembly.assemble",
			Entity:   "kit",
			EntityID: result.KitSKU,
			Meta:     map[string]any{"reference_id": ref, "quantity": in.Quantity, "postings": len(result.Transactions)},
		}); err != nil {
			s.logger.Error("audit record failed", slog.String("action", "assembly.assemble"), slog.Any("error", err))
		}
	}
	s.logger.Info("kit assembled",
		slog.String("sku", result.KitSKU),
		slog.Int64("quantity", in.Quantity),
		slog.String("reference_id", ref),
		slog.Int("postings", len(result.Transactions)))
	return result, nil
}

func (s *Service) assemble(ctx context.Context, tx TxRepository, in Input, ref string) (Result, error) {
	items, err := tx.ItemsBySKU(ctx, []string{in.KitSKU})
	if err != nil {
		return Result{}, err
	}
	kit, ok := items[in.KitSKU]
	if !ok {
		return Result{}, shared.NotFound("item", in.KitSKU)
	}
	if err := catalog.RequireKit(kit); err != nil {
		return Result{}, err
	}
	if !kit.Active {
		return Result{}, &catalog.InvalidStateError{SKU: kit.SKU, Reason: "inactive kits cannot be assembled"}
	}
	lines, err := tx.LinesForKit(ctx, kit.ID)
	if err != nil {
		return Result{}, err
	}
	if len(lines) == 0 {
		return Result{}, &catalog.InvalidStateError{SKU: kit.SKU, Reason: "kit has no bill of materials"}
	}

	ids := make([]int64, 0, len(lines)+1)
	for _, line := range lines {
		if !line.ComponentActive {
			return Result{}, &catalog.InvalidStateError{SKU: line.ComponentSKU, Reason: "inactive component"}
		}
		if in.Quantity > math.MaxInt64/line.Quantity {
			return Result{}, shared.Invalid("quantity", "too large")
		}
		if line.ComponentTracked {
			ids = append(ids, line.ComponentID)
		}
	}
	if kit.TrackInventory {
		ids = append(ids, kit.ID)
	}
	balances, err := tx.LockBalances(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	available := make(map[int64]int64, len(balances))
	for id, b := range balances {
		available[id] = b.Available()
	}
	check := bom.Evaluate(kit.SKU, lines, available, in.Quantity)
	if !check.CanBuild() {
		return Result{}, &InsufficientComponentsError{
			KitSKU:    kit.SKU,
			Requested: in.Quantity,
			Buildable: check.Buildable,
			Limiting:  check.Shortfalls(),
		}
	}

	entries := make([]inventory.Entry, 0, len(lines)+1)
	for _, line := range lines {
		if !line.ComponentTracked {
			continue
		}
		entries = append(entries, inventory.Entry{
			SKU:           line.ComponentSKU,
			Type:          inventory.TypeKitConsume,
			Delta:         -in.Quantity * line.Quantity,
			UnitCost:      line.ComponentCost,
			ReferenceType: ReferenceType,
			ReferenceID:   ref,
			Note:          in.Note,
			Actor:         in.Actor,
		})
	}
	if kit.TrackInventory {
		entries = append(entries, inventory.Entry{
			SKU:           kit.SKU,
			Type:          inventory.TypeKitProduce,
			Delta:         in.Quantity,
			UnitCost:      kit.CalculatedCost,
			ReferenceType: ReferenceType,
			ReferenceID:   ref,
			Note:          in.Note,
			Actor:         in.Actor,
		})
	}
	posted, err := s.ledger.PostInTx(ctx, tx, entries)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ReferenceID:  ref,
		KitSKU:       kit.SKU,
		Quantity:     in.Quantity,
		UnitCost:     kit.CalculatedCost,
		Transactions: posted,
	}, nil
}

// Preview reports buildability without posting anything.
func (s *Service) Preview(ctx context.Context, kitSKU string, quantity int64) (bom.Buildability, error) {
	return s.preview.CanAssemble(ctx, kitSKU, quantity)
}
