package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/kitledger/internal/assembly"
	"github.com/odyssey-erp/kitledger/internal/audit"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/observability"
	"github.com/odyssey-erp/kitledger/internal/platform/cache"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/platform/objectstore"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/reorder"
	"github.com/odyssey-erp/kitledger/internal/reports"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Services is the assembled domain layer shared by the API server and the worker.
type Services struct {
	Catalog     *catalog.Service
	BOM         *bom.Service
	Ledger      *inventory.Service
	Assembly    *assembly.Service
	Procurement *procurement.Service
	Reorder     *reorder.Service
	Reports     *reports.Service
	Exporter    *reports.Exporter
	Audit       *audit.Service
	Idempotency *shared.IdempotencyStore
}

// ServiceDeps lists the infrastructure the domain layer is built on.
type ServiceDeps struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Store   *objectstore.Store
	Metrics *observability.Metrics
}

// NewServices wires repositories, services and their observers.
func NewServices(deps ServiceDeps) *Services {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{LedgerMaxRetries: 3, HistoryDefaultLimit: 50, HistoryMaxLimit: 500}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var ledgerMetrics *observability.LedgerMetrics
	if deps.Metrics != nil {
		ledgerMetrics = deps.Metrics.Ledger
	}
	retry := func(op string) db.RetryPolicy {
		policy := cfg.RetryPolicy()
		policy.OnRetry = ledgerMetrics.RetryHook(op)
		return policy
	}

	auditLogger := shared.NewAuditLogger(deps.Pool)

	catalogSvc := catalog.NewService(bom.NewCatalogRepository(deps.Pool), auditLogger, logger)
	ledger := inventory.NewService(inventory.NewRepository(deps.Pool), auditLogger, logger, inventory.ServiceConfig{
		Retry:               retry("inventory"),
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
	})
	bomSvc := bom.NewService(bom.NewRepository(deps.Pool), ledger, auditLogger, logger, retry("bom"))
	assemblySvc := assembly.NewService(assembly.NewRepository(deps.Pool), ledger, bomSvc, auditLogger, logger, retry("assembly"))
	procurementSvc := procurement.NewService(procurement.NewRepository(deps.Pool), ledger, auditLogger, logger, retry("procurement"))

	var reorderCache *cache.Versioned
	if deps.Redis != nil {
		reorderCache = cache.NewVersioned(deps.Redis, "reorder", cfg.ReorderCacheTTL)
	}
	reorderSvc := reorder.NewService(ledger, reorderCache, logger)
	reportsSvc := reports.NewService(ledger)

	var putter reports.ObjectPutter
	if deps.Store != nil {
		putter = deps.Store
	}

	catalogSvc.UseCascade(bomSvc, retry("catalog"))
	catalogSvc.Subscribe(reorderSvc)
	ledger.Subscribe(reorderSvc)
	if ledgerMetrics != nil {
		ledger.Subscribe(ledgerMetrics)
	}

	return &Services{
		Catalog:     catalogSvc,
		BOM:         bomSvc,
		Ledger:      ledger,
		Assembly:    assemblySvc,
		Procurement: procurementSvc,
		Reorder:     reorderSvc,
		Reports:     reportsSvc,
		Exporter:    reports.NewExporter(reportsSvc, putter, logger),
		Audit:       audit.NewService(audit.NewRepository(deps.Pool)),
		Idempotency: shared.NewIdempotencyStore(deps.Pool),
	}
}

// RouterParams builds the HTTP handler set over the services.
func (s *Services) RouterParams(cfg *Config, logger *slog.Logger, metrics *observability.Metrics) RouterParams {
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		CatalogHandler:     catalog.NewHandler(logger, s.Catalog),
		BOMHandler:         bom.NewHandler(logger, s.BOM),
		InventoryHandler:   inventory.NewHandler(logger, s.Ledger),
		AssemblyHandler:    assembly.NewHandler(logger, s.Assembly, s.Idempotency),
		ProcurementHandler: procurement.NewHandler(logger, s.Procurement, s.Idempotency),
		ReorderHandler:     reorder.NewHandler(logger, s.Reorder),
		ReportsHandler:     reports.NewHandler(logger, s.Reports),
		AuditHandler:       audit.NewHandler(logger, s.Audit),
		Metrics:            metrics,
	}
}
