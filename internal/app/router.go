package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/kitledger/internal/assembly"
	"github.com/odyssey-erp/kitledger/internal/audit"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/observability"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/reorder"
	"github.com/odyssey-erp/kitledger/internal/reports"
	"github.com/odyssey-erp/kitledger/jobs"
)

// APIPrefix is the mount point of the JSON API.
const APIPrefix = "/api/v1"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	CatalogHandler     *catalog.Handler
	BOMHandler         *bom.Handler
	InventoryHandler   *inventory.Handler
	AssemblyHandler    *assembly.Handler
	ProcurementHandler *procurement.Handler
	ReorderHandler     *reorder.Handler
	ReportsHandler     *reports.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with kitledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config != nil && !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route(APIPrefix, func(r chi.Router) {
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.BOMHandler != nil {
			params.BOMHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.AssemblyHandler != nil {
			params.AssemblyHandler.MountRoutes(r)
		}
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(r)
		}
		if params.ReorderHandler != nil {
			params.ReorderHandler.MountRoutes(r)
		}
		if params.ReportsHandler != nil {
			params.ReportsHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
