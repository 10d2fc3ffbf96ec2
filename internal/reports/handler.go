package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
)

// Handler serves report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/levels", h.handleLevels)
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.Levels(r.Context(), LevelFilter{
		Category:        catalog.Category(q.Get("category")),
		IncludeInactive: q.Get("include_inactive") == "true",
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	switch q.Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="inventory-levels.csv"`)
		err = WriteCSV(w, rows)
	case "xlsx":
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="inventory-levels.xlsx"`)
		err = WriteXLSX(w, rows)
	default:
		httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows, "totals": Sum(rows)})
		return
	}
	if err != nil {
		h.logger.Error("levels export failed", slog.Any("error", err))
	}
}
