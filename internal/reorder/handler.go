package reorder

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
)

// Handler serves the reorder report.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reorder handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reorder routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reorder", h.handleBelow)
}

func (h *Handler) handleBelow(w http.ResponseWriter, r *http.Request) {
	load := h.service.BelowReorderPoint
	if r.URL.Query().Get("fresh") == "1" {
		load = h.service.Compute
	}
	out, err := load(r.Context())
	if err != nil {
		h.logger.Error("reorder report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, Report{Suggestions: out, Count: len(out)})
}
