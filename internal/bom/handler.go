package bom

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Handler wires HTTP endpoints for kit recipes.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs BOM handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers BOM routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/kits/{sku}/bom", h.handleLines)
	r.Put("/kits/{sku}/bom", h.handleSet)
	r.Post("/kits/{sku}/recompute", h.handleRecompute)
	r.Get("/kits/{sku}/buildable", h.handleBuildable)
}

type setRequest struct {
	Lines []LineInput `json:"lines"`
}

type lineView struct {
	ComponentSKU   string `json:"component_sku"`
	ComponentTitle string `json:"component_title"`
	Category       string `json:"category"`
	Quantity       int64  `json:"quantity"`
	UnitCost       string `json:"unit_cost"`
	ExtendedCost   string `json:"extended_cost"`
}

func (h *Handler) handleLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.Lines(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]lineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, lineView{
			ComponentSKU:   l.ComponentSKU,
			ComponentTitle: l.ComponentTitle,
			Category:       string(l.ComponentCategory),
			Quantity:       l.Quantity,
			UnitCost:       l.ComponentCost.String(),
			ExtendedCost:   l.ExtendedCost().String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": views})
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	kit, err := h.service.SetBOM(r.Context(), chi.URLParam(r, "sku"), req.Lines, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, kit)
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	kit, err := h.service.RecomputeCost(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, kit)
}

func (h *Handler) handleBuildable(w http.ResponseWriter, r *http.Request) {
	qty := int64(1)
	if v := r.URL.Query().Get("quantity"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("quantity", "must be an integer"))
			return
		}
		qty = parsed
	}
	result, err := h.service.CanAssemble(r.Context(), chi.URLParam(r, "sku"), qty)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var cyc *CyclicBOMError
	switch {
	case errors.As(err, &cyc), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrNotFound):
		h.logger.Warn("bom request rejected", slog.Any("error", err))
	default:
		h.logger.Error("bom request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
