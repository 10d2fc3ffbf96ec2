package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Handler wires HTTP endpoints for the item catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleList)
	r.Post("/items", h.handleRegister)
	r.Get("/items/{sku}", h.handleFind)
	r.Patch("/items/{sku}", h.handleUpdate)
	r.Post("/items/{sku}/deactivate", h.handleDeactivate)
	r.Post("/items/{sku}/activate", h.handleActivate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Category:   Category(q.Get("category")),
		ActiveOnly: q.Get("active") == "true",
		Search:     q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("limit", "must be an integer"))
			return
		}
		filter.Limit = shared.ClampLimit(limit, shared.DefaultPageLimit, shared.MaxPageLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httpx.RespondError(w, shared.Invalid("offset", "must be a non-negative integer"))
			return
		}
		filter.Offset = offset
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	input.Actor = shared.ActorFromContext(r.Context())
	item, err := h.service.Register(r.Context(), input)
	if err != nil && item.ID == 0 {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Find(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	item, err := h.service.Update(r.Context(), chi.URLParam(r, "sku"), patch, shared.ActorFromContext(r.Context()))
	if err != nil {
		if item.ID != 0 {
			// The update committed; only downstream propagation failed.
			h.logger.Warn("item updated with propagation failure", slog.String("sku", item.SKU), slog.Any("error", err))
			httpx.JSON(w, http.StatusOK, item)
			return
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Deactivate(r.Context(), chi.URLParam(r, "sku"), shared.ActorFromContext(r.Context()))
	if err != nil && item.ID == 0 {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Activate(r.Context(), chi.URLParam(r, "sku"), shared.ActorFromContext(r.Context()))
	if err != nil && item.ID == 0 {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var dup *DuplicateSKUError
	switch {
	case errors.As(err, &dup), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidState):
		h.logger.Warn("catalog request rejected", slog.Any("error", err))
	case !errors.Is(err, shared.ErrNotFound):
		h.logger.Error("catalog request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
