package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions", h.handleHistory)
	r.Route("/inventory/{sku}", func(r chi.Router) {
		r.Get("/", h.handleBalance)
		r.Get("/history", h.handleHistory)
		r.Get("/verify", h.handleVerify)
		r.Post("/adjustments", h.handleAdjust)
		r.Put("/count", h.handleCount)
		r.Post("/reservations", h.handleReserve)
		r.Post("/reservations/release", h.handleRelease)
	})
}

type adjustRequest struct {
	Delta int64  `json:"delta" validate:"ne=0"`
	Note  string `json:"note" validate:"max=500"`
}

type countRequest struct {
	Count int64  `json:"count" validate:"gte=0"`
	Note  string `json:"note" validate:"max=500"`
}

type reserveRequest struct {
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal.View())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := HistoryFilter{
		SKU:         chi.URLParam(r, "sku"),
		Type:        TransactionType(q.Get("type")),
		ReferenceID: q.Get("reference_id"),
	}
	if filter.SKU == "" {
		filter.SKU = q.Get("sku")
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		httpx.RespondError(w, shared.Invalid("limit", "must be an integer"))
		return
	}
	before, err := intParam(q.Get("before"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("before", "must be an integer"))
		return
	}
	filter.Before = int64(before)
	page, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Verify(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reconciliation": rec, "balanced": rec.Balanced()})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.Adjust(r.Context(), chi.URLParam(r, "sku"), req.Delta, req.Note, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.SetOnHand(r.Context(), chi.URLParam(r, "sku"), req.Count, req.Note, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusCreated
	if t.ID == 0 {
		status = http.StatusOK
	}
	httpx.JSON(w, status, t)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	bal, err := h.service.Reserve(r.Context(), chi.URLParam(r, "sku"), req.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal.View())
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	bal, err := h.service.Release(r.Context(), chi.URLParam(r, "sku"), req.Quantity, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal.View())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return false
	}
	if err := shared.Validate(dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case IsInsufficientStock(err), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidState):
		h.logger.Warn("inventory request rejected", slog.Any("error", err))
	case errors.Is(err, shared.ErrNotFound):
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
