package assembly

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// IdempotencyPort guards against replayed POSTs.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires HTTP endpoints for kit assembly.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyPort
}

// NewHandler constructs assembly handler. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

// MountRoutes registers assembly routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/assemblies", h.handleAssemble)
	r.Get("/assemblies/preview", h.handlePreview)
}

func (h *Handler) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "assembly"); err != nil {
			h.fail(w, err)
			return
		}
	}
	result, err := h.service.Assemble(r.Context(), in)
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(r.Context(), key); delErr != nil {
				h.logger.Error("idempotency rollback failed", slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty, err := strconv.ParseInt(q.Get("quantity"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Invalid("quantity", "must be an integer"))
		return
	}
	result, err := h.service.Preview(r.Context(), q.Get("kit_sku"), qty)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var short *InsufficientComponentsError
	switch {
	case errors.As(err, &short):
		h.logger.Warn("assembly rejected", slog.String("sku", short.KitSKU), slog.Int64("requested", short.Requested), slog.Int64("buildable", short.Buildable))
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrIdempotencyConflict):
		h.logger.Warn("assembly request rejected", slog.Any("error", err))
	default:
		h.logger.Error("assembly request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
