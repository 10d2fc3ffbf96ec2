package procurement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/kitledger/internal/platform/httpx"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

// IdempotencyPort guards against replayed receipts.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyPort
}

// NewHandler constructs procurement handler. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/pending", h.handlePending)
		r.Get("/by-number/{po}", h.handleByNumber)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Patch("/", h.handleUpdate)
			r.Put("/lines", h.handleReplaceLines)
			r.Post("/lines", h.handleAddLine)
			r.Delete("/lines/{lineID}", h.handleRemoveLine)
			r.Post("/status", h.handleStatus)
			r.Post("/receipts", h.handleReceive)
			r.Post("/receive-all", h.handleReceiveAll)
			r.Post("/cancel", h.handleCancel)
		})
	})
}

type statusRequest struct {
	Status Status `json:"status" validate:"required"`
}

type noteRequest struct {
	Note         string    `json:"note" validate:"max=500"`
	ReceivedDate time.Time `json:"received_date"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Supplier: q.Get("supplier")}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			filter.Statuses = append(filter.Statuses, Status(strings.TrimSpace(s)))
		}
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		httpx.RespondError(w, shared.Invalid("limit", "must be an integer"))
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		httpx.RespondError(w, shared.Invalid("offset", "must be an integer"))
		return
	}
	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.PendingOrders(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrderByPONumber(r.Context(), strings.ToUpper(chi.URLParam(r, "po")))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var in UpdateOrderInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	h.respond(w, http.StatusOK)(h.service.UpdateOrder(r.Context(), id, in))
}

func (h *Handler) handleReplaceLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var body struct {
		Lines []LineInput `json:"lines"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	h.respond(w, http.StatusOK)(h.service.ReplaceLines(r.Context(), id, body.Lines, shared.ActorFromContext(r.Context())))
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var in LineInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	h.respond(w, http.StatusCreated)(h.service.AddLine(r.Context(), id, in, shared.ActorFromContext(r.Context())))
}

func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Invalid("line_id", "must be an integer"))
		return
	}
	h.respond(w, http.StatusOK)(h.service.RemoveLine(r.Context(), id, lineID, shared.ActorFromContext(r.Context())))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, http.StatusOK)(h.service.UpdateStatus(r.Context(), id, req.Status, shared.ActorFromContext(r.Context())))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var in ReceiveInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	in.OrderID = id
	in.Actor = shared.ActorFromContext(r.Context())
	h.guarded(w, r, func() (Order, error) { return h.service.Receive(r.Context(), in) })
}

func (h *Handler) handleReceiveAll(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	h.guarded(w, r, func() (Order, error) {
		return h.service.ReceiveRemaining(r.Context(), id, req.ReceivedDate, req.Note, shared.ActorFromContext(r.Context()))
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, shared.Invalid("body", "%v", err))
		return
	}
	h.respond(w, http.StatusOK)(h.service.Cancel(r.Context(), id, req.Note, shared.ActorFromContext(r.Context())))
}

// guarded runs a receipt under the optional Idempotency-Key, releasing the
// key again when the receipt fails so the client can retry.
func (h *Handler) guarded(w http.ResponseWriter, r *http.Request, fn func() (Order, error)) {
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "procurement"); err != nil {
			h.fail(w, err)
			return
		}
	}
	order, err := fn()
	if err != nil && key != "" && h.idem != nil {
		if delErr := h.idem.Delete(r.Context(), key); delErr != nil {
			h.logger.Error("idempotency rollback failed", slog.Any("error", delErr))
		}
	}
	h.respond(w, http.StatusOK)(order, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int) func(Order, error) {
	return func(order Order, err error) {
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, status, order)
	}
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var over *OverReceiptError
	switch {
	case errors.As(err, &over):
		h.logger.Warn("receipt rejected", slog.String("po_number", over.PONumber), slog.String("sku", over.SKU),
			slog.Int64("attempted", over.Attempted), slog.Int64("remaining", over.Ordered-over.Received))
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrIdempotencyConflict):
		h.logger.Warn("procurement request rejected", slog.Any("error", err))
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
