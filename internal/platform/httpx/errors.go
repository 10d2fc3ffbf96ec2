// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/kitledger/internal/shared"
)

// contextual is implemented by domain errors that carry structured detail.
type contextual interface {
	ProblemContext() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var ctxErr contextual
	var extra map[string]any
	if errors.As(err, &ctxErr) {
		extra = ctxErr.ProblemContext()
	}
	var concurrent *shared.ConcurrentModificationError
	switch {
	case errors.As(err, &concurrent):
		w.Header().Set("Retry-After", "1")
		ProblemWithContext(w, http.StatusConflict, "Concurrent Modification", err.Error(), extra)
	case errors.Is(err, shared.ErrNotFound):
		ProblemWithContext(w, http.StatusNotFound, "Not Found", err.Error(), extra)
	case errors.Is(err, shared.ErrValidation):
		ProblemWithContext(w, http.StatusBadRequest, "Validation Failed", err.Error(), extra)
	case errors.Is(err, shared.ErrConflict):
		ProblemWithContext(w, http.StatusConflict, "Conflict", err.Error(), extra)
	case errors.Is(err, shared.ErrInvalidState):
		ProblemWithContext(w, http.StatusUnprocessableEntity, "Invalid State", err.Error(), extra)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		ProblemWithContext(w, http.StatusConflict, "Duplicate Request", err.Error(), nil)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
