package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Domain errors match one of these through errors.Is so transport
// layers can map them without knowing every concrete type.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out of range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates the entity cannot accept the operation in its current state.
	ErrInvalidState = errors.New("invalid state")
)

// NotFoundError names the missing entity and its lookup key.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ProblemContext exposes structured detail for API responses.
func (e *NotFoundError) ProblemContext() map[string]any {
	return map[string]any{"entity": e.Entity, "key": e.Key}
}

// NotFound is shorthand for constructing a NotFoundError.
func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ProblemContext exposes structured detail for API responses.
func (e *ValidationError) ProblemContext() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConcurrentModificationError is returned once a write keeps losing to
// concurrent writers after the retry budget is spent.
type ConcurrentModificationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s: concurrent modification after %d attempts", e.Op, e.Attempts)
}

func (e *ConcurrentModificationError) Unwrap() error { return e.Err }

func (e *ConcurrentModificationError) Is(target error) bool { return target == ErrConflict }

// ProblemContext exposes structured detail for API responses.
func (e *ConcurrentModificationError) ProblemContext() map[string]any {
	return map[string]any{"operation": e.Op, "attempts": e.Attempts}
}
