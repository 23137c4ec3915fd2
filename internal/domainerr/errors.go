// Package domainerr holds the error taxonomy shared by the circulation services.
package domainerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a referenced instance, loan, reader, book or reservation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionViolation is returned when an entity is not in the state an operation requires.
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrAlreadyReturned is returned when a loan that is already closed is returned again.
	ErrAlreadyReturned = errors.New("loan already returned")
	// ErrConstraintViolation is returned for value-level invariant breaches rejected before any write.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrUnavailable is returned when transient contention outlasted the retry budget.
	ErrUnavailable = errors.New("temporarily unavailable")
	// ErrTransient marks store errors worth retrying: serialization failures, deadlocks, lock timeouts.
	ErrTransient = errors.New("transient store error")
)

// PreconditionError reports the state an entity was actually found in.
type PreconditionError struct {
	Entity string
	ID     string
	Status string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s %s has status %q", ErrPreconditionViolation, e.Entity, e.ID, e.Status)
}

// Is lets errors.Is(err, ErrPreconditionViolation) match.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionViolation
}

// Precondition builds a PreconditionError.
func Precondition(entity, id, status string) error {
	return &PreconditionError{Entity: entity, ID: id, Status: status}
}

// NotFound wraps ErrNotFound with the entity kind and identifier.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// Constraint wraps ErrConstraintViolation with a reason.
func Constraint(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code the desk API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPreconditionViolation), errors.Is(err, ErrAlreadyReturned):
		return http.StatusConflict
	case errors.Is(err, ErrConstraintViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP answers with the status HTTPStatus picks. Internal errors are not echoed to the client.
func WriteHTTP(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}
