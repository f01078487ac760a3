// Package apperr holds the error taxonomy shared by the order, catalog and auth layers.
// Every error here is recovered at the request boundary and mapped to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jogardn/creperie/pkg/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("authentication required")
	ErrEmailTaken      = errors.New("email already registered")
	ErrInactive        = errors.New("account is inactive")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrAlreadyExists   = errors.New("already exists")
)

// ValidationError reports malformed input field by field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AuthorizationError means the actor is known but its role does not permit the action.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "not permitted: " + e.Reason
}

type InvalidTransitionError struct {
	From models.Status
	To   models.Status
	// Current is the order the change was attempted on, when known.
	Current *models.Order
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ConflictError is returned when another livreur claimed the order first, or the order
// moved on between read and write. Current holds the order as it is now.
type ConflictError struct {
	Current *models.Order
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return "order changed concurrently"
	}
	return fmt.Sprintf("order %s changed concurrently (now %s)", e.Current.ID, e.Current.Status)
}

// PersistenceError wraps a backing store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SubmissionError is a checkout that could not be stored. The submitter keeps its input.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return "order submission failed: " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Persistence wraps a store error once. Not-found and uniqueness sentinels pass through
// untouched so callers can still match them.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
