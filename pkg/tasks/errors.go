package tasks

import (
	"errors"
	"fmt"

	"taskboard-sync-backend/pkg/balancer"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/models"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = database.ErrNotFound
	ErrDuplicateTitle  = errors.New("a task with this title already exists")
	ErrNoEligibleUsers = balancer.ErrNoEligibleUsers
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// ConflictError is the outcome of an edit made against a stale view of the
// task. Nothing was written except the conflict record; the caller should
// refetch and retry.
type ConflictError struct {
	ConflictID string
	Current    *models.Task
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return "edit conflict"
	}
	return fmt.Sprintf("edit conflict on task %s (version %d)", e.Current.ID, e.Current.Version)
}

// AsConflict unwraps a *ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
