package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no entity exists under the requested key.
	ErrNotFound = errors.New("registry: entity not found")

	// ErrConflict is returned when a write would violate a uniqueness
	// constraint. The concrete error is a *ConflictError naming the field.
	ErrConflict = errors.New("registry: unique constraint violated")

	// ErrUnsupported is returned by UpdatePassword for entity types without a
	// password field.
	ErrUnsupported = errors.New("registry: operation not supported for entity")
)

// ConflictError reports which uniqueness-constrained field collided.
// errors.Is(err, ErrConflict) matches it.
type ConflictError struct {
	Field string
	Value string
	// Cause is the underlying storage error, if any.
	Cause error
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s already exists", e.Field)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error        { return e.Cause }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// ConflictField returns the colliding field of a conflict error, or "" when
// err is not a conflict or the field is unknown.
func ConflictField(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return ""
}
