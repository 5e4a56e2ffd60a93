package store

import "fmt"

// NotFoundError indicates the resource was not found (or the caller does not
// own it — ownership mismatches are deliberately indistinguishable from
// missing rows).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness violation, e.g. a duplicate email.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
