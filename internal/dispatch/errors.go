package dispatch

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable means the donor registry or notification store could
// not be reached. The request was not dispatched; the caller decides whether
// to retry the whole submission.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ValidationError rejects a request before any lookup or write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
