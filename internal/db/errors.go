package db

import "errors"

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a request status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)
