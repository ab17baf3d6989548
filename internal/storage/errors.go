package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a unique key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a unit of work lost a race with a
	// concurrent one (serialization failure, deadlock victim or a stale
	// optimistic version). The unit had no effect and may be retried.
	ErrConflict = errors.New("concurrent update conflict")
)
