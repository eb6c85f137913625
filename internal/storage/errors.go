package storage

import "errors"

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates an insert collided with an existing key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput indicates a nil or structurally invalid record.
	ErrInvalidInput = errors.New("invalid input")
)
