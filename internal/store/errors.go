package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("record already exists")
)
