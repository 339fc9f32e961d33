package store

import "errors"

var (
	// ErrNotFound reports that a key exists nowhere in the store.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable reports that the store capability itself is missing
	// or failing, as opposed to a key simply being absent. Callers use
	// the distinction to degrade to in-memory operation.
	ErrUnavailable = errors.New("store unavailable")
)
