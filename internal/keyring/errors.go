package keyring

import (
	"errors"
	"fmt"

	"tanglestore/internal/store"
)

var (
	// ErrStoreUnavailable reports that the registry's host store capability
	// is missing or failing. Non-fatal to the caller's process, only to the
	// requested operation.
	ErrStoreUnavailable = errors.New("registry store unavailable")

	// ErrRegistryFailure reports a serialization or decoding problem in a
	// persisted registry record.
	ErrRegistryFailure = errors.New("registry failure")

	// ErrKeyNotFound reports that no key entry exists for a requested id.
	ErrKeyNotFound = errors.New("key not found")
)

// mapStoreErr flattens host-store errors into the registry's closed error
// kinds. ErrNotFound passes through untouched so callers can branch on it.
func mapStoreErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrRegistryFailure, op, err)
}
