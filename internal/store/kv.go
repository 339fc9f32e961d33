package store

import "context"

// KVStore is the host key-value capability every component persists through.
// Implementations may be backed by memory, the local filesystem, or a remote
// object store; callers must treat every method as potentially blocking.
type KVStore interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value stored under key.
	// Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Clear removes every key in the store.
	Clear(ctx context.Context) error

	// Keys returns every key with the given prefix. An empty prefix
	// returns all keys. Order is unspecified.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
