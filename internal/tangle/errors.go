package tangle

import (
	"errors"
	"fmt"

	"tanglestore/internal/sqlengine"
)

var (
	// ErrNotReady reports an operation before EnsureReady brought the
	// engine up, or after Reinit tore it down.
	ErrNotReady = errors.New("sync engine not ready")

	// ErrInvalidResponse reports malformed sync input: no usable relays or
	// no usable signers.
	ErrInvalidResponse = errors.New("invalid sync input")

	// ErrInvalidEvent reports an event whose signature does not verify.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrNotFound reports a missing domain row.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure reports a failed statement against the underlying
	// engine or its persisted storage.
	ErrStorageFailure = errors.New("sync storage failure")
)

// mapEngineErr flattens relational-engine errors into the sync engine's
// closed error kinds.
func mapEngineErr(op string, err error) error {
	if errors.Is(err, sqlengine.ErrEngineUnavailable) {
		return fmt.Errorf("%w: %s", ErrNotReady, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}

// SyncError aggregates a sync run that had failures or missing signers.
// The run's side effects (published and ingested events) are retained;
// callers inspect persisted state independently of this error.
type SyncError struct {
	Summary Summary
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync finished with failures: %d failed, %d skipped, %d missing signers",
		e.Summary.Failed, e.Summary.Skipped, len(e.Summary.MissingSigners))
}
