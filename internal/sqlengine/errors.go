package sqlengine

import (
	"errors"
	"fmt"

	"tanglestore/internal/cryptostore"
)

var (
	// ErrEngineUnavailable reports an engine whose connection is closed or
	// unusable. Operations on a closed engine are programmer errors, not
	// recoverable conditions.
	ErrEngineUnavailable = errors.New("sql engine unavailable")

	// ErrQueryFailure reports a failed statement or query.
	ErrQueryFailure = errors.New("query failure")

	// ErrBackupFailure reports a failed image export or import.
	ErrBackupFailure = errors.New("backup failure")

	// ErrLiveImport reports an ImportBackup call on a running engine.
	// Restoring a backup requires constructing a new engine from the
	// decoded image.
	ErrLiveImport = errors.New("import into live engine not supported")

	// ErrStorageUnavailable reports that the persisted image cannot be
	// reached. Creation and close tolerate it; purge does not.
	ErrStorageUnavailable = errors.New("engine storage unavailable")
)

// mapObjectErr flattens encrypted-store errors into the engine's closed
// error kinds.
func mapObjectErr(op string, err error) error {
	if errors.Is(err, cryptostore.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrBackupFailure, op, err)
}
