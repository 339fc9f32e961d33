package cryptostore

import (
	"errors"
	"fmt"

	"tanglestore/internal/envelope"
	"tanglestore/internal/keyring"
)

var (
	// ErrStoreUnavailable reports that the host store capability is missing
	// or failing.
	ErrStoreUnavailable = errors.New("encrypted store unavailable")

	// ErrInvalidRecord reports a blob that claims to be an envelope but is
	// malformed, or a legacy blob too short to split into iv and ciphertext.
	ErrInvalidRecord = errors.New("invalid encrypted record")

	// ErrUnknownKey reports an envelope naming a key id the registry no
	// longer knows.
	ErrUnknownKey = errors.New("unknown key id")

	// ErrLegacyKeyMissing reports a legacy record in a store with no legacy
	// key configured.
	ErrLegacyKeyMissing = errors.New("legacy key missing")

	// ErrCryptoFailure reports an AEAD or key-resolution failure.
	ErrCryptoFailure = errors.New("crypto failure")
)

// mapRegistryErr flattens registry errors into the encrypted store's closed
// error kinds.
func mapRegistryErr(op string, err error) error {
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound):
		return fmt.Errorf("%w: %s: %v", ErrUnknownKey, op, err)
	case errors.Is(err, keyring.ErrStoreUnavailable):
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	default:
		return fmt.Errorf("%w: %s: %v", ErrCryptoFailure, op, err)
	}
}

// mapCodecErr flattens envelope codec errors.
func mapCodecErr(err error) error {
	if errors.Is(err, envelope.ErrInvalidKeyID) || errors.Is(err, envelope.ErrInvalidEnvelope) {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return fmt.Errorf("%w: %v", ErrCryptoFailure, err)
}
