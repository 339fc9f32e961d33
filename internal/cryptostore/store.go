package cryptostore

import (
	"context"
	"errors"
	"fmt"

	"tanglestore/internal/envelope"
	"tanglestore/internal/keyring"
	"tanglestore/internal/store"
)

// Record is the result of decrypting one stored blob. When the record was
// encrypted under a stale or legacy key, Reencrypted holds envelope bytes
// re-sealed under the store's current active key; callers decide whether and
// when to persist them - the store never writes back on its own.
type Record struct {
	Plaintext      []byte
	NeedsReencrypt bool
	Reencrypted    []byte
}

// Store encrypts and decrypts caller-supplied bytes on top of the key
// registry and an arbitrary host key-value store.
type Store struct {
	registry *keyring.Registry
	crypto   store.CryptoProvider
	kv       store.KVStore
	clock    store.Clock
	logger   store.Logger
}

// NewStore creates an encrypted object store. kv is where the Save/Load
// convenience operations persist records.
func NewStore(registry *keyring.Registry, crypto store.CryptoProvider, kv store.KVStore, clock store.Clock, logger store.Logger) *Store {
	return &Store{
		registry: registry,
		crypto:   crypto,
		kv:       kv,
		clock:    clock,
		logger:   logger,
	}
}

// Registry exposes the underlying key registry (for backup exports).
func (s *Store) Registry() *keyring.Registry { return s.registry }

// Encrypt seals plaintext under the store's active key (creating one if the
// store is new) and returns the binary envelope.
func (s *Store) Encrypt(ctx context.Context, storeID string, plaintext []byte) ([]byte, error) {
	resolved, err := s.registry.ResolveActiveKey(ctx, storeID)
	if err != nil {
		return nil, mapRegistryErr("resolving active key", err)
	}
	defer store.Zero(resolved.Key)

	iv, err := s.crypto.RandomBytes(resolved.IVLength)
	if err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", ErrCryptoFailure, err)
	}

	ciphertext, err := s.crypto.Seal(resolved.Key, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: sealing record: %v", ErrCryptoFailure, err)
	}

	blob, err := envelope.Encode(envelope.Envelope{
		Version:    envelope.Version,
		KeyID:      resolved.KeyID,
		IV:         iv,
		CreatedAt:  uint64(s.clock.Now().UnixMilli()),
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, mapCodecErr(err)
	}
	return blob, nil
}

// DecryptRecord decrypts one stored blob, which may be an envelope, a legacy
// iv-prefixed blob from before the registry existed, or garbage.
//
// Envelope records are decrypted by the key id named inside the envelope -
// possibly an older, rotated key. That, not "current active", is the
// invariant keeping historical data readable across rotations. Records
// sealed under a stale or legacy key come back with NeedsReencrypt set and
// fresh envelope bytes under the active key.
func (s *Store) DecryptRecord(ctx context.Context, storeID string, blob []byte) (*Record, error) {
	env, err := envelope.Decode(blob)
	if err != nil {
		return nil, mapCodecErr(err)
	}
	if env == nil {
		return s.decryptLegacy(ctx, storeID, blob)
	}

	resolved, err := s.registry.ResolveKeyByID(ctx, storeID, env.KeyID)
	if err != nil {
		return nil, mapRegistryErr("resolving envelope key", err)
	}
	defer store.Zero(resolved.Key)

	plaintext, err := s.crypto.Open(resolved.Key, env.IV, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: opening record: %v", ErrCryptoFailure, err)
	}

	idx, err := s.registry.Index(ctx, storeID)
	if err != nil {
		return nil, mapRegistryErr("loading store index", err)
	}
	if idx.ActiveKeyID == env.KeyID {
		return &Record{Plaintext: plaintext}, nil
	}

	reencrypted, err := s.Encrypt(ctx, storeID, plaintext)
	if err != nil {
		return nil, err
	}
	return &Record{Plaintext: plaintext, NeedsReencrypt: true, Reencrypted: reencrypted}, nil
}

// decryptLegacy handles blobs that predate the envelope format: the
// configured iv length leading bytes, then ciphertext. Legacy records are
// always marked for re-encryption so each one is migrated exactly once it
// is next read.
func (s *Store) decryptLegacy(ctx context.Context, storeID string, blob []byte) (*Record, error) {
	cfg := s.registry.StoreConfigFor(storeID)
	if len(cfg.LegacyKey) == 0 {
		return nil, fmt.Errorf("%w: store %q has a legacy record", ErrLegacyKeyMissing, storeID)
	}
	if len(blob) <= cfg.IVLength {
		return nil, fmt.Errorf("%w: legacy blob shorter than iv", ErrInvalidRecord)
	}

	iv := blob[:cfg.IVLength]
	ciphertext := blob[cfg.IVLength:]

	plaintext, err := s.crypto.Open(cfg.LegacyKey, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: opening legacy record: %v", ErrCryptoFailure, err)
	}

	reencrypted, err := s.Encrypt(ctx, storeID, plaintext)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("legacy record migrated on read", "store_id", storeID)
	return &Record{Plaintext: plaintext, NeedsReencrypt: true, Reencrypted: reencrypted}, nil
}

// Decrypt is a convenience wrapper discarding the migration metadata.
func (s *Store) Decrypt(ctx context.Context, storeID string, blob []byte) ([]byte, error) {
	record, err := s.DecryptRecord(ctx, storeID, blob)
	if err != nil {
		return nil, err
	}
	return record.Plaintext, nil
}

// Save encrypts plaintext and persists it in the host store under key.
func (s *Store) Save(ctx context.Context, storeID, key string, plaintext []byte) error {
	blob, err := s.Encrypt(ctx, storeID, plaintext)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, blob); err != nil {
		return s.mapKVErr("saving record", err)
	}
	return nil
}

// Load reads and decrypts the record stored under key.
// Returns store.ErrNotFound untouched when no record exists.
func (s *Store) Load(ctx context.Context, storeID, key string) (*Record, error) {
	blob, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, s.mapKVErr("loading record", err)
	}
	return s.DecryptRecord(ctx, storeID, blob)
}

// LoadAndMigrate is Load plus the write-back the caller would otherwise do:
// when the record needed re-encryption, the migrated bytes are persisted
// best-effort before returning.
func (s *Store) LoadAndMigrate(ctx context.Context, storeID, key string) ([]byte, error) {
	record, err := s.Load(ctx, storeID, key)
	if err != nil {
		return nil, err
	}
	if record.NeedsReencrypt && record.Reencrypted != nil {
		if err := s.kv.Set(ctx, key, record.Reencrypted); err != nil {
			s.logger.Warn("persisting migrated record failed", "store_id", storeID, "key", key, "err", err)
		}
	}
	return record.Plaintext, nil
}

// Remove deletes the record stored under key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return s.mapKVErr("removing record", err)
	}
	return nil
}

func (s *Store) mapKVErr(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
