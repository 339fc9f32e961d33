package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tanglestore/internal/encryption"
	"tanglestore/internal/store"
)

// DefaultIVLength is the IV size used for stores that never registered an
// explicit configuration.
const DefaultIVLength = 12

// StoreConfig is the in-memory, never-persisted per-store configuration.
// The first registration for a store id wins; later registrations for the
// same id are ignored so defaults cannot drift mid-session.
type StoreConfig struct {
	StoreID   string
	LegacyKey []byte // pre-registry key for records older than the envelope format
	IVLength  int
}

// Registry creates, wraps, rotates, and looks up per-store key material.
// It persists key entries and store indices as JSON records in a dedicated
// host store and never holds unwrapped keys beyond a single operation.
//
// Individual operations are race-tolerant but there are no multi-step
// transactions: two concurrent rotations on one store are last-write-wins
// on the index.
type Registry struct {
	kv       store.KVStore
	crypto   store.CryptoProvider
	material store.KeyMaterialProvider
	clock    store.Clock
	ids      store.IDGenerator
	logger   store.Logger

	mu      sync.Mutex
	configs map[string]StoreConfig
}

// NewRegistry creates a Registry persisting into kv, deriving KEKs from the
// given key-material provider.
func NewRegistry(kv store.KVStore, crypto store.CryptoProvider, material store.KeyMaterialProvider, clock store.Clock, ids store.IDGenerator, logger store.Logger) *Registry {
	return &Registry{
		kv:       kv,
		crypto:   crypto,
		material: material,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		configs:  make(map[string]StoreConfig),
	}
}

// RegisterStore records per-store configuration. First registration wins:
// if the store id is already registered the call is a no-op and the existing
// config is returned.
func (r *Registry) RegisterStore(cfg StoreConfig) StoreConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.configs[cfg.StoreID]; ok {
		return existing
	}
	if cfg.IVLength <= 0 {
		cfg.IVLength = DefaultIVLength
	}
	r.configs[cfg.StoreID] = cfg
	return cfg
}

// StoreConfigFor returns the configuration for a store id, lazily creating
// a default one if the store was never registered.
func (r *Registry) StoreConfigFor(storeID string) StoreConfig {
	return r.RegisterStore(StoreConfig{StoreID: storeID, IVLength: DefaultIVLength})
}

// Index loads the StoreIndex for a store id.
// Returns store.ErrNotFound if none exists.
func (r *Registry) Index(ctx context.Context, storeID string) (*StoreIndex, error) {
	data, err := r.kv.Get(ctx, storeKeyPrefix+storeID)
	if err != nil {
		return nil, mapStoreErr("loading store index", err)
	}

	var idx StoreIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: decoding store index %q: %v", ErrRegistryFailure, storeID, err)
	}
	return &idx, nil
}

// SetIndex persists a StoreIndex.
func (r *Registry) SetIndex(ctx context.Context, idx *StoreIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("%w: encoding store index %q: %v", ErrRegistryFailure, idx.StoreID, err)
	}
	if err := r.kv.Set(ctx, storeKeyPrefix+idx.StoreID, data); err != nil {
		return mapStoreErr("saving store index", err)
	}
	return nil
}

// Entry loads the KeyEntry for a key id.
// Returns store.ErrNotFound if none exists.
func (r *Registry) Entry(ctx context.Context, keyID string) (*KeyEntry, error) {
	data, err := r.kv.Get(ctx, keyEntryPrefix+keyID)
	if err != nil {
		return nil, mapStoreErr("loading key entry", err)
	}

	var entry KeyEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: decoding key entry %q: %v", ErrRegistryFailure, keyID, err)
	}
	return &entry, nil
}

// SetEntry persists a KeyEntry.
func (r *Registry) SetEntry(ctx context.Context, entry *KeyEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding key entry %q: %v", ErrRegistryFailure, entry.KeyID, err)
	}
	if err := r.kv.Set(ctx, keyEntryPrefix+entry.KeyID, data); err != nil {
		return mapStoreErr("saving key entry", err)
	}
	return nil
}

// ListIndices returns every persisted StoreIndex.
func (r *Registry) ListIndices(ctx context.Context) ([]StoreIndex, error) {
	keys, err := r.kv.Keys(ctx, storeKeyPrefix)
	if err != nil {
		return nil, mapStoreErr("listing store indices", err)
	}

	indices := make([]StoreIndex, 0, len(keys))
	for _, key := range keys {
		idx, err := r.Index(ctx, key[len(storeKeyPrefix):])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // deleted between list and load
			}
			return nil, err
		}
		indices = append(indices, *idx)
	}
	return indices, nil
}

// ListEntries returns every persisted KeyEntry.
func (r *Registry) ListEntries(ctx context.Context) ([]KeyEntry, error) {
	keys, err := r.kv.Keys(ctx, keyEntryPrefix)
	if err != nil {
		return nil, mapStoreErr("listing key entries", err)
	}

	entries := make([]KeyEntry, 0, len(keys))
	for _, key := range keys {
		entry, err := r.Entry(ctx, key[len(keyEntryPrefix):])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// CreateStoreKey derives a fresh KEK from provider material, generates a new
// data key, wraps it, and persists the entry plus a new or updated index
// whose active key is the new entry.
func (r *Registry) CreateStoreKey(ctx context.Context, storeID string) (*ResolvedKey, error) {
	idx, err := r.Index(ctx, storeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return r.createKey(ctx, storeID, idx)
}

// createKey is the single key-creation path shared by CreateStoreKey,
// ResolveActiveKey (self-heal) and RotateStoreKey. idx may be nil when the
// store has no index yet.
func (r *Registry) createKey(ctx context.Context, storeID string, idx *StoreIndex) (*ResolvedKey, error) {
	cfg := r.StoreConfigFor(storeID)
	now := r.clock.Now().UnixMilli()

	salt, err := r.crypto.RandomBytes(encryption.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating salt: %v", ErrRegistryFailure, err)
	}

	material, err := r.material.KeyMaterial()
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining key material: %v", ErrRegistryFailure, err)
	}
	kek, err := r.crypto.DeriveKey(material, salt, encryption.DefaultIterations)
	store.Zero(material)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving kek: %v", ErrRegistryFailure, err)
	}

	dataKey, err := r.crypto.GenerateKey()
	if err != nil {
		store.Zero(kek)
		return nil, fmt.Errorf("%w: generating data key: %v", ErrRegistryFailure, err)
	}

	wrapIV, err := r.crypto.RandomBytes(cfg.IVLength)
	if err != nil {
		store.Zero(kek)
		return nil, fmt.Errorf("%w: generating wrap iv: %v", ErrRegistryFailure, err)
	}

	wrapped, err := r.crypto.Seal(kek, wrapIV, dataKey)
	store.Zero(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapping data key: %v", ErrRegistryFailure, err)
	}

	entry := &KeyEntry{
		KeyID:         r.ids.New(),
		StoreID:       storeID,
		CreatedAt:     now,
		Status:        KeyStatusActive,
		WrappedKey:    wrapped,
		WrapIV:        wrapIV,
		KDFSalt:       salt,
		KDFIterations: encryption.DefaultIterations,
		IVLength:      cfg.IVLength,
		Algorithm:     encryption.Algorithm,
		ProviderID:    r.material.ProviderID(),
	}
	if err := r.SetEntry(ctx, entry); err != nil {
		return nil, err
	}

	if idx == nil {
		idx = &StoreIndex{StoreID: storeID, CreatedAt: now}
	}
	idx.ActiveKeyID = entry.KeyID
	idx.KeyIDs = appendUnique(idx.KeyIDs, entry.KeyID)
	if err := r.SetIndex(ctx, idx); err != nil {
		return nil, err
	}

	r.logger.Info("store key created", "store_id", storeID, "key_id", entry.KeyID)
	return &ResolvedKey{KeyID: entry.KeyID, Key: dataKey, IVLength: cfg.IVLength}, nil
}

// ResolveActiveKey returns the unwrapped active key for a store, creating a
// fresh one if the store has no index or the active entry is gone
// (self-healing).
func (r *Registry) ResolveActiveKey(ctx context.Context, storeID string) (*ResolvedKey, error) {
	idx, err := r.Index(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.CreateStoreKey(ctx, storeID)
		}
		return nil, err
	}

	entry, err := r.Entry(ctx, idx.ActiveKeyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("active key entry missing, creating replacement", "store_id", storeID, "key_id", idx.ActiveKeyID)
			return r.createKey(ctx, storeID, idx)
		}
		return nil, err
	}

	return r.unwrap(entry)
}

// ResolveKeyByID unwraps the specific key named by a historical envelope.
// Fails with ErrKeyNotFound if the entry is gone. If the store has no index
// (index lost, key entries survived), an index pointing at this key is
// synthesized so the store becomes operational again.
func (r *Registry) ResolveKeyByID(ctx context.Context, storeID, keyID string) (*ResolvedKey, error) {
	entry, err := r.Entry(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
		}
		return nil, err
	}

	if _, err := r.Index(ctx, storeID); errors.Is(err, store.ErrNotFound) {
		idx := &StoreIndex{
			StoreID:     storeID,
			ActiveKeyID: keyID,
			KeyIDs:      []string{keyID},
			CreatedAt:   r.clock.Now().UnixMilli(),
		}
		if err := r.SetIndex(ctx, idx); err != nil {
			return nil, err
		}
		r.logger.Warn("store index rebuilt from surviving key entry", "store_id", storeID, "key_id", keyID)
	} else if err != nil {
		return nil, err
	}

	return r.unwrap(entry)
}

// RotateStoreKey retires the current active key (retained, status rotated)
// and activates a freshly created one. With no existing index it behaves
// like CreateStoreKey. The index keeps its original created_at.
func (r *Registry) RotateStoreKey(ctx context.Context, storeID string) (string, error) {
	idx, err := r.Index(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			resolved, err := r.CreateStoreKey(ctx, storeID)
			if err != nil {
				return "", err
			}
			store.Zero(resolved.Key)
			return resolved.KeyID, nil
		}
		return "", err
	}

	current, err := r.Entry(ctx, idx.ActiveKeyID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if current != nil {
		current.Status = KeyStatusRotated
		if err := r.SetEntry(ctx, current); err != nil {
			return "", err
		}
	}

	resolved, err := r.createKey(ctx, storeID, idx)
	if err != nil {
		return "", err
	}
	store.Zero(resolved.Key)

	r.logger.Info("store key rotated", "store_id", storeID, "key_id", resolved.KeyID)
	return resolved.KeyID, nil
}

// unwrap re-derives the KEK from current provider material and unwraps the
// entry's data key. KEK and raw material are discarded after use.
func (r *Registry) unwrap(entry *KeyEntry) (*ResolvedKey, error) {
	material, err := r.material.KeyMaterial()
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining key material: %v", ErrRegistryFailure, err)
	}
	kek, err := r.crypto.DeriveKey(material, entry.KDFSalt, entry.KDFIterations)
	store.Zero(material)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving kek: %v", ErrRegistryFailure, err)
	}

	key, err := r.crypto.Open(kek, entry.WrapIV, entry.WrappedKey)
	store.Zero(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrapping key %q: %v", ErrRegistryFailure, entry.KeyID, err)
	}

	ivLength := entry.IVLength
	if ivLength <= 0 {
		ivLength = DefaultIVLength
	}
	return &ResolvedKey{KeyID: entry.KeyID, Key: key, IVLength: ivLength}, nil
}

// ExportAll snapshots every store index and key entry.
func (r *Registry) ExportAll(ctx context.Context) (*Export, error) {
	indices, err := r.ListIndices(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := r.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{Indices: indices, Entries: entries}, nil
}

// ImportAll restores a registry snapshot, overwriting colliding records.
func (r *Registry) ImportAll(ctx context.Context, snapshot *Export) error {
	for i := range snapshot.Entries {
		if err := r.SetEntry(ctx, &snapshot.Entries[i]); err != nil {
			return err
		}
	}
	for i := range snapshot.Indices {
		if err := r.SetIndex(ctx, &snapshot.Indices[i]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveStore deletes the index and every key entry of one logical store.
// This is the only path that deletes key entries; rotation never does.
func (r *Registry) RemoveStore(ctx context.Context, storeID string) error {
	idx, err := r.Index(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	for _, keyID := range idx.KeyIDs {
		if err := r.kv.Delete(ctx, keyEntryPrefix+keyID); err != nil {
			return mapStoreErr("deleting key entry", err)
		}
	}
	if err := r.kv.Delete(ctx, storeKeyPrefix+storeID); err != nil {
		return mapStoreErr("deleting store index", err)
	}

	r.logger.Info("store removed from registry", "store_id", storeID, "keys_deleted", len(idx.KeyIDs))
	return nil
}
