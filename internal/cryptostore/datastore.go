package cryptostore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"tanglestore/internal/store"
)

// Datastore is a named encrypted key-value namespace on top of the object
// store: every value is sealed per-record under the namespace's store id.
// It implements the backup export/import contract, exporting the raw
// envelope bytes so a bundle (which carries the registry snapshot) can
// rebuild the namespace on a blank device.
type Datastore struct {
	objects *Store
	kv      store.KVStore
	storeID string
	prefix  string
}

// NewDatastore creates an encrypted namespace identified by storeID.
func NewDatastore(objects *Store, kv store.KVStore, storeID string) *Datastore {
	return &Datastore{
		objects: objects,
		kv:      kv,
		storeID: storeID,
		prefix:  "data:" + storeID + ":",
	}
}

// StoreID returns the namespace's logical store id.
func (d *Datastore) StoreID() string { return d.storeID }

// Set seals value and stores it under key.
func (d *Datastore) Set(ctx context.Context, key string, value []byte) error {
	return d.objects.Save(ctx, d.storeID, d.prefix+key, value)
}

// Get returns the decrypted value under key, migrating stale records in
// place. Returns store.ErrNotFound when the key does not exist.
func (d *Datastore) Get(ctx context.Context, key string) ([]byte, error) {
	return d.objects.LoadAndMigrate(ctx, d.storeID, d.prefix+key)
}

// Delete removes the value under key.
func (d *Datastore) Delete(ctx context.Context, key string) error {
	return d.objects.Remove(ctx, d.prefix+key)
}

// Keys lists the namespace's keys, without the internal prefix.
func (d *Datastore) Keys(ctx context.Context) ([]string, error) {
	raw, err := d.kv.Keys(ctx, d.prefix)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return nil, fmt.Errorf("%w: listing keys", ErrStoreUnavailable)
		}
		return nil, fmt.Errorf("%w: listing keys: %v", ErrStoreUnavailable, err)
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(d.prefix):])
	}
	return keys, nil
}

// Clear removes every record in the namespace.
func (d *Datastore) Clear(ctx context.Context) error {
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// ExportBackup snapshots the namespace as base64-encoded JSON of key to raw
// stored bytes. Values stay encrypted; the registry export travelling in the
// same bundle keeps them decryptable after restore.
func (d *Datastore) ExportBackup(ctx context.Context) (string, error) {
	keys, err := d.Keys(ctx)
	if err != nil {
		return "", err
	}

	records := make(map[string][]byte, len(keys))
	for _, key := range keys {
		blob, err := d.kv.Get(ctx, d.prefix+key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("%w: exporting %q: %v", ErrStoreUnavailable, key, err)
		}
		records[key] = blob
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("%w: encoding backup: %v", ErrCryptoFailure, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ImportBackup restores a namespace snapshot produced by ExportBackup,
// overwriting colliding keys.
func (d *Datastore) ImportBackup(ctx context.Context, data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("%w: decoding backup: %v", ErrInvalidRecord, err)
	}

	var records map[string][]byte
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("%w: decoding backup: %v", ErrInvalidRecord, err)
	}

	for key, blob := range records {
		if err := d.kv.Set(ctx, d.prefix+key, blob); err != nil {
			return fmt.Errorf("%w: importing %q", ErrStoreUnavailable, key)
		}
	}
	return nil
}
