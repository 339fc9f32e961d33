package backup

import (
	"context"

	"tanglestore/internal/keyring"
)

// BundleVersion is the current outer envelope and manifest version.
const BundleVersion = 1

// StoreKind tags one backup payload with the kind of store it came from.
type StoreKind string

const (
	KindSql       StoreKind = "sql"
	KindKeystore  StoreKind = "keystore"
	KindDatastore StoreKind = "datastore"
)

// BackupStore is the export/import contract a store must expose to take
// part in a bundle. Payload data is an opaque base64 string owned by the
// store implementation.
type BackupStore interface {
	ExportBackup(ctx context.Context) (string, error)
	ImportBackup(ctx context.Context, data string) error
}

// Slot binds one store id to its BackupStore implementation.
type Slot struct {
	StoreID string
	Store   BackupStore
}

// Stores is the closed set of bundle participants: at most one store per
// kind, any slot may be nil.
type Stores struct {
	Sql       *Slot
	Keystore  *Slot
	Datastore *Slot
}

func (s Stores) slots() []struct {
	kind StoreKind
	slot *Slot
} {
	return []struct {
		kind StoreKind
		slot *Slot
	}{
		{KindSql, s.Sql},
		{KindKeystore, s.Keystore},
		{KindDatastore, s.Datastore},
	}
}

// ManifestStore references one store included in a bundle.
type ManifestStore struct {
	StoreID   string    `json:"store_id"`
	StoreType StoreKind `json:"store_type"`
}

// Manifest describes a bundle: what stores it carries and the full crypto
// registry snapshot that makes the payloads decryptable on a blank device.
type Manifest struct {
	Version    int             `json:"version"`
	CreatedAt  int64           `json:"created_at"` // unix milliseconds
	AppVersion string          `json:"app_version"`
	Stores     []ManifestStore `json:"stores"`
	Registry   *keyring.Export `json:"crypto_registry_export"`
}

// Payload is one store's exported data.
type Payload struct {
	StoreID string    `json:"store_id"`
	Kind    StoreKind `json:"kind"`
	Data    string    `json:"data"`
}

// Bundle is the plaintext form of a backup, built fresh on every export and
// never persisted itself - only its encrypted encoding is.
type Bundle struct {
	Manifest Manifest  `json:"manifest"`
	Payloads []Payload `json:"payloads"`
}

// outerEnvelope is the versioned passphrase-encrypted wrapper around an
// encoded bundle.
type outerEnvelope struct {
	Version       int    `json:"version"`
	CreatedAt     int64  `json:"created_at"`
	KDFSalt       []byte `json:"kdf_salt"`
	KDFIterations int    `json:"kdf_iterations"`
	IV            []byte `json:"iv"`
	Ciphertext    []byte `json:"ciphertext"`
}
