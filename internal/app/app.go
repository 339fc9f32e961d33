package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"tanglestore/internal/backup"
	"tanglestore/internal/config"
	"tanglestore/internal/cryptostore"
	"tanglestore/internal/encryption"
	"tanglestore/internal/keyring"
	"tanglestore/internal/kv"
	"tanglestore/internal/sqlengine"
	"tanglestore/internal/store"
	"tanglestore/internal/tangle"
)

// Version is the application version embedded in backup bundle manifests.
const Version = "0.1.0"

// Store ids of the built-in encrypted stores.
const (
	KeystoreID  = "keystore"
	DatastoreID = "datastore"
	SqlStoreID  = "tangle-db"
)

// App is the application layer between the CLI and the persistence
// services. It constructs all dependencies from config and manages their
// lifecycle on Close.
type App struct {
	cfg      *config.Config
	kv       store.KVStore
	crypto   store.CryptoProvider
	registry *keyring.Registry
	objects  *cryptostore.Store

	Keystore  *cryptostore.Datastore
	Datastore *cryptostore.Datastore
	Tangle    *tangle.Service
	Backups   *backup.Service

	logger  store.Logger
	logFile *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Sync", "BackupExport").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, operation)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	kvs, err := kv.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating host store: %w", err)
	}

	crypto, err := encryption.NewProviderFromType(cfg.Crypto.Type)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating crypto provider: %w", err)
	}

	material, err := NewDeviceKeyProvider(cfg.BaseDir, crypto)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating device key provider: %w", err)
	}

	registry := keyring.NewRegistry(kvs, crypto, material, store.RealClock{}, store.UUIDGenerator{}, logger)
	objects := cryptostore.NewStore(registry, crypto, kvs, store.RealClock{}, logger)

	tangleSvc := tangle.NewService(
		objects,
		tangle.Config{Engine: sqlengine.Config{StoreKey: SqlStoreID}},
		NewFarmDrafts(),
		tangle.NewRelayPublisher(logger),
		store.RealClock{},
		store.UUIDGenerator{},
		logger,
	)

	return &App{
		cfg:       cfg,
		kv:        kvs,
		crypto:    crypto,
		registry:  registry,
		objects:   objects,
		Keystore:  cryptostore.NewDatastore(objects, kvs, KeystoreID),
		Datastore: cryptostore.NewDatastore(objects, kvs, DatastoreID),
		Tangle:    tangleSvc,
		Backups:   backup.NewService(registry, crypto, store.RealClock{}, logger, Version),
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// KeyInfo summarizes one logical store's key state for display.
type KeyInfo struct {
	StoreID     string
	ActiveKeyID string
	KeyCount    int
	CreatedAt   int64
}

// ListKeys reports every registered store and its key lineage.
func (a *App) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	indices, err := a.registry.ListIndices(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]KeyInfo, 0, len(indices))
	for _, idx := range indices {
		infos = append(infos, KeyInfo{
			StoreID:     idx.StoreID,
			ActiveKeyID: idx.ActiveKeyID,
			KeyCount:    len(idx.KeyIDs),
			CreatedAt:   idx.CreatedAt,
		})
	}
	return infos, nil
}

// RotateKey retires a store's active key and activates a fresh one. Data
// encrypted under retired keys stays readable and migrates on next access.
func (a *App) RotateKey(ctx context.Context, storeID string) (string, error) {
	return a.registry.RotateStoreKey(ctx, storeID)
}

// bundleStores enumerates the built-in stores for backup bundles.
func (a *App) bundleStores() backup.Stores {
	return backup.Stores{
		Sql:       &backup.Slot{StoreID: SqlStoreID, Store: a.Tangle},
		Keystore:  &backup.Slot{StoreID: KeystoreID, Store: a.Keystore},
		Datastore: &backup.Slot{StoreID: DatastoreID, Store: a.Datastore},
	}
}

// ExportBundle snapshots all stores into one passphrase-encrypted blob.
func (a *App) ExportBundle(ctx context.Context, passphrase []byte) ([]byte, error) {
	return a.Backups.Export(ctx, backup.ExportOptions{
		Stores:   a.bundleStores(),
		Provider: NewPassphraseProvider(passphrase),
	})
}

// ImportBundle restores a bundle, including its crypto registry snapshot.
func (a *App) ImportBundle(ctx context.Context, blob []byte, passphrase []byte) error {
	return a.Backups.Import(ctx, blob, backup.ImportOptions{
		Stores:         a.bundleStores(),
		Provider:       NewPassphraseProvider(passphrase),
		ImportRegistry: true,
	})
}

// Sync publishes every pending draft. Empty relays fall back to the
// configured defaults.
func (a *App) Sync(ctx context.Context, relays []string, signers []string) (*tangle.Summary, error) {
	if len(relays) == 0 {
		relays = a.cfg.Sync.Relays
	}
	timeout := time.Duration(a.cfg.Sync.PublishTimeout) * time.Second
	return a.Tangle.SyncAll(ctx, relays, signers, timeout)
}

// Status summarizes the device's persisted state.
type Status struct {
	DeviceID  string
	Stores    int
	Farms     int
	Events    int
	Migrated  bool
	SchemaVer uint
}

// GetStatus reports the device status for display.
func (a *App) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{DeviceID: a.cfg.DeviceID}

	indices, err := a.registry.ListIndices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	status.Stores = len(indices)

	farms, err := a.Tangle.ListFarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing farms: %w", err)
	}
	status.Farms = len(farms)

	count, err := a.Tangle.EventCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	status.Events = count

	migration, err := a.Tangle.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading migration status: %w", err)
	}
	status.Migrated = migration.Migrated
	status.SchemaVer = migration.Version

	return status, nil
}

// Close persists the relational state and releases all resources.
func (a *App) Close(ctx context.Context) error {
	var firstErr error

	if err := a.Tangle.Close(ctx); err != nil {
		firstErr = fmt.Errorf("closing sync engine: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
