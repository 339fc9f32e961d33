package sqlengine

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3" // SQLite driver, also used for raw image access

	"tanglestore/internal/cryptostore"
	"tanglestore/internal/store"
)

// Config identifies where an engine persists its encrypted database image.
type Config struct {
	// StoreKey is the host-store key holding the single encrypted blob.
	StoreKey string

	// StoreID is the logical store id used for encryption. Defaults to
	// StoreKey when empty.
	StoreID string
}

func (c Config) storeID() string {
	if c.StoreID != "" {
		return c.StoreID
	}
	return c.StoreKey
}

// Engine is an embedded relational engine whose entire database lives in
// memory and is persisted as one encrypted blob on Close. There is no
// per-statement crypto: load happens once at creation, save once at close.
//
// The underlying connection pool is pinned to a single connection (an
// in-memory SQLite database exists per connection) and every operation is
// serialized through a mutex.
type Engine struct {
	mu      sync.Mutex
	db      *sql.DB
	objects *cryptostore.Store
	cfg     Config
	logger  store.Logger
	closed  bool
}

// New opens a fresh in-memory database and restores the persisted image for
// cfg.StoreKey if one exists. A missing blob or an unavailable host store
// leaves the engine empty - not fatal at creation, the device keeps working
// purely in memory.
func New(ctx context.Context, objects *cryptostore.Store, cfg Config, logger store.Logger) (*Engine, error) {
	e, err := open(cfg, objects, logger)
	if err != nil {
		return nil, err
	}

	record, err := objects.Load(ctx, cfg.storeID(), cfg.StoreKey)
	switch {
	case err == nil:
		if err := e.deserialize(ctx, record.Plaintext); err != nil {
			e.db.Close()
			return nil, err
		}
		if record.NeedsReencrypt {
			// Migrated image is persisted on the next Close anyway; no
			// write-back needed here.
			logger.Debug("database image needs re-encryption", "store_key", cfg.StoreKey)
		}
	case errors.Is(err, store.ErrNotFound):
		logger.Debug("no persisted database image, starting empty", "store_key", cfg.StoreKey)
	case errors.Is(err, cryptostore.ErrStoreUnavailable):
		logger.Warn("host store unavailable, starting empty in-memory database", "store_key", cfg.StoreKey)
	default:
		e.db.Close()
		return nil, mapObjectErr("loading database image", err)
	}

	return e, nil
}

// NewFromImage opens an engine seeded from a raw serialized image instead of
// the persisted blob. This is the restore path for backup bundles.
func NewFromImage(ctx context.Context, objects *cryptostore.Store, cfg Config, image []byte, logger store.Logger) (*Engine, error) {
	e, err := open(cfg, objects, logger)
	if err != nil {
		return nil, err
	}
	if len(image) > 0 {
		if err := e.deserialize(ctx, image); err != nil {
			e.db.Close()
			return nil, err
		}
	}
	return e, nil
}

func open(cfg Config, objects *cryptostore.Store, logger store.Logger) (*Engine, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrEngineUnavailable, err)
	}

	// An in-memory database is visible only from the connection that
	// created it: pin the pool to exactly one connection and keep it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", ErrEngineUnavailable, err)
	}

	return &Engine{db: db, objects: objects, cfg: cfg, logger: logger}, nil
}

// DB exposes the underlying single-connection pool, for migration tooling.
func (e *Engine) DB() *sql.DB { return e.db }

// Closed reports whether the engine has been closed or discarded.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Exec runs a statement against the in-memory database.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine is closed", ErrEngineUnavailable)
	}
	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailure, err)
	}
	return result, nil
}

// Query runs a query against the in-memory database. The caller must close
// the returned rows before issuing further statements.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine is closed", ErrEngineUnavailable)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailure, err)
	}
	return rows, nil
}

// QueryRow runs a single-row query against the in-memory database.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.QueryRowContext(ctx, query, args...)
}

// Close serializes the database image, encrypts it, and saves it to the
// host store. An unavailable store is treated as success: persistence is
// best-effort and the application stays usable purely in-memory. The engine
// is unusable afterwards either way.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	defer e.db.Close()

	image, err := e.serialize(ctx)
	if err != nil {
		return err
	}

	if err := e.objects.Save(ctx, e.cfg.storeID(), e.cfg.StoreKey, image); err != nil {
		if errors.Is(err, cryptostore.ErrStoreUnavailable) {
			e.logger.Warn("host store unavailable, database image not persisted", "store_key", e.cfg.StoreKey)
			return nil
		}
		return mapObjectErr("saving database image", err)
	}

	e.logger.Info("database image persisted", "store_key", e.cfg.StoreKey, "bytes", len(image))
	return nil
}

// Discard closes the engine without persisting. Used when the caller is
// deliberately dropping the in-memory state.
func (e *Engine) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		e.db.Close()
	}
}

// PurgeStorage deletes the persisted blob only; the in-memory engine is
// untouched and keeps serving statements.
func (e *Engine) PurgeStorage(ctx context.Context) error {
	if err := e.objects.Remove(ctx, e.cfg.StoreKey); err != nil {
		return mapObjectErr("purging database image", err)
	}
	return nil
}

// ExportBackup returns the serialized database image, base64-encoded for
// inclusion in a backup bundle payload.
func (e *Engine) ExportBackup(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", fmt.Errorf("%w: engine is closed", ErrEngineUnavailable)
	}
	image, err := e.serialize(ctx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(image), nil
}

// ImportBackup always fails: restoring into a live engine is not supported.
// Decode the payload and construct a new engine with NewFromImage instead.
func (e *Engine) ImportBackup(context.Context, string) error {
	return ErrLiveImport
}

// DecodeImage decodes a backup payload produced by ExportBackup into the
// raw image NewFromImage accepts.
func DecodeImage(data string) ([]byte, error) {
	image, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", ErrBackupFailure, err)
	}
	return image, nil
}

// serialize snapshots the full database image via the raw SQLite connection.
func (e *Engine) serialize(ctx context.Context) ([]byte, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring connection: %v", ErrEngineUnavailable, err)
	}
	defer conn.Close()

	var image []byte
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		b, err := sc.Serialize("main")
		if err != nil {
			return err
		}
		// Serialize returns memory owned by SQLite; copy before the
		// connection goes back to the pool.
		image = append([]byte(nil), b...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: serializing image: %v", ErrBackupFailure, err)
	}
	return image, nil
}

// deserialize replaces the in-memory database with the given image.
func (e *Engine) deserialize(ctx context.Context, image []byte) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring connection: %v", ErrEngineUnavailable, err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		return sc.Deserialize(image, "main")
	})
	if err != nil {
		return fmt.Errorf("%w: restoring image: %v", ErrBackupFailure, err)
	}
	return nil
}
