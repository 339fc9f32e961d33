package tangle

import (
	"context"
	"sync"

	"tanglestore/internal/cryptostore"
	"tanglestore/internal/sqlengine"
	"tanglestore/internal/store"
	"tanglestore/internal/tangle/migrations"
)

// DedupePolicy decides which draft survives when two farms produce drafts
// with the same (kind, author, d-tag) identity.
type DedupePolicy string

const (
	// FirstWins keeps the first draft produced for an identity.
	FirstWins DedupePolicy = "first_wins"

	// LastWins keeps the last draft produced for an identity.
	LastWins DedupePolicy = "last_wins"
)

// Config configures a sync engine service.
type Config struct {
	// Engine identifies the encrypted blob the relational state persists to.
	Engine sqlengine.Config

	// Dedupe selects the draft collision policy. Defaults to FirstWins.
	Dedupe DedupePolicy
}

func (c Config) dedupe() DedupePolicy {
	if c.Dedupe == "" {
		return FirstWins
	}
	return c.Dedupe
}

// Service is the event-sourced sync engine: a migrated relational schema on
// top of the encrypted SQL engine, plus the signed publish/ingest protocol.
//
// The underlying engine is created lazily and rebuilt whenever it has been
// torn down; every operation goes through EnsureReady first.
type Service struct {
	mu        sync.Mutex
	engine    *sqlengine.Engine
	objects   *cryptostore.Store
	cfg       Config
	drafts    DraftSource
	publisher Publisher
	clock     store.Clock
	ids       store.IDGenerator
	logger    store.Logger
}

// NewService creates a sync engine service. The engine itself is not opened
// until EnsureReady.
func NewService(objects *cryptostore.Store, cfg Config, drafts DraftSource, publisher Publisher, clock store.Clock, ids store.IDGenerator, logger store.Logger) *Service {
	return &Service{
		objects:   objects,
		cfg:       cfg,
		drafts:    drafts,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// EnsureReady brings the relational engine up and runs pending migrations.
// Idempotent: an already-ready service is a no-op, and a torn-down engine
// (after Reinit or Close) is rebuilt from persisted storage.
func (s *Service) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureReadyLocked(ctx)
}

func (s *Service) ensureReadyLocked(ctx context.Context) error {
	if s.engine != nil && !s.engine.Closed() {
		return nil
	}

	engine, err := sqlengine.New(ctx, s.objects, s.cfg.Engine, s.logger)
	if err != nil {
		return mapEngineErr("opening engine", err)
	}
	if err := migrations.MigrateUp(engine.DB()); err != nil {
		engine.Discard()
		return mapEngineErr("running migrations", err)
	}

	s.engine = engine
	s.logger.Debug("sync engine ready", "store_key", s.cfg.Engine.StoreKey)
	return nil
}

// Status reports the migration ledger position. A service whose engine was
// torn down reports an unmigrated status without rebuilding it.
func (s *Service) Status(ctx context.Context) (*migrations.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil || s.engine.Closed() {
		return &migrations.Status{}, nil
	}
	status, err := migrations.Current(s.engine.DB())
	if err != nil {
		return nil, mapEngineErr("reading migration status", err)
	}
	return status, nil
}

// Reset rebuilds the schema against the same persisted storage: migrate
// down, then up. All rows are lost.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return err
	}
	if err := migrations.MigrateDown(s.engine.DB()); err != nil {
		return mapEngineErr("rolling back schema", err)
	}
	if err := migrations.MigrateUp(s.engine.DB()); err != nil {
		return mapEngineErr("rebuilding schema", err)
	}

	s.logger.Info("sync schema reset", "store_key", s.cfg.Engine.StoreKey)
	return nil
}

// Reinit purges the persisted blob and discards the in-memory engine -
// irrecoverable data loss. The reported status is that of the now-empty
// storage; the next EnsureReady starts from scratch.
func (s *Service) Reinit(ctx context.Context) (*migrations.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}
	if err := s.engine.PurgeStorage(ctx); err != nil {
		return nil, mapEngineErr("purging storage", err)
	}
	s.engine.Discard()
	s.engine = nil

	s.logger.Warn("sync storage reinitialized, all data discarded", "store_key", s.cfg.Engine.StoreKey)
	return &migrations.Status{}, nil
}

// Close persists the relational state and releases the engine. The service
// stays usable: the next EnsureReady reopens from the persisted image.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil || s.engine.Closed() {
		return nil
	}
	err := s.engine.Close(ctx)
	s.engine = nil
	if err != nil {
		return mapEngineErr("closing engine", err)
	}
	return nil
}
