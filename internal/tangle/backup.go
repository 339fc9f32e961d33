package tangle

import (
	"context"

	"tanglestore/internal/sqlengine"
	"tanglestore/internal/tangle/migrations"
)

// ExportBackup snapshots the relational state for a backup bundle payload.
func (s *Service) ExportBackup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return "", err
	}
	data, err := s.engine.ExportBackup(ctx)
	if err != nil {
		return "", mapEngineErr("exporting image", err)
	}
	return data, nil
}

// ImportBackup replaces the relational state with a bundle payload. The
// live engine (if any) is discarded, the restored image is migrated to the
// current schema and persisted, and the next operation reopens from it.
func (s *Service) ImportBackup(ctx context.Context, data string) error {
	image, err := sqlengine.DecodeImage(data)
	if err != nil {
		return mapEngineErr("decoding image", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil && !s.engine.Closed() {
		s.engine.Discard()
	}
	s.engine = nil

	restored, err := sqlengine.NewFromImage(ctx, s.objects, s.cfg.Engine, image, s.logger)
	if err != nil {
		return mapEngineErr("restoring image", err)
	}
	if err := migrations.MigrateUp(restored.DB()); err != nil {
		restored.Discard()
		return mapEngineErr("migrating restored image", err)
	}
	if err := restored.Close(ctx); err != nil {
		return mapEngineErr("persisting restored image", err)
	}

	s.logger.Info("relational state restored from backup", "store_key", s.cfg.Engine.StoreKey)
	return nil
}
