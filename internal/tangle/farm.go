package tangle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Farm is one domain aggregate: a named producer identity whose relational
// state the sync engine turns into signed events.
type Farm struct {
	ID        string
	Name      string
	About     string
	PubKey    string
	CreatedAt int64 // unix milliseconds
	UpdatedAt int64
}

// CreateFarm inserts a farm, generating an id when none is set.
func (s *Service) CreateFarm(ctx context.Context, farm *Farm) (*Farm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}

	if farm.ID == "" {
		farm.ID = s.ids.New()
	}
	now := s.clock.Now().UnixMilli()
	farm.CreatedAt = now
	farm.UpdatedAt = now

	_, err := s.engine.Exec(ctx,
		"INSERT INTO farms (id, name, about, pubkey, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		farm.ID, farm.Name, farm.About, farm.PubKey, farm.CreatedAt, farm.UpdatedAt)
	if err != nil {
		return nil, mapEngineErr("creating farm", err)
	}
	return farm, nil
}

// Farm loads one farm by id. Returns ErrNotFound if it does not exist.
func (s *Service) Farm(ctx context.Context, id string) (*Farm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}
	return s.farmLocked(ctx, id)
}

func (s *Service) farmLocked(ctx context.Context, id string) (*Farm, error) {
	var farm Farm
	err := s.engine.QueryRow(ctx,
		"SELECT id, name, about, pubkey, created_at, updated_at FROM farms WHERE id = ?", id).
		Scan(&farm.ID, &farm.Name, &farm.About, &farm.PubKey, &farm.CreatedAt, &farm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: farm %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, mapEngineErr("loading farm", err)
	}
	return &farm, nil
}

// ListFarms returns every farm, oldest first.
func (s *Service) ListFarms(ctx context.Context) ([]*Farm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}
	return s.listFarmsLocked(ctx)
}

func (s *Service) listFarmsLocked(ctx context.Context) ([]*Farm, error) {
	rows, err := s.engine.Query(ctx,
		"SELECT id, name, about, pubkey, created_at, updated_at FROM farms ORDER BY created_at, id")
	if err != nil {
		return nil, mapEngineErr("listing farms", err)
	}
	defer rows.Close()

	var farms []*Farm
	for rows.Next() {
		var farm Farm
		if err := rows.Scan(&farm.ID, &farm.Name, &farm.About, &farm.PubKey, &farm.CreatedAt, &farm.UpdatedAt); err != nil {
			return nil, mapEngineErr("scanning farm", err)
		}
		farms = append(farms, &farm)
	}
	if err := rows.Err(); err != nil {
		return nil, mapEngineErr("listing farms", err)
	}
	return farms, nil
}

// UpdateFarm updates a farm's mutable fields. Returns ErrNotFound if the
// farm does not exist.
func (s *Service) UpdateFarm(ctx context.Context, farm *Farm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return err
	}

	farm.UpdatedAt = s.clock.Now().UnixMilli()
	result, err := s.engine.Exec(ctx,
		"UPDATE farms SET name = ?, about = ?, pubkey = ?, updated_at = ? WHERE id = ?",
		farm.Name, farm.About, farm.PubKey, farm.UpdatedAt, farm.ID)
	if err != nil {
		return mapEngineErr("updating farm", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapEngineErr("updating farm", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: farm %q", ErrNotFound, farm.ID)
	}
	return nil
}

// DeleteFarm removes a farm. Deleting a missing farm is a no-op.
func (s *Service) DeleteFarm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return err
	}
	if _, err := s.engine.Exec(ctx, "DELETE FROM farms WHERE id = ?", id); err != nil {
		return mapEngineErr("deleting farm", err)
	}
	return nil
}
