package tangle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// StoredEvent is one accepted event row.
type StoredEvent struct {
	ID         string
	Kind       int
	PubKey     string
	CreatedAt  int64 // unix seconds, as carried by the event
	DTag       string
	Tags       [][]string
	Content    string
	Sig        string
	IngestedAt int64 // unix milliseconds
}

// Ingest is the single idempotent ingestion path, used for inbound events
// and for the service's own outbound events after publishing. The signature
// is verified, the event is upserted by id, and for replaceable kinds only
// the newest event per (kind, author, d-tag) is kept.
func (s *Service) Ingest(ctx context.Context, event *nostr.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return err
	}
	return s.ingestLocked(ctx, event)
}

func (s *Service) ingestLocked(ctx context.Context, event *nostr.Event) error {
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		return fmt.Errorf("%w: signature verification failed for %q", ErrInvalidEvent, event.ID)
	}

	// Upsert by id: an event already seen is a no-op.
	var existingID string
	err = s.engine.QueryRow(ctx, "SELECT id FROM events WHERE id = ?", event.ID).Scan(&existingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return mapEngineErr("checking event", err)
	}

	dTag := eventDTag(event)
	if isReplaceableKind(event.Kind) {
		var newestCreatedAt sql.NullInt64
		err := s.engine.QueryRow(ctx,
			"SELECT MAX(created_at) FROM events WHERE kind = ? AND pubkey = ? AND d_tag = ?",
			event.Kind, event.PubKey, dTag).Scan(&newestCreatedAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return mapEngineErr("checking replaceable event", err)
		}
		if newestCreatedAt.Valid && newestCreatedAt.Int64 >= int64(event.CreatedAt) {
			// A newer (or equal) version is already stored.
			return nil
		}
		if newestCreatedAt.Valid {
			if _, err := s.engine.Exec(ctx,
				"DELETE FROM events WHERE kind = ? AND pubkey = ? AND d_tag = ?",
				event.Kind, event.PubKey, dTag); err != nil {
				return mapEngineErr("replacing event", err)
			}
		}
	}

	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return fmt.Errorf("%w: encoding tags for %q: %v", ErrInvalidEvent, event.ID, err)
	}

	_, err = s.engine.Exec(ctx,
		"INSERT INTO events (id, kind, pubkey, created_at, d_tag, tags, content, sig, ingested_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		event.ID, event.Kind, event.PubKey, int64(event.CreatedAt), dTag, string(tags), event.Content, event.Sig,
		s.clock.Now().UnixMilli())
	if err != nil {
		return mapEngineErr("storing event", err)
	}
	return nil
}

// Events returns accepted events, newest first, up to limit (0 = all).
func (s *Service) Events(ctx context.Context, limit int) ([]*StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}

	query := "SELECT id, kind, pubkey, created_at, d_tag, tags, content, sig, ingested_at FROM events ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.engine.Query(ctx, query, args...)
	if err != nil {
		return nil, mapEngineErr("listing events", err)
	}
	defer rows.Close()

	var events []*StoredEvent
	for rows.Next() {
		var evt StoredEvent
		var tags string
		if err := rows.Scan(&evt.ID, &evt.Kind, &evt.PubKey, &evt.CreatedAt, &evt.DTag, &tags, &evt.Content, &evt.Sig, &evt.IngestedAt); err != nil {
			return nil, mapEngineErr("scanning event", err)
		}
		if err := json.Unmarshal([]byte(tags), &evt.Tags); err != nil {
			return nil, fmt.Errorf("%w: decoding tags for %q: %v", ErrStorageFailure, evt.ID, err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapEngineErr("listing events", err)
	}
	return events, nil
}

// EventCount returns the number of accepted events.
func (s *Service) EventCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.engine.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, mapEngineErr("counting events", err)
	}
	return count, nil
}

func eventDTag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return ""
}

// isReplaceableKind reports whether events of this kind are coalesced per
// (author, d-tag) instead of accumulating.
func isReplaceableKind(kind int) bool {
	switch {
	case kind == 0 || kind == 3:
		return true
	case kind >= 10000 && kind < 20000:
		return true
	case kind >= 30000 && kind < 40000:
		return true
	}
	return false
}
