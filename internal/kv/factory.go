package kv

import (
	"context"
	"fmt"

	"tanglestore/internal/config"
	"tanglestore/internal/store"
)

// NewStoreFromConfig creates a KVStore implementation based on the store
// config type.
func NewStoreFromConfig(ctx context.Context, cfg config.KVConfig) (store.KVStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Name, cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
