package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tanglestore/internal/store"
)

// FileSystemStore is a filesystem-based implementation of the KVStore
// interface. Each key becomes one file under the root directory; key names
// are base64url-encoded so arbitrary key strings stay path-safe.
type FileSystemStore struct {
	name string
	root string
}

var _ store.KVStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem store rooted at the given path.
func NewFileSystemStore(name, root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating store root: %v", store.ErrUnavailable, err)
	}
	return &FileSystemStore{name: name, root: root}, nil
}

func (f *FileSystemStore) path(key string) string {
	return filepath.Join(f.root, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (f *FileSystemStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading %q: %v", store.ErrUnavailable, key, err)
	}
	return data, nil
}

func (f *FileSystemStore) Set(_ context.Context, key string, value []byte) error {
	// Write-then-rename so a crash never leaves a half-written value.
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("%w: writing %q: %v", store.ErrUnavailable, key, err)
	}
	if err := os.Rename(tmp, f.path(key)); err != nil {
		return fmt.Errorf("%w: committing %q: %v", store.ErrUnavailable, key, err)
	}
	return nil
}

func (f *FileSystemStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: deleting %q: %v", store.ErrUnavailable, key, err)
	}
	return nil
}

func (f *FileSystemStore) Clear(ctx context.Context) error {
	keys, err := f.Keys(ctx, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSystemStore) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys: %v", store.ErrUnavailable, err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(entry.Name())
		if err != nil {
			// Foreign file in the store directory, not one of ours.
			continue
		}
		key := string(raw)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
