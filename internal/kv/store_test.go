package kv_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"tanglestore/internal/kv"
	"tanglestore/internal/store"
)

// storeUnderTest exercises the KVStore contract against any implementation.
func storeUnderTest(t *testing.T, s store.KVStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("set then get round trips", func(t *testing.T) {
		if err := s.Set(ctx, "store:alpha", []byte("one")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		got, err := s.Get(ctx, "store:alpha")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "one" {
			t.Errorf("Get() = %q, want one", got)
		}
	})

	t.Run("set overwrites previous value", func(t *testing.T) {
		s.Set(ctx, "store:alpha", []byte("two"))

		got, err := s.Get(ctx, "store:alpha")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get() = %q, want two", got)
		}
	})

	t.Run("keys filters by prefix", func(t *testing.T) {
		s.Set(ctx, "key:a", []byte("1"))
		s.Set(ctx, "key:b", []byte("2"))

		keys, err := s.Keys(ctx, "key:")
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "key:a" || keys[1] != "key:b" {
			t.Errorf("Keys() = %v, want [key:a key:b]", keys)
		}
	})

	t.Run("delete removes key", func(t *testing.T) {
		if err := s.Delete(ctx, "key:a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "key:a"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
		}
		// Deleting again is a no-op.
		if err := s.Delete(ctx, "key:a"); err != nil {
			t.Fatalf("second Delete() error = %v", err)
		}
	})

	t.Run("clear removes everything", func(t *testing.T) {
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		keys, err := s.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("Keys() after Clear = %v, want empty", keys)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, kv.NewMemoryStore("test"))
}

func TestFileSystemStore(t *testing.T) {
	s, err := kv.NewFileSystemStore("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	storeUnderTest(t, s)
}

func TestFileSystemStore_PathHostileKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := kv.NewFileSystemStore("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	key := "store:../../etc/passwd"
	if err := s.Set(ctx, key, []byte("safe")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "safe" {
		t.Errorf("Get() = %q", got)
	}
}
