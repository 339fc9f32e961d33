package app

import (
	"context"
	"errors"
	"testing"

	"tanglestore/internal/backup"
	"tanglestore/internal/config"
	"tanglestore/internal/tangle"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("device-test", t.TempDir())
	cfg.Store = config.KVConfig{Type: "memory", Name: "test"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, "Test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestApp_StatusOnBlankDevice(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, newTestConfig(t))

	status, err := a.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.DeviceID != "device-test" {
		t.Errorf("DeviceID = %q", status.DeviceID)
	}
	if status.Farms != 0 || status.Events != 0 {
		t.Errorf("status = %+v, want empty", status)
	}
	if !status.Migrated {
		t.Error("Migrated = false, want true after status brought the engine up")
	}
}

func TestApp_KeyLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, newTestConfig(t))

	// First write creates the store's key implicitly.
	if err := a.Keystore.Set(ctx, "nsec", []byte("secret")); err != nil {
		t.Fatalf("Keystore.Set() error = %v", err)
	}

	keys, err := a.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	found := false
	for _, info := range keys {
		if info.StoreID == KeystoreID {
			found = true
			if info.KeyCount != 1 {
				t.Errorf("KeyCount = %d, want 1", info.KeyCount)
			}
		}
	}
	if !found {
		t.Fatalf("ListKeys() = %+v, keystore missing", keys)
	}

	if _, err := a.RotateKey(ctx, KeystoreID); err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}

	// Data encrypted under the retired key stays readable.
	got, err := a.Keystore.Get(ctx, "nsec")
	if err != nil {
		t.Fatalf("Keystore.Get() after rotation error = %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("Keystore.Get() = %q, want secret", got)
	}
}

func TestApp_BundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	// Shared base dir: both app instances use the same device key material,
	// but each has its own in-memory host store.
	cfg := newTestConfig(t)

	source := newTestApp(t, cfg)
	if err := source.Keystore.Set(ctx, "nsec", []byte("secret")); err != nil {
		t.Fatalf("Keystore.Set() error = %v", err)
	}
	if err := source.Datastore.Set(ctx, "profile", []byte("walter")); err != nil {
		t.Fatalf("Datastore.Set() error = %v", err)
	}
	if _, err := source.Tangle.CreateFarm(ctx, &tangle.Farm{Name: "north"}); err != nil {
		t.Fatalf("CreateFarm() error = %v", err)
	}

	blob, err := source.ExportBundle(ctx, []byte("opensesame"))
	if err != nil {
		t.Fatalf("ExportBundle() error = %v", err)
	}

	target := newTestApp(t, cfg)
	if err := target.ImportBundle(ctx, blob, []byte("wrong")); !errors.Is(err, backup.ErrInvalidBundle) {
		t.Fatalf("ImportBundle() wrong passphrase error = %v, want ErrInvalidBundle", err)
	}
	if err := target.ImportBundle(ctx, blob, []byte("opensesame")); err != nil {
		t.Fatalf("ImportBundle() error = %v", err)
	}

	got, err := target.Keystore.Get(ctx, "nsec")
	if err != nil {
		t.Fatalf("Keystore.Get() error = %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("Keystore.Get() = %q, want secret", got)
	}

	farms, err := target.Tangle.ListFarms(ctx)
	if err != nil {
		t.Fatalf("ListFarms() error = %v", err)
	}
	if len(farms) != 1 || farms[0].Name != "north" {
		t.Errorf("ListFarms() = %+v, want the north farm", farms)
	}
}

func TestFarmDrafts_PendingDrafts(t *testing.T) {
	ctx := context.Background()
	drafts := NewFarmDrafts()

	// A farm without a pubkey has nothing publishable.
	pending, err := drafts.PendingDrafts(ctx, &tangle.Farm{ID: "f1", Name: "quiet"})
	if err != nil {
		t.Fatalf("PendingDrafts() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("PendingDrafts() = %+v, want none", pending)
	}

	pending, err = drafts.PendingDrafts(ctx, &tangle.Farm{ID: "f2", Name: "north", About: "apples", PubKey: "pub"})
	if err != nil {
		t.Fatalf("PendingDrafts() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("PendingDrafts() returned %d drafts, want 1", len(pending))
	}
	draft := pending[0]
	if draft.Kind != FarmListingKind || draft.Author != "pub" {
		t.Errorf("draft = %+v", draft)
	}
	if draft.DTag() != "f2" {
		t.Errorf("DTag() = %q, want f2", draft.DTag())
	}
}
