package testutil

import (
	"context"
	"fmt"
	"time"

	"tanglestore/internal/kv"
	"tanglestore/internal/store"
)

// NewTestKV creates a new in-memory host store for testing.
func NewTestKV() store.KVStore {
	return kv.NewMemoryStore("test-store")
}

// UnavailableKV is a KVStore whose every operation reports the capability
// as unavailable. Use to test degraded in-memory operation.
type UnavailableKV struct{}

var _ store.KVStore = (*UnavailableKV)(nil)

func (UnavailableKV) Get(context.Context, string) ([]byte, error) { return nil, store.ErrUnavailable }
func (UnavailableKV) Set(context.Context, string, []byte) error   { return store.ErrUnavailable }
func (UnavailableKV) Delete(context.Context, string) error        { return store.ErrUnavailable }
func (UnavailableKV) Clear(context.Context) error                 { return store.ErrUnavailable }
func (UnavailableKV) Keys(context.Context, string) ([]string, error) {
	return nil, store.ErrUnavailable
}

// StaticProvider is a key-material provider returning a fixed secret.
type StaticProvider struct {
	Material []byte
	ID       string
}

var _ store.KeyMaterialProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider with the given material.
func NewStaticProvider(material string) *StaticProvider {
	return &StaticProvider{Material: []byte(material), ID: "static-test"}
}

func (p *StaticProvider) KeyMaterial() ([]byte, error) {
	// Copy: the registry zeroes material after use.
	return append([]byte(nil), p.Material...), nil
}

func (p *StaticProvider) ProviderID() string { return p.ID }

// FixedClock always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

var _ store.Clock = (*FixedClock)(nil)

// NewFixedClock creates a clock pinned to a stable test instant.
func NewFixedClock() *FixedClock {
	return &FixedClock{Instant: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FixedClock) Now() time.Time { return c.Instant }

// SeqIDGenerator produces "id-1", "id-2", ... for deterministic tests.
type SeqIDGenerator struct {
	n int
}

var _ store.IDGenerator = (*SeqIDGenerator)(nil)

func NewSeqIDGenerator() *SeqIDGenerator { return &SeqIDGenerator{} }

func (g *SeqIDGenerator) New() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}
