package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tanglestore/internal/encryption"
	"tanglestore/internal/keyring"
	"tanglestore/internal/store"
)

var (
	// ErrProviderMissing reports an export or import attempted without a
	// key-material provider.
	ErrProviderMissing = errors.New("key material provider missing")

	// ErrInvalidBundle reports a blob that cannot be parsed or decrypted as
	// a bundle - including decryption with the wrong material.
	ErrInvalidBundle = errors.New("invalid backup bundle")

	// ErrExportFailure reports a store that failed to export its payload.
	ErrExportFailure = errors.New("backup export failure")

	// ErrImportFailure reports a store that failed to import its payload.
	ErrImportFailure = errors.New("backup import failure")
)

// Service snapshots any combination of configured stores plus the full key
// registry into one passphrase-protected artifact, and restores such
// artifacts. The provider handed to Export/Import is deliberately distinct
// from the per-store device material: bundles move between devices.
type Service struct {
	registry   *keyring.Registry
	crypto     store.CryptoProvider
	clock      store.Clock
	logger     store.Logger
	appVersion string
}

// NewService creates a backup bundle service.
func NewService(registry *keyring.Registry, crypto store.CryptoProvider, clock store.Clock, logger store.Logger, appVersion string) *Service {
	return &Service{
		registry:   registry,
		crypto:     crypto,
		clock:      clock,
		logger:     logger,
		appVersion: appVersion,
	}
}

// Build collects every configured store's payload and a manifest carrying
// the full registry export.
func (s *Service) Build(ctx context.Context, stores Stores) (*Bundle, error) {
	manifest := Manifest{
		Version:    BundleVersion,
		CreatedAt:  s.clock.Now().UnixMilli(),
		AppVersion: s.appVersion,
	}

	var payloads []Payload
	for _, entry := range stores.slots() {
		if entry.slot == nil {
			continue
		}
		data, err := entry.slot.Store.ExportBackup(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: store %q (%s): %v", ErrExportFailure, entry.slot.StoreID, entry.kind, err)
		}
		manifest.Stores = append(manifest.Stores, ManifestStore{StoreID: entry.slot.StoreID, StoreType: entry.kind})
		payloads = append(payloads, Payload{StoreID: entry.slot.StoreID, Kind: entry.kind, Data: data})
	}

	snapshot, err := s.registry.ExportAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: exporting registry: %v", ErrExportFailure, err)
	}
	manifest.Registry = snapshot

	return &Bundle{Manifest: manifest, Payloads: payloads}, nil
}

// ExportOptions configures Export.
type ExportOptions struct {
	Stores   Stores
	Provider store.KeyMaterialProvider
}

// Export builds a bundle and seals it under a KEK derived from the caller's
// key material with a fresh salt and IV.
func (s *Service) Export(ctx context.Context, opts ExportOptions) ([]byte, error) {
	if opts.Provider == nil {
		return nil, ErrProviderMissing
	}

	bundle, err := s.Build(ctx, opts.Stores)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding bundle: %v", ErrExportFailure, err)
	}

	salt, err := s.crypto.RandomBytes(encryption.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating salt: %v", ErrExportFailure, err)
	}
	iv, err := s.crypto.RandomBytes(keyring.DefaultIVLength)
	if err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", ErrExportFailure, err)
	}

	kek, err := s.deriveKEK(opts.Provider, salt, encryption.DefaultIterations)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.crypto.Seal(kek, iv, plaintext)
	store.Zero(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: sealing bundle: %v", ErrExportFailure, err)
	}

	blob, err := json.Marshal(outerEnvelope{
		Version:       BundleVersion,
		CreatedAt:     bundle.Manifest.CreatedAt,
		KDFSalt:       salt,
		KDFIterations: encryption.DefaultIterations,
		IV:            iv,
		Ciphertext:    ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %v", ErrExportFailure, err)
	}

	s.logger.Info("backup bundle exported", "stores", len(bundle.Payloads), "bytes", len(blob))
	return blob, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	Stores   Stores
	Provider store.KeyMaterialProvider

	// ImportRegistry restores the bundle's crypto registry snapshot before
	// any payload, so restored records are decryptable.
	ImportRegistry bool
}

// Import decrypts a bundle and routes each payload to the configured store
// matching its store id and kind. Payloads with no matching configured
// store are silently skipped.
func (s *Service) Import(ctx context.Context, blob []byte, opts ImportOptions) error {
	if opts.Provider == nil {
		return ErrProviderMissing
	}

	var outer outerEnvelope
	if err := json.Unmarshal(blob, &outer); err != nil {
		return fmt.Errorf("%w: decoding envelope: %v", ErrInvalidBundle, err)
	}
	if outer.Version != BundleVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidBundle, outer.Version)
	}

	kek, err := s.deriveKEK(opts.Provider, outer.KDFSalt, outer.KDFIterations)
	if err != nil {
		return err
	}
	plaintext, err := s.crypto.Open(kek, outer.IV, outer.Ciphertext)
	store.Zero(kek)
	if err != nil {
		return fmt.Errorf("%w: decryption failed", ErrInvalidBundle)
	}

	var bundle Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return fmt.Errorf("%w: decoding bundle: %v", ErrInvalidBundle, err)
	}

	if opts.ImportRegistry && bundle.Manifest.Registry != nil {
		if err := s.registry.ImportAll(ctx, bundle.Manifest.Registry); err != nil {
			return fmt.Errorf("%w: importing registry: %v", ErrImportFailure, err)
		}
	}

	imported := 0
	for _, payload := range bundle.Payloads {
		slot := matchSlot(opts.Stores, payload)
		if slot == nil {
			s.logger.Debug("bundle payload skipped, no matching store", "store_id", payload.StoreID, "kind", payload.Kind)
			continue
		}
		if err := slot.Store.ImportBackup(ctx, payload.Data); err != nil {
			return fmt.Errorf("%w: store %q (%s): %v", ErrImportFailure, payload.StoreID, payload.Kind, err)
		}
		imported++
	}

	s.logger.Info("backup bundle imported", "payloads", len(bundle.Payloads), "imported", imported)
	return nil
}

func matchSlot(stores Stores, payload Payload) *Slot {
	for _, entry := range stores.slots() {
		if entry.slot != nil && entry.kind == payload.Kind && entry.slot.StoreID == payload.StoreID {
			return entry.slot
		}
	}
	return nil
}

func (s *Service) deriveKEK(provider store.KeyMaterialProvider, salt []byte, iterations int) ([]byte, error) {
	material, err := provider.KeyMaterial()
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining key material: %v", ErrInvalidBundle, err)
	}
	kek, err := s.crypto.DeriveKey(material, salt, iterations)
	store.Zero(material)
	if err != nil {
		return nil, fmt.Errorf("%w: deriving kek: %v", ErrInvalidBundle, err)
	}
	return kek, nil
}
