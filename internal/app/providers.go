package app

import (
	"fmt"
	"os"
	"path/filepath"

	"tanglestore/internal/encryption"
	"tanglestore/internal/store"
)

// DeviceKeyProvider supplies the device's key material from a file under
// the base directory, generating it on first use. The material wraps every
// per-store key; losing it means losing everything not covered by a backup
// bundle.
type DeviceKeyProvider struct {
	path string
}

var _ store.KeyMaterialProvider = (*DeviceKeyProvider)(nil)

// NewDeviceKeyProvider loads or creates the device key material file.
func NewDeviceKeyProvider(baseDir string, crypto store.CryptoProvider) (*DeviceKeyProvider, error) {
	path := filepath.Join(baseDir, "device.key")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		material, err := crypto.RandomBytes(encryption.KeySize)
		if err != nil {
			return nil, fmt.Errorf("generating device key material: %w", err)
		}
		if err := os.MkdirAll(baseDir, 0700); err != nil {
			return nil, fmt.Errorf("creating base directory: %w", err)
		}
		if err := os.WriteFile(path, material, 0600); err != nil {
			return nil, fmt.Errorf("writing device key material: %w", err)
		}
		store.Zero(material)
	} else if err != nil {
		return nil, fmt.Errorf("checking device key material: %w", err)
	}

	return &DeviceKeyProvider{path: path}, nil
}

func (p *DeviceKeyProvider) KeyMaterial() ([]byte, error) {
	material, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading device key material: %w", err)
	}
	return material, nil
}

func (p *DeviceKeyProvider) ProviderID() string { return "device-file" }

// PassphraseProvider supplies caller-entered passphrase bytes as key
// material for backup bundles. Deliberately distinct from the device
// material so bundles can move between devices.
type PassphraseProvider struct {
	passphrase []byte
}

var _ store.KeyMaterialProvider = (*PassphraseProvider)(nil)

// NewPassphraseProvider wraps a passphrase.
func NewPassphraseProvider(passphrase []byte) *PassphraseProvider {
	return &PassphraseProvider{passphrase: passphrase}
}

func (p *PassphraseProvider) KeyMaterial() ([]byte, error) {
	// Copy: consumers zero material after use.
	return append([]byte(nil), p.passphrase...), nil
}

func (p *PassphraseProvider) ProviderID() string { return "passphrase" }
