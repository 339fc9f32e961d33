package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"tanglestore/internal/store"
)

const (
	// KeySize is the raw size of data keys and derived KEKs (AES-256).
	KeySize = 32

	// SaltSize is the size of freshly generated KDF salts.
	SaltSize = 16

	// DefaultIterations is the PBKDF2 iteration count used whenever a
	// caller does not carry an explicit count (new keys, backup bundles).
	DefaultIterations = 100_000

	// Algorithm names the AEAD scheme recorded in key entries.
	Algorithm = "AES-256-GCM"
)

// AESGCMProvider implements store.CryptoProvider with AES-256-GCM for AEAD
// and PBKDF2-SHA256 for key derivation.
type AESGCMProvider struct{}

var _ store.CryptoProvider = (*AESGCMProvider)(nil)

// NewAESGCMProvider creates the default crypto provider.
func NewAESGCMProvider() *AESGCMProvider {
	return &AESGCMProvider{}
}

// GenerateKey returns a fresh random 32-byte key.
func (*AESGCMProvider) GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key with the given IV using AES-GCM.
func (*AESGCMProvider) Seal(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(iv))
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal.
func (*AESGCMProvider) Open(key, iv, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(iv))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte KEK from raw material via PBKDF2-SHA256.
func (*AESGCMProvider) DeriveKey(material, salt []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(material, salt, iterations, KeySize, sha256.New), nil
}

// RandomBytes returns n cryptographically secure random bytes.
func (*AESGCMProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	if nonceSize <= 0 {
		return nil, fmt.Errorf("creating cipher: empty iv")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return aead, nil
}
