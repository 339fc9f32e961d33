package store

// CryptoProvider is the cryptographic capability supplied by the host:
// AEAD encryption with an explicit IV, symmetric key generation, password
// based key derivation, and secure random bytes. The default implementation
// lives in internal/encryption; a deterministic one exists for tests.
type CryptoProvider interface {
	// GenerateKey returns a fresh symmetric data key in raw exportable form.
	GenerateKey() ([]byte, error)

	// Seal encrypts plaintext under key with the given IV.
	Seal(key, iv, plaintext []byte) ([]byte, error)

	// Open decrypts ciphertext produced by Seal with the same key and IV.
	Open(key, iv, ciphertext []byte) ([]byte, error)

	// DeriveKey derives a key-encryption key from raw material using the
	// given salt and iteration count.
	DeriveKey(material, salt []byte, iterations int) ([]byte, error)

	// RandomBytes returns n cryptographically secure random bytes.
	RandomBytes(n int) ([]byte, error)
}

// KeyMaterialProvider supplies the raw material the registry derives
// key-encryption keys from (a device secret, a user passphrase, ...).
// Material returned by KeyMaterial must be zeroed by the caller after use.
type KeyMaterialProvider interface {
	KeyMaterial() ([]byte, error)
	ProviderID() string
}

// Zero overwrites b in place. Use on raw key material as soon as it has
// been consumed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
