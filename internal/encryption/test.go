package encryption

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"tanglestore/internal/store"
)

// testHeader is prepended to data by TestProvider so sealed output is clearly
// different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("TSENC\x00\x00\x00")

// TestProvider is a deterministic store.CryptoProvider for tests. Seal
// prepends a fixed header and XORs with the first key byte; Open reverses it.
// Keys and "random" bytes come from a counter, so fixtures are stable.
type TestProvider struct {
	counter atomic.Uint32
}

var _ store.CryptoProvider = (*TestProvider)(nil)

// NewTestProvider creates a new TestProvider.
func NewTestProvider() *TestProvider {
	return &TestProvider{}
}

func (p *TestProvider) GenerateKey() ([]byte, error) {
	return p.fill(KeySize), nil
}

func (p *TestProvider) RandomBytes(n int) ([]byte, error) {
	return p.fill(n), nil
}

func (p *TestProvider) Seal(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("sealing: empty key")
	}
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	for _, b := range plaintext {
		out = append(out, b^key[0])
	}
	return out, nil
}

func (p *TestProvider) Open(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("opening: empty key")
	}
	if len(ciphertext) < len(testHeader) || !bytes.Equal(ciphertext[:len(testHeader)], testHeader) {
		return nil, fmt.Errorf("opening: missing test header")
	}
	body := ciphertext[len(testHeader):]
	out := make([]byte, len(body))
	for i, b := range body {
		out[i] = b ^ key[0]
	}
	return out, nil
}

// DeriveKey is deterministic in material and salt so that "wrong passphrase"
// scenarios still produce a different key.
func (p *TestProvider) DeriveKey(material, salt []byte, iterations int) ([]byte, error) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
		for _, m := range material {
			key[i] ^= m
		}
		for _, s := range salt {
			key[i] += s
		}
	}
	return key, nil
}

func (p *TestProvider) fill(n int) []byte {
	seed := byte(p.counter.Add(1))
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}
