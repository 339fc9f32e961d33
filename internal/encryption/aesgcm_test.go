package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCM_SealOpenRoundTrip(t *testing.T) {
	p := NewAESGCMProvider()

	key, err := p.GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	iv, err := p.RandomBytes(12)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	ciphertext, err := p.Seal(key, iv, plaintext)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, plaintext))

	got, err := p.Open(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAESGCM_OpenRejectsWrongKey(t *testing.T) {
	p := NewAESGCMProvider()

	key1, _ := p.GenerateKey()
	key2, _ := p.GenerateKey()
	iv, _ := p.RandomBytes(12)

	ciphertext, err := p.Seal(key1, iv, []byte("secret"))
	require.NoError(t, err)

	_, err = p.Open(key2, iv, ciphertext)
	assert.Error(t, err)
}

func TestAESGCM_DeriveKeyDeterministic(t *testing.T) {
	p := NewAESGCMProvider()

	material := []byte("device-material")
	salt := []byte("0123456789abcdef")

	k1, err := p.DeriveKey(material, salt, DefaultIterations)
	require.NoError(t, err)
	k2, err := p.DeriveKey(material, salt, DefaultIterations)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := p.DeriveKey(material, []byte("fedcba9876543210"), DefaultIterations)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestNewProviderFromType(t *testing.T) {
	p, err := NewProviderFromType("")
	require.NoError(t, err)
	assert.IsType(t, &AESGCMProvider{}, p)

	p, err = NewProviderFromType("test")
	require.NoError(t, err)
	assert.IsType(t, &TestProvider{}, p)

	_, err = NewProviderFromType("rot13")
	assert.Error(t, err)
}

func TestTestProvider_Reversible(t *testing.T) {
	p := NewTestProvider()

	key, _ := p.GenerateKey()
	sealed, err := p.Seal(key, nil, []byte("plain"))
	require.NoError(t, err)

	got, err := p.Open(key, nil, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)
}
