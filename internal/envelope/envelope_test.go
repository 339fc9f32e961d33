package envelope

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"minimal", Envelope{Version: 1, KeyID: "k", CreatedAt: 0, Ciphertext: []byte{0xff}}},
		{"typical", Envelope{Version: 1, KeyID: "key-2fd1", IV: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, CreatedAt: 1700000000000, Ciphertext: []byte("sealed bytes")}},
		{"empty iv", Envelope{Version: 1, KeyID: "legacy-import", CreatedAt: 42, Ciphertext: []byte{0}}},
		{"max key id", Envelope{Version: 1, KeyID: strings.Repeat("a", 255), IV: []byte{9}, CreatedAt: 1, Ciphertext: []byte{1, 2}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := Encode(tc.env)
			require.NoError(t, err)

			got, err := Decode(blob)
			require.NoError(t, err)
			require.NotNil(t, got)

			assert.Equal(t, tc.env.Version, got.Version)
			assert.Equal(t, tc.env.KeyID, got.KeyID)
			assert.Equal(t, tc.env.CreatedAt, got.CreatedAt)
			assert.True(t, bytes.Equal(tc.env.IV, got.IV), "iv mismatch")
			assert.True(t, bytes.Equal(tc.env.Ciphertext, got.Ciphertext), "ciphertext mismatch")
		})
	}
}

func TestEncode_RejectsBadKeyID(t *testing.T) {
	_, err := Encode(Envelope{KeyID: "", Ciphertext: []byte{1}})
	assert.ErrorIs(t, err, ErrInvalidKeyID)

	_, err = Encode(Envelope{KeyID: strings.Repeat("x", 256), Ciphertext: []byte{1}})
	assert.ErrorIs(t, err, ErrInvalidKeyID)
}

func TestDecode_NotAnEnvelope(t *testing.T) {
	// Short blobs and wrong magic are a silent "not an envelope",
	// never an error: that is the legacy fallback signal.
	cases := [][]byte{
		nil,
		{},
		[]byte("short"),
		[]byte("TGLE"),             // magic but no header
		bytes.Repeat([]byte{0}, 14), // one byte short of the header
		append([]byte("NOPE"), bytes.Repeat([]byte{1}, 32)...),
	}

	for _, blob := range cases {
		env, err := Decode(blob)
		assert.NoError(t, err)
		assert.Nil(t, env)
	}
}

func TestDecode_MalformedHeaderIsTypedError(t *testing.T) {
	valid, err := Encode(Envelope{Version: 1, KeyID: "key-1", IV: []byte{1, 2, 3}, CreatedAt: 7, Ciphertext: []byte("data")})
	require.NoError(t, err)

	t.Run("unsupported version", func(t *testing.T) {
		blob := append([]byte(nil), valid...)
		blob[4] = 2
		env, err := Decode(blob)
		assert.Nil(t, env)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("lengths overrun blob", func(t *testing.T) {
		blob := append([]byte(nil), valid...)
		blob[5] = 200 // declared key id length far past the end
		env, err := Decode(blob)
		assert.Nil(t, env)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
	})

	t.Run("empty key id", func(t *testing.T) {
		blob := append([]byte(nil), valid...)
		blob[5] = 0
		env, err := Decode(blob)
		assert.Nil(t, env)
		assert.ErrorIs(t, err, ErrInvalidKeyID)
	})

	t.Run("key id not valid text", func(t *testing.T) {
		blob := append([]byte(nil), valid...)
		copy(blob[15:], []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb})
		env, err := Decode(blob)
		assert.Nil(t, env)
		assert.ErrorIs(t, err, ErrInvalidKeyID)
	})

	t.Run("zero ciphertext bytes", func(t *testing.T) {
		env := Envelope{Version: 1, KeyID: "k", IV: []byte{1}, CreatedAt: 1, Ciphertext: []byte{9}}
		blob, err := Encode(env)
		require.NoError(t, err)
		blob = blob[:len(blob)-1] // strip the single ciphertext byte

		got, err := Decode(blob)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrInvalidEnvelope)
		assert.False(t, errors.Is(err, ErrInvalidKeyID))
	})
}
