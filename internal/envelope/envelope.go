package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// magic identifies a tanglestore envelope. Blobs that do not start with it
// are legacy records (or plaintext) and are handled by higher layers.
var magic = []byte("TGLE")

const (
	// Version is the only envelope format version in existence.
	Version = 1

	// headerLen is the fixed prefix before the variable sections:
	// magic(4) + version(1) + keyIDLen(1) + ivLen(1) + createdAt(8).
	headerLen = 15

	maxKeyIDLen = 255
)

var (
	// ErrInvalidEnvelope reports a blob that carries the envelope magic but
	// cannot be parsed: wrong version, truncated sections, or no ciphertext.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrInvalidKeyID reports a key id that is empty, not valid UTF-8, or
	// longer than 255 bytes.
	ErrInvalidKeyID = errors.New("invalid key id")
)

// Envelope is one encrypted record plus enough metadata to locate the key
// that can decrypt it. It is immutable once constructed: built per Encode
// call, consumed per Decode call.
type Envelope struct {
	Version    uint8
	KeyID      string
	IV         []byte
	CreatedAt  uint64 // unix milliseconds
	Ciphertext []byte
}

// Encode serializes the envelope into its binary form.
// Layout: magic, version, key id length, iv length, created-at (big endian),
// key id bytes, iv bytes, ciphertext to the end of the blob.
func Encode(e Envelope) ([]byte, error) {
	if len(e.KeyID) == 0 || len(e.KeyID) > maxKeyIDLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidKeyID, len(e.KeyID))
	}

	buf := make([]byte, 0, headerLen+len(e.KeyID)+len(e.IV)+len(e.Ciphertext))
	buf = append(buf, magic...)
	buf = append(buf, Version)
	buf = append(buf, byte(len(e.KeyID)))
	buf = append(buf, byte(len(e.IV)))
	buf = binary.BigEndian.AppendUint64(buf, e.CreatedAt)
	buf = append(buf, e.KeyID...)
	buf = append(buf, e.IV...)
	buf = append(buf, e.Ciphertext...)
	return buf, nil
}

// Decode parses a binary envelope.
//
// A nil envelope with a nil error means "not an envelope": the blob is
// shorter than the fixed header or does not carry the magic. Higher layers
// use that signal to fall back to legacy handling. Once the header matches,
// any malformation is a typed error, never partial data.
func Decode(blob []byte) (*Envelope, error) {
	if len(blob) < headerLen {
		return nil, nil
	}
	for i := range magic {
		if blob[i] != magic[i] {
			return nil, nil
		}
	}

	version := blob[4]
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, version)
	}

	keyIDLen := int(blob[5])
	ivLen := int(blob[6])
	createdAt := binary.BigEndian.Uint64(blob[7:15])

	rest := blob[headerLen:]
	if len(rest) < keyIDLen+ivLen {
		return nil, fmt.Errorf("%w: declared lengths exceed blob size", ErrInvalidEnvelope)
	}

	keyID := string(rest[:keyIDLen])
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKeyID)
	}
	if !utf8.ValidString(keyID) {
		return nil, fmt.Errorf("%w: not valid text", ErrInvalidKeyID)
	}

	iv := rest[keyIDLen : keyIDLen+ivLen]
	ciphertext := rest[keyIDLen+ivLen:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: missing ciphertext", ErrInvalidEnvelope)
	}

	return &Envelope{
		Version:    version,
		KeyID:      keyID,
		IV:         append([]byte(nil), iv...),
		CreatedAt:  createdAt,
		Ciphertext: append([]byte(nil), ciphertext...),
	}, nil
}
