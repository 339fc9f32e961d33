package keyring

// Key prefixes in the registry's host store. Every store index lives under
// "store:<store id>", every key entry under "key:<key id>".
const (
	storeKeyPrefix = "store:"
	keyEntryPrefix = "key:"
)

// KeyStatus is the lifecycle state of one key entry.
type KeyStatus string

const (
	// KeyStatusActive marks the key new records are encrypted under.
	KeyStatusActive KeyStatus = "active"

	// KeyStatusRotated marks a retired key. Rotated entries are retained so
	// historical envelopes stay decryptable; they are deleted only on an
	// explicit store reset.
	KeyStatusRotated KeyStatus = "rotated"
)

// KeyEntry is one wrapped data key owned by the registry.
type KeyEntry struct {
	KeyID         string    `json:"key_id"`
	StoreID       string    `json:"store_id"`
	CreatedAt     int64     `json:"created_at"` // unix milliseconds
	Status        KeyStatus `json:"status"`
	WrappedKey    []byte    `json:"wrapped_key"`
	WrapIV        []byte    `json:"wrap_iv"`
	KDFSalt       []byte    `json:"kdf_salt"`
	KDFIterations int       `json:"kdf_iterations"`
	IVLength      int       `json:"iv_length"`
	Algorithm     string    `json:"algorithm"`
	ProviderID    string    `json:"provider_id"`
}

// StoreIndex tracks the active and historical key set for one logical store.
type StoreIndex struct {
	StoreID     string   `json:"store_id"`
	ActiveKeyID string   `json:"active_key_id"`
	KeyIDs      []string `json:"key_ids"` // every key ever created, deduplicated
	CreatedAt   int64    `json:"created_at"`
}

// ResolvedKey is an unwrapped data key ready for use. The raw key bytes are
// only ever held in memory.
type ResolvedKey struct {
	KeyID    string
	Key      []byte
	IVLength int
}

// Export is a full snapshot of the registry, used by the backup bundle
// service to rebuild a blank device's encryption state.
type Export struct {
	Indices []StoreIndex `json:"indices"`
	Entries []KeyEntry   `json:"entries"`
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
