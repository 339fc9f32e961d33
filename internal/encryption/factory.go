package encryption

import (
	"fmt"

	"tanglestore/internal/store"
)

// NewProviderFromType creates a CryptoProvider for the configured type.
func NewProviderFromType(typ string) (store.CryptoProvider, error) {
	switch typ {
	case "aesgcm", "":
		return NewAESGCMProvider(), nil
	case "test":
		return NewTestProvider(), nil
	default:
		return nil, fmt.Errorf("unknown crypto provider type: %q", typ)
	}
}
