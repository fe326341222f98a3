package store

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID generates an opaque, URL-safe template id. Same construction the
// teacher uses for session tokens (crypto/rand + hex), just shorter.
func NewID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("store.NewID: crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(b)
}
