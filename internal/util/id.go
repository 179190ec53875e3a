package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a random identifier, prefixed like "doc_a1b2..." when a
// prefix is given. 16 random bytes, hex encoded.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
