// Package sha256 derives deterministic content identifiers from SHA-256 digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultIDLength is the number of hex characters kept for short identifiers.
const DefaultIDLength = 10

// Hasher produces hex digests of arbitrary content.
type Hasher struct {
	length int
}

// New returns a Hasher that truncates short identifiers to length hex characters.
// A non-positive length selects DefaultIDLength.
func New(length int) *Hasher {
	if length <= 0 {
		length = DefaultIDLength
	}
	if length > sha256.Size*2 {
		length = sha256.Size * 2
	}
	return &Hasher{length: length}
}

// Hash returns the full hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the truncated hex digest of s.
func (h *Hasher) Short(s string) string {
	return h.Hash([]byte(s))[:h.length]
}
