package monero

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 is the pre-standard Keccak the foreign chain calls its fast
// hash, computed over the concatenation of parts.
func Keccak256(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}
