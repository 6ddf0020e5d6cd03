// Package auth holds the shared API keys callers present to mutating routes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// KeySet is a fixed set of accepted API keys, held as hashes.
type KeySet struct {
	hashes []string
}

// NewKeySet hashes keys. Blank keys are ignored.
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		ks.hashes = append(ks.hashes, HashKey(k))
	}
	return ks
}

// Len returns the number of accepted keys.
func (ks *KeySet) Len() int {
	return len(ks.hashes)
}

// Match reports whether key is accepted and returns its hash, which
// identifies the caller without exposing the key.
func (ks *KeySet) Match(key string) (string, bool) {
	if strings.TrimSpace(key) == "" {
		return "", false
	}
	h := HashKey(key)
	found := false
	for _, known := range ks.hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(known)) == 1 {
			found = true
		}
	}
	return h, found
}
