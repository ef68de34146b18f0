// Package apikey generates, hashes, and derives API key material.
//
// Raw keys are never stored: the account store keeps the SHA-256 hash for
// lookup and a short prefix for display. The raw key is visible exactly once,
// in the subscription response that minted it.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// Prefix identifies keys issued by this service
	Prefix = "pdf_"

	// rawLen is len(Prefix) + 64 hex chars from 32 random bytes
	rawLen = len(Prefix) + 64

	// prefixLen is the length of the masked display form ("pdf_" + 8 chars)
	prefixLen = len(Prefix) + 8
)

// Generate creates a new API key.
// Returns: rawKey, keyHash, keyPrefix, error.
func Generate() (string, string, string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawKey := Prefix + hex.EncodeToString(randomBytes)
	return rawKey, Hash(rawKey), DisplayPrefix(rawKey), nil
}

// DeriveMarketplace derives the deterministic key for a marketplace caller.
// The same (secret, user) pair always yields the same key, so marketplace
// requests resolve to a stable account without a provisioning round-trip.
func DeriveMarketplace(proxySecret, user string) string {
	sum := sha256.Sum256([]byte(proxySecret + "\x00" + user))
	return Prefix + hex.EncodeToString(sum[:])
}

// Hash creates the SHA-256 hex digest of a raw key, the stored lookup form
func Hash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the masked display form of a raw key
func DisplayPrefix(rawKey string) string {
	if len(rawKey) < prefixLen {
		return rawKey
	}
	return rawKey[:prefixLen]
}

// Valid reports whether a raw key has the shape this service issues.
// A cheap format check that rejects garbage before any datastore hit.
func Valid(rawKey string) bool {
	if len(rawKey) != rawLen || rawKey[:len(Prefix)] != Prefix {
		return false
	}
	_, err := hex.DecodeString(rawKey[len(Prefix):])
	return err == nil
}
