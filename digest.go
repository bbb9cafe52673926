package fhewasm

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the hex blake2b-256 digest of an engine binary. It keys
// the compiled-module cache, the HTTP ETag and integrity checks.
func Digest(bin []byte) string {
	sum := blake2b.Sum256(bin)
	return hex.EncodeToString(sum[:])
}

// DigestMatches compares a digest with an expected value, ignoring case and
// an optional "blake2b-256:" prefix.
func DigestMatches(want, got string) bool {
	want = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(want)), "blake2b-256:")
	return want == strings.ToLower(got)
}
