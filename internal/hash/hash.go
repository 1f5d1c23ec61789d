// Package hash computes deterministic content digests for documents.
//
// Every identity and change comparison in the repository routes through
// Content. Two documents are "the same" exactly when their digests match;
// nothing in the codebase compares by length, timestamp, or metadata.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Content returns the hex-encoded SHA-256 digest of the document content.
//
// The digest is stable across platforms and process restarts: the input is
// hashed as raw UTF-8 bytes with no normalization applied.
func Content(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two documents' contents hash to the same digest.
func Equal(a, b string) bool {
	return Content(a) == Content(b)
}

// Short returns a truncated digest suitable for display (first 12 chars).
// Returns the input unchanged if it is already shorter.
func Short(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
