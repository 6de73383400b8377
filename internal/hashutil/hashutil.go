// Package hashutil fingerprints outbound bulk frames for trace-level
// wire logging, so two log lines claiming "same fetch batch" can be
// confirmed without diffing the full frame bodies.
package hashutil

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short hex-encoded blake2b-256 digest of data,
// truncated to 12 hex characters — enough to disambiguate log lines,
// not a security property.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
