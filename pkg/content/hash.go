// Package content holds small helpers shared by the persistence adapter
// and the crawler contract for dealing with crawled page bodies.
package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex-encoded sha256 digest of content, as
// required by spec.md §6 ("content_hash = lowercase_hex(sha256(content))").
func Hash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
