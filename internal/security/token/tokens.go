// Package token provides the hashing used for cache keys, so raw
// identifiers never land in the cache backend.
package token

import (
	"crypto/sha256"
	"encoding/base64"
)

// SHA256Base64URL hashes s and encodes the digest base64url without
// padding. Used to derive cache keys from session identifiers.
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
