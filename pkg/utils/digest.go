package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the hex BLAKE2b-256 digest of data. It is stored in
// attachment metadata and checked after download.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyDigest reports whether data matches the expected digest. An empty
// expectation always verifies.
func VerifyDigest(data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	return Digest(data) == expected
}
