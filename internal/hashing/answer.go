package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeAnswer lowercases and drops everything that is not a letter or
// digit, so "John's Shop!" and "johns shop" normalize alike.
func NormalizeAnswer(answer string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(answer) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashSecurityAnswer is SHA-256 hex over the normalized answer.
func HashSecurityAnswer(answer string) string {
	sum := sha256.Sum256([]byte(NormalizeAnswer(answer)))
	return hex.EncodeToString(sum[:])
}

func VerifySecurityAnswer(storedHash, candidate string) bool {
	if storedHash == "" || NormalizeAnswer(candidate) == "" {
		return false
	}
	computed := HashSecurityAnswer(candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// HashToken hashes high-entropy refresh credentials for storage. A fast hash
// is enough because the input is 256 bits of randomness.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
