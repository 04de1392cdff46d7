// Package keycodec normalises wallet secret keys between the base58 form the
// exchange API accepts and the base64 form older wallet files may contain.
package keycodec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// secretKeyLen is the byte length of a Solana secret key.
const secretKeyLen = 64

// ErrKeyFormat is returned when a key decodes to neither a base58 nor a
// base64 64-byte sequence.
var ErrKeyFormat = errors.New("secret key is not a 64-byte base58 or base64 string")

// IsCanonical reports whether s is a base58 string that decodes to a
// 64-byte secret key.
func IsCanonical(s string) bool {
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == secretKeyLen
}

// ToCanonical returns the base58 form of a secret key. Keys already in
// canonical form are returned unchanged; base64-encoded keys are re-encoded.
func ToCanonical(s string) (string, error) {
	if IsCanonical(s) {
		return s, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode secret key: %w", ErrKeyFormat)
	}
	if len(decoded) != secretKeyLen {
		return "", fmt.Errorf("decoded secret key is %d bytes, expected %d: %w", len(decoded), secretKeyLen, ErrKeyFormat)
	}
	return base58.Encode(decoded), nil
}

// Mask shortens a key or address for logging, keeping the first and last
// four characters. Secrets must never be logged in full.
func Mask(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}
