// Package signature authenticates webhook bodies with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256="

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	return hex.EncodeToString(computeHMAC(payload, secret))
}

// Verify reports whether provided is the MAC of rawBody under secret.
// rawBody must be the bytes exactly as received. An empty body, signature or
// secret never verifies.
func Verify(rawBody []byte, provided string, secret string) bool {
	if len(rawBody) == 0 || secret == "" {
		return false
	}

	provided = strings.TrimPrefix(strings.TrimSpace(provided), prefix)
	if provided == "" {
		return false
	}

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	return hmac.Equal(decoded, computeHMAC(rawBody, secret))
}

func computeHMAC(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
