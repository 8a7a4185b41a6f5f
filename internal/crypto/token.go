package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenPrefix is the prefix every bundle token carries, spec §3/§6.
const TokenPrefix = "mcpb_"

// AdminTokenPrefix distinguishes management-API keys from bundle tokens,
// spec §6 ("same mcpb_ scheme but a distinct prefix").
const AdminTokenPrefix = "mcpba_"

const tokenRandomBytes = 32 // 32 random bytes hex-encode to 64 chars, spec §6

// MintToken produces a new opaque bearer token: 32 cryptographically
// random bytes, hex-encoded, with the given prefix (spec §4.1).
func MintToken(prefix string) (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// HashToken returns the hex-encoded SHA-256 hash of a token, the only form
// ever persisted (spec §3: "stored only as its SHA-256 hash").
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidTokenFormat checks prefix + at least 32 further characters,
// spec §4.1 ("Format validation: prefix + ≥32 further characters").
func ValidTokenFormat(token, prefix string) bool {
	rest, ok := strings.CutPrefix(token, prefix)
	return ok && len(rest) >= 32
}
