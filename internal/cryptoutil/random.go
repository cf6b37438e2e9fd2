package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// RandomToken returns a cryptographically random, base64 URL-safe token of
// nBytes of underlying entropy — used for refresh-token JTIs, API-key
// secrets, and device-token secrets, which are persisted only as a hash
// computed separately with Digest256 (orig UserSession/ApiKey/DeviceToken
// invariants).
func RandomToken(nBytes int) (raw string, err error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest256 returns the SHA-256 hex digest of s, used for JTI hashing and
// API-key / device-token secret hashing.
func Digest256(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

const base62Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// InviteCode generates a 9-character XXX-XXX-XXX alphanumeric uppercase
// group invite code.
func InviteCode() (string, error) {
	var b [9]byte
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Alphabet))))
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b[i] = base62Alphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", b[0:3], b[3:6], b[6:9]), nil
}

// APIKeySecret generates a new visible API-key secret with the "pm_" prefix
// plus 45 base64 characters, per the external-interface auth header shape.
func APIKeySecret() (secret string, err error) {
	raw, err := RandomToken(34)
	if err != nil {
		return "", err
	}
	return "pm_" + raw[:45], nil
}

// DeviceTokenSecret generates a new visible device-token secret with the
// "dt_" prefix plus 45 base64 characters.
func DeviceTokenSecret() (secret string, err error) {
	raw, err := RandomToken(34)
	if err != nil {
		return "", err
	}
	return "dt_" + raw[:45], nil
}

// KeyPrefix returns the first 8 visible characters of a secret, used only
// for operator listings (never for lookup, per the authenticator design).
func KeyPrefix(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8]
}
