package cryptoutil

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh tokens in the JWT claims.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT shape of the authenticator design: sub, exp, iat, jti,
// token_type. Leeway is zero — callers parse with no clock skew allowance.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
}

// Signer issues and validates JWTs. It supports RS256 (canonical, per the
// authenticator design) or HS256 by key inspection, resolving the two
// conflicting story files noted in the design's open questions.
type Signer struct {
	rsaPriv   *rsa.PrivateKey
	rsaPub    *rsa.PublicKey
	hmacKey   []byte
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewRS256Signer builds a Signer from a PEM-encoded RSA private/public key
// pair (private may be nil for verify-only deployments).
func NewRS256Signer(privPEM, pubPEM []byte) (*Signer, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}
	s := &Signer{method: jwt.SigningMethodRS256, rsaPub: pub, verifyKey: pub}
	if len(privPEM) > 0 {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
		if err != nil {
			return nil, fmt.Errorf("parse RSA private key: %w", err)
		}
		s.rsaPriv = priv
		s.signKey = priv
	}
	return s, nil
}

// NewHS256Signer builds a Signer from a symmetric secret — the fallback
// shape referenced by the open question on PM__JWT__SECRET_KEY.
func NewHS256Signer(secret string) *Signer {
	return &Signer{method: jwt.SigningMethodHS256, hmacKey: []byte(secret), signKey: []byte(secret), verifyKey: []byte(secret)}
}

// Issue signs a new JWT of the given type for subject (user id), with the
// given TTL. jti is the caller-supplied JWT ID — for refresh tokens this is
// hashed and persisted as UserSession.jti_hash.
func (s *Signer) Issue(subject, jti string, tokenType TokenType, ttl time.Duration) (string, error) {
	if s.signKey == nil {
		return "", fmt.Errorf("signer has no private/signing key configured")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		TokenType: tokenType,
	}
	token := jwt.NewWithClaims(s.method, claims)
	return token.SignedString(s.signKey)
}

// Parse validates signature and expiry (zero leeway) and returns the claims.
// It does not itself distinguish access from refresh — callers check
// claims.TokenType.
func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.verifyKey, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithLeeway(0))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("token missing subject or jti")
	}
	return claims, nil
}
