package model

import "time"

// User is a human account (orig spec §3, User). PasswordHash is nil for
// OAuth-only accounts.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash *string    `json:"-"`
	DisplayName  string     `json:"displayName"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	SuspendedAt  *time.Time `json:"suspendedAt,omitempty"`
}

// UserSession is one row per active refresh token (orig spec §3,
// UserSession). The invariant that a valid refresh JTI has a matching
// non-revoked, unexpired row is enforced by internal/auth's refresh
// rotation transaction.
type UserSession struct {
	ID        string
	UserID    string
	JTIHash   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// ApiKey is a machine credential (orig spec §3, ApiKey). KeyHash is the
// SHA-256 of the full secret; Prefix is the first 8 visible characters,
// used only for operator listings.
type ApiKey struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	KeyHash            string     `json:"-"`
	Prefix             string     `json:"prefix"`
	IsAdmin            bool       `json:"isAdmin"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastUsedAt         *time.Time `json:"lastUsedAt,omitempty"`
	RateLimitPerMinute *int       `json:"rateLimitPerMinute,omitempty"`
}

// DeviceToken is an enrolled device's credential (orig spec §3,
// DeviceToken). ExpiresAt must be within 90 days of IssuedAt.
type DeviceToken struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"deviceId"`
	TokenHash string     `json:"-"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}
