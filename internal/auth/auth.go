// Package auth is the identity & session subsystem (orig spec C4):
// password and OAuth user authentication, RS256 JWT issuance/validation,
// refresh-token rotation, API-key and device-token authentication, and
// per-credential rate limiting. Grounded on the teacher's
// internal/handler/builtin_auth.go auth flow, generalized from bcrypt+HMAC
// self-signed JWT to Argon2id+RS256, and on nerrad567's
// internal/auth/claims.go + token_repository.go for the refresh-rotation
// shape.
package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/cryptoutil"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// Authenticator implements every operation of orig spec §4.1.
type Authenticator struct {
	store       store.IdentityStore
	devices     store.DeviceStore
	signer      *cryptoutil.Signer
	limiter     *RateLimiter
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      *zap.SugaredLogger
}

// Config bundles the tunables the constructor needs from internal/config.
type Config struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RateLimitPerMinute   int
}

// New builds an Authenticator. signer must already be configured for
// RS256 or HS256 (Config.UsesRS256 decides which, at the caller/wiring
// layer in cmd/pathmark).
func New(s store.IdentityStore, d store.DeviceStore, signer *cryptoutil.Signer, cfg Config, logger *zap.SugaredLogger) *Authenticator {
	return &Authenticator{
		store:      s,
		devices:    d,
		signer:     signer,
		limiter:    NewRateLimiter(time.Minute, cfg.RateLimitPerMinute),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		logger:     logger,
	}
}

// TokenPair is the access+refresh pair returned by Login/Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Register creates a new user account (orig spec §4.1). Fails Validation
// on a weak password and Conflict on a duplicate email.
func (a *Authenticator) Register(ctx context.Context, email, password, displayName string) (*model.User, error) {
	if !cryptoutil.ValidatePasswordStrength(password) {
		return nil, apperr.NewValidation("password does not meet strength requirements", map[string]any{
			"requirements": "at least 8 characters, one uppercase, one lowercase, one digit",
		})
	}
	if _, err := a.store.GetUserByEmail(ctx, email); err == nil {
		return nil, apperr.NewConflict("email already registered")
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	hash, err := cryptoutil.HashPassword(password)
	if err != nil {
		return nil, apperr.NewInternal("hash password", err)
	}
	u := &model.User{Email: email, PasswordHash: &hash, DisplayName: displayName}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// LoginResult carries the issued tokens plus the device auto-link outcome
// of orig spec §4.1.
type LoginResult struct {
	User          *model.User
	Tokens        TokenPair
	DeviceLinked  bool
}

// Login validates credentials, issues a token pair, and attempts the
// device auto-link-on-login flow if deviceID is non-empty.
func (a *Authenticator) Login(ctx context.Context, email, password string, deviceID string) (*LoginResult, error) {
	u, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.NewInvalidCredential("invalid email or password")
		}
		return nil, err
	}
	if u.PasswordHash == nil || !cryptoutil.VerifyPassword(password, *u.PasswordHash) {
		return nil, apperr.NewInvalidCredential("invalid email or password")
	}
	if u.SuspendedAt != nil {
		return nil, apperr.NewForbidden("account suspended")
	}

	now := time.Now().UTC()
	tokens, err := a.issuePair(ctx, u.ID, now)
	if err != nil {
		return nil, err
	}
	if err := a.store.UpdateUserLastLogin(ctx, u.ID, now); err != nil {
		a.logger.Warnw("update last login failed", "user_id", u.ID, "error", err)
	}

	result := &LoginResult{User: u, Tokens: *tokens}
	if deviceID != "" {
		result.DeviceLinked = a.tryLinkDevice(ctx, deviceID, u.ID)
	}
	return result, nil
}

// tryLinkDevice implements "device auto-link on login" (orig spec §4.1):
// succeeds silently if the device is missing or already owned by someone
// else — login itself never fails because of this step.
func (a *Authenticator) tryLinkDevice(ctx context.Context, deviceID, userID string) bool {
	d, err := a.devices.GetDevice(ctx, deviceID)
	if err != nil || d.Bound() {
		return false
	}
	isPrimary := d.OwnerUserID == nil
	if err := a.devices.UpdateDeviceOwner(ctx, deviceID, userID, isPrimary); err != nil {
		a.logger.Warnw("device auto-link failed", "device_id", deviceID, "user_id", userID, "error", err)
		return false
	}
	return true
}

// OAuthLogin trusts a provider-verified token's subject/email (the
// provider-token verification itself is an external collaborator per orig
// spec §1 "Out of scope"); it finds-or-creates the user, then issues
// tokens exactly as Login does.
func (a *Authenticator) OAuthLogin(ctx context.Context, providerEmail, providerDisplayName string) (*LoginResult, error) {
	u, err := a.store.GetUserByEmail(ctx, providerEmail)
	if err != nil {
		if apperr.KindOf(err) != apperr.NotFound {
			return nil, err
		}
		u = &model.User{Email: providerEmail, DisplayName: providerDisplayName}
		if err := a.store.CreateUser(ctx, u); err != nil {
			return nil, err
		}
	}
	if u.SuspendedAt != nil {
		return nil, apperr.NewForbidden("account suspended")
	}

	now := time.Now().UTC()
	tokens, err := a.issuePair(ctx, u.ID, now)
	if err != nil {
		return nil, err
	}
	_ = a.store.UpdateUserLastLogin(ctx, u.ID, now)
	return &LoginResult{User: u, Tokens: *tokens}, nil
}

// Refresh implements the one-transaction rotation of orig spec §4.1: the
// presented refresh token is verified, hashed, looked up, revoked, and a
// fresh pair is issued and persisted — store.RotateSession does steps
// (c)-(f) atomically.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.signer.Parse(refreshToken)
	if err != nil || claims.TokenType != cryptoutil.TokenTypeRefresh {
		return nil, apperr.NewInvalidCredential("invalid refresh token")
	}

	oldHash := cryptoutil.Digest256(claims.ID)
	now := time.Now().UTC()

	nextJTI, err := cryptoutil.RandomToken(32)
	if err != nil {
		return nil, apperr.NewInternal("generate jti", err)
	}
	nextRefreshToken, err := a.signer.Issue(claims.Subject, nextJTI, cryptoutil.TokenTypeRefresh, a.refreshTTL)
	if err != nil {
		return nil, apperr.NewInternal("issue refresh token", err)
	}
	nextSession := &model.UserSession{
		UserID:    claims.Subject,
		JTIHash:   cryptoutil.Digest256(nextJTI),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.refreshTTL),
	}

	if _, err := a.store.RotateSession(ctx, oldHash, nextSession); err != nil {
		return nil, err
	}

	accessJTI, err := cryptoutil.RandomToken(16)
	if err != nil {
		return nil, apperr.NewInternal("generate jti", err)
	}
	accessToken, err := a.signer.Issue(claims.Subject, accessJTI, cryptoutil.TokenTypeAccess, a.accessTTL)
	if err != nil {
		return nil, apperr.NewInternal("issue access token", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: nextRefreshToken, ExpiresIn: int(a.accessTTL.Seconds())}, nil
}

// Logout revokes sessions per orig spec §4.1: a single session by JTI, or
// every session for the user. A missing session is not an error —
// logout is idempotent.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string, allDevices bool) error {
	claims, err := a.signer.Parse(refreshToken)
	if err != nil {
		return nil
	}
	now := time.Now().UTC()
	if allDevices {
		return a.store.RevokeAllSessionsForUser(ctx, claims.Subject, now)
	}
	sess, err := a.store.GetSessionByJTIHash(ctx, cryptoutil.Digest256(claims.ID))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil
		}
		return err
	}
	return a.store.RevokeSession(ctx, sess.ID, now)
}

// ValidateAccess verifies an access JWT and returns the subject user id.
func (a *Authenticator) ValidateAccess(token string) (userID string, err error) {
	claims, err := a.signer.Parse(token)
	if err != nil {
		return "", apperr.NewInvalidCredential("invalid access token")
	}
	if claims.TokenType != cryptoutil.TokenTypeAccess {
		return "", apperr.NewInvalidCredential("token is not an access token")
	}
	return claims.Subject, nil
}

// ValidateAPIKey implements orig spec §4.1's API-key validation: hash the
// presented secret, look up by full hash (never by prefix), check active,
// and touch last_used_at.
func (a *Authenticator) ValidateAPIKey(ctx context.Context, secret string) (*model.ApiKey, error) {
	k, err := a.store.GetAPIKeyByHash(ctx, cryptoutil.Digest256(secret))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.NewInvalidCredential("invalid api key")
		}
		return nil, err
	}
	if !k.Active {
		return nil, apperr.NewInvalidCredential("api key is not active")
	}
	if err := a.store.TouchAPIKeyLastUsed(ctx, k.ID, time.Now().UTC()); err != nil {
		a.logger.Warnw("touch api key last used failed", "key_id", k.ID, "error", err)
	}
	return k, nil
}

// ValidateDeviceToken validates an enrolled device's dt_ secret.
func (a *Authenticator) ValidateDeviceToken(ctx context.Context, secret string) (*model.DeviceToken, error) {
	t, err := a.store.GetDeviceTokenByHash(ctx, cryptoutil.Digest256(secret))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.NewInvalidCredential("invalid device token")
		}
		return nil, err
	}
	if t.RevokedAt != nil {
		return nil, apperr.NewInvalidCredential("device token revoked")
	}
	if time.Now().UTC().After(t.ExpiresAt) {
		return nil, apperr.NewInvalidCredential("device token expired")
	}
	return t, nil
}

// CheckRateLimit enforces the sliding window of orig spec §4.1 for the
// given credential id.
func (a *Authenticator) CheckRateLimit(credentialID string, limit int) error {
	allowed, retryAfter := a.limiter.Allow(credentialID, limit, time.Now().UTC())
	if !allowed {
		return apperr.NewRateLimitExceeded(retryAfter)
	}
	return nil
}

// SweepRateLimiter drops elapsed windows; called periodically by
// internal/scheduler (orig spec §5).
func (a *Authenticator) SweepRateLimiter() int {
	return a.limiter.Sweep(time.Now().UTC())
}

func (a *Authenticator) issuePair(ctx context.Context, userID string, now time.Time) (*TokenPair, error) {
	accessJTI, err := cryptoutil.RandomToken(16)
	if err != nil {
		return nil, apperr.NewInternal("generate jti", err)
	}
	accessToken, err := a.signer.Issue(userID, accessJTI, cryptoutil.TokenTypeAccess, a.accessTTL)
	if err != nil {
		return nil, apperr.NewInternal("issue access token", err)
	}

	refreshJTI, err := cryptoutil.RandomToken(32)
	if err != nil {
		return nil, apperr.NewInternal("generate jti", err)
	}
	refreshToken, err := a.signer.Issue(userID, refreshJTI, cryptoutil.TokenTypeRefresh, a.refreshTTL)
	if err != nil {
		return nil, apperr.NewInternal("issue refresh token", err)
	}

	sess := &model.UserSession{
		UserID:    userID,
		JTIHash:   cryptoutil.Digest256(refreshJTI),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.refreshTTL),
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresIn: int(a.accessTTL.Seconds())}, nil
}
