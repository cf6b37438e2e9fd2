package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) CreateUser(ctx context.Context, u *model.User) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, created_at, updated_at`,
		u.Email, u.PasswordHash, u.DisplayName,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return translateError(err, "user not found")
	}
	return nil
}

func (s *PgStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, created_at, updated_at, last_login_at, suspended_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PgStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, created_at, updated_at, last_login_at, suspended_at
		FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.SuspendedAt); err != nil {
		return nil, translateError(err, "user not found")
	}
	return &u, nil
}

func (s *PgStore) UpdateUserLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1, updated_at = now() WHERE id = $2`, at, userID)
	if err != nil {
		return translateError(err, "user not found")
	}
	return nil
}

func (s *PgStore) SuspendUser(ctx context.Context, userID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET suspended_at = $1, updated_at = now() WHERE id = $2`, at, userID); err != nil {
		return translateError(err, "user not found")
	}
	// Per orig spec §9 open question: suspension requires immediate
	// revocation of all sessions, not the deferred treatment AP-3.5 left
	// open.
	if _, err := tx.ExecContext(ctx, `UPDATE user_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`, at, userID); err != nil {
		return fmt.Errorf("revoke sessions on suspend: %w", err)
	}
	return tx.Commit()
}

func (s *PgStore) CreateSession(ctx context.Context, sess *model.UserSession) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_sessions (user_id, jti_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sess.UserID, sess.JTIHash, sess.IssuedAt, sess.ExpiresAt,
	)
	if err := row.Scan(&sess.ID); err != nil {
		return translateError(err, "session not found")
	}
	return nil
}

func (s *PgStore) GetSessionByJTIHash(ctx context.Context, jtiHash string) (*model.UserSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, jti_hash, issued_at, expires_at, revoked_at
		FROM user_sessions WHERE jti_hash = $1`, jtiHash)
	var sess model.UserSession
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.JTIHash, &sess.IssuedAt, &sess.ExpiresAt, &sess.RevokedAt); err != nil {
		return nil, translateError(err, "session not found")
	}
	return &sess, nil
}

func (s *PgStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return translateError(err, "session not found")
	}
	return nil
}

func (s *PgStore) RevokeAllSessionsForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`, at, userID)
	if err != nil {
		return translateError(err, "session not found")
	}
	return nil
}

// RotateSession implements the refresh rotation transaction of orig spec
// §4.1: revoke the session matching oldJTIHash and insert next, atomically.
func (s *PgStore) RotateSession(ctx context.Context, oldJTIHash string, next *model.UserSession) (*model.UserSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var oldID string
	var revokedAt *time.Time
	row := tx.QueryRowContext(ctx, `SELECT id, revoked_at FROM user_sessions WHERE jti_hash = $1 FOR UPDATE`, oldJTIHash)
	if err := row.Scan(&oldID, &revokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NewInvalidCredential("refresh token not recognized")
		}
		return nil, translateError(err, "session not found")
	}
	if revokedAt != nil {
		return nil, apperr.NewInvalidCredential("refresh token already used")
	}

	now := next.IssuedAt
	if _, err := tx.ExecContext(ctx, `UPDATE user_sessions SET revoked_at = $1 WHERE id = $2`, now, oldID); err != nil {
		return nil, fmt.Errorf("revoke old session: %w", err)
	}

	row = tx.QueryRowContext(ctx, `
		INSERT INTO user_sessions (user_id, jti_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		next.UserID, next.JTIHash, next.IssuedAt, next.ExpiresAt,
	)
	if err := row.Scan(&next.ID); err != nil {
		return nil, translateError(err, "session not found")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotate session: %w", err)
	}
	return next, nil
}

func (s *PgStore) CreateAPIKey(ctx context.Context, k *model.ApiKey) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (name, key_hash, prefix, is_admin, active, created_at, rate_limit_per_minute)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
		RETURNING id, created_at`,
		k.Name, k.KeyHash, k.Prefix, k.IsAdmin, k.Active, k.RateLimitPerMinute,
	)
	if err := row.Scan(&k.ID, &k.CreatedAt); err != nil {
		return translateError(err, "api key not found")
	}
	return nil
}

func (s *PgStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, prefix, is_admin, active, created_at, last_used_at, rate_limit_per_minute
		FROM api_keys WHERE key_hash = $1`, keyHash)
	var k model.ApiKey
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.IsAdmin, &k.Active, &k.CreatedAt, &k.LastUsedAt, &k.RateLimitPerMinute); err != nil {
		return nil, translateError(err, "api key not found")
	}
	return &k, nil
}

func (s *PgStore) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return translateError(err, "api key not found")
	}
	return nil
}

func (s *PgStore) CreateDeviceToken(ctx context.Context, t *model.DeviceToken) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_tokens (device_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		t.DeviceID, t.TokenHash, t.IssuedAt, t.ExpiresAt,
	)
	if err := row.Scan(&t.ID); err != nil {
		return translateError(err, "device token not found")
	}
	return nil
}

func (s *PgStore) GetDeviceTokenByHash(ctx context.Context, tokenHash string) (*model.DeviceToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, token_hash, issued_at, expires_at, revoked_at
		FROM device_tokens WHERE token_hash = $1`, tokenHash)
	var t model.DeviceToken
	if err := row.Scan(&t.ID, &t.DeviceID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
		return nil, translateError(err, "device token not found")
	}
	return &t, nil
}
