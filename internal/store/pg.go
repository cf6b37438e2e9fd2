package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
)

// PgStore is the PostgreSQL + PostGIS implementation of Store. It uses
// plain parameterized database/sql, never an ORM (orig spec Non-goals),
// grounded on the teacher's internal/store/pg.go.
type PgStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewPgStore opens a connection pool against dsn, bounds it per the
// concurrency model (min 5, max 100 — orig spec §5), and runs the inline
// schema migration.
func NewPgStore(ctx context.Context, dsn string, poolMin, poolMax int, logger *zap.SugaredLogger) (*PgStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if poolMax <= 0 {
		poolMax = 100
	}
	if poolMin <= 0 {
		poolMin = 5
	}
	db.SetMaxOpenConns(poolMax)
	db.SetMaxIdleConns(poolMin)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PgStore) Close() error { return s.db.Close() }

// migrate applies the additive schema in one inline pass, mirroring the
// teacher's internal/store/pg.go migrate(ctx) pattern rather than numbered
// migration files (orig spec §6: "schema is additive").
func (s *PgStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT,
			display_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at TIMESTAMPTZ,
			suspended_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (lower(email))`,

		`CREATE TABLE IF NOT EXISTS user_sessions (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			jti_hash TEXT NOT NULL UNIQUE,
			issued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS user_sessions_user_id_idx ON user_sessions (user_id)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			prefix TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT false,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ,
			rate_limit_per_minute INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS device_tokens (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			issued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			plan TEXT NOT NULL DEFAULT 'free',
			max_users INTEGER NOT NULL DEFAULT 100,
			max_devices INTEGER NOT NULL DEFAULT 1000,
			max_groups INTEGER NOT NULL DEFAULT 50,
			default_settings JSONB NOT NULL DEFAULT '{}',
			suspended_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS org_users (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			permissions TEXT[] NOT NULL DEFAULT '{}',
			granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			granted_by UUID NOT NULL,
			suspended_at TIMESTAMPTZ,
			suspended_by UUID,
			suspension_reason TEXT,
			UNIQUE (organization_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			icon_emoji TEXT,
			owner_user_id UUID NOT NULL REFERENCES users(id),
			organization_id UUID REFERENCES organizations(id),
			policy_id UUID,
			settings JSONB NOT NULL DEFAULT '{}',
			max_devices INTEGER NOT NULL DEFAULT 100,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS group_memberships (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS device_group_memberships (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL,
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			added_by UUID NOT NULL,
			added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (device_id, group_id)
		)`,

		`CREATE TABLE IF NOT EXISTS group_invites (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			code TEXT NOT NULL UNIQUE,
			preset_role TEXT NOT NULL,
			max_uses INTEGER NOT NULL,
			current_uses INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NOT NULL,
			created_by UUID NOT NULL,
			revoked_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS migration_audit_logs (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			user_id UUID NOT NULL,
			registration_group_id TEXT NOT NULL,
			authenticated_group_id UUID NOT NULL,
			devices_migrated INTEGER NOT NULL,
			device_ids UUID[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, registration_group_id)
		)`,

		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_uuid TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			platform TEXT NOT NULL,
			fcm_token TEXT,
			registration_group_id TEXT,
			owner_user_id UUID REFERENCES users(id),
			organization_id UUID REFERENCES organizations(id),
			policy_id UUID,
			is_primary BOOLEAN NOT NULL DEFAULT false,
			is_managed BOOLEAN NOT NULL DEFAULT false,
			enrollment_status TEXT NOT NULL DEFAULT 'pending',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS devices_registration_group_idx ON devices (registration_group_id)`,

		`CREATE TABLE IF NOT EXISTS device_policies (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			settings JSONB NOT NULL DEFAULT '{}',
			locked_settings TEXT[] NOT NULL DEFAULT '{}',
			device_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS setting_definitions (
			key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL,
			default_value JSONB,
			is_lockable BOOLEAN NOT NULL DEFAULT true,
			category TEXT NOT NULL DEFAULT 'general'
		)`,

		`CREATE TABLE IF NOT EXISTS device_settings (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			setting_key TEXT NOT NULL,
			value JSONB,
			is_locked BOOLEAN NOT NULL DEFAULT false,
			locked_by UUID,
			locked_at TIMESTAMPTZ,
			lock_reason TEXT,
			UNIQUE (device_id, setting_key),
			CONSTRAINT device_settings_lock_fields CHECK (
				(is_locked = false) OR (locked_by IS NOT NULL AND locked_at IS NOT NULL)
			)
		)`,

		`CREATE TABLE IF NOT EXISTS locations (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			captured_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			point GEOGRAPHY(Point,4326) NOT NULL,
			accuracy_m DOUBLE PRECISION NOT NULL,
			altitude_m DOUBLE PRECISION,
			bearing_deg DOUBLE PRECISION,
			speed_mps DOUBLE PRECISION,
			provider TEXT,
			battery_level DOUBLE PRECISION,
			network_type TEXT,
			transportation_mode TEXT,
			detection_source TEXT,
			trip_id UUID
		)`,
		`CREATE INDEX IF NOT EXISTS locations_device_captured_idx ON locations (device_id, captured_at, id)`,
		`CREATE INDEX IF NOT EXISTS locations_created_at_idx ON locations (created_at)`,

		`CREATE TABLE IF NOT EXISTS movement_events (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			captured_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			point GEOGRAPHY(Point,4326) NOT NULL,
			accuracy_m DOUBLE PRECISION NOT NULL,
			altitude_m DOUBLE PRECISION,
			bearing_deg DOUBLE PRECISION,
			speed_mps DOUBLE PRECISION,
			provider TEXT,
			battery_level DOUBLE PRECISION,
			network_type TEXT,
			confidence DOUBLE PRECISION NOT NULL,
			transportation_mode TEXT NOT NULL,
			detection_source TEXT NOT NULL,
			trip_id UUID
		)`,
		`CREATE INDEX IF NOT EXISTS movement_events_trip_idx ON movement_events (trip_id, captured_at)`,

		`CREATE TABLE IF NOT EXISTS trips (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			local_trip_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'ACTIVE',
			start_timestamp TIMESTAMPTZ NOT NULL,
			end_timestamp TIMESTAMPTZ,
			start_point GEOGRAPHY(Point,4326) NOT NULL,
			end_point GEOGRAPHY(Point,4326),
			transportation_mode TEXT NOT NULL,
			detection_source TEXT NOT NULL,
			distance_meters DOUBLE PRECISION,
			duration_seconds DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (device_id, local_trip_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS trips_one_active_per_device
			ON trips (device_id) WHERE state = 'ACTIVE'`,

		`CREATE TABLE IF NOT EXISTS trip_path_corrections (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			trip_id UUID NOT NULL UNIQUE REFERENCES trips(id) ON DELETE CASCADE,
			original_path GEOGRAPHY(LineString,4326) NOT NULL,
			corrected_path GEOGRAPHY(LineString,4326),
			status TEXT NOT NULL DEFAULT 'PENDING',
			correction_quality DOUBLE PRECISION,
			error_message TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			url TEXT NOT NULL,
			secret TEXT NOT NULL,
			events TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT true
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			webhook_id UUID NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMPTZ,
			next_retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			response_code INTEGER,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries (next_retry_at) WHERE status = 'pending'`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			organization_id UUID,
			actor_type TEXT NOT NULL,
			actor_id UUID NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			details JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS audit_logs_org_created_idx ON audit_logs (organization_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS audit_export_jobs (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			status TEXT NOT NULL DEFAULT 'pending',
			format TEXT NOT NULL,
			query_json JSONB NOT NULL DEFAULT '{}',
			download_url TEXT,
			expires_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS audit_export_jobs_pending_idx ON audit_export_jobs (created_at) WHERE status = 'pending'`,

		// Trigger: block deletion/demotion of a group's last owner (orig
		// spec §4.2 "database trigger plus application-layer check").
		`CREATE OR REPLACE FUNCTION guard_group_last_owner() RETURNS TRIGGER AS $$
		DECLARE
			remaining_owners INTEGER;
		BEGIN
			IF (TG_OP = 'DELETE' AND OLD.role = 'owner') OR
			   (TG_OP = 'UPDATE' AND OLD.role = 'owner' AND NEW.role <> 'owner') THEN
				SELECT count(*) INTO remaining_owners FROM group_memberships
					WHERE group_id = OLD.group_id AND role = 'owner' AND id <> OLD.id;
				IF remaining_owners = 0 THEN
					RAISE EXCEPTION 'group % would be left without an owner', OLD.group_id;
				END IF;
			END IF;
			IF TG_OP = 'DELETE' THEN
				RETURN OLD;
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS group_memberships_guard_owner ON group_memberships`,
		`CREATE TRIGGER group_memberships_guard_owner
			BEFORE UPDATE OR DELETE ON group_memberships
			FOR EACH ROW EXECUTE FUNCTION guard_group_last_owner()`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}

// translateError classifies a raw database/sql error into an apperr.Error,
// inspecting the Postgres error code the way the teacher's store wraps
// errors with fmt.Errorf, generalized here with an explicit code
// classifier (orig spec §7 propagation policy).
func translateError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NewNotFound(notFoundMsg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.NewConflict(pgErr.Detail)
		case "23503": // foreign_key_violation
			return apperr.NewNotFound(pgErr.Detail)
		case "23514": // check_violation
			return apperr.NewValidation(pgErr.Detail, nil)
		}
	}
	return apperr.NewInternal("storage error", err)
}
