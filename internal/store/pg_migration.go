package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/pathmark/pathmark/internal/model"
)

// MigrateRegistrationGroup implements the full 6-step migration (orig spec
// §4.2), idempotent on (callerUserID, registrationGroupID): a second call
// returns the prior MigrationAuditLog untouched rather than re-inserting.
func (s *PgStore) MigrateRegistrationGroup(ctx context.Context, callerUserID, registrationGroupID, groupName string) (*model.MigrationAuditLog, error) {
	if existing, err := s.GetMigrationAuditLog(ctx, callerUserID, registrationGroupID); err == nil {
		return existing, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	deviceRows, err := tx.QueryContext(ctx, `SELECT id, owner_user_id FROM devices WHERE registration_group_id = $1`, registrationGroupID)
	if err != nil {
		return nil, fmt.Errorf("list devices for registration group: %w", err)
	}
	type deviceRow struct {
		id      string
		ownerID sql.NullString
	}
	var devices []deviceRow
	for deviceRows.Next() {
		var d deviceRow
		if err := deviceRows.Scan(&d.id, &d.ownerID); err != nil {
			deviceRows.Close()
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	deviceRows.Close()
	if err := deviceRows.Err(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, translateError(sql.ErrNoRows, "no devices found for registration group")
	}

	var groupID string
	slug := fmt.Sprintf("migrated-%s", registrationGroupID)
	row := tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, slug, owner_user_id, settings, max_devices)
		VALUES ($1, $2, $3, '{}', 1000)
		RETURNING id`, groupName, slug, callerUserID)
	if err := row.Scan(&groupID); err != nil {
		return nil, translateError(err, "group not found")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_memberships (group_id, user_id, role, joined_at) VALUES ($1, $2, 'owner', now())`,
		groupID, callerUserID); err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}

	deviceIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		deviceIDs = append(deviceIDs, d.id)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_group_memberships (device_id, group_id, added_by, added_at) VALUES ($1, $2, $3, now())`,
			d.id, groupID, callerUserID); err != nil {
			return nil, fmt.Errorf("add device to group: %w", err)
		}
		if !d.ownerID.Valid {
			if _, err := tx.ExecContext(ctx, `UPDATE devices SET owner_user_id = $1, updated_at = now() WHERE id = $2`, callerUserID, d.id); err != nil {
				return nil, fmt.Errorf("claim unowned device: %w", err)
			}
		}
	}

	log := &model.MigrationAuditLog{
		UserID:               callerUserID,
		RegistrationGroupID:  registrationGroupID,
		AuthenticatedGroupID: groupID,
		DevicesMigrated:      len(devices),
		DeviceIDs:            deviceIDs,
		Status:               model.MigrationSuccess,
	}
	row = tx.QueryRowContext(ctx, `
		INSERT INTO migration_audit_logs (user_id, registration_group_id, authenticated_group_id, devices_migrated, device_ids, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at`,
		log.UserID, log.RegistrationGroupID, log.AuthenticatedGroupID, log.DevicesMigrated, pq.Array(log.DeviceIDs), string(log.Status),
	)
	if err := row.Scan(&log.ID, &log.CreatedAt); err != nil {
		return nil, translateError(err, "migration audit log not found")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migration: %w", err)
	}
	return log, nil
}

func (s *PgStore) GetMigrationAuditLog(ctx context.Context, callerUserID, registrationGroupID string) (*model.MigrationAuditLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, registration_group_id, authenticated_group_id, devices_migrated, device_ids, status, error_message, created_at
		FROM migration_audit_logs WHERE user_id = $1 AND registration_group_id = $2`, callerUserID, registrationGroupID)
	var log model.MigrationAuditLog
	var status string
	if err := row.Scan(&log.ID, &log.UserID, &log.RegistrationGroupID, &log.AuthenticatedGroupID, &log.DevicesMigrated, pq.Array(&log.DeviceIDs), &status, &log.ErrorMessage, &log.CreatedAt); err != nil {
		return nil, translateError(err, "migration audit log not found")
	}
	log.Status = model.MigrationStatus(status)
	return &log, nil
}
