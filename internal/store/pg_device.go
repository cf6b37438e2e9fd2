package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) CreateDevice(ctx context.Context, d *model.Device) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (device_uuid, display_name, platform, fcm_token, registration_group_id, owner_user_id, organization_id, policy_id, is_primary, is_managed, enrollment_status, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, now(), now())
		RETURNING id, created_at, updated_at`,
		d.DeviceUUID, d.DisplayName, d.Platform, d.FCMToken, d.RegistrationGroupID, d.OwnerUserID, d.OrganizationID, d.PolicyID, d.IsPrimary, d.IsManaged, string(d.EnrollmentStatus),
	)
	if err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return translateError(err, "device not found")
	}
	d.Active = true
	return nil
}

func (s *PgStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, deviceSelectSQL+` WHERE id = $1`, id)
	return scanDevice(row)
}

func (s *PgStore) GetDeviceByUUID(ctx context.Context, uuid string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, deviceSelectSQL+` WHERE device_uuid = $1`, uuid)
	return scanDevice(row)
}

const deviceSelectSQL = `
	SELECT id, device_uuid, display_name, platform, fcm_token, registration_group_id, owner_user_id, organization_id, policy_id, is_primary, is_managed, enrollment_status, active, created_at, updated_at, last_seen_at
	FROM devices`

func scanDevice(row *sql.Row) (*model.Device, error) {
	var d model.Device
	var status string
	if err := row.Scan(&d.ID, &d.DeviceUUID, &d.DisplayName, &d.Platform, &d.FCMToken, &d.RegistrationGroupID, &d.OwnerUserID, &d.OrganizationID, &d.PolicyID, &d.IsPrimary, &d.IsManaged, &status, &d.Active, &d.CreatedAt, &d.UpdatedAt, &d.LastSeenAt); err != nil {
		return nil, translateError(err, "device not found")
	}
	d.EnrollmentStatus = model.EnrollmentStatus(status)
	return &d, nil
}

// UpdateDeviceOwner implements the device auto-link-on-login semantics of
// orig spec §4.1: set owner atomically, and isPrimary only if the caller
// determined the user has no other primary device.
func (s *PgStore) UpdateDeviceOwner(ctx context.Context, deviceID string, ownerUserID string, isPrimary bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET owner_user_id = $1, is_primary = $2, updated_at = now()
		WHERE id = $3 AND owner_user_id IS NULL`, ownerUserID, isPrimary, deviceID)
	if err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

func (s *PgStore) UpdateDeviceLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = $1, updated_at = now() WHERE id = $2`, at, deviceID)
	if err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

func (s *PgStore) ListDevicesByRegistrationGroup(ctx context.Context, registrationGroupID string) ([]*model.Device, error) {
	rows, err := s.db.QueryContext(ctx, deviceSelectSQL+` WHERE registration_group_id = $1`, registrationGroupID)
	if err != nil {
		return nil, fmt.Errorf("list devices by registration group: %w", err)
	}
	defer rows.Close()

	var out []*model.Device
	for rows.Next() {
		var d model.Device
		var status string
		if err := rows.Scan(&d.ID, &d.DeviceUUID, &d.DisplayName, &d.Platform, &d.FCMToken, &d.RegistrationGroupID, &d.OwnerUserID, &d.OrganizationID, &d.PolicyID, &d.IsPrimary, &d.IsManaged, &status, &d.Active, &d.CreatedAt, &d.UpdatedAt, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.EnrollmentStatus = model.EnrollmentStatus(status)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// EnrollDevice implements orig spec §3's managed-enrollment transition:
// bind organization_id/policy_id and flip is_managed/enrollment_status in
// one statement.
func (s *PgStore) EnrollDevice(ctx context.Context, deviceID, organizationID string, policyID *string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET organization_id = $1, policy_id = $2, is_managed = true, enrollment_status = $3, updated_at = $4
		WHERE id = $5`,
		organizationID, policyID, string(model.EnrollmentEnrolled), at, deviceID)
	if err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

func (s *PgStore) ListDevicesByOrganization(ctx context.Context, organizationID string) ([]*model.Device, error) {
	rows, err := s.db.QueryContext(ctx, deviceSelectSQL+` WHERE organization_id = $1`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list devices by organization: %w", err)
	}
	defer rows.Close()

	var out []*model.Device
	for rows.Next() {
		var d model.Device
		var status string
		if err := rows.Scan(&d.ID, &d.DeviceUUID, &d.DisplayName, &d.Platform, &d.FCMToken, &d.RegistrationGroupID, &d.OwnerUserID, &d.OrganizationID, &d.PolicyID, &d.IsPrimary, &d.IsManaged, &status, &d.Active, &d.CreatedAt, &d.UpdatedAt, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.EnrollmentStatus = model.EnrollmentStatus(status)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PgStore) SetDeviceActive(ctx context.Context, deviceID string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET active = $1, updated_at = now() WHERE id = $2`, active, deviceID)
	if err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

func (s *PgStore) CreateDevicePolicy(ctx context.Context, p *model.DevicePolicy) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_policies (organization_id, name, settings, locked_settings, device_count)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id`,
		p.OrganizationID, p.Name, jsonOf(p.Settings), pq.Array(p.LockedSettings),
	)
	if err := row.Scan(&p.ID); err != nil {
		return translateError(err, "device policy not found")
	}
	return nil
}

func (s *PgStore) GetDevicePolicy(ctx context.Context, id string) (*model.DevicePolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, settings, locked_settings, device_count
		FROM device_policies WHERE id = $1`, id)
	var p model.DevicePolicy
	var settings []byte
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &settings, pq.Array(&p.LockedSettings), &p.DeviceCount); err != nil {
		return nil, translateError(err, "device policy not found")
	}
	p.Settings = mustUnmarshalMap(settings)
	return &p, nil
}

func (s *PgStore) ListSettingDefinitions(ctx context.Context) ([]*model.SettingDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, display_name, description, data_type, default_value, is_lockable, category
		FROM setting_definitions ORDER BY category, key`)
	if err != nil {
		return nil, fmt.Errorf("list setting definitions: %w", err)
	}
	defer rows.Close()

	var out []*model.SettingDefinition
	for rows.Next() {
		var d model.SettingDefinition
		var dataType string
		var defaultValue []byte
		if err := rows.Scan(&d.Key, &d.DisplayName, &d.Description, &dataType, &defaultValue, &d.IsLockable, &d.Category); err != nil {
			return nil, fmt.Errorf("scan setting definition: %w", err)
		}
		d.DataType = model.DataType(dataType)
		d.DefaultValue = mustUnmarshalAny(defaultValue)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PgStore) UpsertSettingDefinition(ctx context.Context, d *model.SettingDefinition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO setting_definitions (key, display_name, description, data_type, default_value, is_lockable, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			data_type = EXCLUDED.data_type,
			default_value = EXCLUDED.default_value,
			is_lockable = EXCLUDED.is_lockable,
			category = EXCLUDED.category`,
		d.Key, d.DisplayName, d.Description, string(d.DataType), jsonOfAny(d.DefaultValue), d.IsLockable, d.Category,
	)
	if err != nil {
		return translateError(err, "setting definition not found")
	}
	return nil
}

func (s *PgStore) GetDeviceSetting(ctx context.Context, deviceID, key string) (*model.DeviceSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, setting_key, value, is_locked, locked_by, locked_at, lock_reason
		FROM device_settings WHERE device_id = $1 AND setting_key = $2`, deviceID, key)
	return scanDeviceSetting(row)
}

func (s *PgStore) ListDeviceSettings(ctx context.Context, deviceID string) ([]*model.DeviceSetting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, setting_key, value, is_locked, locked_by, locked_at, lock_reason
		FROM device_settings WHERE device_id = $1`, deviceID)
	if err != nil {
		return nil, translateError(err, "device not found")
	}
	defer rows.Close()

	var out []*model.DeviceSetting
	for rows.Next() {
		var ds model.DeviceSetting
		var value []byte
		if err := rows.Scan(&ds.ID, &ds.DeviceID, &ds.SettingKey, &value, &ds.IsLocked, &ds.LockedBy, &ds.LockedAt, &ds.LockReason); err != nil {
			return nil, fmt.Errorf("scan device setting: %w", err)
		}
		ds.Value = mustUnmarshalAny(value)
		out = append(out, &ds)
	}
	return out, rows.Err()
}

func scanDeviceSetting(row *sql.Row) (*model.DeviceSetting, error) {
	var ds model.DeviceSetting
	var value []byte
	if err := row.Scan(&ds.ID, &ds.DeviceID, &ds.SettingKey, &value, &ds.IsLocked, &ds.LockedBy, &ds.LockedAt, &ds.LockReason); err != nil {
		return nil, translateError(err, "device setting not found")
	}
	ds.Value = mustUnmarshalAny(value)
	return &ds, nil
}

func (s *PgStore) UpsertDeviceSetting(ctx context.Context, ds *model.DeviceSetting) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_settings (device_id, setting_key, value, is_locked, locked_by, locked_at, lock_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, setting_key) DO UPDATE SET value = EXCLUDED.value
		RETURNING id`,
		ds.DeviceID, ds.SettingKey, jsonOfAny(ds.Value), ds.IsLocked, ds.LockedBy, ds.LockedAt, ds.LockReason,
	)
	if err := row.Scan(&ds.ID); err != nil {
		return translateError(err, "device setting not found")
	}
	return nil
}

func (s *PgStore) LockDeviceSetting(ctx context.Context, deviceID, key, lockedBy string, at time.Time, reason *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE device_settings SET is_locked = true, locked_by = $1, locked_at = $2, lock_reason = $3
		WHERE device_id = $4 AND setting_key = $5`, lockedBy, at, reason, deviceID, key)
	if err != nil {
		return translateError(err, "device setting not found")
	}
	return nil
}

func (s *PgStore) UnlockDeviceSetting(ctx context.Context, deviceID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE device_settings SET is_locked = false, locked_by = NULL, locked_at = NULL, lock_reason = NULL
		WHERE device_id = $1 AND setting_key = $2`, deviceID, key)
	if err != nil {
		return translateError(err, "device setting not found")
	}
	return nil
}
