package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) CreateOrganization(ctx context.Context, o *model.Organization) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (name, slug, plan, max_users, max_devices, max_groups, default_settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		o.Name, o.Slug, o.Plan, o.MaxUsers, o.MaxDevices, o.MaxGroups, jsonOf(o.DefaultSettings),
	)
	if err := row.Scan(&o.ID); err != nil {
		return translateError(err, "organization not found")
	}
	return nil
}

func (s *PgStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, max_users, max_devices, max_groups, default_settings, suspended_at
		FROM organizations WHERE id = $1`, id)
	var o model.Organization
	var settings []byte
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.MaxUsers, &o.MaxDevices, &o.MaxGroups, &settings, &o.SuspendedAt); err != nil {
		return nil, translateError(err, "organization not found")
	}
	o.DefaultSettings = mustUnmarshalMap(settings)
	return &o, nil
}

func (s *PgStore) CreateOrgUser(ctx context.Context, ou *model.OrgUser) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO org_users (organization_id, user_id, role, permissions, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, now(), $5)
		RETURNING id, granted_at`,
		ou.OrganizationID, ou.UserID, string(ou.Role), pq.Array(ou.Permissions), ou.GrantedBy,
	)
	if err := row.Scan(&ou.ID, &ou.GrantedAt); err != nil {
		return translateError(err, "org user not found")
	}
	return nil
}

func (s *PgStore) GetOrgUser(ctx context.Context, orgID, userID string) (*model.OrgUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, permissions, granted_at, granted_by, suspended_at, suspended_by, suspension_reason
		FROM org_users WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	return scanOrgUser(row)
}

func (s *PgStore) ListOrgUsers(ctx context.Context, orgID string) ([]*model.OrgUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, role, permissions, granted_at, granted_by, suspended_at, suspended_by, suspension_reason
		FROM org_users WHERE organization_id = $1 ORDER BY granted_at`, orgID)
	if err != nil {
		return nil, translateError(err, "organization not found")
	}
	defer rows.Close()

	var out []*model.OrgUser
	for rows.Next() {
		var ou model.OrgUser
		var role string
		if err := rows.Scan(&ou.ID, &ou.OrganizationID, &ou.UserID, &role, pq.Array(&ou.Permissions), &ou.GrantedAt, &ou.GrantedBy, &ou.SuspendedAt, &ou.SuspendedBy, &ou.SuspensionReason); err != nil {
			return nil, fmt.Errorf("scan org user: %w", err)
		}
		ou.Role = model.Role(role)
		out = append(out, &ou)
	}
	return out, rows.Err()
}

func scanOrgUser(row *sql.Row) (*model.OrgUser, error) {
	var ou model.OrgUser
	var role string
	if err := row.Scan(&ou.ID, &ou.OrganizationID, &ou.UserID, &role, pq.Array(&ou.Permissions), &ou.GrantedAt, &ou.GrantedBy, &ou.SuspendedAt, &ou.SuspendedBy, &ou.SuspensionReason); err != nil {
		return nil, translateError(err, "org user not found")
	}
	ou.Role = model.Role(role)
	return &ou, nil
}

func (s *PgStore) UpdateOrgUserRole(ctx context.Context, orgID, userID string, role model.Role) error {
	_, err := s.db.ExecContext(ctx, `UPDATE org_users SET role = $1 WHERE organization_id = $2 AND user_id = $3`, string(role), orgID, userID)
	if err != nil {
		return translateError(err, "org user not found")
	}
	return nil
}

func (s *PgStore) CountNonSuspendedOwners(ctx context.Context, orgID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM org_users WHERE organization_id = $1 AND role = 'owner' AND suspended_at IS NULL`, orgID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count org owners: %w", err)
	}
	return n, nil
}

func (s *PgStore) CreateGroup(ctx context.Context, g *model.Group) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, slug, icon_emoji, owner_user_id, organization_id, policy_id, settings, max_devices)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		g.Name, g.Slug, g.IconEmoji, g.OwnerUserID, g.OrganizationID, g.PolicyID, jsonOf(g.Settings), g.MaxDevices,
	)
	if err := row.Scan(&g.ID, &g.CreatedAt); err != nil {
		return translateError(err, "group not found")
	}
	return nil
}

func (s *PgStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = $1, icon_emoji = $2, settings = $3, max_devices = $4
		WHERE id = $5`,
		g.Name, g.IconEmoji, jsonOf(g.Settings), g.MaxDevices, g.ID,
	)
	if err != nil {
		return translateError(err, "group not found")
	}
	return nil
}

func (s *PgStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, icon_emoji, owner_user_id, organization_id, policy_id, settings, max_devices, created_at
		FROM groups WHERE id = $1`, id)
	return scanGroup(row)
}

func (s *PgStore) GetGroupBySlug(ctx context.Context, slug string) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, icon_emoji, owner_user_id, organization_id, policy_id, settings, max_devices, created_at
		FROM groups WHERE slug = $1`, slug)
	return scanGroup(row)
}

func scanGroup(row *sql.Row) (*model.Group, error) {
	var g model.Group
	var settings []byte
	if err := row.Scan(&g.ID, &g.Name, &g.Slug, &g.IconEmoji, &g.OwnerUserID, &g.OrganizationID, &g.PolicyID, &settings, &g.MaxDevices, &g.CreatedAt); err != nil {
		return nil, translateError(err, "group not found")
	}
	g.Settings = mustUnmarshalMap(settings)
	return &g, nil
}

func (s *PgStore) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "group not found")
	}
	return nil
}

func (s *PgStore) CreateGroupMembership(ctx context.Context, m *model.GroupMembership) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO group_memberships (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, joined_at`,
		m.GroupID, m.UserID, string(m.Role),
	)
	if err := row.Scan(&m.ID, &m.JoinedAt); err != nil {
		return translateError(err, "group membership not found")
	}
	return nil
}

func (s *PgStore) GetGroupMembership(ctx context.Context, groupID, userID string) (*model.GroupMembership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, user_id, role, joined_at FROM group_memberships
		WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return scanGroupMembership(row)
}

func (s *PgStore) ListGroupMemberships(ctx context.Context, groupID string) ([]*model.GroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, user_id, role, joined_at FROM group_memberships
		WHERE group_id = $1 ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, translateError(err, "group not found")
	}
	defer rows.Close()
	return scanGroupMemberships(rows)
}

func (s *PgStore) ListGroupsForUser(ctx context.Context, userID string) ([]*model.GroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, user_id, role, joined_at FROM group_memberships
		WHERE user_id = $1 ORDER BY joined_at`, userID)
	if err != nil {
		return nil, translateError(err, "user not found")
	}
	defer rows.Close()
	return scanGroupMemberships(rows)
}

func scanGroupMemberships(rows *sql.Rows) ([]*model.GroupMembership, error) {
	var out []*model.GroupMembership
	for rows.Next() {
		m, err := scanGroupMembershipRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanGroupMembershipRows(rows *sql.Rows) (*model.GroupMembership, error) {
	var m model.GroupMembership
	var role string
	if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &role, &m.JoinedAt); err != nil {
		return nil, fmt.Errorf("scan group membership: %w", err)
	}
	m.Role = model.GroupRole(role)
	return &m, nil
}

func scanGroupMembership(row *sql.Row) (*model.GroupMembership, error) {
	var m model.GroupMembership
	var role string
	if err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &role, &m.JoinedAt); err != nil {
		return nil, translateError(err, "group membership not found")
	}
	m.Role = model.GroupRole(role)
	return &m, nil
}

func (s *PgStore) UpdateGroupMembershipRole(ctx context.Context, groupID, userID string, role model.GroupRole) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE group_memberships SET role = $1 WHERE group_id = $2 AND user_id = $3`, string(role), groupID, userID)
	if err != nil {
		return translateError(err, "group membership not found")
	}
	return nil
}

func (s *PgStore) DeleteGroupMembership(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return translateError(err, "group membership not found")
	}
	return nil
}

func (s *PgStore) CountGroupOwners(ctx context.Context, groupID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT count(*) FROM group_memberships WHERE group_id = $1 AND role = 'owner'`, groupID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count group owners: %w", err)
	}
	return n, nil
}

// TransferGroupOwnership atomically demotes currentOwnerID to admin and
// promotes targetUserID to owner (orig spec §4.2 transfer operation).
func (s *PgStore) TransferGroupOwnership(ctx context.Context, groupID, currentOwnerID, targetUserID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var targetExists bool
	row := tx.QueryRowContext(ctx, `SELECT exists(SELECT 1 FROM group_memberships WHERE group_id = $1 AND user_id = $2)`, groupID, targetUserID)
	if err := row.Scan(&targetExists); err != nil {
		return fmt.Errorf("check target membership: %w", err)
	}
	if !targetExists {
		return apperr.NewValidation("target user must already be a group member", map[string]any{"user_id": targetUserID})
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE group_memberships SET role = 'owner' WHERE group_id = $1 AND user_id = $2`, groupID, targetUserID); err != nil {
		return fmt.Errorf("promote target to owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE group_memberships SET role = 'admin' WHERE group_id = $1 AND user_id = $2`, groupID, currentOwnerID); err != nil {
		return fmt.Errorf("demote current owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE groups SET owner_user_id = $1 WHERE id = $2`, targetUserID, groupID); err != nil {
		return fmt.Errorf("update group owner: %w", err)
	}
	return tx.Commit()
}

func (s *PgStore) CreateDeviceGroupMembership(ctx context.Context, m *model.DeviceGroupMembership) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_group_memberships (device_id, group_id, added_by, added_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, added_at`,
		m.DeviceID, m.GroupID, m.AddedBy,
	)
	if err := row.Scan(&m.ID, &m.AddedAt); err != nil {
		return translateError(err, "device group membership not found")
	}
	return nil
}

func (s *PgStore) ListDeviceGroupMemberships(ctx context.Context, deviceID string) ([]*model.DeviceGroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, group_id, added_by, added_at FROM device_group_memberships
		WHERE device_id = $1 ORDER BY added_at`, deviceID)
	if err != nil {
		return nil, translateError(err, "device not found")
	}
	defer rows.Close()

	var out []*model.DeviceGroupMembership
	for rows.Next() {
		var m model.DeviceGroupMembership
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.GroupID, &m.AddedBy, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan device group membership: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PgStore) ListGroupsForDevice(ctx context.Context, deviceID string) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.slug, g.icon_emoji, g.owner_user_id, g.organization_id, g.policy_id, g.settings, g.max_devices, g.created_at
		FROM groups g JOIN device_group_memberships m ON m.group_id = g.id
		WHERE m.device_id = $1 ORDER BY g.created_at`, deviceID)
	if err != nil {
		return nil, translateError(err, "device not found")
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		var g model.Group
		var settings []byte
		if err := rows.Scan(&g.ID, &g.Name, &g.Slug, &g.IconEmoji, &g.OwnerUserID, &g.OrganizationID, &g.PolicyID, &settings, &g.MaxDevices, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Settings = mustUnmarshalMap(settings)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteDeviceGroupMembership(ctx context.Context, deviceID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_group_memberships WHERE device_id = $1 AND group_id = $2`, deviceID, groupID)
	if err != nil {
		return translateError(err, "device group membership not found")
	}
	return nil
}

func (s *PgStore) CreateGroupInvite(ctx context.Context, inv *model.GroupInvite) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO group_invites (group_id, code, preset_role, max_uses, current_uses, expires_at, created_by)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id`,
		inv.GroupID, inv.Code, string(inv.PresetRole), inv.MaxUses, inv.ExpiresAt, inv.CreatedBy,
	)
	if err := row.Scan(&inv.ID); err != nil {
		return translateError(err, "group invite not found")
	}
	return nil
}

func (s *PgStore) GetGroupInviteByCode(ctx context.Context, code string) (*model.GroupInvite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, code, preset_role, max_uses, current_uses, expires_at, created_by, revoked_at
		FROM group_invites WHERE code = $1`, code)
	var inv model.GroupInvite
	var role string
	if err := row.Scan(&inv.ID, &inv.GroupID, &inv.Code, &role, &inv.MaxUses, &inv.CurrentUses, &inv.ExpiresAt, &inv.CreatedBy, &inv.RevokedAt); err != nil {
		return nil, translateError(err, "group invite not found")
	}
	inv.PresetRole = model.GroupRole(role)
	return &inv, nil
}

// RedeemGroupInvite inserts the membership and increments current_uses in
// one transaction (orig spec §4.2 invite join).
func (s *PgStore) RedeemGroupInvite(ctx context.Context, inviteID, userID string, role model.GroupRole) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var groupID string
	row := tx.QueryRowContext(ctx, `SELECT group_id FROM group_invites WHERE id = $1 FOR UPDATE`, inviteID)
	if err := row.Scan(&groupID); err != nil {
		return translateError(err, "group invite not found")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_memberships (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, now())`,
		groupID, userID, string(role)); err != nil {
		return translateError(err, "group membership not found")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE group_invites SET current_uses = current_uses + 1 WHERE id = $1`, inviteID); err != nil {
		return fmt.Errorf("increment invite uses: %w", err)
	}
	return tx.Commit()
}
