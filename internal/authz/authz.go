// Package authz is the multi-tier authorization engine (orig spec C6):
// role hierarchy, group/org/device ACL checks, ownership transfer, and
// registration-group → authenticated-group migration. Grounded on the
// teacher's internal/handler/middleware.go RequireScope checks,
// generalized from flat scopes to the role-hierarchy model of orig spec
// §4.2.
package authz

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/cryptoutil"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// Engine implements every operation of orig spec §4.2.
type Engine struct {
	groups  store.GroupStore
	devices store.DeviceStore
	logger  *zap.SugaredLogger
}

func New(groups store.GroupStore, devices store.DeviceStore, logger *zap.SugaredLogger) *Engine {
	return &Engine{groups: groups, devices: devices, logger: logger}
}

// CanPromote reports whether actor (with role actorRole) may change a
// target member's role to newRole within a group. Only the owner may
// promote to owner or act on another admin; admins may manage members but
// not peers (orig spec §4.2 rules).
func CanPromote(actorRole, targetCurrentRole, newRole model.GroupRole) bool {
	if actorRole == model.GroupRoleOwner {
		return true
	}
	if actorRole != model.GroupRoleAdmin {
		return false
	}
	if newRole == model.GroupRoleOwner {
		return false
	}
	if targetCurrentRole == model.GroupRoleAdmin || targetCurrentRole == model.GroupRoleOwner {
		return false
	}
	return true
}

// CanActOnMember reports whether actorRole may remove/demote a member
// currently at targetRole (orig spec §4.2: admins cannot act on other
// admins or the owner).
func CanActOnMember(actorRole, targetRole model.GroupRole) bool {
	if actorRole == model.GroupRoleOwner {
		return targetRole != model.GroupRoleOwner
	}
	if actorRole == model.GroupRoleAdmin {
		return targetRole == model.GroupRoleMember || targetRole == model.GroupRoleViewer
	}
	return false
}

// CanActOnDevice implements orig spec §4.2's device authorization: a user
// may act on a device iff they own it, or are admin/owner of any group
// containing it, or admin/owner of its organization.
func (e *Engine) CanActOnDevice(ctx context.Context, userID string, d *model.Device, orgRole *model.Role) (bool, error) {
	if d.OwnerUserID != nil && *d.OwnerUserID == userID {
		return true, nil
	}
	if orgRole != nil && d.OrganizationID != nil && (*orgRole == model.RoleOwner || *orgRole == model.RoleAdmin) {
		return true, nil
	}
	groups, err := e.groups.ListGroupsForDevice(ctx, d.ID)
	if err != nil {
		return false, fmt.Errorf("list groups for device: %w", err)
	}
	for _, g := range groups {
		m, err := e.groups.GetGroupMembership(ctx, g.ID, userID)
		if err != nil {
			continue
		}
		if m.Role == model.GroupRoleOwner || m.Role == model.GroupRoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

// CanViewDevice is CanActOnDevice's read counterpart: viewer-or-higher in
// any containing group is sufficient (orig spec §4.2).
func (e *Engine) CanViewDevice(ctx context.Context, userID string, d *model.Device, orgRole *model.Role) (bool, error) {
	if ok, err := e.CanActOnDevice(ctx, userID, d, orgRole); ok || err != nil {
		return ok, err
	}
	groups, err := e.groups.ListGroupsForDevice(ctx, d.ID)
	if err != nil {
		return false, fmt.Errorf("list groups for device: %w", err)
	}
	for _, g := range groups {
		if _, err := e.groups.GetGroupMembership(ctx, g.ID, userID); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// TransferGroupOwnership implements the dedicated transfer operation of
// orig spec §4.2: target must already be a member; the store performs the
// demote-and-promote atomically.
func (e *Engine) TransferGroupOwnership(ctx context.Context, groupID, currentOwnerID, targetUserID string) error {
	owners, err := e.groups.CountGroupOwners(ctx, groupID)
	if err != nil {
		return fmt.Errorf("count group owners: %w", err)
	}
	if owners == 0 {
		return apperr.NewInternal("group has no recorded owner", nil)
	}
	return e.groups.TransferGroupOwnership(ctx, groupID, currentOwnerID, targetUserID)
}

// RemoveMember enforces the "every group has >= 1 owner" invariant at the
// application layer in addition to the database trigger (orig spec §4.2).
func (e *Engine) RemoveMember(ctx context.Context, groupID, actorUserID, targetUserID string) error {
	actor, err := e.groups.GetGroupMembership(ctx, groupID, actorUserID)
	if err != nil {
		return err
	}
	target, err := e.groups.GetGroupMembership(ctx, groupID, targetUserID)
	if err != nil {
		return err
	}
	if !CanActOnMember(actor.Role, target.Role) {
		return apperr.NewForbidden("insufficient role to remove this member")
	}
	if target.Role == model.GroupRoleOwner {
		owners, err := e.groups.CountGroupOwners(ctx, groupID)
		if err != nil {
			return fmt.Errorf("count group owners: %w", err)
		}
		if owners <= 1 {
			return apperr.NewConflict("cannot remove the group's last owner")
		}
	}
	return e.groups.DeleteGroupMembership(ctx, groupID, targetUserID)
}

// MigrateRegistrationGroup runs the full 6-step migration of orig spec
// §4.2. The store performs steps 1-5 in a transaction and step 6
// (idempotence) by checking for a prior MigrationAuditLog first.
func (e *Engine) MigrateRegistrationGroup(ctx context.Context, callerUserID, registrationGroupID, groupName string) (*model.MigrationAuditLog, error) {
	return e.groups.MigrateRegistrationGroup(ctx, callerUserID, registrationGroupID, groupName)
}

// JoinByInviteCode implements orig spec §4.2's invite join: validate
// format, fetch, check usability, reject existing members, then redeem in
// one transaction.
func (e *Engine) JoinByInviteCode(ctx context.Context, code, userID string) (*model.GroupInvite, error) {
	if !validInviteCodeFormat(code) {
		return nil, apperr.NewValidation("invite code must be in XXX-XXX-XXX format", map[string]any{"code": code})
	}
	inv, err := e.groups.GetGroupInviteByCode(ctx, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.NewNotFound("invite not found")
		}
		return nil, err
	}
	if !inv.Usable(model.SystemClock()) {
		return nil, apperr.NewGone("invite is expired, revoked, or exhausted")
	}
	if _, err := e.groups.GetGroupMembership(ctx, inv.GroupID, userID); err == nil {
		return nil, apperr.NewConflict("already a member of this group")
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}
	if err := e.groups.RedeemGroupInvite(ctx, inv.ID, userID, inv.PresetRole); err != nil {
		return nil, err
	}
	return inv, nil
}

func validInviteCodeFormat(code string) bool {
	if len(code) != 11 {
		return false
	}
	for i, r := range code {
		switch {
		case i == 3 || i == 7:
			if r != '-' {
				return false
			}
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// GenerateInviteCode is exposed so handlers can create invites without
// importing cryptoutil directly.
func GenerateInviteCode() (string, error) {
	return cryptoutil.InviteCode()
}
