package model

import "time"

// Organization is a billing/fleet tenant (orig spec §3, Organization).
type Organization struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Slug            string         `json:"slug"`
	Plan            string         `json:"plan"`
	MaxUsers        int            `json:"maxUsers"`
	MaxDevices      int            `json:"maxDevices"`
	MaxGroups       int            `json:"maxGroups"`
	DefaultSettings map[string]any `json:"defaultSettings,omitempty"`
	SuspendedAt     *time.Time     `json:"suspendedAt,omitempty"`
}

// OrgUser binds a User to an Organization with a role (orig spec §3,
// OrgUser). Invariant: every organization has at least one non-suspended
// owner; internal/handler's AdminHandlers.UpdateUserRole refuses to demote
// the last one.
type OrgUser struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organizationId"`
	UserID           string     `json:"userId"`
	Role             Role       `json:"role"`
	Permissions      []string   `json:"permissions,omitempty"`
	GrantedAt        time.Time  `json:"grantedAt"`
	GrantedBy        string     `json:"grantedBy"`
	SuspendedAt      *time.Time `json:"suspendedAt,omitempty"`
	SuspendedBy      *string    `json:"suspendedBy,omitempty"`
	SuspensionReason *string    `json:"suspensionReason,omitempty"`
}

// Group is a first-class, user-owned authenticated group (orig spec §3,
// Group), distinct from the legacy registration_group_id string a device
// may carry before it is claimed.
type Group struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	IconEmoji      *string        `json:"iconEmoji,omitempty"`
	OwnerUserID    string         `json:"ownerUserId"`
	OrganizationID *string        `json:"organizationId,omitempty"`
	PolicyID       *string        `json:"policyId,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
	MaxDevices     int            `json:"maxDevices"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// GroupMembership binds a User to a Group with a GroupRole (orig spec §3,
// GroupMembership). Invariant: every group has at least one owner; a
// database trigger blocks the last owner's removal or demotion, and
// internal/authz's RemoveMember also refuses to remove the last owner.
type GroupMembership struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"groupId"`
	UserID   string    `json:"userId"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// DeviceGroupMembership binds a Device to an authenticated Group (orig spec
// §3, DeviceGroupMembership). A device may belong to many groups at once.
type DeviceGroupMembership struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"deviceId"`
	GroupID  string    `json:"groupId"`
	AddedBy  string    `json:"addedBy"`
	AddedAt  time.Time `json:"addedAt"`
}

// GroupInvite is a redeemable join code (orig spec §3, GroupInvite).
// Usable iff CurrentUses < MaxUses, ExpiresAt is in the future, and
// RevokedAt is nil.
type GroupInvite struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"groupId"`
	Code        string     `json:"code"`
	PresetRole  GroupRole  `json:"presetRole"`
	MaxUses     int        `json:"maxUses"`
	CurrentUses int        `json:"currentUses"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CreatedBy   string     `json:"createdBy"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

// Usable reports whether the invite can still be redeemed at now.
func (g *GroupInvite) Usable(now time.Time) bool {
	return g.RevokedAt == nil && g.CurrentUses < g.MaxUses && g.ExpiresAt.After(now)
}

// MigrationAuditLog records the outcome of a registration-group →
// authenticated-group migration (orig spec §3, MigrationAuditLog), keyed
// for idempotence on (UserID, RegistrationGroupID).
type MigrationAuditLog struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"userId"`
	RegistrationGroupID  string          `json:"registrationGroupId"`
	AuthenticatedGroupID string          `json:"authenticatedGroupId"`
	DevicesMigrated      int             `json:"devicesMigrated"`
	DeviceIDs            []string        `json:"deviceIds"`
	Status               MigrationStatus `json:"status"`
	ErrorMessage         *string         `json:"errorMessage,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}
