package model

import "time"

// Device is a physical or simulated tracked device (orig spec §3, Device).
// When OwnerUserID is set, the device is "bound"; RegistrationGroupID may
// still coexist as a legacy anonymous-sharing tag.
type Device struct {
	ID                  string           `json:"id"`
	DeviceUUID          string           `json:"deviceUuid"`
	DisplayName         string           `json:"displayName"`
	Platform            string           `json:"platform"`
	FCMToken            *string          `json:"fcmToken,omitempty"`
	RegistrationGroupID *string          `json:"registrationGroupId,omitempty"`
	OwnerUserID         *string          `json:"ownerUserId,omitempty"`
	OrganizationID      *string          `json:"organizationId,omitempty"`
	PolicyID            *string          `json:"policyId,omitempty"`
	IsPrimary           bool             `json:"isPrimary"`
	IsManaged           bool             `json:"isManaged"`
	EnrollmentStatus    EnrollmentStatus `json:"enrollmentStatus"`
	Active              bool             `json:"active"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
	LastSeenAt          *time.Time       `json:"lastSeenAt,omitempty"`
}

// Bound reports whether the device has a claiming user.
func (d *Device) Bound() bool { return d.OwnerUserID != nil }

// DevicePolicy is an organization-scoped named bundle of settings and
// locked keys (orig spec §3, DevicePolicy), assignable to devices directly
// or via a group.
type DevicePolicy struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Name           string         `json:"name"`
	Settings       map[string]any `json:"settings,omitempty"`
	LockedSettings []string       `json:"lockedSettings,omitempty"`
	DeviceCount    int            `json:"deviceCount"`
}

// SettingDefinition is the catalog entry for one settable device key (orig
// spec §3, SettingDefinition), seeded at startup from an embedded YAML
// catalog (internal/policy/settings_seed.yaml).
type SettingDefinition struct {
	Key          string   `json:"key"`
	DisplayName  string   `json:"displayName"`
	Description  string   `json:"description"`
	DataType     DataType `json:"dataType"`
	DefaultValue any      `json:"defaultValue"`
	IsLockable   bool     `json:"isLockable"`
	Category     string   `json:"category"`
}

// DeviceSetting is a device's direct override of a setting key (orig spec
// §3, DeviceSetting). Constraint: IsLocked implies LockedBy and LockedAt
// are both non-nil.
type DeviceSetting struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"deviceId"`
	SettingKey string     `json:"settingKey"`
	Value      any        `json:"value"`
	IsLocked   bool       `json:"isLocked"`
	LockedBy   *string    `json:"lockedBy,omitempty"`
	LockedAt   *time.Time `json:"lockedAt,omitempty"`
	LockReason *string    `json:"lockReason,omitempty"`
}
