// Package store is the storage adapter (orig spec C1): parameterized SQL
// over PostgreSQL + PostGIS, transactions, and connection pooling. It is
// deliberately not an ORM (orig spec Non-goals) — every query is explicit
// SQL, grounded on the teacher's internal/store/pg.go raw-SQL style.
package store

import (
	"context"
	"time"

	"github.com/pathmark/pathmark/internal/model"
)

// IdentityStore covers users, sessions, API keys, and device tokens (orig
// spec C3).
type IdentityStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUserLastLogin(ctx context.Context, userID string, at time.Time) error
	SuspendUser(ctx context.Context, userID string, at time.Time) error

	CreateSession(ctx context.Context, s *model.UserSession) error
	GetSessionByJTIHash(ctx context.Context, jtiHash string) (*model.UserSession, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
	RevokeAllSessionsForUser(ctx context.Context, userID string, at time.Time) error
	// RotateSession revokes the session with oldJTIHash and inserts next in
	// a single transaction (orig spec §4.1 refresh rotation).
	RotateSession(ctx context.Context, oldJTIHash string, next *model.UserSession) (*model.UserSession, error)

	CreateAPIKey(ctx context.Context, k *model.ApiKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.ApiKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error

	CreateDeviceToken(ctx context.Context, t *model.DeviceToken) error
	GetDeviceTokenByHash(ctx context.Context, tokenHash string) (*model.DeviceToken, error)
}

// GroupStore covers organizations, groups, memberships, and invites (orig
// spec C5).
type GroupStore interface {
	CreateOrganization(ctx context.Context, o *model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)

	CreateOrgUser(ctx context.Context, ou *model.OrgUser) error
	GetOrgUser(ctx context.Context, orgID, userID string) (*model.OrgUser, error)
	ListOrgUsers(ctx context.Context, orgID string) ([]*model.OrgUser, error)
	UpdateOrgUserRole(ctx context.Context, orgID, userID string, role model.Role) error
	CountNonSuspendedOwners(ctx context.Context, orgID string) (int, error)

	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	GetGroupBySlug(ctx context.Context, slug string) (*model.Group, error)
	// UpdateGroup persists changes to an already-created group's mutable
	// fields (name, icon, settings, max devices).
	UpdateGroup(ctx context.Context, g *model.Group) error
	DeleteGroup(ctx context.Context, id string) error

	CreateGroupMembership(ctx context.Context, m *model.GroupMembership) error
	GetGroupMembership(ctx context.Context, groupID, userID string) (*model.GroupMembership, error)
	ListGroupMemberships(ctx context.Context, groupID string) ([]*model.GroupMembership, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*model.GroupMembership, error)
	UpdateGroupMembershipRole(ctx context.Context, groupID, userID string, role model.GroupRole) error
	DeleteGroupMembership(ctx context.Context, groupID, userID string) error
	CountGroupOwners(ctx context.Context, groupID string) (int, error)
	// TransferGroupOwnership atomically demotes the current owner to admin
	// and promotes targetUserID to owner (orig spec §4.2 transfer).
	TransferGroupOwnership(ctx context.Context, groupID, currentOwnerID, targetUserID string) error

	CreateDeviceGroupMembership(ctx context.Context, m *model.DeviceGroupMembership) error
	ListDeviceGroupMemberships(ctx context.Context, deviceID string) ([]*model.DeviceGroupMembership, error)
	ListGroupsForDevice(ctx context.Context, deviceID string) ([]*model.Group, error)
	DeleteDeviceGroupMembership(ctx context.Context, deviceID, groupID string) error

	CreateGroupInvite(ctx context.Context, inv *model.GroupInvite) error
	GetGroupInviteByCode(ctx context.Context, code string) (*model.GroupInvite, error)
	// RedeemGroupInvite inserts the membership and increments CurrentUses
	// in one transaction (orig spec §4.2 invite join).
	RedeemGroupInvite(ctx context.Context, inviteID, userID string, role model.GroupRole) error

	// MigrateRegistrationGroup performs the full 6-step migration
	// transaction (orig spec §4.2) and is idempotent on
	// (callerUserID, registrationGroupID).
	MigrateRegistrationGroup(ctx context.Context, callerUserID, registrationGroupID, groupName string) (*model.MigrationAuditLog, error)
	GetMigrationAuditLog(ctx context.Context, callerUserID, registrationGroupID string) (*model.MigrationAuditLog, error)
}

// DeviceStore covers devices, policies, setting definitions, and device
// settings (orig spec C1/C7 support tables).
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *model.Device) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	GetDeviceByUUID(ctx context.Context, uuid string) (*model.Device, error)
	UpdateDeviceOwner(ctx context.Context, deviceID string, ownerUserID string, isPrimary bool) error
	UpdateDeviceLastSeen(ctx context.Context, deviceID string, at time.Time) error
	ListDevicesByRegistrationGroup(ctx context.Context, registrationGroupID string) ([]*model.Device, error)
	// ListDevicesByOrganization backs the admin fleet view (orig spec §6
	// admin tree).
	ListDevicesByOrganization(ctx context.Context, organizationID string) ([]*model.Device, error)
	SetDeviceActive(ctx context.Context, deviceID string, active bool) error
	// EnrollDevice converts an unmanaged device into an organization-scoped
	// managed device, setting its policy and enrollment status in one
	// update (orig spec §3 Device.EnrollmentStatus transition).
	EnrollDevice(ctx context.Context, deviceID, organizationID string, policyID *string, at time.Time) error

	CreateDevicePolicy(ctx context.Context, p *model.DevicePolicy) error
	GetDevicePolicy(ctx context.Context, id string) (*model.DevicePolicy, error)

	ListSettingDefinitions(ctx context.Context) ([]*model.SettingDefinition, error)
	UpsertSettingDefinition(ctx context.Context, d *model.SettingDefinition) error

	GetDeviceSetting(ctx context.Context, deviceID, key string) (*model.DeviceSetting, error)
	ListDeviceSettings(ctx context.Context, deviceID string) ([]*model.DeviceSetting, error)
	UpsertDeviceSetting(ctx context.Context, s *model.DeviceSetting) error
	LockDeviceSetting(ctx context.Context, deviceID, key, lockedBy string, at time.Time, reason *string) error
	UnlockDeviceSetting(ctx context.Context, deviceID, key string) error
}

// LocationStore covers location and movement-event telemetry (orig spec
// C8).
type LocationStore interface {
	InsertLocation(ctx context.Context, l *model.Location) error
	// InsertLocationBatch inserts all items in one transaction; partial
	// failure rolls back the whole batch (orig spec §4.4).
	InsertLocationBatch(ctx context.Context, ls []*model.Location) error
	InsertMovementEvent(ctx context.Context, e *model.MovementEvent) error
	InsertMovementEventBatch(ctx context.Context, es []*model.MovementEvent) error

	// ListLocations returns up to limit+1 rows ordered by (captured_at, id)
	// for cursor-pagination by the caller (orig spec §4.4).
	ListLocations(ctx context.Context, deviceID string, q LocationQuery) ([]*model.Location, error)
	ListMovementEventsForTrip(ctx context.Context, tripID string) ([]*model.MovementEvent, error)

	// DeleteLocationsOlderThan deletes up to batchSize rows with
	// created_at < cutoff and returns the number deleted (orig spec §4.4
	// retention sweep).
	DeleteLocationsOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// LocationQuery is the cursor-pagination + filter input for ListLocations.
type LocationQuery struct {
	Cursor *Cursor
	From   *time.Time
	To     *time.Time
	Order  string // "asc" or "desc"
	Limit  int
}

// Cursor is the decoded (captured_at, id) pagination tiebreak.
type Cursor struct {
	CapturedAt time.Time
	ID         string
}

// TripStore covers trips and path corrections (orig spec C9).
type TripStore interface {
	// CreateOrGetTrip is idempotent on (device_id, local_trip_id): returns
	// (trip, created=true) on first insert, (trip, created=false) if the
	// pair already exists, or a Conflict error if another trip for the
	// device is ACTIVE (orig spec §4.5).
	CreateOrGetTrip(ctx context.Context, t *model.Trip) (trip *model.Trip, created bool, err error)
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
	GetActiveTrip(ctx context.Context, deviceID string) (*model.Trip, error)
	// UpdateTripState transitions state and, for COMPLETED, records the
	// end fields, all in one transaction (orig spec §4.5).
	UpdateTripState(ctx context.Context, id string, next model.TripState, end *TripEnd) error
	// ComputeTripDistance sums geodetic point-to-point distance over the
	// trip's start point, movement events, and end point via a spatial SQL
	// query (orig spec §4.5 statistics).
	ComputeTripDistance(ctx context.Context, tripID string) (float64, error)
	SetTripStatistics(ctx context.Context, id string, distanceMeters, durationSeconds float64) error

	UpsertTripPathCorrection(ctx context.Context, c *model.TripPathCorrection) error
	GetTripPathCorrection(ctx context.Context, tripID string) (*model.TripPathCorrection, error)
}

// TripEnd carries the fields required to complete a trip.
type TripEnd struct {
	EndTimestamp time.Time
	EndPoint     model.GeoPoint
}

// WebhookStore covers webhooks and their delivery attempts (orig spec C11).
type WebhookStore interface {
	ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]*model.Webhook, error)
	EnqueueDelivery(ctx context.Context, d *model.WebhookDelivery) error
	// ListDueDeliveries selects up to limit rows with next_retry_at <= now
	// (orig spec §4.6 retry loop).
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error)
	RecordDeliveryOutcome(ctx context.Context, d *model.WebhookDelivery) error
	DeleteDeliveriesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore covers append-only audit logging and export jobs (orig spec
// C12).
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *model.AuditLog) error
	QueryAuditLogs(ctx context.Context, q AuditQuery) ([]*model.AuditLog, error)
	CountAuditLogs(ctx context.Context, q AuditQuery) (int, error)

	// CreateExportJob persists a new pending job along with the query it
	// must be executed against, so the scheduler's poller can recover it
	// without the original HTTP request's context (orig spec §5
	// audit-export job poller).
	CreateExportJob(ctx context.Context, j *model.AuditExportJob, q AuditQuery) error
	GetExportJob(ctx context.Context, id string) (*model.AuditExportJob, error)
	// ClaimPendingExportJobs atomically marks up to limit pending jobs as
	// processing (via SELECT ... FOR UPDATE SKIP LOCKED) and returns them,
	// so concurrent scheduler replicas never double-process a job.
	ClaimPendingExportJobs(ctx context.Context, limit int) ([]PendingExportJob, error)
	CompleteExportJob(ctx context.Context, id, downloadURL string, expiresAt time.Time) error
	FailExportJob(ctx context.Context, id, errMsg string) error
}

// PendingExportJob is a claimed audit-export job ready for the scheduler's
// poller to execute (orig spec §5, §4.7).
type PendingExportJob struct {
	JobID  string
	Format string
	Query  AuditQuery
}

// AuditQuery filters AuditLog rows for both the synchronous and async
// export paths (orig spec §4.7).
type AuditQuery struct {
	OrganizationID *string
	ActorID        *string
	ResourceType   *string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// Store is the full storage adapter used by every subsystem above C1. A
// single PgStore implements all of these; callers typically depend on the
// narrower sub-interface their package needs.
type Store interface {
	IdentityStore
	GroupStore
	DeviceStore
	LocationStore
	TripStore
	WebhookStore
	AuditStore

	Close() error
}
