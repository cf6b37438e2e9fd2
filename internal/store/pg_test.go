package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/model"
)

// startPostgres boots a disposable postgis/postgis container, points a
// PgStore at it (running the inline migration, PostGIS extension included),
// and returns a cleanup func. Grounded on the teacher's
// internal/store/pg_test.go startPostgres helper.
func startPostgres(t *testing.T, ctx context.Context) (*PgStore, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pgContainer, err := postgres.Run(ctx,
		"postgis/postgis:16-3.4-alpine",
		postgres.WithDatabase("pathmark_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger, _ := zap.NewDevelopment()
	s, err := NewPgStore(ctx, connStr, 0, 0, logger.Sugar())
	require.NoError(t, err)

	return s, func() {
		s.Close()
		pgContainer.Terminate(ctx)
	}
}

func createTestUser(t *testing.T, ctx context.Context, s *PgStore, email string) *model.User {
	t.Helper()
	hash := "hash"
	u := &model.User{Email: email, PasswordHash: &hash, DisplayName: email}
	require.NoError(t, s.CreateUser(ctx, u))
	return u
}

func createTestOrg(t *testing.T, ctx context.Context, s *PgStore, slug string) *model.Organization {
	t.Helper()
	o := &model.Organization{Name: slug, Slug: slug, Plan: "free", MaxUsers: 100, MaxDevices: 1000, MaxGroups: 50}
	require.NoError(t, s.CreateOrganization(ctx, o))
	return o
}

func createTestDevice(t *testing.T, ctx context.Context, s *PgStore, uuid string, owner *model.User) *model.Device {
	t.Helper()
	d := &model.Device{
		DeviceUUID:       uuid,
		DisplayName:      "phone-" + uuid,
		Platform:         "android",
		OwnerUserID:      &owner.ID,
		EnrollmentStatus: model.EnrollmentPending,
	}
	require.NoError(t, s.CreateDevice(ctx, d))
	return d
}

// ── Organization / device CRUD ───────────────────

func TestOrganizationCRUD(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	o := createTestOrg(t, ctx, s, "acme")
	require.NotEmpty(t, o.ID)

	got, err := s.GetOrganization(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
	assert.Equal(t, 100, got.MaxUsers)
}

func TestDeviceOwnership(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	u := createTestUser(t, ctx, s, "owner@example.com")
	d := createTestDevice(t, ctx, s, "uuid-1", u)

	got, err := s.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Bound())
	assert.Equal(t, u.ID, *got.OwnerUserID)

	byUUID, err := s.GetDeviceByUUID(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byUUID.ID)
}

// ── Trip lifecycle + spatial distance ────────────

func TestCreateOrGetTripIdempotent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	u := createTestUser(t, ctx, s, "trip-owner@example.com")
	d := createTestDevice(t, ctx, s, "uuid-trip-1", u)

	trip := &model.Trip{
		DeviceID:           d.ID,
		LocalTripID:        "local-1",
		StartTimestamp:     time.Now().UTC(),
		StartPoint:         model.GeoPoint{Latitude: 37.7749, Longitude: -122.4194},
		TransportationMode: model.ModeInVehicle,
		DetectionSource:    model.SourceActivityRecognition,
	}
	created, isNew, err := s.CreateOrGetTrip(ctx, trip)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NotEmpty(t, created.ID)

	again := &model.Trip{
		DeviceID:           d.ID,
		LocalTripID:        "local-1",
		StartTimestamp:     time.Now().UTC(),
		StartPoint:         model.GeoPoint{Latitude: 1, Longitude: 1},
		TransportationMode: model.ModeWalking,
		DetectionSource:    model.SourceNone,
	}
	existing, isNew2, err := s.CreateOrGetTrip(ctx, again)
	require.NoError(t, err)
	assert.False(t, isNew2)
	assert.Equal(t, created.ID, existing.ID)
}

func TestCreateOrGetTripConflictOnSecondActive(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	u := createTestUser(t, ctx, s, "conflict-owner@example.com")
	d := createTestDevice(t, ctx, s, "uuid-trip-2", u)

	first := &model.Trip{
		DeviceID:           d.ID,
		LocalTripID:        "local-a",
		StartTimestamp:     time.Now().UTC(),
		StartPoint:         model.GeoPoint{Latitude: 1, Longitude: 1},
		TransportationMode: model.ModeWalking,
		DetectionSource:    model.SourceNone,
	}
	_, _, err := s.CreateOrGetTrip(ctx, first)
	require.NoError(t, err)

	second := &model.Trip{
		DeviceID:           d.ID,
		LocalTripID:        "local-b",
		StartTimestamp:     time.Now().UTC(),
		StartPoint:         model.GeoPoint{Latitude: 2, Longitude: 2},
		TransportationMode: model.ModeWalking,
		DetectionSource:    model.SourceNone,
	}
	_, _, err = s.CreateOrGetTrip(ctx, second)
	assert.Error(t, err)
}

// TestComputeTripDistance exercises the windowed ST_Distance query added in
// response to review: distance is summed across the trip's start point, its
// movement events in capture order, and its end point, entirely in
// PostGIS — never a Go-side haversine loop.
func TestComputeTripDistance(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	u := createTestUser(t, ctx, s, "distance-owner@example.com")
	d := createTestDevice(t, ctx, s, "uuid-trip-distance", u)

	start := time.Now().UTC()
	trip := &model.Trip{
		DeviceID:           d.ID,
		LocalTripID:        "local-distance",
		StartTimestamp:     start,
		StartPoint:         model.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}, // San Francisco
		TransportationMode: model.ModeInVehicle,
		DetectionSource:    model.SourceActivityRecognition,
	}
	created, _, err := s.CreateOrGetTrip(ctx, trip)
	require.NoError(t, err)

	// Zero or one point (just the start point): no prior point to pair
	// against, so distance is 0.
	zero, err := s.ComputeTripDistance(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)

	mid := &model.MovementEvent{
		DeviceID:           d.ID,
		CapturedAt:         start.Add(10 * time.Minute),
		Point:              model.GeoPoint{Latitude: 37.8044, Longitude: -122.2712}, // Oakland
		AccuracyM:          5,
		Confidence:         0.9,
		TransportationMode: model.ModeInVehicle,
		DetectionSource:    model.SourceActivityRecognition,
		TripID:             &created.ID,
	}
	require.NoError(t, s.InsertMovementEvent(ctx, mid))

	end := start.Add(20 * time.Minute)
	require.NoError(t, s.UpdateTripState(ctx, created.ID, model.TripCompleted, &TripEnd{
		EndTimestamp: end,
		EndPoint:     model.GeoPoint{Latitude: 37.3382, Longitude: -121.8863}, // San Jose
	}))

	distance, err := s.ComputeTripDistance(ctx, created.ID)
	require.NoError(t, err)
	// SF -> Oakland -> San Jose is on the order of 100km; assert a sane
	// range rather than an exact float to avoid coupling the test to
	// PostGIS's internal geodesic algorithm.
	assert.Greater(t, distance, 50000.0)
	assert.Less(t, distance, 200000.0)

	require.NoError(t, s.SetTripStatistics(ctx, created.ID, distance, end.Sub(start).Seconds()))
	final, err := s.GetTrip(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, final.DistanceMeters)
	assert.Equal(t, distance, *final.DistanceMeters)
}

// ── Audit log + export job poller ────────────────

func TestAuditLogQueryAndCount(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	o := createTestOrg(t, ctx, s, "audit-org")

	require.NoError(t, s.AppendAuditLog(ctx, &model.AuditLog{
		OrganizationID: &o.ID, ActorType: "user", ActorID: "u1",
		Action: "create", ResourceType: "device", ResourceID: "d1",
		Details: map[string]any{"k": "v"},
	}))
	require.NoError(t, s.AppendAuditLog(ctx, &model.AuditLog{
		OrganizationID: &o.ID, ActorType: "user", ActorID: "u1",
		Action: "delete", ResourceType: "device", ResourceID: "d1",
	}))

	q := AuditQuery{OrganizationID: &o.ID, Limit: 50}
	rows, err := s.QueryAuditLogs(ctx, q)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	count, err := s.CountAuditLogs(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// TestAuditExportJobPoller exercises the create-then-poll flow added in
// response to review: CreateExportJob persists the query filter as JSON,
// and ClaimPendingExportJobs atomically moves pending rows to processing
// and hands back the recovered query, without ever being given it directly.
func TestAuditExportJobPoller(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	o := createTestOrg(t, ctx, s, "export-org")
	q := AuditQuery{OrganizationID: &o.ID, Limit: 100}

	job := &model.AuditExportJob{Format: "csv"}
	require.NoError(t, s.CreateExportJob(ctx, job, q))
	require.NotEmpty(t, job.ID)

	fetched, err := s.GetExportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportPending, fetched.Status)

	claimed, err := s.ClaimPendingExportJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].JobID)
	assert.Equal(t, "csv", claimed[0].Format)
	require.NotNil(t, claimed[0].Query.OrganizationID)
	assert.Equal(t, o.ID, *claimed[0].Query.OrganizationID)

	// A second claim sees nothing: the job moved to processing, and
	// SELECT ... FOR UPDATE SKIP LOCKED never hands out the same row twice.
	claimedAgain, err := s.ClaimPendingExportJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimedAgain)

	require.NoError(t, s.CompleteExportJob(ctx, job.ID, "https://example.com/export.csv", time.Now().UTC().Add(24*time.Hour)))
	done, err := s.GetExportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportCompleted, done.Status)
	require.NotNil(t, done.DownloadURL)
}

func TestFailExportJob(t *testing.T) {
	ctx := context.Background()
	s, cleanup := startPostgres(t, ctx)
	defer cleanup()

	job := &model.AuditExportJob{Format: "json"}
	require.NoError(t, s.CreateExportJob(ctx, job, AuditQuery{Limit: 100}))

	require.NoError(t, s.FailExportJob(ctx, job.ID, "boom"))
	got, err := s.GetExportJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
}
