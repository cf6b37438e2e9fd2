// Package trip is the trip manager (orig spec C9): the ACTIVE/COMPLETED/
// CANCELLED state machine, idempotent creation, asynchronous statistics,
// and map-matching path-correction orchestration. Grounded on the
// teacher's fire-and-forget goroutine dispatch style (internal/handler
// request handling spawns no background work itself, so the async-task
// shape here follows internal/scheduler's independent-background-task
// convention instead) plus internal/model.TripState.CanTransitionTo for
// the state machine.
package trip

import (
	"context"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/mapmatch"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// Manager implements every operation of orig spec §4.5.
type Manager struct {
	trips     store.TripStore
	locations store.LocationStore
	matcher   mapmatch.Client
	logger    *zap.SugaredLogger
}

func New(trips store.TripStore, locations store.LocationStore, matcher mapmatch.Client, logger *zap.SugaredLogger) *Manager {
	return &Manager{trips: trips, locations: locations, matcher: matcher, logger: logger}
}

// CreateTrip is idempotent on (device_id, local_trip_id) per orig spec
// §4.5: returns (trip, created=false) if the pair already exists, a
// Conflict if another trip for the device is ACTIVE, else inserts with
// state ACTIVE.
func (m *Manager) CreateTrip(ctx context.Context, t *model.Trip) (*model.Trip, bool, error) {
	if t.StartTimestamp.IsZero() {
		return nil, false, apperr.NewValidation("start_timestamp is required", nil)
	}
	return m.trips.CreateOrGetTrip(ctx, t)
}

func (m *Manager) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	return m.trips.GetTrip(ctx, id)
}

// UpdateState validates the transition, requires end fields for
// COMPLETED, applies it, and — only for a successful transition into
// COMPLETED — spawns the fire-and-forget statistics + path-correction
// pipeline (orig spec §4.5). The triggering request never waits on, or
// fails because of, that background work.
func (m *Manager) UpdateState(ctx context.Context, id string, next model.TripState, end *store.TripEnd) error {
	t, err := m.trips.GetTrip(ctx, id)
	if err != nil {
		return err
	}
	if !t.State.CanTransitionTo(next) {
		return apperr.NewValidation("invalid trip state transition", map[string]any{"from": t.State, "to": next})
	}
	if next == model.TripCompleted && end == nil {
		return apperr.NewValidation("end_timestamp, end_latitude, end_longitude are required to complete a trip", nil)
	}

	if err := m.trips.UpdateTripState(ctx, id, next, end); err != nil {
		return err
	}

	if next == model.TripCompleted {
		go m.runStatisticsAndCorrection(context.WithoutCancel(ctx), id)
	}
	return nil
}

// runStatisticsAndCorrection is the async task orig spec §4.5 describes:
// compute statistics, then — only on success — orchestrate path
// correction. Both phases log and return on failure; neither rolls back
// the trip's COMPLETED state.
func (m *Manager) runStatisticsAndCorrection(ctx context.Context, tripID string) {
	if err := m.computeStatistics(ctx, tripID); err != nil {
		m.logger.Warnw("trip statistics failed", "trip_id", tripID, "error", err)
		return
	}
	if err := m.correctPath(ctx, tripID); err != nil {
		m.logger.Warnw("trip path correction failed", "trip_id", tripID, "error", err)
	}
}

// computeStatistics sums the trip's geodetic point-to-point distance via
// a PostGIS ST_Distance query (orig spec §4.5 statistics) and pairs it
// with the wall-clock duration. Trips with 0-1 points get distance 0.
func (m *Manager) computeStatistics(ctx context.Context, tripID string) error {
	t, err := m.trips.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	distance, err := m.trips.ComputeTripDistance(ctx, tripID)
	if err != nil {
		return err
	}

	duration := 0.0
	if t.EndTimestamp != nil {
		duration = t.EndTimestamp.Sub(t.StartTimestamp).Seconds()
	}

	return m.trips.SetTripStatistics(ctx, tripID, distance, duration)
}

// correctPath serializes the trip's path, calls the configured
// map-matching service, and records the outcome (orig spec §4.5 steps
// 1-5).
func (m *Manager) correctPath(ctx context.Context, tripID string) error {
	t, err := m.trips.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	events, err := m.locations.ListMovementEventsForTrip(ctx, tripID)
	if err != nil {
		return err
	}

	path := make([]model.GeoPoint, 0, len(events)+2)
	path = append(path, t.StartPoint)
	for _, e := range events {
		path = append(path, e.Point)
	}
	if t.EndPoint != nil {
		path = append(path, *t.EndPoint)
	}

	correction := &model.TripPathCorrection{
		TripID:       tripID,
		OriginalPath: path,
		Status:       model.CorrectionPending,
	}
	if err := m.trips.UpsertTripPathCorrection(ctx, correction); err != nil {
		return err
	}

	if !m.matcher.Enabled() {
		correction.Status = model.CorrectionSkipped
		return m.trips.UpsertTripPathCorrection(ctx, correction)
	}

	result, err := m.matcher.Match(ctx, path)
	if err != nil {
		msg := err.Error()
		correction.Status = model.CorrectionFailed
		correction.ErrorMessage = &msg
		return m.trips.UpsertTripPathCorrection(ctx, correction)
	}

	quality := result.Quality
	correction.CorrectedPath = result.CorrectedPath
	correction.CorrectionQuality = &quality
	correction.Status = model.CorrectionCompleted
	return m.trips.UpsertTripPathCorrection(ctx, correction)
}

func (m *Manager) GetPathCorrection(ctx context.Context, tripID string) (*model.TripPathCorrection, error) {
	return m.trips.GetTripPathCorrection(ctx, tripID)
}

// TriggerPathCorrection re-runs correctPath outside the statistics
// pipeline — used for manual retry after a transient map-matching
// failure. Callers spawn it with context.WithoutCancel so it survives
// the triggering request.
func (m *Manager) TriggerPathCorrection(ctx context.Context, tripID string) {
	if err := m.correctPath(ctx, tripID); err != nil {
		m.logger.Warnw("trip path correction failed", "trip_id", tripID, "error", err)
	}
}

