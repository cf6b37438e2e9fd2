package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
)

// CreateOrGetTrip implements the idempotent-create contract of orig spec
// §4.5: same (device_id, local_trip_id) returns the existing row; a
// concurrent ACTIVE trip for the device fails Conflict; the partial unique
// index trips_one_active_per_device enforces the invariant at the database
// layer even under a race.
func (s *PgStore) CreateOrGetTrip(ctx context.Context, t *model.Trip) (*model.Trip, bool, error) {
	existing, err := s.getTripByLocalID(ctx, t.DeviceID, t.LocalTripID)
	if err == nil {
		return existing, false, nil
	}
	if apperr.KindOf(err) != apperr.NotFound {
		return nil, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO trips (device_id, local_trip_id, state, start_timestamp, start_point, transportation_mode, detection_source, created_at, updated_at)
		VALUES ($1, $2, 'ACTIVE', $3, ST_SetSRID(ST_MakePoint($4, $5), 4326), $6, $7, now(), now())
		RETURNING id, created_at, updated_at`,
		t.DeviceID, t.LocalTripID, t.StartTimestamp, t.StartPoint.Longitude, t.StartPoint.Latitude, string(t.TransportationMode), string(t.DetectionSource),
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, false, apperr.NewConflict("device already has an active trip")
		}
		return nil, false, translateError(err, "device not found")
	}
	t.State = model.TripActive
	return t, true, nil
}

func (s *PgStore) getTripByLocalID(ctx context.Context, deviceID, localTripID string) (*model.Trip, error) {
	row := s.db.QueryRowContext(ctx, tripSelectSQL+` WHERE device_id = $1 AND local_trip_id = $2`, deviceID, localTripID)
	return scanTrip(row)
}

const tripSelectSQL = `
	SELECT id, device_id, local_trip_id, state, start_timestamp, end_timestamp,
		ST_X(start_point::geometry), ST_Y(start_point::geometry),
		ST_X(end_point::geometry), ST_Y(end_point::geometry),
		transportation_mode, detection_source, distance_meters, duration_seconds, created_at, updated_at
	FROM trips`

func scanTrip(row *sql.Row) (*model.Trip, error) {
	var t model.Trip
	var state string
	var endLon, endLat sql.NullFloat64
	if err := row.Scan(&t.ID, &t.DeviceID, &t.LocalTripID, &state, &t.StartTimestamp, &t.EndTimestamp,
		&t.StartPoint.Longitude, &t.StartPoint.Latitude, &endLon, &endLat,
		&t.TransportationMode, &t.DetectionSource, &t.DistanceMeters, &t.DurationSeconds, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, translateError(err, "trip not found")
	}
	t.State = model.TripState(state)
	if endLon.Valid && endLat.Valid {
		t.EndPoint = &model.GeoPoint{Longitude: endLon.Float64, Latitude: endLat.Float64}
	}
	return &t, nil
}

func (s *PgStore) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	row := s.db.QueryRowContext(ctx, tripSelectSQL+` WHERE id = $1`, id)
	return scanTrip(row)
}

func (s *PgStore) GetActiveTrip(ctx context.Context, deviceID string) (*model.Trip, error) {
	row := s.db.QueryRowContext(ctx, tripSelectSQL+` WHERE device_id = $1 AND state = 'ACTIVE'`, deviceID)
	return scanTrip(row)
}

// UpdateTripState transitions state and, for COMPLETED, writes the end
// fields in one statement (orig spec §4.5).
func (s *PgStore) UpdateTripState(ctx context.Context, id string, next model.TripState, end *TripEnd) error {
	if next == model.TripCompleted {
		if end == nil {
			return apperr.NewValidation("completed trips require end fields", nil)
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE trips SET state = $1, end_timestamp = $2, end_point = ST_SetSRID(ST_MakePoint($3, $4), 4326), updated_at = now()
			WHERE id = $5 AND state = 'ACTIVE'`,
			string(next), end.EndTimestamp, end.EndPoint.Longitude, end.EndPoint.Latitude, id)
		if err != nil {
			return translateError(err, "trip not found")
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE trips SET state = $1, updated_at = now() WHERE id = $2 AND state = 'ACTIVE'`, string(next), id)
	if err != nil {
		return translateError(err, "trip not found")
	}
	return nil
}

// ComputeTripDistance sums geodetic point-to-point distance across the
// trip's start point, its movement events in capture order, and its end
// point (if set), via a windowed ST_Distance query over GEOGRAPHY points
// (orig spec §4.5 statistics) rather than a Go-side haversine loop.
func (s *PgStore) ComputeTripDistance(ctx context.Context, tripID string) (float64, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH pts AS (
			SELECT start_timestamp AS captured_at, start_point AS point FROM trips WHERE id = $1
			UNION ALL
			SELECT captured_at, point FROM movement_events WHERE trip_id = $1
			UNION ALL
			SELECT end_timestamp, end_point FROM trips WHERE id = $1 AND end_point IS NOT NULL
		), ordered AS (
			SELECT point, LAG(point) OVER (ORDER BY captured_at) AS prev_point FROM pts
		)
		SELECT COALESCE(SUM(ST_Distance(point, prev_point)), 0) FROM ordered WHERE prev_point IS NOT NULL`,
		tripID,
	)
	var distance float64
	if err := row.Scan(&distance); err != nil {
		return 0, translateError(err, "trip not found")
	}
	return distance, nil
}

func (s *PgStore) SetTripStatistics(ctx context.Context, id string, distanceMeters, durationSeconds float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trips SET distance_meters = $1, duration_seconds = $2, updated_at = now() WHERE id = $3`,
		distanceMeters, durationSeconds, id)
	if err != nil {
		return fmt.Errorf("set trip statistics: %w", err)
	}
	return nil
}

func (s *PgStore) UpsertTripPathCorrection(ctx context.Context, c *model.TripPathCorrection) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO trip_path_corrections (trip_id, original_path, corrected_path, status, correction_quality, error_message)
		VALUES ($1, ST_GeogFromText($2), NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (trip_id) DO UPDATE SET
			corrected_path = COALESCE(NULLIF(EXCLUDED.corrected_path, ''), trip_path_corrections.corrected_path),
			status = EXCLUDED.status,
			correction_quality = EXCLUDED.correction_quality,
			error_message = EXCLUDED.error_message
		RETURNING id`,
		c.TripID, lineStringWKT(c.OriginalPath), lineStringWKTOrEmpty(c.CorrectedPath), string(c.Status), c.CorrectionQuality, c.ErrorMessage,
	)
	if err := row.Scan(&c.ID); err != nil {
		return translateError(err, "trip path correction not found")
	}
	return nil
}

func (s *PgStore) GetTripPathCorrection(ctx context.Context, tripID string) (*model.TripPathCorrection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trip_id, ST_AsText(original_path::geometry), ST_AsText(corrected_path::geometry), status, correction_quality, error_message
		FROM trip_path_corrections WHERE trip_id = $1`, tripID)
	var c model.TripPathCorrection
	var status string
	var originalWKT, correctedWKT sql.NullString
	if err := row.Scan(&c.ID, &c.TripID, &originalWKT, &correctedWKT, &status, &c.CorrectionQuality, &c.ErrorMessage); err != nil {
		return nil, translateError(err, "trip path correction not found")
	}
	c.Status = model.CorrectionStatus(status)
	c.OriginalPath = parseLineStringWKT(originalWKT.String)
	c.CorrectedPath = parseLineStringWKT(correctedWKT.String)
	return &c, nil
}

// lineStringWKT serializes a GeoPoint sequence as WKT LINESTRING(lon lat, ...)
// for storage in a GEOGRAPHY(LineString,4326) column (orig spec §4.5 step 1).
func lineStringWKT(pts []model.GeoPoint) string {
	if len(pts) < 2 {
		return "LINESTRING(0 0, 0 0)"
	}
	s := "LINESTRING("
	for i, p := range pts {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%f %f", p.Longitude, p.Latitude)
	}
	return s + ")"
}

func lineStringWKTOrEmpty(pts []model.GeoPoint) string {
	if len(pts) < 2 {
		return ""
	}
	return lineStringWKT(pts)
}

func parseLineStringWKT(wkt string) []model.GeoPoint {
	// Minimal WKT LINESTRING(lon lat, lon lat, ...) parser — PostGIS is the
	// only writer of this column, so the format is always this shape.
	if wkt == "" {
		return nil
	}
	start := indexOf(wkt, '(')
	end := lastIndexOf(wkt, ')')
	if start < 0 || end < 0 || end <= start {
		return nil
	}
	body := wkt[start+1 : end]
	var pts []model.GeoPoint
	pair := ""
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == ',' {
			var lon, lat float64
			fmt.Sscanf(pair, "%f %f", &lon, &lat)
			pts = append(pts, model.GeoPoint{Longitude: lon, Latitude: lat})
			pair = ""
			continue
		}
		pair += string(body[i])
	}
	return pts
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexOf(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
