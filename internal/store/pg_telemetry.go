package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) InsertLocation(ctx context.Context, l *model.Location) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO locations (device_id, captured_at, created_at, point, accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, transportation_mode, detection_source, trip_id)
		VALUES ($1, $2, now(), ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`,
		l.DeviceID, l.CapturedAt, l.Point.Longitude, l.Point.Latitude, l.AccuracyM, l.AltitudeM, l.BearingDeg, l.SpeedMPS, l.Provider, l.BatteryLevel, l.NetworkType, modeStrPtr(l.TransportationMode), sourceStrPtr(l.DetectionSource), l.TripID,
	)
	if err := row.Scan(&l.ID, &l.CreatedAt); err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

// InsertLocationBatch inserts all rows in one transaction; any single
// failure rolls back the whole batch (orig spec §4.4).
func (s *PgStore) InsertLocationBatch(ctx context.Context, ls []*model.Location) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO locations (device_id, captured_at, created_at, point, accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, transportation_mode, detection_source, trip_id)
		VALUES ($1, $2, now(), ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range ls {
		row := stmt.QueryRowContext(ctx, l.DeviceID, l.CapturedAt, l.Point.Longitude, l.Point.Latitude, l.AccuracyM, l.AltitudeM, l.BearingDeg, l.SpeedMPS, l.Provider, l.BatteryLevel, l.NetworkType, modeStrPtr(l.TransportationMode), sourceStrPtr(l.DetectionSource), l.TripID)
		if err := row.Scan(&l.ID, &l.CreatedAt); err != nil {
			return translateError(err, "device not found")
		}
	}
	return tx.Commit()
}

func (s *PgStore) InsertMovementEvent(ctx context.Context, e *model.MovementEvent) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO movement_events (device_id, captured_at, created_at, point, accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, confidence, transportation_mode, detection_source, trip_id)
		VALUES ($1, $2, now(), ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`,
		e.DeviceID, e.CapturedAt, e.Point.Longitude, e.Point.Latitude, e.AccuracyM, e.AltitudeM, e.BearingDeg, e.SpeedMPS, e.Provider, e.BatteryLevel, e.NetworkType, e.Confidence, string(e.TransportationMode), string(e.DetectionSource), e.TripID,
	)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return translateError(err, "device not found")
	}
	return nil
}

func (s *PgStore) InsertMovementEventBatch(ctx context.Context, es []*model.MovementEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO movement_events (device_id, captured_at, created_at, point, accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, confidence, transportation_mode, detection_source, trip_id)
		VALUES ($1, $2, now(), ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range es {
		row := stmt.QueryRowContext(ctx, e.DeviceID, e.CapturedAt, e.Point.Longitude, e.Point.Latitude, e.AccuracyM, e.AltitudeM, e.BearingDeg, e.SpeedMPS, e.Provider, e.BatteryLevel, e.NetworkType, e.Confidence, string(e.TransportationMode), string(e.DetectionSource), e.TripID)
		if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
			return translateError(err, "device not found")
		}
	}
	return tx.Commit()
}

// ListLocations fetches limit+1 rows ordered by (captured_at, id) so the
// caller can detect hasMore and build nextCursor (orig spec §4.4).
func (s *PgStore) ListLocations(ctx context.Context, deviceID string, q LocationQuery) ([]*model.Location, error) {
	order := "DESC"
	cmp := "<"
	if q.Order == "asc" {
		order = "ASC"
		cmp = ">"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, device_id, captured_at, created_at, ST_X(point::geometry), ST_Y(point::geometry), accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, transportation_mode, detection_source, trip_id
		FROM locations WHERE device_id = $1`)
	args := []any{deviceID}
	n := 2

	if q.From != nil {
		query += fmt.Sprintf(" AND captured_at >= $%d", n)
		args = append(args, *q.From)
		n++
	}
	if q.To != nil {
		query += fmt.Sprintf(" AND captured_at <= $%d", n)
		args = append(args, *q.To)
		n++
	}
	if q.Cursor != nil {
		query += fmt.Sprintf(" AND (captured_at, id) %s ($%d, $%d)", cmp, n, n+1)
		args = append(args, q.Cursor.CapturedAt, q.Cursor.ID)
		n += 2
	}
	query += fmt.Sprintf(" ORDER BY captured_at %s, id %s LIMIT $%d", order, order, n)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []*model.Location
	for rows.Next() {
		l, err := scanLocationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLocationRow(rows *sql.Rows) (*model.Location, error) {
	var l model.Location
	var mode, source *string
	if err := rows.Scan(&l.ID, &l.DeviceID, &l.CapturedAt, &l.CreatedAt, &l.Point.Longitude, &l.Point.Latitude, &l.AccuracyM, &l.AltitudeM, &l.BearingDeg, &l.SpeedMPS, &l.Provider, &l.BatteryLevel, &l.NetworkType, &mode, &source, &l.TripID); err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	if mode != nil {
		m := model.TransportationMode(*mode)
		l.TransportationMode = &m
	}
	if source != nil {
		ds := model.DetectionSource(*source)
		l.DetectionSource = &ds
	}
	return &l, nil
}

func (s *PgStore) ListMovementEventsForTrip(ctx context.Context, tripID string) ([]*model.MovementEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, captured_at, created_at, ST_X(point::geometry), ST_Y(point::geometry), accuracy_m, altitude_m, bearing_deg, speed_mps, provider, battery_level, network_type, confidence, transportation_mode, detection_source, trip_id
		FROM movement_events WHERE trip_id = $1 ORDER BY captured_at ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list movement events for trip: %w", err)
	}
	defer rows.Close()

	var out []*model.MovementEvent
	for rows.Next() {
		var e model.MovementEvent
		var mode, source string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.CapturedAt, &e.CreatedAt, &e.Point.Longitude, &e.Point.Latitude, &e.AccuracyM, &e.AltitudeM, &e.BearingDeg, &e.SpeedMPS, &e.Provider, &e.BatteryLevel, &e.NetworkType, &e.Confidence, &mode, &source, &e.TripID); err != nil {
			return nil, fmt.Errorf("scan movement event: %w", err)
		}
		e.TransportationMode = model.TransportationMode(mode)
		e.DetectionSource = model.DetectionSource(source)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteLocationsOlderThan deletes up to batchSize rows per call so the
// hourly retention sweep never holds a long lock (orig spec §4.4).
func (s *PgStore) DeleteLocationsOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM locations WHERE id IN (
			SELECT id FROM locations WHERE created_at < $1 LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired locations: %w", err)
	}
	return res.RowsAffected()
}

func modeStrPtr(m *model.TransportationMode) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

func sourceStrPtr(s *model.DetectionSource) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
