// Package location is the location & movement telemetry pipeline (orig
// spec C8): validated single/batch ingestion, cursor-paginated retrieval,
// and retention sweep. Grounded on the teacher's internal/model/validate.go
// ValidationError pattern, generalized to telemetry field bounds.
package location

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

const maxBatchSize = 100

// Ingester implements every operation of orig spec §4.4.
type Ingester struct {
	store   store.LocationStore
	devices store.DeviceStore
	logger  *zap.SugaredLogger
}

func New(s store.LocationStore, devices store.DeviceStore, logger *zap.SugaredLogger) *Ingester {
	return &Ingester{store: s, devices: devices, logger: logger}
}

// UploadLocation validates and inserts a single sample (orig spec §4.4
// single-upload contract).
func (ing *Ingester) UploadLocation(ctx context.Context, l *model.Location) error {
	if err := validateLocation(l.Point, l.AccuracyM, l.BearingDeg, l.SpeedMPS, l.BatteryLevel, l.CapturedAt); err != nil {
		return err
	}
	d, err := ing.devices.GetDevice(ctx, l.DeviceID)
	if err != nil {
		return err
	}
	if !d.Active {
		return apperr.NewNotFound("device is not active")
	}

	if err := ing.store.InsertLocation(ctx, l); err != nil {
		return err
	}
	if err := ing.devices.UpdateDeviceLastSeen(ctx, l.DeviceID, l.CapturedAt); err != nil {
		ing.logger.Warnw("update device last seen failed", "device_id", l.DeviceID, "error", err)
	}
	return nil
}

// UploadLocationBatch validates every item, then inserts them all in one
// transaction; a single bad item fails the whole batch with the offending
// row index (orig spec §4.4, §8 scenario 5).
func (ing *Ingester) UploadLocationBatch(ctx context.Context, deviceID string, items []*model.Location) error {
	if len(items) == 0 || len(items) > maxBatchSize {
		return apperr.NewValidation("batch must contain between 1 and 100 items", map[string]any{"count": len(items)})
	}
	d, err := ing.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !d.Active {
		return apperr.NewNotFound("device is not active")
	}

	for i, l := range items {
		l.DeviceID = deviceID
		if err := validateLocation(l.Point, l.AccuracyM, l.BearingDeg, l.SpeedMPS, l.BatteryLevel, l.CapturedAt); err != nil {
			if ve, ok := apperr.As(err); ok {
				if ve.Details == nil {
					ve.Details = map[string]any{}
				}
				ve.Details["row"] = i
			}
			return err
		}
	}

	if err := ing.store.InsertLocationBatch(ctx, items); err != nil {
		return err
	}
	if len(items) > 0 {
		last := items[len(items)-1]
		if err := ing.devices.UpdateDeviceLastSeen(ctx, deviceID, last.CapturedAt); err != nil {
			ing.logger.Warnw("update device last seen failed", "device_id", deviceID, "error", err)
		}
	}
	return nil
}

// UploadMovementEvent validates and inserts a classified movement sample.
func (ing *Ingester) UploadMovementEvent(ctx context.Context, e *model.MovementEvent) error {
	if err := validateLocation(e.Point, e.AccuracyM, e.BearingDeg, e.SpeedMPS, e.BatteryLevel, e.CapturedAt); err != nil {
		return err
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return apperr.NewValidation("confidence must be between 0 and 1", map[string]any{"confidence": e.Confidence})
	}
	if !e.TransportationMode.Valid() {
		return apperr.NewValidation("invalid transportation_mode", map[string]any{"transportation_mode": e.TransportationMode})
	}
	if !e.DetectionSource.Valid() {
		return apperr.NewValidation("invalid detection_source", map[string]any{"detection_source": e.DetectionSource})
	}
	d, err := ing.devices.GetDevice(ctx, e.DeviceID)
	if err != nil {
		return err
	}
	if !d.Active {
		return apperr.NewNotFound("device is not active")
	}
	return ing.store.InsertMovementEvent(ctx, e)
}

func (ing *Ingester) UploadMovementEventBatch(ctx context.Context, deviceID string, items []*model.MovementEvent) error {
	if len(items) == 0 || len(items) > maxBatchSize {
		return apperr.NewValidation("batch must contain between 1 and 100 items", map[string]any{"count": len(items)})
	}
	for i, e := range items {
		e.DeviceID = deviceID
		if err := validateLocation(e.Point, e.AccuracyM, e.BearingDeg, e.SpeedMPS, e.BatteryLevel, e.CapturedAt); err != nil {
			if ve, ok := apperr.As(err); ok {
				if ve.Details == nil {
					ve.Details = map[string]any{}
				}
				ve.Details["row"] = i
			}
			return err
		}
		if !e.TransportationMode.Valid() || !e.DetectionSource.Valid() {
			return apperr.NewValidation("invalid transportation_mode or detection_source", map[string]any{"row": i})
		}
	}
	return ing.store.InsertMovementEventBatch(ctx, items)
}

// HistoryQuery is the caller-facing cursor-pagination request (orig spec
// §4.4 history retrieval).
type HistoryQuery struct {
	Cursor string
	From   *time.Time
	To     *time.Time
	Order  string
	Limit  int
}

// HistoryPage is the paginated response.
type HistoryPage struct {
	Locations  []*model.Location
	HasMore    bool
	NextCursor string
}

func (ing *Ingester) History(ctx context.Context, deviceID string, q HistoryQuery) (*HistoryPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	order := q.Order
	if order != "asc" {
		order = "desc"
	}

	sq := store.LocationQuery{From: q.From, To: q.To, Order: order, Limit: limit}
	if q.Cursor != "" {
		c, err := store.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		sq.Cursor = c
	}

	rows, err := ing.store.ListLocations(ctx, deviceID, sq)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Locations: rows}
	if len(rows) > limit {
		page.Locations = rows[:limit]
		page.HasMore = true
		last := page.Locations[limit-1]
		page.NextCursor = store.EncodeCursor(last.CapturedAt, last.ID)
	}
	return page, nil
}

// RetentionSweep deletes rows older than retentionDays in batches of
// batchSize, looping until a batch comes back short (orig spec §4.4). It
// returns the total deleted count; the caller (internal/scheduler) logs
// it.
func (ing *Ingester) RetentionSweep(ctx context.Context, retentionDays int, batchSize int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var total int64
	for {
		n, err := ing.store.DeleteLocationsOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}

func validateLocation(p model.GeoPoint, accuracy float64, bearing, speed, battery *float64, capturedAt time.Time) error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return apperr.NewValidation("latitude out of range", map[string]any{"latitude": p.Latitude})
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return apperr.NewValidation("longitude out of range", map[string]any{"longitude": p.Longitude})
	}
	if accuracy < 0 {
		return apperr.NewValidation("accuracy must be >= 0", map[string]any{"accuracy_m": accuracy})
	}
	if bearing != nil && (*bearing < 0 || *bearing > 360) {
		return apperr.NewValidation("bearing must be between 0 and 360", map[string]any{"bearing_deg": *bearing})
	}
	if speed != nil && *speed < 0 {
		return apperr.NewValidation("speed must be >= 0", map[string]any{"speed_mps": *speed})
	}
	if battery != nil && (*battery < 0 || *battery > 100) {
		return apperr.NewValidation("battery_level must be between 0 and 100", map[string]any{"battery_level": *battery})
	}
	if capturedAt.IsZero() || capturedAt.Unix() <= 0 {
		return apperr.NewValidation("timestamp must be positive", nil)
	}
	return nil
}
