package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/location"
	"github.com/pathmark/pathmark/internal/model"
)

// LocationHandlers implements the
// POST /api/v1/{locations,locations/batch,movement-events,movement-events/batch}
// and GET /api/v1/devices/:deviceId/locations routes of orig spec §6.
type LocationHandlers struct {
	ingester *location.Ingester
	logger   *zap.SugaredLogger
}

func NewLocationHandlers(ingester *location.Ingester, logger *zap.SugaredLogger) *LocationHandlers {
	return &LocationHandlers{ingester: ingester, logger: logger}
}

type locationWire struct {
	DeviceID           string   `json:"deviceId"`
	CapturedAt         int64    `json:"capturedAt"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	AccuracyM          float64  `json:"accuracyM"`
	AltitudeM          *float64 `json:"altitudeM,omitempty"`
	BearingDeg         *float64 `json:"bearingDeg,omitempty"`
	SpeedMPS           *float64 `json:"speedMps,omitempty"`
	Provider           *string  `json:"provider,omitempty"`
	BatteryLevel       *float64 `json:"batteryLevel,omitempty"`
	NetworkType        *string  `json:"networkType,omitempty"`
	TransportationMode *string  `json:"transportationMode,omitempty"`
	DetectionSource    *string  `json:"detectionSource,omitempty"`
}

func (w locationWire) toModel() *model.Location {
	l := &model.Location{
		DeviceID:     w.DeviceID,
		CapturedAt:   time.UnixMilli(w.CapturedAt).UTC(),
		Point:        model.GeoPoint{Latitude: w.Latitude, Longitude: w.Longitude},
		AccuracyM:    w.AccuracyM,
		AltitudeM:    w.AltitudeM,
		BearingDeg:   w.BearingDeg,
		SpeedMPS:     w.SpeedMPS,
		Provider:     w.Provider,
		BatteryLevel: w.BatteryLevel,
		NetworkType:  w.NetworkType,
	}
	if w.TransportationMode != nil {
		m := model.TransportationMode(*w.TransportationMode)
		l.TransportationMode = &m
	}
	if w.DetectionSource != nil {
		s := model.DetectionSource(*w.DetectionSource)
		l.DetectionSource = &s
	}
	return l
}

func (h *LocationHandlers) UploadLocation(w http.ResponseWriter, r *http.Request) {
	var wire locationWire
	if err := DecodeJSON(r, &wire); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	l := wire.toModel()
	if err := h.ingester.UploadLocation(r.Context(), l); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"success": true, "processedCount": 1})
}

func (h *LocationHandlers) UploadLocationBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string         `json:"deviceId"`
		Items    []locationWire `json:"items"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	items := make([]*model.Location, len(req.Items))
	for i, w := range req.Items {
		items[i] = w.toModel()
	}
	if err := h.ingester.UploadLocationBatch(r.Context(), req.DeviceID, items); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"success": true, "processedCount": len(items)})
}

type movementEventWire struct {
	locationWire
	Confidence         float64 `json:"confidence"`
	TransportationMode string  `json:"transportationMode"`
	DetectionSource    string  `json:"detectionSource"`
}

func (w movementEventWire) toModel() *model.MovementEvent {
	base := w.locationWire.toModel()
	return &model.MovementEvent{
		DeviceID:           base.DeviceID,
		CapturedAt:         base.CapturedAt,
		Point:              base.Point,
		AccuracyM:          base.AccuracyM,
		AltitudeM:          base.AltitudeM,
		BearingDeg:         base.BearingDeg,
		SpeedMPS:           base.SpeedMPS,
		Provider:           base.Provider,
		BatteryLevel:       base.BatteryLevel,
		NetworkType:        base.NetworkType,
		Confidence:         w.Confidence,
		TransportationMode: model.TransportationMode(w.TransportationMode),
		DetectionSource:    model.DetectionSource(w.DetectionSource),
	}
}

func (h *LocationHandlers) UploadMovementEvent(w http.ResponseWriter, r *http.Request) {
	var wire movementEventWire
	if err := DecodeJSON(r, &wire); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	e := wire.toModel()
	if err := h.ingester.UploadMovementEvent(r.Context(), e); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"success": true, "processedCount": 1})
}

func (h *LocationHandlers) UploadMovementEventBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string              `json:"deviceId"`
		Items    []movementEventWire `json:"items"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	items := make([]*model.MovementEvent, len(req.Items))
	for i, w := range req.Items {
		items[i] = w.toModel()
	}
	if err := h.ingester.UploadMovementEventBatch(r.Context(), req.DeviceID, items); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"success": true, "processedCount": len(items)})
}

func (h *LocationHandlers) History(w http.ResponseWriter, r *http.Request, deviceID string) {
	q := location.HistoryQuery{
		Cursor: r.URL.Query().Get("cursor"),
		Order:  r.URL.Query().Get("order"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := parseInt(limit); err == nil {
			q.Limit = n
		}
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if ms, err := parseInt64(from); err == nil {
			t := time.UnixMilli(ms).UTC()
			q.From = &t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if ms, err := parseInt64(to); err == nil {
			t := time.UnixMilli(ms).UTC()
			q.To = &t
		}
	}

	page, err := h.ingester.History(r.Context(), deviceID, q)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"locations":  page.Locations,
		"hasMore":    page.HasMore,
		"nextCursor": page.NextCursor,
	})
}
