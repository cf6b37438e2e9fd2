package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
	"github.com/pathmark/pathmark/internal/trip"
)

// TripHandlers implements the POST|PATCH|GET /api/v1/trips... routes of
// orig spec §6.
type TripHandlers struct {
	trips  *trip.Manager
	logger *zap.SugaredLogger
}

func NewTripHandlers(trips *trip.Manager, logger *zap.SugaredLogger) *TripHandlers {
	return &TripHandlers{trips: trips, logger: logger}
}

type createTripRequest struct {
	DeviceID           string  `json:"deviceId"`
	LocalTripID        string  `json:"localTripId"`
	StartTimestamp     int64   `json:"startTimestamp"`
	StartLatitude      float64 `json:"startLatitude"`
	StartLongitude     float64 `json:"startLongitude"`
	TransportationMode string  `json:"transportationMode"`
	DetectionSource    string  `json:"detectionSource"`
}

func (h *TripHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	t := &model.Trip{
		DeviceID:           req.DeviceID,
		LocalTripID:        req.LocalTripID,
		StartTimestamp:     time.UnixMilli(req.StartTimestamp).UTC(),
		StartPoint:         model.GeoPoint{Latitude: req.StartLatitude, Longitude: req.StartLongitude},
		TransportationMode: model.TransportationMode(req.TransportationMode),
		DetectionSource:    model.DetectionSource(req.DetectionSource),
	}
	created, isNew, err := h.trips.CreateTrip(r.Context(), t)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	JSON(w, status, created)
}

func (h *TripHandlers) Get(w http.ResponseWriter, r *http.Request, tripID string) {
	t, err := h.trips.GetTrip(r.Context(), tripID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, t)
}

type updateTripStateRequest struct {
	State          string   `json:"state"`
	EndTimestamp   *int64   `json:"endTimestamp,omitempty"`
	EndLatitude    *float64 `json:"endLatitude,omitempty"`
	EndLongitude   *float64 `json:"endLongitude,omitempty"`
}

func (h *TripHandlers) UpdateState(w http.ResponseWriter, r *http.Request, tripID string) {
	var req updateTripStateRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}

	var end *store.TripEnd
	if req.EndTimestamp != nil && req.EndLatitude != nil && req.EndLongitude != nil {
		end = &store.TripEnd{
			EndTimestamp: time.UnixMilli(*req.EndTimestamp).UTC(),
			EndPoint:     model.GeoPoint{Latitude: *req.EndLatitude, Longitude: *req.EndLongitude},
		}
	}

	if err := h.trips.UpdateState(r.Context(), tripID, model.TripState(req.State), end); err != nil {
		ErrJSON(w, err)
		return
	}
	t, err := h.trips.GetTrip(r.Context(), tripID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, t)
}

// Path returns both the original and corrected paths as [lat, lon] arrays
// (orig spec §4.5: the storage order is swapped at the boundary).
func (h *TripHandlers) Path(w http.ResponseWriter, r *http.Request, tripID string) {
	c, err := h.trips.GetPathCorrection(r.Context(), tripID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":             c.Status,
		"originalPath":       pointsToLatLon(c.OriginalPath),
		"correctedPath":      pointsToLatLon(c.CorrectedPath),
		"correctionQuality":  c.CorrectionQuality,
		"errorMessage":       c.ErrorMessage,
	})
}

// CorrectPath re-triggers path correction for a trip that is already
// COMPLETED, exposed for manual retry after a transient map-matching
// failure.
func (h *TripHandlers) CorrectPath(w http.ResponseWriter, r *http.Request, tripID string) {
	t, err := h.trips.GetTrip(r.Context(), tripID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	if t.State != model.TripCompleted {
		ErrJSON(w, apperr.NewValidation("path correction requires a completed trip", nil))
		return
	}
	go h.trips.TriggerPathCorrection(context.WithoutCancel(r.Context()), tripID)
	JSON(w, http.StatusAccepted, map[string]any{"status": "PENDING"})
}

func pointsToLatLon(points []model.GeoPoint) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Latitude, p.Longitude}
	}
	return out
}
