package model

import "time"

// Location is one raw telemetry sample (orig spec §3, Location).
type Location struct {
	ID                 string              `json:"id"`
	DeviceID           string              `json:"deviceId"`
	CapturedAt         time.Time           `json:"capturedAt"`
	CreatedAt          time.Time           `json:"createdAt"`
	Point              GeoPoint            `json:"point"`
	AccuracyM          float64             `json:"accuracyM"`
	AltitudeM          *float64            `json:"altitudeM,omitempty"`
	BearingDeg         *float64            `json:"bearingDeg,omitempty"`
	SpeedMPS           *float64            `json:"speedMps,omitempty"`
	Provider           *string             `json:"provider,omitempty"`
	BatteryLevel       *float64            `json:"batteryLevel,omitempty"`
	NetworkType        *string             `json:"networkType,omitempty"`
	TransportationMode *TransportationMode `json:"transportationMode,omitempty"`
	DetectionSource    *DetectionSource    `json:"detectionSource,omitempty"`
	TripID             *string             `json:"tripId,omitempty"`
}

// MovementEvent is a classified activity sample (orig spec §3,
// MovementEvent); unlike Location, TransportationMode and DetectionSource
// are required and a Confidence score is attached.
type MovementEvent struct {
	ID                 string             `json:"id"`
	DeviceID           string             `json:"deviceId"`
	CapturedAt         time.Time          `json:"capturedAt"`
	CreatedAt          time.Time          `json:"createdAt"`
	Point              GeoPoint           `json:"point"`
	AccuracyM          float64            `json:"accuracyM"`
	AltitudeM          *float64           `json:"altitudeM,omitempty"`
	BearingDeg         *float64           `json:"bearingDeg,omitempty"`
	SpeedMPS           *float64           `json:"speedMps,omitempty"`
	Provider           *string            `json:"provider,omitempty"`
	BatteryLevel       *float64           `json:"batteryLevel,omitempty"`
	NetworkType        *string            `json:"networkType,omitempty"`
	Confidence         float64            `json:"confidence"`
	TransportationMode TransportationMode `json:"transportationMode"`
	DetectionSource    DetectionSource    `json:"detectionSource"`
	TripID             *string            `json:"tripId,omitempty"`
}

// Trip is one recorded journey (orig spec §3, Trip). Composite unique
// (DeviceID, LocalTripID); invariant: a device has at most one ACTIVE trip.
type Trip struct {
	ID                 string             `json:"id"`
	DeviceID           string             `json:"deviceId"`
	LocalTripID        string             `json:"localTripId"`
	State              TripState          `json:"state"`
	StartTimestamp     time.Time          `json:"startTimestamp"`
	EndTimestamp       *time.Time         `json:"endTimestamp,omitempty"`
	StartPoint         GeoPoint           `json:"startPoint"`
	EndPoint           *GeoPoint          `json:"endPoint,omitempty"`
	TransportationMode TransportationMode `json:"transportationMode"`
	DetectionSource    DetectionSource    `json:"detectionSource"`
	DistanceMeters     *float64           `json:"distanceMeters,omitempty"`
	DurationSeconds    *float64           `json:"durationSeconds,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// TripPathCorrection is the map-matching job state for one trip (orig spec
// §3, TripPathCorrection). TripID is unique — one correction per trip.
type TripPathCorrection struct {
	ID                 string
	TripID             string
	OriginalPath       []GeoPoint
	CorrectedPath      []GeoPoint
	Status             CorrectionStatus
	CorrectionQuality  *float64
	ErrorMessage       *string
}
