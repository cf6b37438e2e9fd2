package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/cryptoutil"
	"github.com/pathmark/pathmark/internal/location"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// DeviceHandlers implements the /api/v1/devices/... routes of orig spec
// §6: anonymous registration, organization enrollment, and per-device
// telemetry/settings/group sub-resources.
type DeviceHandlers struct {
	devices   store.DeviceStore
	groups    store.GroupStore
	locations *location.Ingester
	logger    *zap.SugaredLogger
}

func NewDeviceHandlers(devices store.DeviceStore, groups store.GroupStore, locations *location.Ingester, logger *zap.SugaredLogger) *DeviceHandlers {
	return &DeviceHandlers{devices: devices, groups: groups, locations: locations, logger: logger}
}

type registerDeviceRequest struct {
	DeviceUUID          string  `json:"deviceUuid"`
	DisplayName         string  `json:"displayName"`
	Platform            string  `json:"platform"`
	FCMToken            *string `json:"fcmToken,omitempty"`
	RegistrationGroupID *string `json:"registrationGroupId,omitempty"`
}

// Register creates an unbound, anonymous device (orig spec §4: the
// device exists and can upload telemetry before any user claims it).
func (h *DeviceHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.DeviceUUID == "" || req.Platform == "" {
		ErrJSON(w, apperr.NewValidation("deviceUuid and platform are required", nil))
		return
	}
	if existing, err := h.devices.GetDeviceByUUID(r.Context(), req.DeviceUUID); err == nil {
		JSON(w, http.StatusOK, existing)
		return
	} else if apperr.KindOf(err) != apperr.NotFound {
		ErrJSON(w, err)
		return
	}

	now := time.Now().UTC()
	d := &model.Device{
		DeviceUUID:          req.DeviceUUID,
		DisplayName:         req.DisplayName,
		Platform:            req.Platform,
		FCMToken:            req.FCMToken,
		RegistrationGroupID: req.RegistrationGroupID,
		EnrollmentStatus:    model.EnrollmentPending,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := h.devices.CreateDevice(r.Context(), d); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusCreated, d)
}

type enrollDeviceRequest struct {
	DeviceID       string  `json:"deviceId"`
	OrganizationID string  `json:"organizationId"`
	PolicyID       *string `json:"policyId,omitempty"`
}

type enrollDeviceResponse struct {
	Device      *model.Device `json:"device"`
	DeviceToken string        `json:"deviceToken"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// Enroll converts a device to a managed, organization-scoped device and
// issues its long-lived device token (orig spec §3 "Enrollment token";
// simplified here to a user-authenticated request checked against the
// caller's org admin/owner role rather than a separate one-time-token
// entity — see DESIGN.md).
func (h *DeviceHandlers) Enroll(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	var req enrollDeviceRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	if req.DeviceID == "" || req.OrganizationID == "" {
		ErrJSON(w, apperr.NewValidation("deviceId and organizationId are required", nil))
		return
	}

	ou, err := h.groups.GetOrgUser(r.Context(), req.OrganizationID, id.UserID)
	if err != nil || (ou.Role != model.RoleOwner && ou.Role != model.RoleAdmin) {
		ErrJSON(w, apperr.NewForbidden("requires organization admin or owner role"))
		return
	}

	d, err := h.devices.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}

	secret, err := cryptoutil.DeviceTokenSecret()
	if err != nil {
		ErrJSON(w, apperr.NewInternal("generate device token", err))
		return
	}
	now := time.Now().UTC()
	expiresAt := now.Add(90 * 24 * time.Hour)
	token := &model.DeviceToken{
		DeviceID:  d.ID,
		TokenHash: cryptoutil.Digest256(secret),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}

	if err := h.devices.EnrollDevice(r.Context(), d.ID, req.OrganizationID, req.PolicyID, now); err != nil {
		ErrJSON(w, err)
		return
	}
	if err := h.devices.CreateDeviceToken(r.Context(), token); err != nil {
		ErrJSON(w, err)
		return
	}

	d.OrganizationID = &req.OrganizationID
	d.PolicyID = req.PolicyID
	d.IsManaged = true
	d.EnrollmentStatus = model.EnrollmentEnrolled
	d.UpdatedAt = now

	JSON(w, http.StatusCreated, enrollDeviceResponse{Device: d, DeviceToken: secret, ExpiresAt: expiresAt})
}

func (h *DeviceHandlers) Get(w http.ResponseWriter, r *http.Request, deviceID string) {
	d, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, d)
}

// Locations serves a device's location history through the ingester with
// the same response shape as LocationHandlers.History; it reads the
// cursor, order and limit parameters but not from/to.
func (h *DeviceHandlers) Locations(w http.ResponseWriter, r *http.Request, deviceID string) {
	q := location.HistoryQuery{
		Cursor: r.URL.Query().Get("cursor"),
		Order:  r.URL.Query().Get("order"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := parseInt(limit); err == nil {
			q.Limit = n
		}
	}
	page, err := h.locations.History(r.Context(), deviceID, q)
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

// Groups lists the authenticated groups a device belongs to.
func (h *DeviceHandlers) Groups(w http.ResponseWriter, r *http.Request, deviceID string) {
	groups, err := h.groups.ListGroupsForDevice(r.Context(), deviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"groups": groups})
}
