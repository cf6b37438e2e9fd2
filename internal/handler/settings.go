package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/apperr"
	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/policy"
	"github.com/pathmark/pathmark/internal/store"
)

// SettingsHandlers implements the /api/v1/devices/:deviceId/settings...
// routes of orig spec §6, backed by internal/policy's hierarchical
// resolver.
type SettingsHandlers struct {
	devices store.DeviceStore
	groups  store.GroupStore
	logger  *zap.SugaredLogger
}

func NewSettingsHandlers(devices store.DeviceStore, groups store.GroupStore, logger *zap.SugaredLogger) *SettingsHandlers {
	return &SettingsHandlers{devices: devices, groups: groups, logger: logger}
}

// resolve loads all four merge inputs for a device and runs orig spec
// §4.3's reduction. Get and UpdateBulk share it.
func (h *SettingsHandlers) resolve(r *http.Request, d *model.Device) (policy.Resolved, error) {
	ctx := r.Context()
	defs, err := h.devices.ListSettingDefinitions(ctx)
	if err != nil {
		return policy.Resolved{}, err
	}
	in := policy.Input{Definitions: defs}

	if d.OrganizationID != nil {
		in.HasOrg = true
		org, err := h.groups.GetOrganization(ctx, *d.OrganizationID)
		if err != nil {
			return policy.Resolved{}, err
		}
		in.OrgDefaults = org.DefaultSettings

		groups, err := h.groups.ListGroupsForDevice(ctx, d.ID)
		if err != nil {
			return policy.Resolved{}, err
		}
		for _, g := range groups {
			if g.PolicyID == nil {
				continue
			}
			p, err := h.devices.GetDevicePolicy(ctx, *g.PolicyID)
			if err != nil {
				continue
			}
			in.GroupPolicy = &policy.Layer{Settings: p.Settings, LockedKeys: p.LockedSettings, Source: model.SourceGroupPolicy}
			break
		}

		if d.PolicyID != nil {
			p, err := h.devices.GetDevicePolicy(ctx, *d.PolicyID)
			if err != nil {
				return policy.Resolved{}, err
			}
			in.DevicePolicy = &policy.Layer{Settings: p.Settings, LockedKeys: p.LockedSettings, Source: model.SourceDevicePolicy}
		}
	}

	custom, err := h.devices.ListDeviceSettings(ctx, d.ID)
	if err != nil {
		return policy.Resolved{}, err
	}
	in.DeviceCustom = custom

	return policy.Resolve(in), nil
}

// Get returns the fully-resolved effective settings for a device (orig
// spec §4.3).
func (h *SettingsHandlers) Get(w http.ResponseWriter, r *http.Request, deviceID string) {
	d, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	resolved, err := h.resolve(r, d)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"effectiveSettings": resolved.EffectiveSettings,
		"lockedKeys":        resolved.LockedKeys,
		"sources":           resolved.Sources,
	})
}

// UpdateBulk applies a proposed set of device-custom settings, silently
// skipping any that resolve locked or whose device setting is locked, and
// reporting the skipped keys in the response (orig spec §9 open-question
// resolution).
func (h *SettingsHandlers) UpdateBulk(w http.ResponseWriter, r *http.Request, deviceID string) {
	var req struct {
		Settings map[string]any `json:"settings"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	d, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	resolved, err := h.resolve(r, d)
	if err != nil {
		ErrJSON(w, err)
		return
	}
	skipped := policy.SkippedLockedKeys(resolved, req.Settings)
	skippedSet := make(map[string]bool, len(skipped))
	for _, k := range skipped {
		skippedSet[k] = true
	}
	for key := range req.Settings {
		if skippedSet[key] {
			continue
		}
		if existing, err := h.devices.GetDeviceSetting(r.Context(), deviceID, key); err == nil && existing.IsLocked {
			skipped = append(skipped, key)
			skippedSet[key] = true
		}
	}

	for key, value := range req.Settings {
		if skippedSet[key] {
			continue
		}
		s := &model.DeviceSetting{DeviceID: deviceID, SettingKey: key, Value: value}
		if err := h.devices.UpsertDeviceSetting(r.Context(), s); err != nil {
			ErrJSON(w, err)
			return
		}
	}

	JSON(w, http.StatusOK, map[string]any{"success": true, "skippedLockedKeys": skipped})
}

// UpdateOne sets or clears a single device-custom setting key.
func (h *SettingsHandlers) UpdateOne(w http.ResponseWriter, r *http.Request, deviceID, key string) {
	var req struct {
		Value any `json:"value"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	existing, err := h.devices.GetDeviceSetting(r.Context(), deviceID, key)
	if err == nil && existing.IsLocked {
		ErrJSON(w, apperr.NewForbidden("setting is locked"))
		return
	}
	s := &model.DeviceSetting{DeviceID: deviceID, SettingKey: key, Value: req.Value}
	if err := h.devices.UpsertDeviceSetting(r.Context(), s); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

type lockSettingRequest struct {
	Key    string  `json:"key"`
	Reason *string `json:"reason,omitempty"`
}

// Lock locks a device setting key so it is excluded from future
// device-custom overrides (orig spec §4.3/§9).
func (h *SettingsHandlers) Lock(w http.ResponseWriter, r *http.Request, deviceID string) {
	id := IdentityFromContext(r.Context())
	var req lockSettingRequest
	if err := DecodeJSON(r, &req); err != nil {
		ErrJSON(w, apperr.NewValidation("malformed request body", nil))
		return
	}
	lockedBy := id.UserID
	if lockedBy == "" && id.APIKey != nil {
		lockedBy = id.APIKey.ID
	}
	if err := h.devices.LockDeviceSetting(r.Context(), deviceID, req.Key, lockedBy, time.Now().UTC(), req.Reason); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *SettingsHandlers) Unlock(w http.ResponseWriter, r *http.Request, deviceID, key string) {
	if err := h.devices.UnlockDeviceSetting(r.Context(), deviceID, key); err != nil {
		ErrJSON(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true})
}
