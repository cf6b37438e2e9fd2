package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pathmark/pathmark/internal/model"
)

// TestResolve_LockInheritance reproduces orig spec §8 scenario 3: org
// default 10, group policy 5 (locked), device policy 3 (no lock), device
// custom 1. Expected: value 3, key locked, source DEVICE_POLICY, custom
// ignored.
func TestResolve_LockInheritance(t *testing.T) {
	defs := []*model.SettingDefinition{
		{Key: "tracking_interval_minutes", DefaultValue: 15},
	}
	in := Input{
		Definitions: defs,
		HasOrg:      true,
		OrgDefaults: map[string]any{"tracking_interval_minutes": 10},
		GroupPolicy: &Layer{
			Settings:   map[string]any{"tracking_interval_minutes": 5},
			LockedKeys: []string{"tracking_interval_minutes"},
		},
		DevicePolicy: &Layer{
			Settings: map[string]any{"tracking_interval_minutes": 3},
		},
		DeviceCustom: []*model.DeviceSetting{
			{SettingKey: "tracking_interval_minutes", Value: 1},
		},
	}

	out := Resolve(in)

	assert.Equal(t, 3, out.EffectiveSettings["tracking_interval_minutes"])
	assert.True(t, out.LockedKeys["tracking_interval_minutes"])
	assert.Equal(t, model.SourceDevicePolicy, out.Sources["tracking_interval_minutes"])
}

func TestResolve_UnmanagedDeviceSkipsOrgGroupDevice(t *testing.T) {
	defs := []*model.SettingDefinition{
		{Key: "battery_saver_enabled", DefaultValue: false},
	}
	in := Input{
		Definitions: defs,
		HasOrg:      false,
		OrgDefaults: map[string]any{"battery_saver_enabled": false},
		GroupPolicy: &Layer{
			Settings:   map[string]any{"battery_saver_enabled": false},
			LockedKeys: []string{"battery_saver_enabled"},
		},
		DevicePolicy: &Layer{
			Settings: map[string]any{"battery_saver_enabled": false},
		},
		DeviceCustom: []*model.DeviceSetting{
			{SettingKey: "battery_saver_enabled", Value: true},
		},
	}

	out := Resolve(in)

	assert.Equal(t, true, out.EffectiveSettings["battery_saver_enabled"])
	assert.Equal(t, model.SourceDeviceCustom, out.Sources["battery_saver_enabled"])
	assert.Empty(t, out.LockedKeys)
}

func TestResolve_LockedKeyNeverExposedAsDeviceCustom(t *testing.T) {
	in := Input{
		HasOrg: true,
		GroupPolicy: &Layer{
			Settings:   map[string]any{"share_with_group": false},
			LockedKeys: []string{"share_with_group"},
		},
		DeviceCustom: []*model.DeviceSetting{
			{SettingKey: "share_with_group", Value: true},
		},
	}

	out := Resolve(in)

	assert.NotEqual(t, model.SourceDeviceCustom, out.Sources["share_with_group"])
	assert.Equal(t, false, out.EffectiveSettings["share_with_group"])
}

func TestSkippedLockedKeys(t *testing.T) {
	resolved := Resolved{LockedKeys: map[string]bool{"a": true}}
	proposed := map[string]any{"a": 1, "b": 2}

	skipped := SkippedLockedKeys(resolved, proposed)

	assert.Equal(t, []string{"a"}, skipped)
}
