// Package policy implements the hierarchical settings resolver (orig spec
// C7): a pure reduction over an ordered list of layers, with monotone lock
// accumulation and strict-order value overlay (orig spec §9 "Hierarchical
// merge with locks" design note). Grounded on the teacher's
// internal/model/validate.go pure-function style, generalized from
// validation to merge-reduction.
package policy

import "github.com/pathmark/pathmark/internal/model"

// Layer is one tier's contribution to the merge: a settings overlay plus
// the keys it locks.
type Layer struct {
	Settings      map[string]any
	LockedKeys    []string
	Source        model.SourceTag
}

// Resolved is the output of Resolve (orig spec §4.3).
type Resolved struct {
	EffectiveSettings map[string]any
	LockedKeys        map[string]bool
	Sources           map[string]model.SourceTag
}

// Input is the in-memory snapshot of §4.3's four inputs, already loaded by
// the caller (internal/handler's SettingsHandlers) from the store.
type Input struct {
	Definitions   []*model.SettingDefinition
	HasOrg        bool
	OrgDefaults   map[string]any
	GroupPolicy   *Layer // nil if the device belongs to no group with a policy_id
	DevicePolicy  *Layer // nil if the device has no direct policy_id
	DeviceCustom  []*model.DeviceSetting
}

// Resolve runs the five-step ordered merge of orig spec §4.3. Unmanaged
// devices (HasOrg false) skip steps 2-4 and use only definitions plus
// custom settings.
func Resolve(in Input) Resolved {
	out := Resolved{
		EffectiveSettings: map[string]any{},
		LockedKeys:        map[string]bool{},
		Sources:           map[string]model.SourceTag{},
	}

	// Step 1: seed from SettingDefinition defaults.
	for _, def := range in.Definitions {
		out.EffectiveSettings[def.Key] = def.DefaultValue
		out.Sources[def.Key] = model.SourceDefaultValue
	}

	if in.HasOrg {
		// Step 2: org defaults.
		overlayValues(&out, in.OrgDefaults, model.SourceOrgDefault)

		// Step 3: group policy (if any), then lock its keys.
		if in.GroupPolicy != nil {
			overlayValues(&out, in.GroupPolicy.Settings, model.SourceGroupPolicy)
			addLocks(&out, in.GroupPolicy.LockedKeys)
		}

		// Step 4: device policy (if any), then lock its keys.
		if in.DevicePolicy != nil {
			overlayValues(&out, in.DevicePolicy.Settings, model.SourceDevicePolicy)
			addLocks(&out, in.DevicePolicy.LockedKeys)
		}
	}

	// Step 5: device custom settings, skipped for already-locked keys.
	for _, ds := range in.DeviceCustom {
		if out.LockedKeys[ds.SettingKey] {
			continue
		}
		out.EffectiveSettings[ds.SettingKey] = ds.Value
		out.Sources[ds.SettingKey] = model.SourceDeviceCustom
	}

	return out
}

// overlayValues applies a tier's values unconditionally — lock
// accumulation never unlocks, but an unlocked key's value is always
// overridden by a later tier (orig spec §4.3 algorithm note).
func overlayValues(out *Resolved, values map[string]any, source model.SourceTag) {
	for k, v := range values {
		out.EffectiveSettings[k] = v
		out.Sources[k] = source
	}
}

func addLocks(out *Resolved, keys []string) {
	for _, k := range keys {
		out.LockedKeys[k] = true
	}
}

// SkippedLockedKeys returns the subset of a proposed bulk update that was
// silently skipped because the key is locked — reported to the caller per
// orig spec §9's open-question resolution ("skipped without error,
// reported in response").
func SkippedLockedKeys(resolved Resolved, proposed map[string]any) []string {
	var skipped []string
	for k := range proposed {
		if resolved.LockedKeys[k] {
			skipped = append(skipped, k)
		}
	}
	return skipped
}
