package policy

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pathmark/pathmark/internal/model"
)

//go:embed settings_seed.yaml
var settingsSeedYAML []byte

type seedFile struct {
	Definitions []seedDefinition `yaml:"definitions"`
}

type seedDefinition struct {
	Key          string `yaml:"key"`
	DisplayName  string `yaml:"display_name"`
	Description  string `yaml:"description"`
	DataType     string `yaml:"data_type"`
	DefaultValue any    `yaml:"default_value"`
	IsLockable   bool   `yaml:"is_lockable"`
	Category     string `yaml:"category"`
}

// LoadSeedDefinitions parses the embedded SettingDefinition catalog. The
// caller (cmd/pathmark, at startup) upserts each into the store so the
// catalog is reseedable without a migration file.
func LoadSeedDefinitions() ([]*model.SettingDefinition, error) {
	var f seedFile
	if err := yaml.Unmarshal(settingsSeedYAML, &f); err != nil {
		return nil, fmt.Errorf("parse settings seed: %w", err)
	}
	out := make([]*model.SettingDefinition, 0, len(f.Definitions))
	for _, d := range f.Definitions {
		out = append(out, &model.SettingDefinition{
			Key:          d.Key,
			DisplayName:  d.DisplayName,
			Description:  d.Description,
			DataType:     model.DataType(d.DataType),
			DefaultValue: d.DefaultValue,
			IsLockable:   d.IsLockable,
			Category:     d.Category,
		})
	}
	return out, nil
}
