package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a partial threshold mapping keyed by TradingConfig key names.
type Preset map[string]interface{}

// PresetFile represents the top-level YAML structure.
type PresetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// BuiltinPresets 返回内置的行情预设
func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"bull": {
			"dropThreshold": 0.03,
			"riseTarget":    0.06,
			"trailingStop":  0.03,
			"rsiThreshold":  45.0,
		},
		"bear": {
			"dropThreshold": 0.07,
			"riseTarget":    0.03,
			"stopLoss":      0.02,
			"rsiThreshold":  30.0,
		},
		"surge": {
			"dropThreshold":    0.02,
			"riseTarget":       0.08,
			"trailingStop":     0.04,
			"volumeMultiplier": 3.0,
		},
		"range": {
			"dropThreshold": 0.04,
			"riseTarget":    0.03,
			"stopLoss":      0.03,
			"rsiThreshold":  35.0,
		},
	}
}

// LoadPresets reads presets from a YAML file and merges them over the
// built-in set. A preset in the file replaces the built-in preset of the
// same name entirely. An empty path yields the built-ins.
func LoadPresets(path string) (map[string]Preset, error) {
	presets := BuiltinPresets()
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, p := range file.Presets {
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: preset %q is empty", ErrInvalidConfig, name)
		}
		presets[name] = p
	}
	return presets, nil
}
