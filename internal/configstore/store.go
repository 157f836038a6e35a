// Package configstore holds the live trading thresholds shared between the
// polling loop and the operator surface.
package configstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"bithumb-dip-bot-go/internal/config"
	"bithumb-dip-bot-go/internal/models"
)

var (
	ErrUnknownKey    = errors.New("unknown config key")
	ErrInvalid       = errors.New("invalid config value")
	ErrUnknownPreset = errors.New("unknown preset")
)

// Keys lists the settable TradingConfig keys.
var Keys = []string{
	"dropThreshold", "riseTarget", "stopLoss", "trailingStop", "rsiThreshold",
	"volumeMultiplier", "positionSize", "maxPositions", "volumeGate", "trendGate",
}

// Store is safe for concurrent use. Every mutation validates the full
// resulting config before committing it under a single lock acquisition.
type Store struct {
	mu       sync.RWMutex
	cfg      models.TradingConfig
	presets  map[string]config.Preset
	onChange []func(models.TradingConfig)
}

// New creates a store from an initial config, which must be valid.
func New(initial models.TradingConfig, presets map[string]config.Preset) (*Store, error) {
	if err := config.ValidateTrading(initial); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if presets == nil {
		presets = config.BuiltinPresets()
	}
	return &Store{cfg: initial, presets: presets}, nil
}

// OnChange registers a callback run after every committed mutation, outside the lock.
func (s *Store) OnChange(fn func(models.TradingConfig)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Get returns a copy of the current config.
func (s *Store) Get() models.TradingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set updates one key.
func (s *Store) Set(key string, value interface{}) error {
	return s.ApplyPreset(config.Preset{key: value})
}

// ApplyPreset applies a partial mapping atomically: either every key is
// applied or none is.
func (s *Store) ApplyPreset(mapping config.Preset) error {
	return s.mutate(func(c *models.TradingConfig) error {
		keys := make([]string, 0, len(mapping))
		for k := range mapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := setField(c, k, mapping[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyNamedPreset applies one of the registered presets.
func (s *Store) ApplyNamedPreset(name string) error {
	s.mu.RLock()
	p, ok := s.presets[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return s.ApplyPreset(p)
}

// Replace swaps the whole config.
func (s *Store) Replace(cfg models.TradingConfig) error {
	return s.mutate(func(c *models.TradingConfig) error {
		*c = cfg
		return nil
	})
}

// Presets returns the registered preset names, sorted.
func (s *Store) Presets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.presets))
	for n := range s.presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Preset returns a copy of a registered preset.
func (s *Store) Preset(name string) (config.Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presets[name]
	if !ok {
		return nil, false
	}
	out := make(config.Preset, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, true
}

func (s *Store) mutate(apply func(c *models.TradingConfig) error) error {
	s.mu.Lock()
	next := s.cfg
	if err := apply(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := config.ValidateTrading(next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.cfg = next
	callbacks := append([]func(models.TradingConfig){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(next)
	}
	return nil
}

func setField(c *models.TradingConfig, key string, value interface{}) error {
	switch key {
	case "volumeGate", "trendGate":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalid, key, value)
		}
		if key == "volumeGate" {
			c.VolumeGate = b
		} else {
			c.TrendGate = b
		}
		return nil
	}

	f, err := toFloat(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	switch key {
	case "dropThreshold":
		c.DropThreshold = f
	case "riseTarget":
		c.RiseTarget = f
	case "stopLoss":
		c.StopLoss = f
	case "trailingStop":
		c.TrailingStop = f
	case "rsiThreshold":
		c.RSIThreshold = f
	case "volumeMultiplier":
		c.VolumeMultiplier = f
	case "positionSize":
		c.PositionSize = f
	case "maxPositions":
		if f != math.Trunc(f) {
			return fmt.Errorf("%w: maxPositions must be an integer, got %v", ErrInvalid, f)
		}
		c.MaxPositions = int(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
