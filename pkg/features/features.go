// Package features answers engine feature and unit queries from the engine
// feature configuration file.
package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// UnitModulePrefix is the URL prefix of engine unit modules. Units are
// provided by the engine at runtime and are never bundled.
const UnitModulePrefix = "cce:/internal/x/cc-fu/"

// ErrUnknownFeature is returned for features missing from the configuration
var ErrUnknownFeature = errors.New("unknown engine feature")

// FeatureConfig describes one selectable engine feature
type FeatureConfig struct {
	Label   string   `json:"label,omitempty" yaml:"label,omitempty"`
	Modules []string `json:"modules" yaml:"modules"`
}

// EngineConfig is the engine feature configuration file
type EngineConfig struct {
	Features map[string]FeatureConfig `json:"features" yaml:"features"`
}

// Service implements feature queries over an EngineConfig
type Service struct {
	configPath string

	mu     sync.Mutex
	config *EngineConfig
}

// NewService creates a service reading configPath lazily.
// An empty path yields a service without features.
func NewService(configPath string) *Service {
	return &Service{configPath: configPath}
}

// NewServiceFromConfig creates a service over an in-memory configuration
func NewServiceFromConfig(cfg *EngineConfig) *Service {
	return &Service{config: cfg}
}

func (s *Service) load() (*EngineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return s.config, nil
	}
	if s.configPath == "" {
		s.config = &EngineConfig{}
		return s.config, nil
	}

	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}

	var cfg EngineConfig
	if strings.HasSuffix(s.configPath, ".yaml") || strings.HasSuffix(s.configPath, ".yml") {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine config %s: %w", s.configPath, err)
	}
	s.config = &cfg
	return s.config, nil
}

// GetFeatures returns every shipped feature, sorted
func (s *Service) GetFeatures(ctx context.Context) ([]string, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	features := make([]string, 0, len(cfg.Features))
	for name := range cfg.Features {
		features = append(features, name)
	}
	sort.Strings(features)
	return features, nil
}

// GetFeatureUnits returns the units of every feature
func (s *Service) GetFeatureUnits(ctx context.Context) (map[string][]string, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	units := make(map[string][]string, len(cfg.Features))
	for name, feature := range cfg.Features {
		units[name] = append([]string(nil), feature.Modules...)
	}
	return units, nil
}

// GetUnitsOfFeatures returns the sorted union of the units of features
func (s *Service) GetUnitsOfFeatures(ctx context.Context, features []string) ([]string, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, name := range features {
		feature, ok := cfg.Features[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
		}
		for _, unit := range feature.Modules {
			set[unit] = struct{}{}
		}
	}

	units := make([]string, 0, len(set))
	for unit := range set {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// EvaluateIndexModuleSource generates the engine index module re-exporting units.
// A nil prefix imports units from UnitModulePrefix.
func (s *Service) EvaluateIndexModuleSource(units []string, prefix func(unit string) string) (string, error) {
	if prefix == nil {
		prefix = DefaultUnitPrefix
	}
	if len(units) == 0 {
		return "export {};\n", nil
	}

	var b strings.Builder
	for _, unit := range units {
		if unit == "" {
			return "", fmt.Errorf("empty unit name")
		}
		fmt.Fprintf(&b, "export * from %s;\n", strconv.Quote(prefix(unit)))
	}
	return b.String(), nil
}

// DefaultUnitPrefix maps a unit to its engine module URL
func DefaultUnitPrefix(unit string) string {
	return UnitModulePrefix + unit
}
