// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/packer-driver/pkg/types"
	"gopkg.in/yaml.v3"
)

// ConfigFileNames are searched in order inside the project root
var ConfigFileNames = []string{
	"packer.config.json",
	"packer.config.yaml",
	"packer.config.yml",
}

// DefaultWorkspace is the workspace directory relative to the project root
const DefaultWorkspace = "temp/packer-driver"

// DefaultSettlingDelay is the watch debounce in milliseconds
const DefaultSettlingDelay = 300

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfigFile returns the first configuration file present in projectRoot
func (m *Manager) FindConfigFile(projectRoot string) (string, bool) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(projectRoot, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadConfig loads configuration from a JSON or YAML file
func (m *Manager) LoadConfig(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.ProjectConfig

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		return m.validateConfig(&cfg)
	}

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	cfg = types.ProjectConfig{}
	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// LoadProject loads the configuration of projectRoot, falling back to
// defaults when the project has no configuration file.
func (m *Manager) LoadProject(projectRoot string) (*types.ProjectConfig, string, error) {
	path, ok := m.FindConfigFile(projectRoot)
	if !ok {
		return m.GetDefaultConfig(), "", nil
	}
	cfg, err := m.LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadSettings loads only the shared build settings of the configuration at path
func (m *Manager) LoadSettings(path string) (*types.SharedSettings, error) {
	cfg, err := m.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &cfg.Shared, nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.ProjectConfig) error {
	if cfg.Version != types.ConfigVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	seen := make(map[string]bool)
	for i, db := range cfg.Databases {
		if db.DBID == "" {
			return fmt.Errorf("database %d: missing dbID", i)
		}
		if db.Target == "" {
			return fmt.Errorf("database '%s': missing target", db.DBID)
		}
		if seen[db.DBID] {
			return fmt.Errorf("duplicate database id: %s", db.DBID)
		}
		seen[db.DBID] = true
	}

	for _, cond := range cfg.Shared.ExportsConditions {
		if strings.TrimSpace(cond) == "" {
			return fmt.Errorf("empty exports condition")
		}
	}

	if cfg.Watch != nil && cfg.Watch.SettlingDelay < 0 {
		return fmt.Errorf("settling delay must not be negative")
	}

	return nil
}

// GetDefaultConfig returns the configuration used when a project has none
func (m *Manager) GetDefaultConfig() *types.ProjectConfig {
	cfg := &types.ProjectConfig{Version: types.ConfigVersion}
	m.applyDefaults(cfg)
	return cfg
}

func (m *Manager) validateConfig(cfg *types.ProjectConfig) (*types.ProjectConfig, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	m.applyDefaults(cfg)
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Workspace == "" {
		cfg.Workspace = DefaultWorkspace
	}
	if cfg.Watch == nil {
		cfg.Watch = &types.WatchConfig{}
	}
	if len(cfg.Watch.Include) == 0 {
		cfg.Watch.Include = []string{"assets/**/*.ts", "assets/**/*.js"}
	}
	if len(cfg.Watch.Exclude) == 0 {
		cfg.Watch.Exclude = getDefaultExclusions()
	}
	if cfg.Watch.SettlingDelay == 0 {
		cfg.Watch.SettlingDelay = DefaultSettlingDelay
	}
	if len(cfg.Databases) == 0 {
		cfg.Databases = []types.AssetDatabaseInfo{{DBID: "assets", Target: "assets"}}
	}
}

func getDefaultExclusions() []string {
	return []string{
		"**/node_modules/**",
		"**/.git/**",
		"library/**",
		"temp/**",
		"local/**",
		"build/**",
		"**/*.d.ts",
	}
}
