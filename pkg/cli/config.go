package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/poltergeist/packer-driver/internal/engine"
	"github.com/poltergeist/packer-driver/pkg/config"
	pcontext "github.com/poltergeist/packer-driver/pkg/context"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// Config holds all CLI configuration. Flags and PACKER_* environment
// variables are resolved into it before any command runs.
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Workspace   string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
	}
}

// RuntimeConfig holds runtime configuration for one command
type RuntimeConfig struct {
	Config    *Config
	Context   context.Context
	StartTime time.Time
	TaskID    string
}

// NewRuntimeConfig creates a runtime configuration whose context carries a
// fresh task id
func NewRuntimeConfig(cfg *Config, ctx context.Context, operation string) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	taskID := pcontext.GenerateTaskID()
	return &RuntimeConfig{
		Config:    cfg,
		Context:   pcontext.BeginTask(ctx, taskID, operation),
		StartTime: time.Now(),
		TaskID:    taskID,
	}
}

// WithTimeout creates a new context with timeout
func (rc *RuntimeConfig) WithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(rc.Context, timeout)
}

// Elapsed returns the time since the command started
func (rc *RuntimeConfig) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// project is the resolved project of one command
type project struct {
	root       string
	configPath string
	config     *types.ProjectConfig
	workspace  string
}

// loadProject resolves the project root, loads its configuration and
// settles the workspace directory. An explicit --config must exist; without
// one the project falls back to defaults.
func (c *CLI) loadProject() (*project, error) {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	manager := config.NewManager()
	var (
		cfg  *types.ProjectConfig
		path string
	)
	if c.config.ConfigFile != "" {
		path = c.config.ConfigFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		cfg, err = manager.LoadConfig(path)
	} else {
		cfg, path, err = manager.LoadProject(root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path != "" {
		c.logger.Debug(fmt.Sprintf("Using config file %s", path))
	}

	workspace := c.config.Workspace
	if workspace == "" {
		workspace = cfg.Workspace
	}
	if workspace == "" {
		workspace = config.DefaultWorkspace
	}
	if !filepath.IsAbs(workspace) {
		workspace = filepath.Join(root, workspace)
	}

	return &project{
		root:       root,
		configPath: path,
		config:     cfg,
		workspace:  workspace,
	}, nil
}

func (p *project) stateDir() string {
	return filepath.Join(p.workspace, engine.StateDirName)
}
