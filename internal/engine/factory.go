package engine

import (
	"path/filepath"

	"github.com/poltergeist/packer-driver/pkg/assetdb"
	"github.com/poltergeist/packer-driver/pkg/features"
	"github.com/poltergeist/packer-driver/pkg/interfaces"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/notifier"
	"github.com/poltergeist/packer-driver/pkg/packer/scan"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/tsconfig"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// StateDirName is the directory under the workspace holding target state files
const StateDirName = "state"

// DependencyFactory creates default implementations of dependencies.
// This follows the dependency injection pattern and removes hidden
// concrete fallbacks from constructors.
type DependencyFactory struct {
	projectRoot      string
	workspaceDir     string
	engineConfigPath string
	logger           logger.Logger
	config           *types.ProjectConfig
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot, workspaceDir, engineConfigPath string, log logger.Logger, config *types.ProjectConfig) *DependencyFactory {
	if config == nil {
		config = &types.ProjectConfig{}
	}
	return &DependencyFactory{
		projectRoot:      projectRoot,
		workspaceDir:     workspaceDir,
		engineConfigPath: engineConfigPath,
		logger:           log,
		config:           config,
	}
}

// CreateDefaults creates all default dependencies of a driver
func (f *DependencyFactory) CreateDefaults() interfaces.Dependencies {
	deps := interfaces.Dependencies{
		Features:       f.createFeatureService(),
		ProjectBuilder: f.createProjectBuilder(),
		ChangeNotifier: f.createChangeNotifier(),
		StateManager:   f.createStateManager(),
		SessionFactory: scan.Factory,
	}

	if f.config.NotificationsEnabled() {
		deps.Notifier = f.createNotifier()
	}

	return deps
}

// CreateWithOverrides creates dependencies with specific overrides.
// This is useful for testing or custom configurations.
func (f *DependencyFactory) CreateWithOverrides(overrides interfaces.Dependencies) interfaces.Dependencies {
	deps := f.CreateDefaults()

	// Apply overrides (non-nil values replace defaults)
	if overrides.Features != nil {
		deps.Features = overrides.Features
	}
	if overrides.ProjectBuilder != nil {
		deps.ProjectBuilder = overrides.ProjectBuilder
	}
	if overrides.ChangeNotifier != nil {
		deps.ChangeNotifier = overrides.ChangeNotifier
	}
	if overrides.StateManager != nil {
		deps.StateManager = overrides.StateManager
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	if overrides.SessionFactory != nil {
		deps.SessionFactory = overrides.SessionFactory
	}

	return deps
}

// Individual factory methods for each dependency

func (f *DependencyFactory) createFeatureService() interfaces.FeatureService {
	return features.NewService(f.engineConfigPath)
}

func (f *DependencyFactory) createProjectBuilder() interfaces.ProjectConfigBuilder {
	return tsconfig.NewBuilder(f.projectRoot, nil, f.logger)
}

func (f *DependencyFactory) createChangeNotifier() interfaces.ChangeNotifier {
	return assetdb.NewNotifier(f.projectRoot, f.logger)
}

func (f *DependencyFactory) createStateManager() interfaces.StateManager {
	return state.NewStateManager(filepath.Join(f.workspaceDir, StateDirName), f.logger)
}

func (f *DependencyFactory) createNotifier() interfaces.BuildNotifier {
	cfg := notifier.Config{Enabled: true}
	if f.config.Notifications != nil {
		cfg.FailureSound = f.config.Notifications.FailureSound
	}
	return notifier.New(cfg, f.logger)
}
