// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/types"
)

//go:generate mockgen -destination=../mocks/mock_interfaces.go -package=mocks github.com/poltergeist/packer-driver/pkg/interfaces FeatureService,ProjectConfigBuilder

// FeatureService answers engine feature and unit queries
type FeatureService interface {
	GetFeatures(ctx context.Context) ([]string, error)
	GetFeatureUnits(ctx context.Context) (map[string][]string, error)
	GetUnitsOfFeatures(ctx context.Context, features []string) ([]string, error)
	// EvaluateIndexModuleSource generates the engine index module. prefix maps
	// a unit to the specifier it is imported from; nil selects the default.
	EvaluateIndexModuleSource(units []string, prefix func(unit string) string) (string, error)
}

// ProjectConfigBuilder manages the TypeScript project configuration
type ProjectConfigBuilder interface {
	SetDBURLInfos(infos []types.DBURLInfo)
	GetRealTsConfigPath() string
	GetProjectPath() string
	GetCompilerOptions(ctx context.Context) (*types.CompilerOptions, error)
	GetInternalDBURLInfos() []types.DBURLInfo
	GenerateDeclarations(ctx context.Context) error
}

// ChangeNotifier accumulates asset changes reported by the asset database
type ChangeNotifier interface {
	OnAssetChange(change types.AssetChange)
	AssetChangeQueue() []types.AssetChange
	ResetAssetChangeQueue()
	QueryAssetDomains(ctx context.Context, mounts []types.AssetDatabaseInfo) ([]types.AssetDatabaseDomain, error)
}

// StateManager handles persistent state for targets
type StateManager interface {
	InitializeState(targetName string) (*state.TargetState, error)
	ReadState(targetName string) (*state.TargetState, error)
	RecordBuildStart(targetName, taskID string) error
	RecordBuildResult(targetName string, outcome state.BuildOutcome) error
	DiscoverStates() (map[string]*state.TargetState, error)
	Cleanup() error
}

// BuildNotifier handles build notifications
type BuildNotifier interface {
	NotifyBuildStart(target string)
	NotifyBuildSuccess(target string, duration time.Duration)
	NotifyBuildFailure(target string, err error)
}

// EventListener receives compile-start and compiled events
type EventListener func(event types.BuildEvent)

// BeforeEditorBuildListener is called before the editor target builds with
// the modified scripts of the current iteration.
type BeforeEditorBuildListener func(ctx context.Context, changes []types.AssetChange)

// Dependencies contains all injectable collaborators of a driver
type Dependencies struct {
	Features       FeatureService
	ProjectBuilder ProjectConfigBuilder
	ChangeNotifier ChangeNotifier
	StateManager   StateManager
	Notifier       BuildNotifier
	SessionFactory packer.SessionFactory
}
