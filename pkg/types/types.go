// Package types provides core types shared by the packer driver and its collaborators
package types

import (
	"fmt"
	"strings"
	"time"
)

// TargetName identifies a predefined build target
type TargetName = string

const (
	// TargetEditor is loaded by the editor process and always carries every engine feature
	TargetEditor TargetName = "editor"
	// TargetPreview is loaded by the browser preview and follows the project's feature selection
	TargetPreview TargetName = "preview"
)

// PredefinedTargets lists the targets a driver creates, in build order
var PredefinedTargets = []TargetName{TargetEditor, TargetPreview}

// AssetChangeType represents the kind of asset change directive
type AssetChangeType string

const (
	AssetChangeAdd    AssetChangeType = "add"
	AssetChangeModify AssetChangeType = "change"
	AssetChangeDelete AssetChangeType = "delete"
)

// ParseAssetChangeType converts a raw string into an AssetChangeType.
// "modify" is accepted as an alias of "change".
func ParseAssetChangeType(raw string) (AssetChangeType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "add":
		return AssetChangeAdd, nil
	case "change", "modify":
		return AssetChangeModify, nil
	case "delete", "remove":
		return AssetChangeDelete, nil
	default:
		return "", fmt.Errorf("unknown asset change type: %q", raw)
	}
}

// AssetChange is one add/modify/delete directive for a script-like asset
type AssetChange struct {
	Type           AssetChangeType `json:"type" yaml:"type"`
	UUID           string          `json:"uuid" yaml:"uuid"`
	FilePath       string          `json:"filePath" yaml:"filePath"`
	URL            string          `json:"url" yaml:"url"`
	IsPluginScript bool            `json:"isPluginScript,omitempty" yaml:"isPluginScript,omitempty"`
}

// FilterAssetChanges returns the changes of the given type, preserving order
func FilterAssetChanges(changes []AssetChange, changeType AssetChangeType) []AssetChange {
	var filtered []AssetChange
	for _, c := range changes {
		if c.Type == changeType {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// DBChangeType represents a mount/unmount of an asset database
type DBChangeType string

const (
	DBChangeAdd    DBChangeType = "add"
	DBChangeRemove DBChangeType = "remove"
)

// AssetDatabaseInfo describes one asset database mount as reported by the editor
type AssetDatabaseInfo struct {
	DBID     string `json:"dbID" yaml:"dbID"`
	Target   string `json:"target" yaml:"target"`
	Readonly bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
}

// DBURLInfo maps a database URL prefix to its physical directory
type DBURLInfo struct {
	DBURL string `json:"dbURL" yaml:"dbURL"`
	Path  string `json:"path" yaml:"path"`
}

// AssetDatabaseDomain is one mounted database root as seen by the bundling engine
type AssetDatabaseDomain struct {
	// Root is the database URL prefix, e.g. "db://assets/".
	Root string `json:"root" yaml:"root"`
	// Physical is the directory on disk.
	Physical string `json:"physical" yaml:"physical"`
	// Jail optionally restricts resolution to a directory.
	Jail string `json:"jail,omitempty" yaml:"jail,omitempty"`
}

// SharedSettings are the build-affecting settings shared by all targets
type SharedSettings struct {
	UseDefineForClassFields bool     `json:"useDefineForClassFields" yaml:"useDefineForClassFields"`
	AllowDeclareFields      bool     `json:"allowDeclareFields" yaml:"allowDeclareFields"`
	Loose                   bool     `json:"loose" yaml:"loose"`
	GuessCommonJSExports    bool     `json:"guessCommonJsExports" yaml:"guessCommonJsExports"`
	ExportsConditions       []string `json:"exportsConditions,omitempty" yaml:"exportsConditions,omitempty"`
	ImportMapFile           string   `json:"importMap,omitempty" yaml:"importMap,omitempty"`
	PreserveSymlinks        bool     `json:"preserveSymlinks" yaml:"preserveSymlinks"`
	// PreviewBrowsersTarget overrides the browser targets used by the preview build.
	PreviewBrowsersTarget string `json:"previewBrowsersTarget,omitempty" yaml:"previewBrowsersTarget,omitempty"`
	// Features is the engine feature selection used by non-editor targets.
	Features []string `json:"features,omitempty" yaml:"features,omitempty"`
}

// BuildStatus represents the current state of a target build
type BuildStatus string

const (
	BuildStatusIdle      BuildStatus = "idle"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// CompilerOptions is the subset of TypeScript compiler options the driver consumes
type CompilerOptions struct {
	BaseURL string              `json:"baseUrl,omitempty"`
	Paths   map[string][]string `json:"paths,omitempty"`
	Target  string              `json:"target,omitempty"`
	Strict  bool                `json:"strict,omitempty"`
}

// EventKind identifies a driver lifecycle notification
type EventKind string

const (
	EventCompileStart EventKind = "compile-start"
	EventCompiled     EventKind = "compiled"
)

// BuildEvent is broadcast at the start and end of every build iteration
type BuildEvent struct {
	Kind   EventKind `json:"kind"`
	TaskID string    `json:"taskId,omitempty"`
	// FailedTargets is only set on EventCompiled.
	FailedTargets []TargetName `json:"failedTargets,omitempty"`
	Err           error        `json:"-"`
	Time          time.Time    `json:"time"`
}

// ConfigVersion is the supported project configuration version
const ConfigVersion = "1.0"

// ProjectConfig is the packer driver configuration of a project
type ProjectConfig struct {
	Version string `json:"version" yaml:"version"`
	// EngineConfig is the engine feature configuration file, relative to the project.
	EngineConfig string `json:"engineConfig,omitempty" yaml:"engineConfig,omitempty"`
	// Workspace holds caches, the incremental record and target state.
	Workspace     string              `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Shared        SharedSettings      `json:"shared" yaml:"shared"`
	Databases     []AssetDatabaseInfo `json:"databases,omitempty" yaml:"databases,omitempty"`
	Watch         *WatchConfig        `json:"watch,omitempty" yaml:"watch,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// WatchConfig controls the filesystem change source
type WatchConfig struct {
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// PluginScripts matches scripts that are loaded as plugins rather than modules.
	PluginScripts []string `json:"pluginScripts,omitempty" yaml:"pluginScripts,omitempty"`
	// SettlingDelay in milliseconds.
	SettlingDelay int `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
}

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// NotificationsEnabled reports whether desktop notifications are on
func (c *ProjectConfig) NotificationsEnabled() bool {
	return c.Notifications != nil && c.Notifications.Enabled != nil && *c.Notifications.Enabled
}
