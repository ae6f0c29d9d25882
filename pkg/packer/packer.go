// Package packer defines the bundling engine surface the driver orchestrates.
// The driver never inspects bundling internals beyond the Session interface.
package packer

import (
	"context"
	"errors"
	"fmt"

	"github.com/poltergeist/packer-driver/pkg/depgraph"
	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// BuildOptions are per-build hints passed to the engine
type BuildOptions struct {
	// RetryResolutionOnUnchangedModule re-resolves imports of modules whose
	// source did not change since the previous build.
	RetryResolutionOnUnchangedModule bool
	// CleanResolution discards every cached resolution before building.
	CleanResolution bool
}

// BuildResult is the outcome of one engine pass
type BuildResult struct {
	// DepsGraph maps module URLs to the URLs they import.
	DepsGraph depgraph.Raw
	// Modules is the number of modules visited.
	Modules int
}

// BuildError reports a failed build along with the file that caused it
type BuildError struct {
	File string
	Err  error
}

func (e *BuildError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// FailedFile returns the file implicated by err, if any
func FailedFile(err error) (string, bool) {
	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.File != "" {
		return buildErr.File, true
	}
	return "", false
}

// LoaderContext describes how a host loads the modules of one target
type LoaderContext struct {
	TargetName   string               `json:"targetName"`
	WorkspaceDir string               `json:"workspaceDir"`
	ImportMap    *importmap.ImportMap `json:"importMap,omitempty"`
	ImportMapURL string               `json:"importMapURL,omitempty"`
	Modules      []string             `json:"modules"`
	// UUIDs maps module URLs to the asset UUIDs registered for them.
	UUIDs             map[string]string `json:"uuids,omitempty"`
	AssetPrefixes     []string          `json:"assetPrefixes,omitempty"`
	ExportsConditions []string          `json:"exportsConditions,omitempty"`
}

// Session is one bundling engine instance owned by a single build target
type Session interface {
	AddMemoryModule(url, source string) error
	SetUUID(url, uuid string)
	UnsetUUID(url string)
	SetImportMap(im *importmap.ImportMap, baseURL string) error
	SetAssetPrefixes(prefixes []string)
	SetExternals(externals []string)
	SetLoadMappings(mappings map[string]string)
	SetExtraExportsConditions(conditions []string)
	// Build runs one pass over entries. A failed pass returns a *BuildError.
	Build(ctx context.Context, entries []string, opts BuildOptions) (*BuildResult, error)
	LoadCache(ctx context.Context) error
	ClearCache(ctx context.Context) error
	CreateLoaderContext() *LoaderContext
	Close() error
}

// SessionConfig configures a new session
type SessionConfig struct {
	TargetName   types.TargetName
	WorkspaceDir string
	Shared       types.SharedSettings
	// BrowsersTarget is the browserslist query the output is compiled for.
	BrowsersTarget string
	Logger         logger.Logger
}

// SessionFactory creates a session for one target
type SessionFactory func(ctx context.Context, cfg SessionConfig) (Session, error)
