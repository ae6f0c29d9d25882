package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

const (
	// EngineIndexModuleURL is the memory module the "cc" specifier resolves to
	EngineIndexModuleURL = "cce:/internal/x/cc"
	// PrerequisiteImportsModuleURL is the memory module importing every prerequisite script
	PrerequisiteImportsModuleURL = "cce:/internal/x/prerequisite-imports"
	// DefaultImportMapURL is the base URL of the import map when the project has none
	DefaultImportMapURL = "cce:/internal/import-map.json"
)

// ErrBuildInProgress is returned when a target is mutated while it builds
var ErrBuildInProgress = errors.New("build in progress but a status change was requested")

type targetPhase int

const (
	phaseIdle targetPhase = iota
	phaseBuilding
)

// buildCall is one engine pass shared by every caller that asked for it
type buildCall struct {
	done   chan struct{}
	result *packer.BuildResult
	err    error
}

func (c *buildCall) wait(ctx context.Context) (*packer.BuildResult, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// targetState is Idle, or Building with the call in flight
type targetState struct {
	phase targetPhase
	call  *buildCall
}

// TargetOptions configures a BuildTarget
type TargetOptions struct {
	Name    types.TargetName
	Session packer.Session
	Logger  logger.Logger
	// RespectFeatureSetting makes the engine index follow the project feature selection.
	RespectFeatureSetting bool
	UserImportMap         *importmap.ImportMap
	UserImportMapURL      string
}

// BuildTarget owns one bundling session and the scripts it builds
type BuildTarget struct {
	name                  types.TargetName
	session               packer.Session
	logger                logger.Logger
	respectFeatureSetting bool
	userImportMap         *importmap.ImportMap
	importMapURL          string

	mu                      sync.Mutex
	state                   targetState
	ready                   bool
	firstBuild              bool
	cleanResolutionNextTime bool
	prerequisites           map[string]struct{}
	uuidToURL               map[string]string
	importMap               *importmap.ImportMap
}

// NewBuildTarget creates an idle target
func NewBuildTarget(opts TargetOptions) *BuildTarget {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	importMapURL := opts.UserImportMapURL
	if importMapURL == "" {
		importMapURL = DefaultImportMapURL
	}
	return &BuildTarget{
		name:                  opts.Name,
		session:               opts.Session,
		logger:                log.WithTarget(opts.Name),
		respectFeatureSetting: opts.RespectFeatureSetting,
		userImportMap:         opts.UserImportMap,
		importMapURL:          importMapURL,
		firstBuild:            true,
		prerequisites:         make(map[string]struct{}),
		uuidToURL:             make(map[string]string),
	}
}

// Name returns the target name
func (t *BuildTarget) Name() types.TargetName {
	return t.name
}

// RespectFeatureSetting reports whether the engine index follows the feature selection
func (t *BuildTarget) RespectFeatureSetting() bool {
	return t.respectFeatureSetting
}

// Ready reports whether the target has completed a successful build
func (t *BuildTarget) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Building reports whether an engine pass is in flight
func (t *BuildTarget) Building() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.phase == phaseBuilding
}

// Prerequisites returns the sorted prerequisite script URLs
func (t *BuildTarget) Prerequisites() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedPrerequisitesLocked()
}

// ImportMap returns a copy of the import map last handed to the engine
func (t *BuildTarget) ImportMap() *importmap.ImportMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.importMap == nil {
		return nil
	}
	return t.importMap.Clone()
}

// LoaderContext returns how a host loads this target's modules
func (t *BuildTarget) LoaderContext() *packer.LoaderContext {
	return t.session.CreateLoaderContext()
}

// Build runs one engine pass over the current entries. Callers arriving
// while a pass is in flight share its result instead of starting another.
func (t *BuildTarget) Build(ctx context.Context) (*packer.BuildResult, error) {
	t.mu.Lock()
	if t.state.phase == phaseBuilding {
		call := t.state.call
		t.mu.Unlock()
		t.logger.Debug("Joining in-flight build")
		return call.wait(ctx)
	}

	call := &buildCall{done: make(chan struct{})}
	t.state = targetState{phase: phaseBuilding, call: call}
	entries := t.entriesLocked()
	opts := packer.BuildOptions{
		RetryResolutionOnUnchangedModule: t.firstBuild,
		CleanResolution:                  t.cleanResolutionNextTime,
	}
	t.firstBuild = false
	t.cleanResolutionNextTime = false
	t.mu.Unlock()

	t.logger.Debug("Building target",
		logger.WithField("entries", len(entries)),
		logger.WithField("clean_resolution", opts.CleanResolution))

	// Waiters share this pass, so one caller's cancellation must not abort it.
	call.result, call.err = t.runBuild(context.WithoutCancel(ctx), entries, opts)

	t.mu.Lock()
	t.state = targetState{phase: phaseIdle}
	if call.err == nil {
		t.ready = true
	}
	t.mu.Unlock()
	close(call.done)

	return call.result, call.err
}

func (t *BuildTarget) runBuild(ctx context.Context, entries []string, opts packer.BuildOptions) (result *packer.BuildResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bundling engine panic: %v", r)
		}
	}()

	result, err = t.session.Build(ctx, entries, opts)
	if err == nil && result == nil {
		result = &packer.BuildResult{}
	}
	return result, err
}

// beginMutation awaits an in-flight build, then asserts the target is idle.
// On success the target lock is held and must be released by the caller.
func (t *BuildTarget) beginMutation(ctx context.Context) error {
	t.mu.Lock()
	if t.state.phase == phaseIdle {
		return nil
	}
	call := t.state.call
	t.mu.Unlock()

	if _, err := call.wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}

	t.mu.Lock()
	if t.state.phase != phaseIdle {
		t.mu.Unlock()
		t.logger.Error("Target mutated while building")
		return fmt.Errorf("target %s: %w", t.name, ErrBuildInProgress)
	}
	return nil
}

// ApplyAssetChanges updates the prerequisite scripts and rewrites the
// prerequisite-imports module. Plugin scripts never become prerequisites.
func (t *BuildTarget) ApplyAssetChanges(ctx context.Context, changes []types.AssetChange) error {
	if err := t.beginMutation(ctx); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, change := range changes {
		if change.Type == types.AssetChangeModify || change.Type == types.AssetChangeDelete {
			oldURL, ok := t.uuidToURL[change.UUID]
			if ok {
				delete(t.uuidToURL, change.UUID)
				delete(t.prerequisites, oldURL)
				t.session.UnsetUUID(oldURL)
			} else if change.Type != types.AssetChangeDelete {
				// Plugin scripts and scripts leaving plugin status have no prior URL.
				t.logger.Debug("Modified script was not registered",
					logger.WithField("uuid", change.UUID))
			}
		}

		if change.Type == types.AssetChangeAdd || change.Type == types.AssetChangeModify {
			if change.IsPluginScript {
				continue
			}
			url := change.URL
			if url == "" {
				url = urlutil.FromPath(change.FilePath)
			}
			t.uuidToURL[change.UUID] = url
			t.prerequisites[url] = struct{}{}
			t.session.SetUUID(url, change.UUID)
		}
	}

	return t.writePrerequisiteModuleLocked()
}

// SetEngineIndexModuleSource replaces the source of the engine index module
func (t *BuildTarget) SetEngineIndexModuleSource(ctx context.Context, source string) error {
	if err := t.beginMutation(ctx); err != nil {
		return err
	}
	defer t.mu.Unlock()

	if err := t.session.AddMemoryModule(EngineIndexModuleURL, source); err != nil {
		return fmt.Errorf("failed to write engine index module: %w", err)
	}
	return nil
}

// SetAssetDatabaseDomains rebuilds the import map from the mounted domains
// and forces the next build to re-resolve every module.
func (t *BuildTarget) SetAssetDatabaseDomains(ctx context.Context, domains []types.AssetDatabaseDomain) error {
	if err := t.beginMutation(ctx); err != nil {
		return err
	}
	defer t.mu.Unlock()

	im := importmap.Compose(EngineIndexModuleURL, domains, t.userImportMap)
	if err := t.session.SetImportMap(im, t.importMapURL); err != nil {
		return fmt.Errorf("failed to set import map: %w", err)
	}
	t.importMap = im

	prefixes := make([]string, 0, len(domains))
	for _, domain := range domains {
		physical := urlutil.FromPath(domain.Physical)
		if !strings.HasSuffix(physical, "/") {
			physical += "/"
		}
		prefixes = append(prefixes, physical)
	}
	t.session.SetAssetPrefixes(prefixes)

	t.cleanResolutionNextTime = true
	return nil
}

// SetLoadMappings replaces the specifier prefix to URL mappings of the session
func (t *BuildTarget) SetLoadMappings(ctx context.Context, mappings map[string]string) error {
	if err := t.beginMutation(ctx); err != nil {
		return err
	}
	defer t.mu.Unlock()

	t.session.SetLoadMappings(mappings)
	return nil
}

// ClearCache clears the session cache. The caller ensures the target is idle.
func (t *BuildTarget) ClearCache(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.session.ClearCache(ctx); err != nil {
		return fmt.Errorf("failed to clear cache of %s: %w", t.name, err)
	}
	t.firstBuild = true
	return nil
}

// DeleteCacheFile evicts a file implicated in a build error
func (t *BuildTarget) DeleteCacheFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	url := path
	if !strings.Contains(path, "://") {
		url = urlutil.FromPath(path)
	}
	if _, ok := t.prerequisites[url]; !ok {
		return
	}
	delete(t.prerequisites, url)
	if err := t.writePrerequisiteModuleLocked(); err != nil {
		t.logger.Warn("Failed to evict file from prerequisites",
			logger.WithField("file", path),
			logger.WithError(err))
		return
	}
	t.logger.Debug("Evicted file from prerequisites", logger.WithField("file", path))
}

// Close releases the session
func (t *BuildTarget) Close() error {
	return t.session.Close()
}

func (t *BuildTarget) writePrerequisiteModuleLocked() error {
	source := PrerequisiteModuleSource(t.sortedPrerequisitesLocked())
	if err := t.session.AddMemoryModule(PrerequisiteImportsModuleURL, source); err != nil {
		return fmt.Errorf("failed to write prerequisite imports module: %w", err)
	}
	return nil
}

func (t *BuildTarget) entriesLocked() []string {
	prerequisites := t.sortedPrerequisitesLocked()
	entries := make([]string, 0, len(prerequisites)+2)
	entries = append(entries, EngineIndexModuleURL, PrerequisiteImportsModuleURL)
	return append(entries, prerequisites...)
}

func (t *BuildTarget) sortedPrerequisitesLocked() []string {
	urls := make([]string, 0, len(t.prerequisites))
	for url := range t.prerequisites {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// PrerequisiteModuleSource generates a module that imports every URL in order.
// A failing import does not prevent the following ones from loading.
func PrerequisiteModuleSource(urls []string) string {
	var b strings.Builder
	b.WriteString("// Auto generated. Imports every prerequisite script.\n")
	b.WriteString("const requests = [\n")
	for _, url := range urls {
		fmt.Fprintf(&b, "    () => import(%s),\n", strconv.Quote(url))
	}
	b.WriteString("];\n\n")
	b.WriteString("(async () => {\n")
	b.WriteString("    for (const request of requests) {\n")
	b.WriteString("        try {\n")
	b.WriteString("            await request();\n")
	b.WriteString("        } catch (_err) {\n")
	b.WriteString("            // Reported by the loader.\n")
	b.WriteString("        }\n")
	b.WriteString("    }\n")
	b.WriteString("})();\n")
	return b.String()
}
