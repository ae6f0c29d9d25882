package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/packer-driver/pkg/assetdb"
	"github.com/poltergeist/packer-driver/pkg/config"
	pcontext "github.com/poltergeist/packer-driver/pkg/context"
	"github.com/poltergeist/packer-driver/pkg/depgraph"
	"github.com/poltergeist/packer-driver/pkg/features"
	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/incremental"
	"github.com/poltergeist/packer-driver/pkg/interfaces"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/notifier"
	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/queue"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/tsconfig"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

// TargetsDirName is the directory under the workspace holding per-target caches
const TargetsDirName = "targets"

var (
	// ErrUnknownTarget is returned when a target name is not predefined
	ErrUnknownTarget = errors.New("unknown target")
	// ErrDriverClosed is returned by operations on a driver that was shut down
	ErrDriverClosed = errors.New("driver closed")
)

// Options configures a Driver
type Options struct {
	// ProjectPath is the project root.
	ProjectPath string
	// Config is the project configuration. When nil it is loaded from the
	// project root, falling back to defaults.
	Config *types.ProjectConfig
	// Shared overrides the shared settings of Config.
	Shared *types.SharedSettings
	// EngineConfigPath is the engine feature configuration; empty uses Config.EngineConfig.
	EngineConfigPath string
	// WorkspaceDir holds caches, state and the incremental record; empty uses Config.Workspace.
	WorkspaceDir string
	// Targets selects a subset of the predefined targets, in build order.
	Targets []types.TargetName
	// Version stamps the incremental record; empty uses incremental.Version.
	Version      string
	Logger       logger.Logger
	Dependencies interfaces.Dependencies
}

// Driver sequences build iterations across every target. Iterations are
// serialized and never skipped: every Build call runs a fresh one.
type Driver struct {
	projectPath  string
	workspaceDir string
	logger       logger.Logger

	features interfaces.FeatureService
	project  interfaces.ProjectConfigBuilder
	changes  interfaces.ChangeNotifier
	states   interfaces.StateManager
	notifier interfaces.BuildNotifier

	targets     []*BuildTarget
	graph       *depgraph.Index
	events      *notifier.Broadcaster
	changeQueue *queue.ChangeQueue
	tasks       *queue.TaskQueue

	// iterMu serializes build iterations and the mutations that must not
	// overlap one (database resync, cache clearing, shutdown).
	iterMu sync.Mutex

	mu                sync.Mutex
	busy              bool
	taskID            string
	clearing          bool
	closed            bool
	dbInfos           []types.AssetDatabaseInfo
	knownScripts      map[string]types.AssetChange
	engineFeatures    []string
	featuresDirty     bool
	beforeEditorBuild map[int]interfaces.BeforeEditorBuildListener
	listenerOrder     []int
	nextListenerID    int
}

// Create builds a driver: it validates the incremental record against the
// workspace (wiping per-target caches on mismatch), then constructs every
// target concurrently. Any failure fails the whole call.
func Create(ctx context.Context, opts Options) (*Driver, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	projectPath, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, path, err := config.NewManager().LoadProject(projectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load project configuration: %w", err)
		}
		if path != "" {
			log.Debug("Loaded project configuration", logger.WithField("path", path))
		}
		cfg = loaded
	}
	shared := cfg.Shared
	if opts.Shared != nil {
		shared = *opts.Shared
	}

	workspaceDir := opts.WorkspaceDir
	if workspaceDir == "" {
		workspaceDir = cfg.Workspace
		if workspaceDir == "" {
			workspaceDir = config.DefaultWorkspace
		}
	}
	if !filepath.IsAbs(workspaceDir) {
		workspaceDir = filepath.Join(projectPath, workspaceDir)
	}

	engineConfigPath := opts.EngineConfigPath
	if engineConfigPath == "" && cfg.EngineConfig != "" {
		engineConfigPath = cfg.EngineConfig
	}
	if engineConfigPath != "" && !filepath.IsAbs(engineConfigPath) {
		engineConfigPath = filepath.Join(projectPath, engineConfigPath)
	}

	names := opts.Targets
	if len(names) == 0 {
		names = types.PredefinedTargets
	}
	for _, name := range names {
		if !slices.Contains(types.PredefinedTargets, name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
		}
	}

	version := opts.Version
	if version == "" {
		version = incremental.Version
	}

	deps := NewDependencyFactory(projectPath, workspaceDir, engineConfigPath, log, cfg).
		CreateWithOverrides(opts.Dependencies)

	if err := validateIncrementalRecord(workspaceDir, version, shared, log); err != nil {
		return nil, err
	}

	userImportMap, userImportMapURL, err := loadUserImportMap(projectPath, shared.ImportMapFile)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		projectPath:       projectPath,
		workspaceDir:      workspaceDir,
		logger:            log,
		features:          deps.Features,
		project:           deps.ProjectBuilder,
		changes:           deps.ChangeNotifier,
		states:            deps.StateManager,
		notifier:          deps.Notifier,
		graph:             depgraph.NewIndex(),
		events:            notifier.NewBroadcaster(log),
		changeQueue:       queue.NewChangeQueue(),
		tasks:             queue.NewTaskQueue(),
		knownScripts:      make(map[string]types.AssetChange),
		beforeEditorBuild: make(map[int]interfaces.BeforeEditorBuildListener),
	}

	built := make([]*BuildTarget, len(names))
	g, gctx := NewSafeGroup(ctx, log)
	for i, name := range names {
		g.Go(name, func() error {
			target, err := d.createTarget(gctx, name, shared, deps.SessionFactory, userImportMap, userImportMapURL)
			built[i] = target
			return err
		})
	}
	if err := g.Wait(); err != nil {
		closeTargets(built, log)
		return nil, fmt.Errorf("failed to create targets: %w", err)
	}
	d.targets = built

	if err := d.syncDBInfos(ctx); err != nil {
		closeTargets(built, log)
		return nil, err
	}

	for _, target := range d.targets {
		if _, err := d.states.InitializeState(target.Name()); err != nil {
			log.Warn(fmt.Sprintf("Failed to initialize state for %s", target.Name()), logger.WithError(err))
		}
	}

	if len(shared.Features) > 0 {
		d.UpdateEngineFeatures(shared.Features)
	}

	log.Info(fmt.Sprintf("Packer driver ready with %d target(s)", len(d.targets)))
	return d, nil
}

func validateIncrementalRecord(workspaceDir, version string, shared types.SharedSettings, log logger.Logger) error {
	record, err := incremental.NewRecord(version, shared)
	if err != nil {
		return fmt.Errorf("failed to compute incremental record: %w", err)
	}

	recordPath := filepath.Join(workspaceDir, incremental.FileName)
	if reason := incremental.Check(recordPath, record); reason != nil {
		log.Info("Build configuration changed, discarding caches", logger.WithField("reason", reason.Error()))
	}

	kept, err := incremental.Validate(recordPath, record, func() error {
		return os.RemoveAll(filepath.Join(workspaceDir, TargetsDirName))
	})
	if err != nil {
		return fmt.Errorf("failed to validate incremental record: %w", err)
	}
	log.Debug("Incremental record validated", logger.WithField("caches_kept", kept))
	return nil
}

func loadUserImportMap(projectPath, file string) (*importmap.ImportMap, string, error) {
	if file == "" {
		return nil, "", nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(projectPath, file)
	}
	im, baseURL, err := importmap.Load(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load import map: %w", err)
	}
	return im, baseURL, nil
}

func (d *Driver) createTarget(
	ctx context.Context,
	name types.TargetName,
	shared types.SharedSettings,
	factory packer.SessionFactory,
	userImportMap *importmap.ImportMap,
	userImportMapURL string,
) (*BuildTarget, error) {
	sessionCfg := packer.SessionConfig{
		TargetName:   name,
		WorkspaceDir: filepath.Join(d.workspaceDir, TargetsDirName, name),
		Shared:       shared,
		Logger:       d.logger,
	}
	if name == types.TargetPreview {
		sessionCfg.BrowsersTarget = shared.PreviewBrowsersTarget
	}

	session, err := factory(ctx, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bundling session: %w", err)
	}
	session.SetExtraExportsConditions(shared.ExportsConditions)
	session.SetExternals([]string{features.UnitModulePrefix})
	if err := session.LoadCache(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}

	target := NewBuildTarget(TargetOptions{
		Name:                  name,
		Session:               session,
		Logger:                d.logger,
		RespectFeatureSetting: name != types.TargetEditor,
		UserImportMap:         userImportMap,
		UserImportMapURL:      userImportMapURL,
	})

	source, err := d.initialEngineIndex(ctx, target)
	if err == nil {
		err = target.SetEngineIndexModuleSource(ctx, source)
	}
	if err == nil {
		err = target.ApplyAssetChanges(ctx, nil)
	}
	if err != nil {
		_ = target.Close()
		return nil, err
	}
	return target, nil
}

// initialEngineIndex ships every feature to targets that ignore the
// feature selection; the others start empty until features are set.
func (d *Driver) initialEngineIndex(ctx context.Context, target *BuildTarget) (string, error) {
	var units []string
	if !target.RespectFeatureSetting() {
		all, err := d.features.GetFeatures(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list engine features: %w", err)
		}
		units, err = d.features.GetUnitsOfFeatures(ctx, all)
		if err != nil {
			return "", fmt.Errorf("failed to resolve engine units: %w", err)
		}
	}
	source, err := d.features.EvaluateIndexModuleSource(units, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate engine index: %w", err)
	}
	return source, nil
}

func closeTargets(targets []*BuildTarget, log logger.Logger) {
	for _, target := range targets {
		if target == nil {
			continue
		}
		if err := target.Close(); err != nil {
			log.Warn(fmt.Sprintf("Failed to close target %s", target.Name()), logger.WithError(err))
		}
	}
}

// UpdateDBInfos mounts or unmounts an asset database. Unmounting queues a
// delete for every known script under the mount. When the mount set changed
// the targets are resynchronized, or after the running iteration when busy.
func (d *Driver) UpdateDBInfos(ctx context.Context, info types.AssetDatabaseInfo, changeType types.DBChangeType) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}

	changed := false
	var removals []types.AssetChange
	index := slices.IndexFunc(d.dbInfos, func(existing types.AssetDatabaseInfo) bool {
		return existing.DBID == info.DBID
	})

	switch changeType {
	case types.DBChangeAdd:
		if index < 0 {
			d.dbInfos = append(d.dbInfos, info)
			changed = true
		} else if d.dbInfos[index] != info {
			d.dbInfos[index] = info
			changed = true
		}
	case types.DBChangeRemove:
		if index >= 0 {
			mount := d.dbInfos[index]
			d.dbInfos = slices.Delete(d.dbInfos, index, index+1)
			removals = d.scriptsUnderLocked(mount.Target)
			changed = true
		}
	default:
		d.mu.Unlock()
		return fmt.Errorf("unknown database change type %q", changeType)
	}
	busy := d.busy
	d.mu.Unlock()

	if len(removals) > 0 {
		d.logger.Debug(fmt.Sprintf("Database %s removed, deleting %d script(s)", info.DBID, len(removals)))
		d.changeQueue.Push(removals...)
	}
	if !changed {
		return nil
	}

	if busy {
		d.logger.Debug("Build in progress, deferring database sync")
		d.tasks.Push(queue.Task{Name: "sync-db-infos", Run: d.syncDBInfos})
		return nil
	}

	d.iterMu.Lock()
	defer d.iterMu.Unlock()
	return d.syncDBInfos(ctx)
}

func (d *Driver) scriptsUnderLocked(mountTarget string) []types.AssetChange {
	root := mountTarget
	if !filepath.IsAbs(root) {
		root = filepath.Join(d.projectPath, root)
	}
	prefix := strings.TrimSuffix(urlutil.NormalizePath(root), "/") + "/"

	var removals []types.AssetChange
	for _, script := range d.knownScripts {
		if strings.HasPrefix(urlutil.NormalizePath(script.FilePath), prefix) {
			removal := script
			removal.Type = types.AssetChangeDelete
			removals = append(removals, removal)
		}
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i].FilePath < removals[j].FilePath })
	return removals
}

// syncDBInfos pushes the mounted databases to the project builder and every
// target. The caller holds iterMu.
func (d *Driver) syncDBInfos(ctx context.Context) error {
	d.mu.Lock()
	mounts := slices.Clone(d.dbInfos)
	d.mu.Unlock()

	infos := slices.Clone(d.project.GetInternalDBURLInfos())
	for _, mount := range mounts {
		infos = append(infos, types.DBURLInfo{DBURL: assetdb.RootURL(mount.DBID), Path: mount.Target})
	}
	d.project.SetDBURLInfos(infos)

	compilerOptions, err := d.project.GetCompilerOptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read compiler options: %w", err)
	}
	mappings := tsconfig.LoadMappings(compilerOptions, d.project.GetProjectPath())

	domains, err := d.changes.QueryAssetDomains(ctx, mounts)
	if err != nil {
		return fmt.Errorf("failed to query asset domains: %w", err)
	}

	for _, target := range d.targets {
		if err := target.SetLoadMappings(ctx, mappings); err != nil {
			return err
		}
		if err := target.SetAssetDatabaseDomains(ctx, domains); err != nil {
			return err
		}
	}

	if err := d.project.GenerateDeclarations(ctx); err != nil {
		d.logger.Warn("Failed to generate declarations", logger.WithError(err))
	}
	return nil
}

// DispatchAssetChanges hands changes to the change notifier buffer. They are
// picked up by the next QueueChanges or Build.
func (d *Driver) DispatchAssetChanges(changes ...types.AssetChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, change := range changes {
		d.changes.OnAssetChange(change)
	}
}

// QueueChanges flushes changes and everything buffered by the notifier into
// the change queue without building. An empty changes slice leaves the
// notifier buffer untouched.
func (d *Driver) QueueChanges(changes []types.AssetChange) {
	if len(changes) == 0 {
		return
	}
	d.mu.Lock()
	for _, change := range changes {
		d.changes.OnAssetChange(change)
	}
	pending := d.changes.AssetChangeQueue()
	d.changes.ResetAssetChangeQueue()
	d.mu.Unlock()

	d.changeQueue.Push(pending...)
}

// RunPendingWork runs one build iteration over everything queued so far.
// It waits for a running iteration rather than skipping.
func (d *Driver) RunPendingWork(ctx context.Context, taskID string) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDriverClosed
	}

	d.iterMu.Lock()
	defer d.iterMu.Unlock()
	return d.runIteration(ctx, taskID)
}

// Build queues changes and runs a fresh iteration. The returned error is
// the first target or task failure of the iteration.
func (d *Driver) Build(ctx context.Context, changes []types.AssetChange, taskID string) error {
	d.QueueChanges(changes)
	return d.RunPendingWork(ctx, taskID)
}

func (d *Driver) runIteration(ctx context.Context, taskID string) error {
	if taskID == "" {
		taskID = pcontext.GenerateTaskID()
	}
	ctx = pcontext.BeginTask(ctx, taskID, "build")
	log := logger.WithContext(ctx, d.logger)

	d.mu.Lock()
	d.busy = true
	d.taskID = taskID
	d.mu.Unlock()
	d.events.Publish(types.BuildEvent{Kind: types.EventCompileStart, TaskID: taskID, Time: time.Now()})

	var firstErr error
	remember := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := d.syncEngineFeatures(ctx); err != nil {
		log.Error("Failed to apply engine features", logger.WithError(err))
		remember(err)
	}

	changes := d.changeQueue.Drain()
	tasks := d.tasks.Drain()
	d.trackScripts(changes)
	log.Debug(fmt.Sprintf("Build iteration with %d change(s) and %d task(s)", len(changes), len(tasks)))

	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			log.Error(fmt.Sprintf("Deferred task %s failed", task.Name), logger.WithError(err))
			remember(fmt.Errorf("task %s: %w", task.Name, err))
		}
	}

	d.notifyBeforeEditorBuild(ctx, types.FilterAssetChanges(changes, types.AssetChangeModify))

	var graph depgraph.Raw
	var failed []types.TargetName
	for _, target := range d.targets {
		result, err := d.buildTarget(ctx, target, changes, taskID)
		if err != nil {
			remember(err)
			failed = append(failed, target.Name())
			continue
		}
		if result.DepsGraph != nil {
			graph = result.DepsGraph
		}
	}

	d.mu.Lock()
	d.busy = false
	d.taskID = ""
	d.mu.Unlock()

	if graph != nil {
		d.graph.SetRaw(graph)
	}
	d.events.Publish(types.BuildEvent{
		Kind:          types.EventCompiled,
		TaskID:        taskID,
		FailedTargets: failed,
		Err:           firstErr,
		Time:          time.Now(),
	})
	return firstErr
}

func (d *Driver) buildTarget(ctx context.Context, target *BuildTarget, changes []types.AssetChange, taskID string) (*packer.BuildResult, error) {
	name := target.Name()
	log := logger.WithContext(ctx, d.logger).WithTarget(name)

	if len(changes) > 0 {
		if err := target.ApplyAssetChanges(ctx, changes); err != nil {
			log.Error("Failed to apply asset changes", logger.WithError(err))
			d.recordFailure(target, taskID, 0, err, "")
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
	}

	if err := d.states.RecordBuildStart(name, taskID); err != nil {
		log.Warn("Failed to update build state", logger.WithError(err))
	}
	if d.notifier != nil {
		d.notifier.NotifyBuildStart(name)
	}

	start := time.Now()
	result, err := target.Build(ctx)
	duration := time.Since(start)

	if err != nil {
		file, _ := packer.FailedFile(err)
		if file != "" {
			target.DeleteCacheFile(file)
		}
		log.Error("Build failed", logger.WithError(err), logger.WithField("file", file))
		d.recordFailure(target, taskID, duration, err, file)
		return nil, fmt.Errorf("target %s: %w", name, err)
	}

	if err := d.states.RecordBuildResult(name, state.BuildOutcome{
		TaskID:   taskID,
		Duration: duration,
		Modules:  result.Modules,
	}); err != nil {
		log.Warn("Failed to update build state", logger.WithError(err))
	}
	if d.notifier != nil {
		d.notifier.NotifyBuildSuccess(name, duration)
	}
	log.Success(fmt.Sprintf("Built %d module(s) in %s", result.Modules, duration.Round(time.Millisecond)))
	return result, nil
}

func (d *Driver) recordFailure(target *BuildTarget, taskID string, duration time.Duration, err error, file string) {
	if stateErr := d.states.RecordBuildResult(target.Name(), state.BuildOutcome{
		TaskID:     taskID,
		Duration:   duration,
		Err:        err,
		FailedFile: file,
	}); stateErr != nil {
		d.logger.Warn("Failed to update build state", logger.WithError(stateErr))
	}
	if d.notifier != nil {
		d.notifier.NotifyBuildFailure(target.Name(), err)
	}
}

// syncEngineFeatures rewrites the engine index of every target following
// the feature selection, if it changed since the last iteration.
func (d *Driver) syncEngineFeatures(ctx context.Context) error {
	d.mu.Lock()
	if !d.featuresDirty {
		d.mu.Unlock()
		return nil
	}
	selected := slices.Clone(d.engineFeatures)
	d.featuresDirty = false
	d.mu.Unlock()

	err := d.applyEngineFeatures(ctx, selected)
	if err != nil {
		d.mu.Lock()
		d.featuresDirty = true
		d.mu.Unlock()
	}
	return err
}

func (d *Driver) applyEngineFeatures(ctx context.Context, selected []string) error {
	units, err := d.features.GetUnitsOfFeatures(ctx, selected)
	if err != nil {
		return fmt.Errorf("failed to resolve engine units: %w", err)
	}
	source, err := d.features.EvaluateIndexModuleSource(units, nil)
	if err != nil {
		return fmt.Errorf("failed to generate engine index: %w", err)
	}
	for _, target := range d.targets {
		if !target.RespectFeatureSetting() {
			continue
		}
		if err := target.SetEngineIndexModuleSource(ctx, source); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) trackScripts(changes []types.AssetChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, change := range changes {
		if change.Type == types.AssetChangeDelete {
			delete(d.knownScripts, change.UUID)
		} else {
			d.knownScripts[change.UUID] = change
		}
	}
}

func (d *Driver) notifyBeforeEditorBuild(ctx context.Context, modified []types.AssetChange) {
	d.mu.Lock()
	listeners := make([]interfaces.BeforeEditorBuildListener, 0, len(d.listenerOrder))
	for _, id := range d.listenerOrder {
		listeners = append(listeners, d.beforeEditorBuild[id])
	}
	d.mu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Before-editor-build listener panic recovered", logger.WithField("panic", r))
				}
			}()
			listener(ctx, slices.Clone(modified))
		}()
	}
}

// ClearCache clears every target cache and rebuilds. It is refused while an
// iteration runs or a previous clear is still in progress.
func (d *Driver) ClearCache(ctx context.Context) error {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrDriverClosed
	case d.clearing:
		d.mu.Unlock()
		d.logger.Warn("Cache clearing already in progress")
		return nil
	case d.busy:
		d.mu.Unlock()
		d.logger.Warn("Cannot clear cache while building")
		return nil
	}
	d.clearing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.clearing = false
		d.mu.Unlock()
	}()

	d.iterMu.Lock()
	var errs []error
	for _, target := range d.targets {
		if err := target.ClearCache(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.iterMu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.logger.Info("Caches cleared, rebuilding")
	return d.RunPendingWork(ctx, "")
}

// QueryScriptDeps returns the scripts path imports
func (d *Driver) QueryScriptDeps(path string) []string {
	return d.graph.Deps(path)
}

// QueryScriptUsers returns the scripts importing path
func (d *Driver) QueryScriptUsers(path string) []string {
	return d.graph.Users(path)
}

// CurrentTaskID returns the task id of the running iteration, or ""
func (d *Driver) CurrentTaskID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskID
}

// Busy reports whether an iteration is running
func (d *Driver) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Targets returns the target names in build order
func (d *Driver) Targets() []types.TargetName {
	names := make([]types.TargetName, 0, len(d.targets))
	for _, target := range d.targets {
		names = append(names, target.Name())
	}
	return names
}

// IsTargetReady reports whether the target has built successfully
func (d *Driver) IsTargetReady(name types.TargetName) bool {
	target, ok := d.lookupTarget(name)
	if !ok {
		return false
	}
	return target.Ready()
}

// LoaderContext returns how a host loads the target's modules
func (d *Driver) LoaderContext(name types.TargetName) *packer.LoaderContext {
	target, ok := d.lookupTarget(name)
	if !ok {
		return nil
	}
	return target.LoaderContext()
}

func (d *Driver) lookupTarget(name types.TargetName) (*BuildTarget, bool) {
	for _, target := range d.targets {
		if target.Name() == name {
			return target, true
		}
	}
	d.logger.Warn(fmt.Sprintf("Unknown target %q", name))
	return nil, false
}

// UpdateEngineFeatures records the feature selection. It is applied at the
// start of the next iteration.
func (d *Driver) UpdateEngineFeatures(selected []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engineFeatures = slices.Clone(selected)
	d.featuresDirty = true
}

// OnBeforeEditorBuild registers a listener called before the targets build
// with the modified scripts of the iteration. It returns an unsubscribe function.
func (d *Driver) OnBeforeEditorBuild(listener interfaces.BeforeEditorBuildListener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextListenerID
	d.nextListenerID++
	d.beforeEditorBuild[id] = listener
	d.listenerOrder = append(d.listenerOrder, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.beforeEditorBuild, id)
			if i := slices.Index(d.listenerOrder, id); i >= 0 {
				d.listenerOrder = slices.Delete(d.listenerOrder, i, i+1)
			}
		})
	}
}

// Subscribe registers a listener for compile-start and compiled events
func (d *Driver) Subscribe(listener interfaces.EventListener) func() {
	return d.events.Subscribe(notifier.Listener(listener))
}

// Shutdown waits for the running iteration, closes every session and
// cleans up target state. Later operations return ErrDriverClosed. If ctx
// expires first, shutdown completes in the background.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("Shutting down packer driver...")

	done := make(chan error, 1)
	go func() {
		d.iterMu.Lock()
		defer d.iterMu.Unlock()

		var errs []error
		for _, target := range d.targets {
			if err := target.Close(); err != nil {
				errs = append(errs, fmt.Errorf("target %s: %w", target.Name(), err))
			}
		}
		if err := d.states.Cleanup(); err != nil {
			errs = append(errs, err)
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		if err == nil {
			d.logger.Info("Packer driver stopped gracefully")
		}
		return err
	case <-ctx.Done():
		d.logger.Warn("Packer driver shutdown timed out", logger.WithError(ctx.Err()))
		return ctx.Err()
	}
}
