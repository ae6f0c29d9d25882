// Package mocks provides mock implementations of interfaces for testing.
// These follow Go best practices for test doubles.
package mocks

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// MockSession is a mock implementation of packer.Session for testing
type MockSession struct {
	mu            sync.Mutex
	name          types.TargetName
	memory        map[string]string
	uuids         map[string]string
	importMap     *importmap.ImportMap
	importMapURL  string
	assetPrefixes []string
	externals     []string
	loadMappings  map[string]string
	conditions    []string

	buildFunc    func(ctx context.Context, entries []string, opts packer.BuildOptions) (*packer.BuildResult, error)
	buildErr     error
	graph        map[string][]string
	gate         chan struct{}
	started      chan struct{}
	buildCalls   int
	buildOptions []packer.BuildOptions
	buildEntries [][]string

	loadCacheErr    error
	loadCacheCalls  int
	clearCacheCalls int
	closed          bool
}

// NewMockSession creates a new mock session
func NewMockSession(name types.TargetName) *MockSession {
	return &MockSession{
		name:         name,
		memory:       make(map[string]string),
		uuids:        make(map[string]string),
		loadMappings: make(map[string]string),
		started:      make(chan struct{}, 16),
	}
}

// AddMemoryModule stores a memory module
func (m *MockSession) AddMemoryModule(url, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory[url] = source
	return nil
}

// SetUUID associates a uuid with a module URL
func (m *MockSession) SetUUID(url, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uuids[url] = uuid
}

// UnsetUUID removes the uuid of a module URL
func (m *MockSession) UnsetUUID(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uuids, url)
}

// SetImportMap stores the import map
func (m *MockSession) SetImportMap(im *importmap.ImportMap, baseURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importMap = im.Clone()
	m.importMapURL = baseURL
	return nil
}

// SetAssetPrefixes stores the asset prefixes
func (m *MockSession) SetAssetPrefixes(prefixes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetPrefixes = slices.Clone(prefixes)
}

// SetExternals stores the externals
func (m *MockSession) SetExternals(externals []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externals = slices.Clone(externals)
}

// SetLoadMappings stores the load mappings
func (m *MockSession) SetLoadMappings(mappings map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadMappings = maps.Clone(mappings)
}

// SetExtraExportsConditions stores the exports conditions
func (m *MockSession) SetExtraExportsConditions(conditions []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = slices.Clone(conditions)
}

// Build records the call and returns the configured outcome. While builds
// are blocked it waits for the release.
func (m *MockSession) Build(ctx context.Context, entries []string, opts packer.BuildOptions) (*packer.BuildResult, error) {
	m.mu.Lock()
	m.buildCalls++
	m.buildOptions = append(m.buildOptions, opts)
	m.buildEntries = append(m.buildEntries, slices.Clone(entries))
	gate := m.gate
	fn := m.buildFunc
	err := m.buildErr
	graph := maps.Clone(m.graph)
	m.mu.Unlock()

	select {
	case m.started <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fn != nil {
		return fn(ctx, entries, opts)
	}
	if err != nil {
		return nil, err
	}
	return &packer.BuildResult{DepsGraph: graph, Modules: len(entries)}, nil
}

// LoadCache records the call
func (m *MockSession) LoadCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCacheCalls++
	return m.loadCacheErr
}

// ClearCache records the call
func (m *MockSession) ClearCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCacheCalls++
	return nil
}

// CreateLoaderContext describes the recorded configuration
func (m *MockSession) CreateLoaderContext() *packer.LoaderContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &packer.LoaderContext{
		TargetName:   string(m.name),
		ImportMap:    m.importMap.Clone(),
		ImportMapURL: m.importMapURL,
		UUIDs:        maps.Clone(m.uuids),
	}
}

// Close marks the session closed
func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetBuildFunc replaces the build behaviour
func (m *MockSession) SetBuildFunc(fn func(ctx context.Context, entries []string, opts packer.BuildOptions) (*packer.BuildResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildFunc = fn
}

// SetBuildError sets the error to return from Build
func (m *MockSession) SetBuildError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildErr = err
}

// SetGraph sets the dependency graph returned by successful builds
func (m *MockSession) SetGraph(graph map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graph = maps.Clone(graph)
}

// SetLoadCacheError sets the error to return from LoadCache
func (m *MockSession) SetLoadCacheError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCacheErr = err
}

// BlockBuilds makes Build wait until the returned release function is called
func (m *MockSession) BlockBuilds() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// WaitBuildStarted waits until a Build call has started
func (m *MockSession) WaitBuildStarted(timeout time.Duration) bool {
	select {
	case <-m.started:
		return true
	case <-time.After(timeout):
		return false
	}
}

// BuildCallCount returns the number of times Build was called
func (m *MockSession) BuildCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buildCalls
}

// BuildOptions returns the options of every Build call
func (m *MockSession) BuildOptions() []packer.BuildOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.buildOptions)
}

// LastBuildEntries returns the entries of the last Build call
func (m *MockSession) LastBuildEntries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buildEntries) == 0 {
		return nil
	}
	return slices.Clone(m.buildEntries[len(m.buildEntries)-1])
}

// MemoryModule returns the source of a memory module
func (m *MockSession) MemoryModule(url string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.memory[url]
	return source, ok
}

// UUIDs returns the registered url to uuid associations
func (m *MockSession) UUIDs() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.uuids)
}

// ImportMap returns the last import map and its base URL
func (m *MockSession) ImportMap() (*importmap.ImportMap, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.importMap.Clone(), m.importMapURL
}

// AssetPrefixes returns the asset prefixes
func (m *MockSession) AssetPrefixes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.assetPrefixes)
}

// Externals returns the externals
func (m *MockSession) Externals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.externals)
}

// LoadMappings returns the load mappings
func (m *MockSession) LoadMappings() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.loadMappings)
}

// LoadCacheCallCount returns the number of times LoadCache was called
func (m *MockSession) LoadCacheCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCacheCalls
}

// ClearCacheCallCount returns the number of times ClearCache was called
func (m *MockSession) ClearCacheCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearCacheCalls
}

// Closed reports whether Close was called
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockSessionFactory creates mock sessions, one per target
type MockSessionFactory struct {
	mu       sync.Mutex
	sessions map[types.TargetName]*MockSession
	configs  map[types.TargetName]packer.SessionConfig
	errors   map[types.TargetName]error
}

// NewMockSessionFactory creates a new mock session factory
func NewMockSessionFactory() *MockSessionFactory {
	return &MockSessionFactory{
		sessions: make(map[types.TargetName]*MockSession),
		configs:  make(map[types.TargetName]packer.SessionConfig),
		errors:   make(map[types.TargetName]error),
	}
}

// Create is a packer.SessionFactory
func (f *MockSessionFactory) Create(ctx context.Context, cfg packer.SessionConfig) (packer.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configs[cfg.TargetName] = cfg
	if err := f.errors[cfg.TargetName]; err != nil {
		return nil, err
	}
	session, ok := f.sessions[cfg.TargetName]
	if !ok {
		session = NewMockSession(cfg.TargetName)
		f.sessions[cfg.TargetName] = session
	}
	return session, nil
}

// Session returns the session of a target, creating it in advance if needed
func (f *MockSessionFactory) Session(name types.TargetName) *MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[name]
	if !ok {
		session = NewMockSession(name)
		f.sessions[name] = session
	}
	return session
}

// Config returns the configuration a target's session was created with
func (f *MockSessionFactory) Config(name types.TargetName) (packer.SessionConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[name]
	return cfg, ok
}

// SetError makes session creation fail for a target
func (f *MockSessionFactory) SetError(name types.TargetName, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[name] = err
}

// MockStateManager is a mock implementation of StateManager for testing
type MockStateManager struct {
	mu           sync.RWMutex
	states       map[string]*state.TargetState
	outcomes     map[string][]state.BuildOutcome
	initError    error
	updateError  error
	cleanupCalls int
}

// NewMockStateManager creates a new mock state manager
func NewMockStateManager() *MockStateManager {
	return &MockStateManager{
		states:   make(map[string]*state.TargetState),
		outcomes: make(map[string][]state.BuildOutcome),
	}
}

// InitializeState initializes state for a target
func (m *MockStateManager) InitializeState(targetName string) (*state.TargetState, error) {
	if m.initError != nil {
		return nil, m.initError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &state.TargetState{
		TargetName:  targetName,
		BuildStatus: types.BuildStatusIdle,
	}
	m.states[targetName] = st
	copied := *st
	return &copied, nil
}

// ReadState returns the state of a target
func (m *MockStateManager) ReadState(targetName string) (*state.TargetState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[targetName]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, nil
}

// RecordBuildStart marks a target as building
func (m *MockStateManager) RecordBuildStart(targetName, taskID string) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureLocked(targetName)
	st.BuildStatus = types.BuildStatusBuilding
	st.LastTaskID = taskID
	return nil
}

// RecordBuildResult records the outcome of a build
func (m *MockStateManager) RecordBuildResult(targetName string, outcome state.BuildOutcome) error {
	if m.updateError != nil {
		return m.updateError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureLocked(targetName)
	st.BuildCount++
	st.LastTaskID = outcome.TaskID
	st.FailedFile = outcome.FailedFile
	if outcome.Err != nil {
		st.BuildStatus = types.BuildStatusFailed
		st.FailureCount++
		st.LastError = outcome.Err.Error()
	} else {
		st.BuildStatus = types.BuildStatusSucceeded
		st.LastError = ""
	}
	m.outcomes[targetName] = append(m.outcomes[targetName], outcome)
	return nil
}

// DiscoverStates returns every known state
func (m *MockStateManager) DiscoverStates() (map[string]*state.TargetState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]*state.TargetState, len(m.states))
	for name, st := range m.states {
		copied := *st
		states[name] = &copied
	}
	return states, nil
}

// Cleanup performs cleanup operations
func (m *MockStateManager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalls++
	return nil
}

// Outcomes returns the recorded build outcomes of a target
func (m *MockStateManager) Outcomes(targetName string) []state.BuildOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.outcomes[targetName])
}

// CleanupCallCount returns the number of times Cleanup was called
func (m *MockStateManager) CleanupCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cleanupCalls
}

// SetInitError sets the error to return from InitializeState
func (m *MockStateManager) SetInitError(err error) {
	m.initError = err
}

// SetUpdateError sets the error to return from the Record methods
func (m *MockStateManager) SetUpdateError(err error) {
	m.updateError = err
}

func (m *MockStateManager) ensureLocked(targetName string) *state.TargetState {
	st, ok := m.states[targetName]
	if !ok {
		st = &state.TargetState{TargetName: targetName}
		m.states[targetName] = st
	}
	return st
}

// MockChangeNotifier is a mock implementation of ChangeNotifier. It keeps
// every reported change in order without collapsing.
type MockChangeNotifier struct {
	mu         sync.Mutex
	queue      []types.AssetChange
	queries    [][]types.AssetDatabaseInfo
	domainsErr error
}

// NewMockChangeNotifier creates a new mock change notifier
func NewMockChangeNotifier() *MockChangeNotifier {
	return &MockChangeNotifier{}
}

// OnAssetChange buffers a change
func (m *MockChangeNotifier) OnAssetChange(change types.AssetChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, change)
}

// AssetChangeQueue returns the buffered changes
func (m *MockChangeNotifier) AssetChangeQueue() []types.AssetChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queue)
}

// ResetAssetChangeQueue empties the buffer
func (m *MockChangeNotifier) ResetAssetChangeQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
}

// QueryAssetDomains maps every mount to a "db://<id>/" domain
func (m *MockChangeNotifier) QueryAssetDomains(ctx context.Context, mounts []types.AssetDatabaseInfo) ([]types.AssetDatabaseDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, slices.Clone(mounts))
	if m.domainsErr != nil {
		return nil, m.domainsErr
	}
	domains := make([]types.AssetDatabaseDomain, 0, len(mounts))
	for _, mount := range mounts {
		domains = append(domains, types.AssetDatabaseDomain{
			Root:     "db://" + mount.DBID + "/",
			Physical: mount.Target,
		})
	}
	return domains, nil
}

// SetDomainsError sets the error to return from QueryAssetDomains
func (m *MockChangeNotifier) SetDomainsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainsErr = err
}

// Queries returns the mounts of every QueryAssetDomains call
func (m *MockChangeNotifier) Queries() [][]types.AssetDatabaseInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queries)
}

// MockBuildNotifier records build notifications
type MockBuildNotifier struct {
	mu        sync.Mutex
	starts    []string
	successes []string
	failures  []string
}

// NewMockBuildNotifier creates a new mock build notifier
func NewMockBuildNotifier() *MockBuildNotifier {
	return &MockBuildNotifier{}
}

// NotifyBuildStart records a build start
func (m *MockBuildNotifier) NotifyBuildStart(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, target)
}

// NotifyBuildSuccess records a success
func (m *MockBuildNotifier) NotifyBuildSuccess(target string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, target)
}

// NotifyBuildFailure records a failure
func (m *MockBuildNotifier) NotifyBuildFailure(target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, target)
}

// Successes returns the targets notified as succeeded
func (m *MockBuildNotifier) Successes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.successes)
}

// Failures returns the targets notified as failed
func (m *MockBuildNotifier) Failures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.failures)
}
