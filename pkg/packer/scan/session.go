// Package scan is the built-in bundling engine. It walks the module graph
// from the build entries, extracting imports with tree-sitter and resolving
// them the way a browser module loader configured by the session would.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

// CacheFileName is the cache database created in the session workspace
const CacheFileName = "scan-cache.db"

// ErrSessionClosed is returned by operations on a closed session
var ErrSessionClosed = errors.New("session closed")

var probeSuffixes = []string{".ts", ".js", "/index.ts", "/index.js"}

// Session implements packer.Session
type Session struct {
	cfg    packer.SessionConfig
	logger logger.Logger

	mu            sync.Mutex
	closed        bool
	cache         *Cache
	memory        map[string]string
	uuids         map[string]string
	importMap     *importmap.ImportMap
	importMapURL  string
	assetPrefixes []string
	externals     []string
	loadMappings  map[string]string
	conditions    []string
	resolutions   map[string]resolution
	modules       []string
}

// NewSession creates a session. With a workspace directory the session
// keeps its cache in an SQLite database there; without one it is memory only.
func NewSession(ctx context.Context, cfg packer.SessionConfig) (packer.Session, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Session{
		cfg:          cfg,
		logger:       log.WithTarget(string(cfg.TargetName)),
		memory:       make(map[string]string),
		uuids:        make(map[string]string),
		loadMappings: make(map[string]string),
		resolutions:  make(map[string]resolution),
	}

	if cfg.WorkspaceDir != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cache, err := OpenCache(filepath.Join(cfg.WorkspaceDir, CacheFileName))
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", cfg.TargetName, err)
		}
		s.cache = cache
	}
	return s, nil
}

// Factory is a packer.SessionFactory producing scan sessions
func Factory(ctx context.Context, cfg packer.SessionConfig) (packer.Session, error) {
	return NewSession(ctx, cfg)
}

func (s *Session) AddMemoryModule(url, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.memory[url] = source
	return nil
}

func (s *Session) SetUUID(url, uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uuids[url] = uuid
}

func (s *Session) UnsetUUID(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uuids, url)
}

func (s *Session) SetImportMap(im *importmap.ImportMap, baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.importMap = im.Clone()
	s.importMapURL = baseURL
	return nil
}

func (s *Session) SetAssetPrefixes(prefixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetPrefixes = slices.Clone(prefixes)
}

func (s *Session) SetExternals(externals []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externals = slices.Clone(externals)
}

func (s *Session) SetLoadMappings(mappings map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadMappings = maps.Clone(mappings)
	if s.loadMappings == nil {
		s.loadMappings = make(map[string]string)
	}
}

func (s *Session) SetExtraExportsConditions(conditions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditions = slices.Clone(conditions)
}

// Build walks the graph breadth-first from entries. Externals appear as
// edges but are never loaded. A module whose source hash matches the
// previous build reuses its resolved imports unless the options ask for
// a retry.
func (s *Session) Build(ctx context.Context, entries []string, opts packer.BuildOptions) (*packer.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	if opts.CleanResolution {
		s.resolutions = make(map[string]resolution)
	}

	graph := make(map[string][]string)
	visited := make(map[string]struct{})
	queue := slices.Clone(entries)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url := queue[0]
		queue = queue[1:]
		if _, ok := visited[url]; ok {
			continue
		}
		visited[url] = struct{}{}

		source, err := s.load(url)
		if err != nil {
			return nil, &packer.BuildError{File: pathOf(url), Err: err}
		}
		hash := contentHash(source)

		deps, err := s.dependencies(ctx, url, source, hash, opts)
		if err != nil {
			return nil, err
		}
		graph[url] = deps

		for _, dep := range deps {
			if s.isExternal(dep) {
				continue
			}
			if _, ok := visited[dep]; !ok {
				queue = append(queue, dep)
			}
		}
	}

	modules := make([]string, 0, len(visited))
	for url := range visited {
		modules = append(modules, url)
	}
	sort.Strings(modules)
	s.modules = modules

	if s.cache != nil {
		if err := s.cache.ReplaceResolutions(ctx, s.resolutions); err != nil {
			s.logger.Warn("Failed to persist resolutions", logger.WithError(err))
		}
	}

	s.logger.Debug("Build finished", logger.WithField("modules", len(modules)))
	return &packer.BuildResult{DepsGraph: graph, Modules: len(modules)}, nil
}

func (s *Session) dependencies(ctx context.Context, url, source, hash string, opts packer.BuildOptions) ([]string, error) {
	if prev, ok := s.resolutions[url]; ok && prev.Hash == hash && !opts.RetryResolutionOnUnchangedModule {
		return slices.Clone(prev.Deps), nil
	}

	specifiers, err := s.imports(ctx, source, hash)
	if err != nil {
		return nil, &packer.BuildError{File: pathOf(url), Err: err}
	}

	deps := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		resolved, err := s.resolve(spec, url)
		if err != nil {
			return nil, err
		}
		deps = append(deps, resolved)
	}
	s.resolutions[url] = resolution{Hash: hash, Deps: deps}
	return slices.Clone(deps), nil
}

func (s *Session) imports(ctx context.Context, source, hash string) ([]string, error) {
	if s.cache != nil {
		specifiers, ok, err := s.cache.Imports(ctx, hash)
		if err != nil {
			s.logger.Debug("Import cache lookup failed", logger.WithError(err))
		} else if ok {
			return specifiers, nil
		}
	}

	specifiers, err := ExtractImports([]byte(source))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.PutImports(ctx, hash, specifiers); err != nil {
			s.logger.Debug("Import cache store failed", logger.WithError(err))
		}
	}
	return specifiers, nil
}

func (s *Session) load(url string) (string, error) {
	if source, ok := s.memory[url]; ok {
		return source, nil
	}
	path, ok := urlutil.ToPath(url)
	if !ok {
		return "", fmt.Errorf("cannot load %s: unsupported scheme", url)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot load %s: %w", url, err)
	}
	return string(data), nil
}

// resolve maps spec imported from referrer to a module URL. Memory modules
// and externals match verbatim, then the import map, relative and absolute
// URLs, and finally the load mappings.
func (s *Session) resolve(spec, referrer string) (string, error) {
	if _, ok := s.memory[spec]; ok {
		return spec, nil
	}
	if s.isExternal(spec) {
		return spec, nil
	}

	resolved, ok := s.lookup(spec, referrer)
	if !ok {
		return "", &packer.BuildError{
			File: pathOf(referrer),
			Err:  fmt.Errorf("cannot resolve %q", spec),
		}
	}
	if _, ok := s.memory[resolved]; ok || s.isExternal(resolved) {
		return resolved, nil
	}
	if !urlutil.IsFileURL(resolved) {
		return resolved, nil
	}

	if found, ok := probe(resolved); ok {
		return found, nil
	}

	// A missing prerequisite is blamed on itself so it can be evicted.
	blame := pathOf(referrer)
	if blame == "" {
		blame = pathOf(resolved)
	}
	return "", &packer.BuildError{
		File: blame,
		Err:  fmt.Errorf("cannot find module %q", spec),
	}
}

func (s *Session) lookup(spec, referrer string) (string, bool) {
	if target, ok := s.importMap.Resolve(spec, referrer); ok {
		if s.importMapURL != "" {
			return urlutil.Join(s.importMapURL, target)
		}
		return target, true
	}

	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/") {
		return urlutil.Join(referrer, spec)
	}
	if strings.Contains(spec, ":") {
		return spec, true
	}

	bestKey := ""
	for key := range s.loadMappings {
		if (spec == key || strings.HasPrefix(spec, key)) && len(key) > len(bestKey) {
			bestKey = key
		}
	}
	if bestKey != "" {
		return s.loadMappings[bestKey] + strings.TrimPrefix(spec, bestKey), true
	}
	return "", false
}

func (s *Session) isExternal(spec string) bool {
	for _, external := range s.externals {
		if strings.HasSuffix(external, "/") {
			if strings.HasPrefix(spec, external) {
				return true
			}
		} else if spec == external {
			return true
		}
	}
	return false
}

// LoadCache restores the resolutions recorded by a previous run
func (s *Session) LoadCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cache == nil {
		return nil
	}

	records, err := s.cache.Resolutions(ctx)
	if err != nil {
		return err
	}
	s.resolutions = records
	s.logger.Debug("Cache loaded", logger.WithField("modules", len(records)))
	return nil
}

// ClearCache forgets every resolution, persisted or not
func (s *Session) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.resolutions = make(map[string]resolution)
	s.modules = nil
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func (s *Session) CreateLoaderContext() *packer.LoaderContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &packer.LoaderContext{
		TargetName:        string(s.cfg.TargetName),
		WorkspaceDir:      s.cfg.WorkspaceDir,
		ImportMap:         s.importMap.Clone(),
		ImportMapURL:      s.importMapURL,
		Modules:           slices.Clone(s.modules),
		UUIDs:             maps.Clone(s.uuids),
		AssetPrefixes:     slices.Clone(s.assetPrefixes),
		ExportsConditions: slices.Clone(s.conditions),
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cache.Close()
}

func probe(url string) (string, bool) {
	path, ok := urlutil.ToPath(url)
	if !ok {
		return "", false
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return url, true
	}
	trimmed := strings.TrimSuffix(path, "/")
	for _, suffix := range probeSuffixes {
		candidate := trimmed + suffix
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return urlutil.FromPath(candidate), true
		}
	}
	return "", false
}

func pathOf(url string) string {
	path, ok := urlutil.ToPath(url)
	if !ok {
		return ""
	}
	return path
}

func contentHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
