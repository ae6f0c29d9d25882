// Package watcher turns filesystem activity under a project into asset change
// directives. Script identity comes from the ".meta" sidecar next to each
// script when present, otherwise from a name-based UUID of its file URL.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

// MetaSuffix is appended to a script path to locate its sidecar
const MetaSuffix = ".meta"

const defaultSettlingDelay = 300 * time.Millisecond

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// DefaultInclude returns the script patterns used when none are configured
func DefaultInclude() []string {
	return []string{"**/*.ts", "**/*.js"}
}

// ErrAlreadyRunning is returned when Run is called twice
var ErrAlreadyRunning = errors.New("watcher already running")

// Options configures a Watcher
type Options struct {
	Root string
	// Include selects scripts, as doublestar patterns relative to Root.
	Include []string
	Exclude []string
	// PluginScripts marks matching scripts as plugins.
	PluginScripts []string
	SettlingDelay time.Duration
	Logger        logger.Logger
}

// Watcher reports script additions, modifications and deletions
type Watcher struct {
	opts    Options
	root    string
	ignores []string
	logger  logger.Logger
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	known   map[string]string
	running bool
}

type meta struct {
	UUID     string `json:"uuid"`
	IsPlugin *bool  `json:"isPlugin,omitempty"`
	UserData struct {
		IsPlugin bool `json:"isPlugin"`
	} `json:"userData"`
}

// New creates a watcher rooted at opts.Root. Invalid patterns fail here
// rather than silently never matching.
func New(opts Options) (*Watcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	for label, patterns := range map[string][]string{
		"include": opts.Include,
		"exclude": opts.Exclude,
		"plugin":  opts.PluginScripts,
	} {
		for _, pattern := range patterns {
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid %s pattern %q", label, pattern)
			}
		}
	}
	if len(opts.Include) == 0 {
		opts.Include = DefaultInclude()
	}
	if opts.SettlingDelay <= 0 {
		opts.SettlingDelay = defaultSettlingDelay
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	ignores := append([]string{}, defaultIgnores...)
	ignores = append(ignores, opts.Exclude...)

	return &Watcher{
		opts:    opts,
		root:    root,
		ignores: ignores,
		logger:  log,
		known:   make(map[string]string),
	}, nil
}

// Scan walks the project and returns an add directive for every script,
// sorted by path. Scanned scripts become known, so later removals produce
// delete directives carrying their UUID.
func (w *Watcher) Scan() ([]types.AssetChange, error) {
	var changes []types.AssetChange
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn(fmt.Sprintf("Skipping inaccessible path %s: %v", path, walkErr))
			return nil
		}
		rel := w.rel(path)
		if d.IsDir() {
			if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.isScript(rel) {
			return nil
		}
		changes = append(changes, w.describe(types.AssetChangeAdd, path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", w.root, err)
	}

	w.mu.Lock()
	for _, change := range changes {
		w.known[change.FilePath] = change.UUID
	}
	w.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].FilePath < changes[j].FilePath })
	return changes, nil
}

// Run watches the project until ctx is cancelled, delivering settled batches
// of changes to onChanges. Events within the settling window coalesce per
// path; the directive is derived from the file's state when the batch fires.
func (w *Watcher) Run(ctx context.Context, onChanges func([]types.AssetChange)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := w.addDirectory(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info(fmt.Sprintf("Started watching %s with fsnotify", w.root))

	var (
		pendingMu sync.Mutex
		pending   []string
		seen      = make(map[string]struct{})
		timer     *time.Timer
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		pendingMu.Lock()
		paths := pending
		pending = nil
		clear(seen)
		pendingMu.Unlock()

		if changes := w.settle(paths); len(changes) > 0 {
			onChanges(changes)
		}
	}

	defer func() {
		pendingMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		pendingMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirectory(event.Name); err != nil {
						w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", event.Name, err))
					}
					continue
				}
			}

			script := strings.TrimSuffix(event.Name, MetaSuffix)
			if !w.isScript(w.rel(script)) && !w.isKnown(script) {
				continue
			}

			pendingMu.Lock()
			if _, ok := seen[script]; !ok {
				seen[script] = struct{}{}
				pending = append(pending, script)
			}
			if timer == nil {
				timer = time.AfterFunc(w.opts.SettlingDelay, fire)
			} else {
				timer.Reset(w.opts.SettlingDelay)
			}
			pendingMu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

// settle converts the paths touched during one window into directives.
// A script whose sidecar UUID changed is reported as a delete of the old
// identity followed by an add of the new one.
func (w *Watcher) settle(paths []string) []types.AssetChange {
	w.mu.Lock()
	defer w.mu.Unlock()

	var changes []types.AssetChange
	for _, path := range paths {
		normalized := urlutil.NormalizePath(path)
		oldUUID, known := w.known[normalized]
		info, err := os.Stat(path)
		exists := err == nil && !info.IsDir()

		switch {
		case exists && !known:
			change := w.describe(types.AssetChangeAdd, path)
			w.known[normalized] = change.UUID
			changes = append(changes, change)
		case exists && known:
			change := w.describe(types.AssetChangeModify, path)
			if change.UUID != oldUUID {
				changes = append(changes, types.AssetChange{
					Type:     types.AssetChangeDelete,
					UUID:     oldUUID,
					FilePath: normalized,
					URL:      change.URL,
				})
				change.Type = types.AssetChangeAdd
			}
			w.known[normalized] = change.UUID
			changes = append(changes, change)
		case !exists && known:
			delete(w.known, normalized)
			changes = append(changes, types.AssetChange{
				Type:     types.AssetChangeDelete,
				UUID:     oldUUID,
				FilePath: normalized,
				URL:      urlutil.FromPath(path),
			})
		}
	}
	return changes
}

func (w *Watcher) describe(changeType types.AssetChangeType, path string) types.AssetChange {
	url := urlutil.FromPath(path)
	change := types.AssetChange{
		Type:           changeType,
		UUID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String(),
		FilePath:       urlutil.NormalizePath(path),
		URL:            url,
		IsPluginScript: w.matchesAny(w.opts.PluginScripts, w.rel(path)),
	}

	data, err := os.ReadFile(path + MetaSuffix)
	if err != nil {
		return change
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		w.logger.Warn(fmt.Sprintf("Ignoring malformed meta file %s: %v", path+MetaSuffix, err))
		return change
	}
	if m.UUID != "" {
		change.UUID = m.UUID
	}
	if (m.IsPlugin != nil && *m.IsPlugin) || m.UserData.IsPlugin {
		change.IsPluginScript = true
	}
	return change
}

func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn(fmt.Sprintf("Skipping inaccessible path %s: %v", path, walkErr))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.rel(path)
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		w.logger.Debug(fmt.Sprintf("Watching directory: %s", path))
		return nil
	})
}

func (w *Watcher) isKnown(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.known[urlutil.NormalizePath(path)]
	return ok
}

func (w *Watcher) isScript(rel string) bool {
	if strings.HasSuffix(rel, MetaSuffix) || w.isIgnored(rel) {
		return false
	}
	return w.matchesAny(w.opts.Include, rel)
}

func (w *Watcher) isIgnored(rel string) bool {
	return w.matchesAny(w.ignores, rel)
}

func (w *Watcher) matchesAny(patterns []string, rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}
