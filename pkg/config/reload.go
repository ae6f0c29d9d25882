package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// ReloadCallback is called when the configuration file changes.
// cfg is nil when err is set.
type ReloadCallback func(cfg *types.ProjectConfig, err error)

// ReloadManager watches a configuration file and reloads it on change.
// Saves that leave the parsed configuration unchanged are not reported.
type ReloadManager struct {
	configPath     string
	manager        *Manager
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	current        *types.ProjectConfig
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	cancel         context.CancelFunc
	isWatching     bool
}

// NewReloadManager creates a new configuration reload manager
func NewReloadManager(configPath string, log logger.Logger) *ReloadManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ReloadManager{
		configPath:     configPath,
		manager:        NewManager(),
		logger:         log,
		debouncePeriod: 500 * time.Millisecond,
	}
}

// AddCallback adds a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// SetDebouncePeriod sets the debounce period for file change events
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

// StartWatching begins watching the configuration file until ctx is done
// or StopWatching is called.
func (rm *ReloadManager) StartWatching(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isWatching {
		return fmt.Errorf("already watching configuration file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(rm.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	if cfg, err := rm.manager.LoadConfig(rm.configPath); err == nil {
		rm.current = cfg
	}

	watchCtx, cancel := context.WithCancel(ctx)
	rm.watcher = watcher
	rm.cancel = cancel
	rm.isWatching = true

	go rm.watchLoop(watchCtx, watcher)

	rm.logger.Debug("Started watching configuration file",
		logger.WithField("path", rm.configPath))
	return nil
}

// StopWatching stops watching the configuration file
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isWatching {
		return nil
	}

	rm.cancel()
	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}
	if err := rm.watcher.Close(); err != nil {
		rm.logger.Warn("Error closing file watcher", logger.WithError(err))
	}
	rm.watcher = nil
	rm.isWatching = false
	return nil
}

// Current returns the last configuration that loaded successfully, or nil
func (rm *ReloadManager) Current() *types.ProjectConfig {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.current
}

// IsWatching returns whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isWatching
}

func (rm *ReloadManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Configuration watcher panic recovered",
				logger.WithField("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(rm.configPath) {
				continue
			}
			rm.debounceReload(event.Op&fsnotify.Remove == fsnotify.Remove)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("Configuration file watcher error", logger.WithError(err))
			rm.notifyCallbacks(nil, err)
		}
	}
}

func (rm *ReloadManager) debounceReload(removed bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}
	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, func() {
		rm.handleConfigChange(removed)
	})
}

func (rm *ReloadManager) handleConfigChange(removed bool) {
	if _, err := os.Stat(rm.configPath); err != nil {
		if removed && os.IsNotExist(err) {
			err = fmt.Errorf("configuration file was removed: %s", rm.configPath)
		}
		rm.notifyCallbacks(nil, err)
		return
	}

	cfg, err := rm.manager.LoadConfig(rm.configPath)
	if err != nil {
		rm.logger.Error("Failed to reload configuration", logger.WithError(err))
		rm.notifyCallbacks(nil, err)
		return
	}

	rm.mu.Lock()
	if rm.current != nil && reflect.DeepEqual(rm.current, cfg) {
		rm.mu.Unlock()
		rm.logger.Debug("Configuration unchanged, skipping reload")
		return
	}
	rm.current = cfg
	rm.mu.Unlock()

	rm.logger.Info("Configuration reloaded", logger.WithField("file", filepath.Base(rm.configPath)))
	rm.notifyCallbacks(cfg, nil)
}

func (rm *ReloadManager) notifyCallbacks(cfg *types.ProjectConfig, err error) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	for _, callback := range callbacks {
		func(cb ReloadCallback) {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered",
						logger.WithField("panic", r))
				}
			}()
			cb(cfg, err)
		}(callback)
	}
}
