// Package state persists per-target build state so other processes can inspect it
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// TargetState is the persisted state of one build target
type TargetState struct {
	TargetName    string            `json:"targetName"`
	BuildStatus   types.BuildStatus `json:"buildStatus"`
	LastBuildTime time.Time         `json:"lastBuildTime"`
	BuildCount    int               `json:"buildCount"`
	FailureCount  int               `json:"failureCount"`
	ProcessID     int               `json:"processId"`
	LastTaskID    string            `json:"lastTaskId,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	FailedFile    string            `json:"failedFile,omitempty"`
	BuildDuration time.Duration     `json:"buildDuration,omitempty"`
	Modules       int               `json:"modules,omitempty"`
}

// BuildOutcome summarizes a finished target build
type BuildOutcome struct {
	TaskID     string
	Duration   time.Duration
	Modules    int
	Err        error
	FailedFile string
}

// StateManager handles persistent state files
type StateManager struct {
	stateDir string
	logger   logger.Logger
	mu       sync.RWMutex
	states   map[string]*TargetState
}

// NewStateManager creates a state manager writing into stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithError(err))
	}

	return &StateManager{
		stateDir: stateDir,
		logger:   log,
		states:   make(map[string]*TargetState),
	}
}

// InitializeState creates or refreshes the state of a target, preserving
// build statistics from a previous run.
func (sm *StateManager) InitializeState(targetName string) (*TargetState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state := &TargetState{
		TargetName:  targetName,
		BuildStatus: types.BuildStatusIdle,
		ProcessID:   os.Getpid(),
	}

	if existing, err := sm.loadStateFile(targetName); err == nil && existing != nil {
		state.BuildCount = existing.BuildCount
		state.FailureCount = existing.FailureCount
		state.LastBuildTime = existing.LastBuildTime
		state.BuildDuration = existing.BuildDuration
		state.Modules = existing.Modules
	}

	if err := sm.saveStateFile(state); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[targetName] = state
	return state, nil
}

// ReadState returns a copy of the state for a target
func (sm *StateManager) ReadState(targetName string) (*TargetState, error) {
	sm.mu.RLock()
	if state, ok := sm.states[targetName]; ok {
		copied := *state
		sm.mu.RUnlock()
		return &copied, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(targetName)
}

// RecordBuildStart marks a target as building
func (sm *StateManager) RecordBuildStart(targetName, taskID string) error {
	return sm.update(targetName, func(s *TargetState) {
		s.BuildStatus = types.BuildStatusBuilding
		s.LastTaskID = taskID
	})
}

// RecordBuildResult stores the outcome of a finished build
func (sm *StateManager) RecordBuildResult(targetName string, outcome BuildOutcome) error {
	return sm.update(targetName, func(s *TargetState) {
		s.LastBuildTime = time.Now()
		s.BuildDuration = outcome.Duration
		s.LastTaskID = outcome.TaskID
		if outcome.Err != nil {
			s.BuildStatus = types.BuildStatusFailed
			s.FailureCount++
			s.LastError = outcome.Err.Error()
			s.FailedFile = outcome.FailedFile
			return
		}
		s.BuildStatus = types.BuildStatusSucceeded
		s.BuildCount++
		s.LastError = ""
		s.FailedFile = ""
		s.Modules = outcome.Modules
	})
}

// RemoveState removes the state for a target
func (sm *StateManager) RemoveState(targetName string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, targetName)

	if err := os.Remove(sm.getStateFilePath(targetName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// DiscoverStates loads every state file in the state directory
func (sm *StateManager) DiscoverStates() (map[string]*TargetState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[string]*TargetState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		targetName := strings.TrimSuffix(file.Name(), ".json")
		state, err := sm.loadStateFile(targetName)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("target", targetName),
				logger.WithError(err))
			continue
		}
		states[targetName] = state
	}

	return states, nil
}

// Cleanup marks every state owned by this process as idle
func (sm *StateManager) Cleanup() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, state := range sm.states {
		state.BuildStatus = types.BuildStatusIdle
		state.ProcessID = 0
		if err := sm.saveStateFile(state); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("target", state.TargetName),
				logger.WithError(err))
		}
	}
	return nil
}

func (sm *StateManager) update(targetName string, apply func(*TargetState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	state, ok := sm.states[targetName]
	if !ok {
		loaded, err := sm.loadStateFile(targetName)
		if err != nil {
			return fmt.Errorf("target state not found: %s", targetName)
		}
		state = loaded
		sm.states[targetName] = state
	}

	apply(state)
	return sm.saveStateFile(state)
}

func (sm *StateManager) getStateFilePath(targetName string) string {
	return filepath.Join(sm.stateDir, targetName+".json")
}

func (sm *StateManager) loadStateFile(targetName string) (*TargetState, error) {
	data, err := os.ReadFile(sm.getStateFilePath(targetName))
	if err != nil {
		return nil, err
	}

	var state TargetState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

func (sm *StateManager) saveStateFile(state *TargetState) error {
	stateFile := sm.getStateFilePath(state.TargetName)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
