// Package incremental decides whether persisted bundling caches are still valid
// for the current build configuration.
package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poltergeist/packer-driver/pkg/types"
)

// Version is bumped whenever the packer output format changes in a way that
// invalidates existing caches.
const Version = "1.1.0"

// FileName is the record's file name inside the packer temp directory
const FileName = "incremental-record.json"

// Config is the build-affecting configuration captured by a record
type Config struct {
	Shared types.SharedSettings `json:"shared"`
	// PreviewBrowsersTarget is only set when the preview target overrides browser targets.
	PreviewBrowsersTarget string `json:"previewBrowsersTarget,omitempty"`
}

// Record is the persisted fingerprint of the build configuration
type Record struct {
	Version     string `json:"version"`
	Config      Config `json:"config"`
	Fingerprint string `json:"fingerprint"`
}

// NewRecord computes the record for the given settings. The engine feature
// selection is left out: features are synced into the engine index module
// at iteration time and never invalidate target caches.
func NewRecord(version string, shared types.SharedSettings) (*Record, error) {
	shared.Features = nil
	cfg := Config{Shared: shared, PreviewBrowsersTarget: shared.PreviewBrowsersTarget}
	fingerprint, err := Fingerprint(version, cfg)
	if err != nil {
		return nil, err
	}
	return &Record{Version: version, Config: cfg, Fingerprint: fingerprint}, nil
}

// Fingerprint hashes the version and the canonical JSON form of cfg.
// Canonical form sorts object keys, so field order never affects the hash.
func Fingerprint(version string, cfg Config) (string, error) {
	canonical, err := canonicalJSON(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize config: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

// Load reads a record from path. A missing file yields (nil, nil).
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read incremental record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse incremental record: %w", err)
	}
	return &rec, nil
}

var (
	// ErrRecordVersion reports a record written by a different packer version
	ErrRecordVersion = errors.New("incremental record version mismatch")
	// ErrRecordMismatch reports a record written for a different build configuration
	ErrRecordMismatch = errors.New("incremental record configuration mismatch")
	// ErrRecordMissing reports that no record has been persisted yet
	ErrRecordMissing = errors.New("incremental record missing")
)

// Check compares the record persisted at path with rec. It returns nil when
// they match, or one of ErrRecordMissing, ErrRecordVersion, ErrRecordMismatch.
func Check(path string, rec *Record) error {
	persisted, err := Load(path)
	if err != nil {
		return err
	}
	if persisted == nil {
		return ErrRecordMissing
	}
	if persisted.Version != rec.Version {
		return fmt.Errorf("%w: have %s, want %s", ErrRecordVersion, persisted.Version, rec.Version)
	}
	if persisted.Fingerprint != rec.Fingerprint {
		return ErrRecordMismatch
	}
	return nil
}

// Matches reports whether the record persisted at path equals rec.
// A missing or unreadable record never matches.
func Matches(path string, rec *Record) (bool, error) {
	err := Check(path, rec)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrRecordMissing), errors.Is(err, ErrRecordVersion), errors.Is(err, ErrRecordMismatch):
		return false, nil
	default:
		return false, err
	}
}

// Save writes rec to path atomically
func Save(path string, rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal incremental record: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write incremental record: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename incremental record: %w", err)
	}
	return nil
}

// Validate compares rec with the record at path. On mismatch it invokes
// invalidate (which wipes the per-target caches) and persists rec. It
// reports whether the caches were kept.
func Validate(path string, rec *Record, invalidate func() error) (bool, error) {
	matched, err := Matches(path, rec)
	if err != nil {
		// A corrupt record is treated as a mismatch.
		matched = false
	}
	if matched {
		return true, nil
	}

	if invalidate != nil {
		if err := invalidate(); err != nil {
			return false, fmt.Errorf("failed to invalidate caches: %w", err)
		}
	}
	if err := Save(path, rec); err != nil {
		return false, err
	}
	return false, nil
}
