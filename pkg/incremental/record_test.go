package incremental_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/incremental"
	"github.com/poltergeist/packer-driver/pkg/types"
)

func settings() types.SharedSettings {
	return types.SharedSettings{
		UseDefineForClassFields: true,
		ExportsConditions:       []string{"browser"},
		ImportMapFile:           "import-map.json",
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := incremental.NewRecord(incremental.Version, settings())
	if err != nil {
		t.Fatal(err)
	}
	b, err := incremental.NewRecord(incremental.Version, settings())
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Error("expected identical settings to produce identical fingerprints")
	}
}

func TestFingerprintChanges(t *testing.T) {
	base, _ := incremental.NewRecord(incremental.Version, settings())

	tests := []struct {
		name    string
		version string
		mutate  func(s *types.SharedSettings)
	}{
		{"version bump", "9.9.9", func(s *types.SharedSettings) {}},
		{"setting flip", incremental.Version, func(s *types.SharedSettings) { s.Loose = true }},
		{"preview browsers target", incremental.Version, func(s *types.SharedSettings) { s.PreviewBrowsersTarget = "chrome 80" }},
		{"exports condition order", incremental.Version, func(s *types.SharedSettings) {
			s.ExportsConditions = []string{"browser", "development"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings()
			tt.mutate(&s)
			rec, err := incremental.NewRecord(tt.version, s)
			if err != nil {
				t.Fatal(err)
			}
			if rec.Fingerprint == base.Fingerprint {
				t.Error("expected fingerprint to change")
			}
		})
	}
}

func TestFingerprintIgnoresFeatures(t *testing.T) {
	base, _ := incremental.NewRecord(incremental.Version, settings())

	s := settings()
	s.Features = []string{"physics-2d", "tween"}
	rec, err := incremental.NewRecord(incremental.Version, s)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fingerprint != base.Fingerprint {
		t.Error("feature selection must not change the fingerprint")
	}
	if rec.Config.Shared.Features != nil {
		t.Errorf("features should not be recorded, got %v", rec.Config.Shared.Features)
	}
	if s.Features == nil {
		t.Error("caller settings must not be modified")
	}
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp", incremental.FileName)
	rec, _ := incremental.NewRecord(incremental.Version, settings())

	invalidations := 0
	invalidate := func() error {
		invalidations++
		return nil
	}

	kept, err := incremental.Validate(path, rec, invalidate)
	if err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if kept || invalidations != 1 {
		t.Errorf("missing record must invalidate, kept=%v invalidations=%d", kept, invalidations)
	}

	kept, err = incremental.Validate(path, rec, invalidate)
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if !kept || invalidations != 1 {
		t.Errorf("matching record must keep caches, kept=%v invalidations=%d", kept, invalidations)
	}

	s := settings()
	s.AllowDeclareFields = true
	changed, _ := incremental.NewRecord(incremental.Version, s)
	kept, err = incremental.Validate(path, changed, invalidate)
	if err != nil {
		t.Fatalf("third validate: %v", err)
	}
	if kept || invalidations != 2 {
		t.Errorf("changed settings must invalidate, kept=%v invalidations=%d", kept, invalidations)
	}

	persisted, err := incremental.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Fingerprint != changed.Fingerprint {
		t.Error("expected new record to be persisted")
	}
}

func TestValidateCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), incremental.FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	rec, _ := incremental.NewRecord(incremental.Version, settings())

	invalidated := false
	kept, err := incremental.Validate(path, rec, func() error { invalidated = true; return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept || !invalidated {
		t.Error("corrupt record must be treated as a mismatch")
	}
}

func TestValidateInvalidateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), incremental.FileName)
	rec, _ := incremental.NewRecord(incremental.Version, settings())
	boom := errors.New("boom")

	_, err := incremental.Validate(path, rec, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped invalidate error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("record must not be saved when invalidation fails")
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, incremental.FileName)
	rec, _ := incremental.NewRecord(incremental.Version, settings())

	if err := incremental.Check(path, rec); !errors.Is(err, incremental.ErrRecordMissing) {
		t.Errorf("expected ErrRecordMissing, got %v", err)
	}

	older, _ := incremental.NewRecord("0.9.0", settings())
	if err := incremental.Save(path, older); err != nil {
		t.Fatal(err)
	}
	if err := incremental.Check(path, rec); !errors.Is(err, incremental.ErrRecordVersion) {
		t.Errorf("expected ErrRecordVersion, got %v", err)
	}

	changedSettings := settings()
	changedSettings.Loose = !changedSettings.Loose
	changed, _ := incremental.NewRecord(incremental.Version, changedSettings)
	if err := incremental.Save(path, changed); err != nil {
		t.Fatal(err)
	}
	if err := incremental.Check(path, rec); !errors.Is(err, incremental.ErrRecordMismatch) {
		t.Errorf("expected ErrRecordMismatch, got %v", err)
	}

	if err := incremental.Save(path, rec); err != nil {
		t.Fatal(err)
	}
	if err := incremental.Check(path, rec); err != nil {
		t.Errorf("expected match, got %v", err)
	}
}
