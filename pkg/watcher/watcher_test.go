package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(Options{
		Root:          root,
		Include:       []string{"assets/**/*.ts"},
		Exclude:       []string{"assets/generated/**"},
		PluginScripts: []string{"assets/plugins/**"},
		SettlingDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New(Options{Root: t.TempDir(), Include: []string{"assets/[.ts"}}); err == nil {
		t.Error("expected invalid pattern to fail")
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "assets", "a.ts"), "export {};")
	writeFile(t, filepath.Join(root, "assets", "a.ts.meta"), `{"uuid": "uuid-a"}`)
	writeFile(t, filepath.Join(root, "assets", "b.ts"), "export {};")
	writeFile(t, filepath.Join(root, "assets", "flagged.ts"), "export {};")
	writeFile(t, filepath.Join(root, "assets", "flagged.ts.meta"), `{"uuid": "uuid-f", "userData": {"isPlugin": true}}`)
	writeFile(t, filepath.Join(root, "assets", "plugins", "p.ts"), "window.x = 1;")
	writeFile(t, filepath.Join(root, "assets", "generated", "g.ts"), "export {};")
	writeFile(t, filepath.Join(root, "assets", "readme.md"), "# docs")
	writeFile(t, filepath.Join(root, "scripts", "tool.ts"), "export {};")

	w := newWatcher(t, root)
	changes, err := w.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(changes) != 4 {
		t.Fatalf("expected 4 scripts, got %d: %+v", len(changes), changes)
	}

	byName := make(map[string]types.AssetChange)
	for _, c := range changes {
		if c.Type != types.AssetChangeAdd {
			t.Errorf("expected add directives, got %s", c.Type)
		}
		byName[filepath.Base(c.FilePath)] = c
	}

	if got := byName["a.ts"].UUID; got != "uuid-a" {
		t.Errorf("expected meta uuid, got %q", got)
	}
	bPath := filepath.Join(root, "assets", "b.ts")
	wantB := uuid.NewSHA1(uuid.NameSpaceURL, []byte(urlutil.FromPath(bPath))).String()
	if got := byName["b.ts"]; got.UUID != wantB || got.URL != urlutil.FromPath(bPath) {
		t.Errorf("unexpected derived identity %+v", got)
	}
	if !byName["flagged.ts"].IsPluginScript || !byName["p.ts"].IsPluginScript {
		t.Error("expected plugin scripts to be flagged")
	}
	if byName["a.ts"].IsPluginScript {
		t.Error("a.ts is not a plugin script")
	}
}

func TestSettle(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "assets", "a.ts")
	writeFile(t, aPath, "export {};")
	writeFile(t, aPath+MetaSuffix, `{"uuid": "uuid-a"}`)

	w := newWatcher(t, root)
	if _, err := w.Scan(); err != nil {
		t.Fatal(err)
	}

	t.Run("modified script", func(t *testing.T) {
		changes := w.settle([]string{aPath})
		if len(changes) != 1 || changes[0].Type != types.AssetChangeModify || changes[0].UUID != "uuid-a" {
			t.Errorf("unexpected changes %+v", changes)
		}
	})

	t.Run("new script", func(t *testing.T) {
		bPath := filepath.Join(root, "assets", "b.ts")
		writeFile(t, bPath, "export {};")
		changes := w.settle([]string{bPath})
		if len(changes) != 1 || changes[0].Type != types.AssetChangeAdd {
			t.Errorf("unexpected changes %+v", changes)
		}
	})

	t.Run("identity change", func(t *testing.T) {
		writeFile(t, aPath+MetaSuffix, `{"uuid": "uuid-a2"}`)
		changes := w.settle([]string{aPath})
		if len(changes) != 2 {
			t.Fatalf("expected delete and add, got %+v", changes)
		}
		if changes[0].Type != types.AssetChangeDelete || changes[0].UUID != "uuid-a" {
			t.Errorf("unexpected first change %+v", changes[0])
		}
		if changes[1].Type != types.AssetChangeAdd || changes[1].UUID != "uuid-a2" {
			t.Errorf("unexpected second change %+v", changes[1])
		}
	})

	t.Run("removed script", func(t *testing.T) {
		if err := os.Remove(aPath); err != nil {
			t.Fatal(err)
		}
		changes := w.settle([]string{aPath})
		if len(changes) != 1 || changes[0].Type != types.AssetChangeDelete || changes[0].UUID != "uuid-a2" {
			t.Errorf("unexpected changes %+v", changes)
		}
		if again := w.settle([]string{aPath}); len(again) != 0 {
			t.Errorf("unknown missing script must be ignored, got %+v", again)
		}
	})
}

func TestRun_DeliversSettledBatch(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := newWatcher(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []types.AssetChange, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, func(changes []types.AssetChange) { batches <- changes }) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)

	aPath := filepath.Join(root, "assets", "a.ts")
	writeFile(t, aPath, "export {};")
	writeFile(t, aPath, "export const a = 1;")
	writeFile(t, filepath.Join(root, "assets", "notes.txt"), "ignored")

	select {
	case changes := <-batches:
		if len(changes) != 1 || changes[0].Type != types.AssetChangeAdd || changes[0].FilePath != urlutil.NormalizePath(aPath) {
			t.Errorf("unexpected batch %+v", changes)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for changes")
	}

	if err := w.Run(ctx, nil); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
