package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/packer"
	"github.com/poltergeist/packer-driver/pkg/packer/scan"
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

func newSession(t *testing.T, workspace string) packer.Session {
	t.Helper()
	s, err := scan.NewSession(context.Background(), packer.SessionConfig{
		TargetName:   "editor",
		WorkspaceDir: workspace,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExtractImports(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			name:   "static imports",
			source: "import { a } from './a';\nimport b from \"../b\";\nimport './side-effect';\n",
			want:   []string{"./a", "../b", "./side-effect"},
		},
		{
			name:   "re-exports",
			source: "export * from 'cce:/internal/x/cc-fu/2d';\nexport { x } from './x';\nexport const y = 1;\n",
			want:   []string{"cce:/internal/x/cc-fu/2d", "./x"},
		},
		{
			name:   "dynamic imports with literal specifier",
			source: "const m = () => import('./lazy');\nconst n = (p: string) => import(p);\n",
			want:   []string{"./lazy"},
		},
		{
			name:   "duplicates collapse",
			source: "import { a } from './a';\nimport type { B } from './a';\n",
			want:   []string{"./a"},
		},
		{
			name:   "no imports",
			source: "export {};\n",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scan.ExtractImports([]byte(tt.source))
			if err != nil {
				t.Fatalf("ExtractImports: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractImports_SyntaxError(t *testing.T) {
	_, err := scan.ExtractImports([]byte("import { from './a';\nconst = ;\n"))
	var syntaxErr *scan.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if syntaxErr.Line < 1 {
		t.Errorf("expected a line number, got %d", syntaxErr.Line)
	}
}

func TestSession_BuildWalksGraph(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "assets", "a.ts"), "import { b } from './b';\nimport 'db://assets/lib';\nimport 'cce:/internal/x/cc';\n")
	writeFile(t, filepath.Join(root, "assets", "b.ts"), "export const b = 1;\n")
	writeFile(t, filepath.Join(root, "assets", "lib", "index.ts"), "export {};\n")

	s := newSession(t, "")
	s.SetExternals([]string{"cce:/internal/x/cc-fu/"})
	if err := s.AddMemoryModule("cce:/internal/x/cc", "export * from 'cce:/internal/x/cc-fu/base';\n"); err != nil {
		t.Fatal(err)
	}
	im := &importmap.ImportMap{Imports: map[string]string{
		"db://assets/": urlutil.FromPath(filepath.Join(root, "assets")) + "/",
	}}
	if err := s.SetImportMap(im, "cce:/internal/import-map.json"); err != nil {
		t.Fatal(err)
	}

	entry := urlutil.FromPath(filepath.Join(root, "assets", "a.ts"))
	result, err := s.Build(context.Background(), []string{entry}, packer.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	bURL := urlutil.FromPath(filepath.Join(root, "assets", "b.ts"))
	libURL := urlutil.FromPath(filepath.Join(root, "assets", "lib", "index.ts"))
	want := []string{bURL, libURL, "cce:/internal/x/cc"}
	if got := result.DepsGraph[entry]; !slices.Equal(got, want) {
		t.Errorf("entry deps = %v, want %v", got, want)
	}
	if got := result.DepsGraph["cce:/internal/x/cc"]; !slices.Equal(got, []string{"cce:/internal/x/cc-fu/base"}) {
		t.Errorf("engine index deps = %v", got)
	}
	if _, ok := result.DepsGraph["cce:/internal/x/cc-fu/base"]; ok {
		t.Error("externals must not be loaded")
	}
	if result.Modules != 4 {
		t.Errorf("expected 4 modules, got %d", result.Modules)
	}

	lc := s.CreateLoaderContext()
	if lc.TargetName != "editor" || len(lc.Modules) != 4 || lc.ImportMapURL != "cce:/internal/import-map.json" {
		t.Errorf("unexpected loader context %+v", lc)
	}
}

func TestSession_LoadMappings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.ts"), "import '@game/util';\n")
	writeFile(t, filepath.Join(root, "src", "util.ts"), "export {};\n")

	s := newSession(t, "")
	s.SetLoadMappings(map[string]string{"@game/": urlutil.FromPath(filepath.Join(root, "src")) + "/"})

	entry := urlutil.FromPath(filepath.Join(root, "a.ts"))
	result, err := s.Build(context.Background(), []string{entry}, packer.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := urlutil.FromPath(filepath.Join(root, "src", "util.ts"))
	if got := result.DepsGraph[entry]; !slices.Equal(got, []string{want}) {
		t.Errorf("got %v, want %v", got, []string{want})
	}
}

func TestSession_FailureBlame(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.ts")
	writeFile(t, aPath, "import './missing';\n")

	t.Run("unresolved import blames the importer", func(t *testing.T) {
		s := newSession(t, "")
		_, err := s.Build(context.Background(), []string{urlutil.FromPath(aPath)}, packer.BuildOptions{})
		file, ok := packer.FailedFile(err)
		if !ok || file != urlutil.NormalizePath(aPath) {
			t.Errorf("FailedFile = %q, %v (err %v)", file, ok, err)
		}
	})

	t.Run("missing prerequisite blames itself", func(t *testing.T) {
		s := newSession(t, "")
		gone := filepath.Join(root, "gone.ts")
		source := "import(\"" + urlutil.FromPath(gone) + "\");\n"
		if err := s.AddMemoryModule("cce:/internal/x/prerequisite-imports", source); err != nil {
			t.Fatal(err)
		}
		_, err := s.Build(context.Background(), []string{"cce:/internal/x/prerequisite-imports"}, packer.BuildOptions{})
		file, ok := packer.FailedFile(err)
		if !ok || file != urlutil.NormalizePath(gone) {
			t.Errorf("FailedFile = %q, %v (err %v)", file, ok, err)
		}
	})

	t.Run("syntax error blames the module", func(t *testing.T) {
		bad := filepath.Join(root, "bad.ts")
		writeFile(t, bad, "export const = ;\n")
		s := newSession(t, "")
		_, err := s.Build(context.Background(), []string{urlutil.FromPath(bad)}, packer.BuildOptions{})
		var syntaxErr *scan.SyntaxError
		if !errors.As(err, &syntaxErr) {
			t.Fatalf("expected SyntaxError, got %v", err)
		}
		if file, _ := packer.FailedFile(err); file != urlutil.NormalizePath(bad) {
			t.Errorf("FailedFile = %q", file)
		}
	})
}

func TestSession_ResolutionReuse(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.ts")
	bPath := filepath.Join(root, "b.ts")
	writeFile(t, aPath, "import './b';\n")
	writeFile(t, bPath, "export {};\n")
	entry := urlutil.FromPath(aPath)

	s := newSession(t, "")
	if _, err := s.Build(context.Background(), []string{entry}, packer.BuildOptions{}); err != nil {
		t.Fatal(err)
	}

	// b.ts now resolves to a directory index, but a.ts is unchanged.
	if err := os.Remove(bPath); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "b", "index.ts"), "export {};\n")

	_, err := s.Build(context.Background(), []string{entry}, packer.BuildOptions{})
	if err == nil {
		t.Fatal("expected the stale resolution to fail loading b.ts")
	}

	result, err := s.Build(context.Background(), []string{entry}, packer.BuildOptions{RetryResolutionOnUnchangedModule: true})
	if err != nil {
		t.Fatalf("retry build: %v", err)
	}
	want := urlutil.FromPath(filepath.Join(root, "b", "index.ts"))
	if got := result.DepsGraph[entry]; !slices.Equal(got, []string{want}) {
		t.Errorf("got %v, want %v", got, []string{want})
	}
}

func TestSession_PersistentCache(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	aPath := filepath.Join(root, "a.ts")
	writeFile(t, aPath, "import './b';\n")
	writeFile(t, filepath.Join(root, "b.ts"), "export {};\n")
	entry := urlutil.FromPath(aPath)

	first, err := scan.NewSession(context.Background(), packer.SessionConfig{TargetName: "editor", WorkspaceDir: workspace})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Build(context.Background(), []string{entry}, packer.BuildOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(workspace, scan.CacheFileName)); err != nil {
		t.Fatalf("expected cache database: %v", err)
	}

	second := newSession(t, workspace)
	if err := second.LoadCache(context.Background()); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	result, err := second.Build(context.Background(), []string{entry}, packer.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.DepsGraph[entry]) != 1 {
		t.Errorf("unexpected graph %v", result.DepsGraph)
	}

	if err := second.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if lc := second.CreateLoaderContext(); len(lc.Modules) != 0 {
		t.Errorf("expected no modules after clear, got %v", lc.Modules)
	}
}

func TestSession_Closed(t *testing.T) {
	s, err := scan.NewSession(context.Background(), packer.SessionConfig{TargetName: "preview"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Build(context.Background(), nil, packer.BuildOptions{}); !errors.Is(err, scan.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
