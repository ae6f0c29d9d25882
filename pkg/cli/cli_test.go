package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/cli"
	"github.com/poltergeist/packer-driver/pkg/config"
	"github.com/poltergeist/packer-driver/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// run executes one command line against a fresh CLI and returns its output
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cfg := cli.NewConfig()
	cfg.Version = "1.2.3"
	c := cli.NewCLIWithOutput(cfg, &out, &errOut)
	err := c.Execute(append(args, "--verbosity", "error"))
	return out.String() + errOut.String(), err
}

func newScriptProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "assets", "a.ts"), "import { b } from './b';\nexport const a = b;\n")
	writeFile(t, filepath.Join(root, "assets", "b.ts"), "export const b = 1;\n")
	return root
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "packer-driver v1.2.3") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestInitCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "assets", "main.ts"), "export {};\n")
	writeFile(t, filepath.Join(root, "extensions", "physics", "assets", "body.ts"), "export {};\n")
	writeFile(t, filepath.Join(root, "import-map.json"), `{"imports": {}}`)

	if _, err := run(t, "init", "--root", root); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "packer.config.json"))
	if err != nil {
		t.Fatalf("configuration file was not created: %v", err)
	}
	var cfg types.ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.Version != types.ConfigVersion {
		t.Errorf("expected version %s, got %s", types.ConfigVersion, cfg.Version)
	}
	want := []types.AssetDatabaseInfo{
		{DBID: "assets", Target: "assets"},
		{DBID: "physics", Target: "extensions/physics/assets"},
	}
	if len(cfg.Databases) != len(want) {
		t.Fatalf("expected databases %v, got %v", want, cfg.Databases)
	}
	for i := range want {
		if cfg.Databases[i] != want[i] {
			t.Errorf("database %d: expected %v, got %v", i, want[i], cfg.Databases[i])
		}
	}
	if cfg.Shared.ImportMapFile != "import-map.json" {
		t.Errorf("expected detected import map, got %q", cfg.Shared.ImportMapFile)
	}
	if cfg.Watch == nil || len(cfg.Watch.Include) != 4 {
		t.Errorf("expected includes for both databases, got %+v", cfg.Watch)
	}

	if _, err := run(t, "init", "--root", root); err == nil {
		t.Error("expected init to refuse overwriting an existing configuration")
	}
	if _, err := run(t, "init", "--root", root, "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}
}

func TestInitCommand_YAML(t *testing.T) {
	root := t.TempDir()

	if _, err := run(t, "init", "--root", root, "--format", "yaml"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	cfg, err := config.NewManager().LoadConfig(filepath.Join(root, "packer.config.yaml"))
	if err != nil {
		t.Fatalf("generated YAML does not load: %v", err)
	}
	if len(cfg.Databases) != 1 || cfg.Databases[0].DBID != "assets" {
		t.Errorf("unexpected databases %v", cfg.Databases)
	}

	if _, err := run(t, "init", "--root", t.TempDir(), "--format", "toml"); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		wantErr     bool
		wantWarning string
	}{
		{
			name:   "valid config",
			config: `{"version": "1.0", "databases": [{"dbID": "assets", "target": "assets"}]}`,
		},
		{
			name:    "unsupported version",
			config:  `{"version": "2.0"}`,
			wantErr: true,
		},
		{
			name:    "duplicate database ids",
			config:  `{"version": "1.0", "databases": [{"dbID": "a", "target": "assets"}, {"dbID": "a", "target": "other"}]}`,
			wantErr: true,
		},
		{
			name:        "missing database directory",
			config:      `{"version": "1.0", "databases": [{"dbID": "ext", "target": "extensions/ext/assets"}]}`,
			wantWarning: "Database 'ext'",
		},
		{
			name:        "missing import map",
			config:      `{"version": "1.0", "shared": {"importMap": "missing.json"}}`,
			wantWarning: "import map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if err := os.MkdirAll(filepath.Join(root, "assets"), 0755); err != nil {
				t.Fatal(err)
			}
			writeFile(t, filepath.Join(root, "packer.config.json"), tt.config)

			out, err := run(t, "validate", "--root", root)
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v (output %q)", tt.wantErr, err, out)
			}
			if tt.wantWarning != "" && !strings.Contains(out, tt.wantWarning) {
				t.Errorf("expected warning containing %q, got %q", tt.wantWarning, out)
			}
		})
	}

	t.Run("no configuration", func(t *testing.T) {
		if _, err := run(t, "validate", "--root", t.TempDir()); err == nil {
			t.Error("expected an error without a configuration file")
		}
	})
}

func TestBuildCommand(t *testing.T) {
	root := newScriptProject(t)

	out, err := run(t, "build", "--root", root)
	if err != nil {
		t.Fatalf("build failed: %v (output %q)", err, out)
	}
	if !strings.Contains(out, "Built 2 script(s)") {
		t.Errorf("unexpected build output %q", out)
	}

	for _, target := range types.PredefinedTargets {
		statePath := filepath.Join(root, config.DefaultWorkspace, "state", target+".json")
		if _, err := os.Stat(statePath); err != nil {
			t.Errorf("expected state file for %s: %v", target, err)
		}
	}

	status, err := run(t, "status", "--root", root)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, target := range types.PredefinedTargets {
		if !strings.Contains(status, target) {
			t.Errorf("status output misses target %s: %q", target, status)
		}
	}
}

func TestBuildCommand_UnknownTarget(t *testing.T) {
	root := newScriptProject(t)

	if _, err := run(t, "build", "--root", root, "--targets", "runtime"); err == nil {
		t.Error("expected an error for an unknown target")
	}
}

func TestQueryCommands(t *testing.T) {
	root := newScriptProject(t)
	a := filepath.ToSlash(filepath.Join(root, "assets", "a.ts"))
	b := filepath.ToSlash(filepath.Join(root, "assets", "b.ts"))

	out, err := run(t, "deps", "assets/a.ts", "--root", root)
	if err != nil {
		t.Fatalf("deps failed: %v", err)
	}
	if !strings.Contains(out, b) {
		t.Errorf("expected %s among the dependencies, got %q", b, out)
	}

	out, err = run(t, "users", "assets/b.ts", "--root", root)
	if err != nil {
		t.Fatalf("users failed: %v", err)
	}
	if !strings.Contains(out, a) {
		t.Errorf("expected %s among the users, got %q", a, out)
	}
}

func TestCleanCommand(t *testing.T) {
	root := newScriptProject(t)
	workspace := filepath.Join(root, config.DefaultWorkspace)

	out, err := run(t, "clean", "--root", root)
	if err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if !strings.Contains(out, "Nothing to clean") {
		t.Errorf("unexpected output for a missing workspace %q", out)
	}

	if _, err := run(t, "build", "--root", root); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := os.Stat(workspace); err != nil {
		t.Fatalf("expected workspace after build: %v", err)
	}

	if _, err := run(t, "clean", "--root", root); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		t.Errorf("expected workspace to be removed, got %v", err)
	}
}

func TestWorkspaceFromEnvironment(t *testing.T) {
	root := newScriptProject(t)
	workspace := filepath.Join(t.TempDir(), "ws")
	t.Setenv("PACKER_WORKSPACE", workspace)

	if _, err := run(t, "build", "--root", root); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, "state")); err != nil {
		t.Errorf("expected state under the environment workspace: %v", err)
	}
}

func TestWaitCommand(t *testing.T) {
	root := newScriptProject(t)
	if _, err := run(t, "build", "--root", root); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Shutdown leaves every target idle.
	if _, err := run(t, "wait", "--root", root, "--status", "idle", "--timeout", "2s", "--poll-interval", "10ms"); err != nil {
		t.Errorf("wait for idle failed: %v", err)
	}

	out, err := run(t, "wait", "--root", root, "--status", "building", "--timeout", "50ms", "--poll-interval", "10ms")
	if err == nil {
		t.Error("expected wait to time out")
	}
	if !strings.Contains(out, "TIMEOUT") {
		t.Errorf("expected a timeout report, got %q", out)
	}

	if _, err := run(t, "wait", "--root", root, "--status", "done"); err == nil {
		t.Error("expected an error for an invalid status")
	}
}
