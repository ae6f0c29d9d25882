package tsconfig_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/tsconfig"
	"github.com/poltergeist/packer-driver/pkg/types"
)

func TestStandardize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   string
		want  interface{}
	}{
		{
			name:  "line comment",
			input: "{\n  // comment\n  \"a\": 1\n}",
			key:   "a",
			want:  float64(1),
		},
		{
			name:  "block comment",
			input: `{ /* block\n comment */ "a": true }`,
			key:   "a",
			want:  true,
		},
		{
			name:  "comment markers inside strings",
			input: `{"a": "http://not-a-comment /* still */"}`,
			key:   "a",
			want:  "http://not-a-comment /* still */",
		},
		{
			name:  "escaped quote",
			input: `{"a": "escaped \" // quote",}`,
			key:   "a",
			want:  `escaped " // quote`,
		},
		{
			name:  "trailing comma in array",
			input: `{"a": [1, 2,],}`,
			key:   "a",
			want:  []interface{}{float64(1), float64(2)},
		},
		{
			name:  "trailing comma followed by comment",
			input: "{\"compilerOptions\": {\"strict\": true, // note\n}}",
			key:   "compilerOptions",
			want:  map[string]interface{}{"strict": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []byte(tt.input)
			standard, err := tsconfig.Standardize(input)
			if err != nil {
				t.Fatalf("Standardize failed: %v", err)
			}
			if string(input) != tt.input {
				t.Error("input was modified")
			}
			var out map[string]interface{}
			if err := json.Unmarshal(standard, &out); err != nil {
				t.Fatalf("output is not JSON: %v (%q)", err, standard)
			}
			if !reflect.DeepEqual(out[tt.key], tt.want) {
				t.Errorf("%s = %#v, want %#v", tt.key, out[tt.key], tt.want)
			}
		})
	}

	if _, err := tsconfig.Standardize([]byte(`{"a": }`)); err == nil {
		t.Error("expected an error for malformed input")
	}
}

func TestBuilder_CommentBeforeClosingBrace(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "tsconfig.json"), []byte(`{
  "compilerOptions": {
    "strict": true, // keep checks on
  },
}`), 0644); err != nil {
		t.Fatal(err)
	}

	opts, err := tsconfig.NewBuilder(root, nil, nil).GetCompilerOptions(context.Background())
	if err != nil {
		t.Fatalf("GetCompilerOptions failed: %v", err)
	}
	if !opts.Strict {
		t.Error("expected strict from tsconfig")
	}
}

func TestBuilder_GetCompilerOptions(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "base.json"), []byte(`{
  "compilerOptions": { "strict": true, "target": "ES2015" }
}`), 0644)
	os.WriteFile(filepath.Join(root, "tsconfig.json"), []byte(`{
  // project config
  "extends": "./base",
  "compilerOptions": {
    "baseUrl": ".",
    "paths": { "@game/*": ["./assets/scripts/*"] },
    "target": "ES2020",
  },
}`), 0644)

	b := tsconfig.NewBuilder(root, nil, nil)
	opts, err := b.GetCompilerOptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !opts.Strict {
		t.Error("expected strict from extended config")
	}
	if opts.Target != "ES2020" {
		t.Errorf("expected override target ES2020, got %s", opts.Target)
	}
	if opts.BaseURL != filepath.ToSlash(root) {
		t.Errorf("expected absolute base url, got %s", opts.BaseURL)
	}
	if len(opts.Paths["@game/*"]) != 1 {
		t.Errorf("unexpected paths %v", opts.Paths)
	}
}

func TestBuilder_NoTsConfig(t *testing.T) {
	b := tsconfig.NewBuilder(t.TempDir(), nil, nil)
	opts, err := b.GetCompilerOptions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if opts.BaseURL != "" || len(opts.Paths) != 0 {
		t.Errorf("expected empty options, got %+v", opts)
	}
}

func TestLoadMappings(t *testing.T) {
	opts := &types.CompilerOptions{
		BaseURL: "/proj",
		Paths: map[string][]string{
			"@game/*": {"./assets/scripts/*"},
			"config":  {"./settings/config.ts"},
			"empty/*": {},
		},
	}

	mappings := tsconfig.LoadMappings(opts, "/ignored")
	if got := mappings["@game/"]; got != "file:///proj/assets/scripts/" {
		t.Errorf("wildcard mapping = %q", got)
	}
	if got := mappings["config"]; got != "file:///proj/settings/config.ts" {
		t.Errorf("exact mapping = %q", got)
	}
	if _, ok := mappings["empty/"]; ok {
		t.Error("patterns without substitutions must be skipped")
	}

	if len(tsconfig.LoadMappings(nil, "/proj")) != 0 {
		t.Error("nil options must yield no mappings")
	}
}

func TestBuilder_GenerateDeclarations(t *testing.T) {
	root := t.TempDir()
	b := tsconfig.NewBuilder(root, []types.DBURLInfo{{DBURL: "db://internal/", Path: "/engine/assets"}}, nil)
	b.SetDBURLInfos([]types.DBURLInfo{{DBURL: "db://assets/", Path: filepath.Join(root, "assets")}})

	if err := b.GenerateDeclarations(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, tsconfig.DeclarationsDir, "db.d.ts"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	assetsIdx := strings.Index(content, `"db://assets/*"`)
	internalIdx := strings.Index(content, `"db://internal/*"`)
	if assetsIdx < 0 || internalIdx < 0 || assetsIdx > internalIdx {
		t.Errorf("expected sorted declarations for both databases:\n%s", content)
	}
}
