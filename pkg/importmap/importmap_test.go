package importmap_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/importmap"
	"github.com/poltergeist/packer-driver/pkg/types"
)

func TestMerge(t *testing.T) {
	base := &importmap.ImportMap{
		Imports: map[string]string{"a": "/a.js", "b": "/b.js"},
		Scopes:  map[string]map[string]string{"/s/": {"x": "/x1.js"}},
	}
	other := &importmap.ImportMap{
		Imports: map[string]string{"b": "/b2.js", "c": "/c.js"},
		Scopes:  map[string]map[string]string{"/s/": {"y": "/y.js"}, "/t/": {"z": "/z.js"}},
	}

	merged := base.Merge(other)

	wantImports := map[string]string{"a": "/a.js", "b": "/b2.js", "c": "/c.js"}
	if !reflect.DeepEqual(merged.Imports, wantImports) {
		t.Errorf("imports = %v, want %v", merged.Imports, wantImports)
	}
	wantScopes := map[string]map[string]string{
		"/s/": {"x": "/x1.js", "y": "/y.js"},
		"/t/": {"z": "/z.js"},
	}
	if !reflect.DeepEqual(merged.Scopes, wantScopes) {
		t.Errorf("scopes = %v, want %v", merged.Scopes, wantScopes)
	}
	if base.Imports["b"] != "/b.js" {
		t.Error("merge must not modify its receiver")
	}
	if merged.Integrity != nil {
		t.Error("expected empty integrity to be nil")
	}
}

func TestMergeNil(t *testing.T) {
	var nilMap *importmap.ImportMap
	if got := nilMap.Merge(nil); got == nil || got.Imports != nil {
		t.Errorf("expected empty map, got %+v", got)
	}

	other := &importmap.ImportMap{Imports: map[string]string{"a": "/a.js"}}
	got := nilMap.Merge(other)
	got.Imports["a"] = "/changed.js"
	if other.Imports["a"] != "/a.js" {
		t.Error("expected merge with nil receiver to clone")
	}
}

func TestCompose(t *testing.T) {
	domains := []types.AssetDatabaseDomain{
		{Root: "db://assets/", Physical: "/proj/assets"},
		{Root: "db://internal", Physical: "/engine/internal"},
	}
	user := &importmap.ImportMap{
		Imports: map[string]string{"lodash": "./vendor/lodash.js"},
		Scopes:  map[string]map[string]string{"file:///proj/": {"cc": "file:///proj/cc-shim.js"}},
	}

	im := importmap.Compose("cce:/internal/x/cc", domains, user)

	want := map[string]string{
		"cc":             "cce:/internal/x/cc",
		"db://assets/":   "file:///proj/assets/",
		"db://internal/": "file:///engine/internal/",
		"lodash":         "./vendor/lodash.js",
	}
	if !reflect.DeepEqual(im.Imports, want) {
		t.Errorf("imports = %v, want %v", im.Imports, want)
	}
	if im.Scopes["file:///proj/"]["cc"] != "file:///proj/cc-shim.js" {
		t.Errorf("expected user scope to be kept, got %v", im.Scopes)
	}
}

func TestComposeUserOverridesBuiltinWhenKeyedSame(t *testing.T) {
	user := &importmap.ImportMap{Imports: map[string]string{"cc": "file:///custom/cc.js"}}
	im := importmap.Compose("cce:/internal/x/cc", nil, user)
	if im.Imports["cc"] != "file:///custom/cc.js" {
		t.Errorf("expected user cc override, got %q", im.Imports["cc"])
	}

	im = importmap.Compose("cce:/internal/x/cc", nil, nil)
	if im.Imports["cc"] != "cce:/internal/x/cc" {
		t.Errorf("expected builtin cc alias, got %q", im.Imports["cc"])
	}
}

func TestResolve(t *testing.T) {
	im := &importmap.ImportMap{
		Imports: map[string]string{
			"cc":           "cce:/internal/x/cc",
			"db://assets/": "file:///proj/assets/",
		},
		Scopes: map[string]map[string]string{
			"file:///proj/legacy/": {"cc": "file:///proj/legacy/cc.js"},
		},
	}

	tests := []struct {
		specifier string
		referrer  string
		want      string
		ok        bool
	}{
		{"cc", "file:///proj/assets/a.ts", "cce:/internal/x/cc", true},
		{"cc", "file:///proj/legacy/old.ts", "file:///proj/legacy/cc.js", true},
		{"db://assets/scripts/b.ts", "file:///proj/assets/a.ts", "file:///proj/assets/scripts/b.ts", true},
		{"unknown", "file:///proj/a.ts", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.specifier+"@"+tt.referrer, func(t *testing.T) {
			got, ok := im.Resolve(tt.specifier, tt.referrer)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Resolve = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "import-map.json")
	if err := os.WriteFile(path, []byte(`{"imports":{"x":"./x.js"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	im, baseURL, err := importmap.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if im.Imports["x"] != "./x.js" {
		t.Errorf("unexpected imports %v", im.Imports)
	}
	if baseURL == "" {
		t.Error("expected base URL")
	}

	if _, _, err := importmap.Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestToJSONEmpty(t *testing.T) {
	if (&importmap.ImportMap{}).ToJSON() != "" {
		t.Error("expected empty JSON for empty map")
	}
}
