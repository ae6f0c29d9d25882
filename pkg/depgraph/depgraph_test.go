package depgraph_test

import (
	"reflect"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/depgraph"
)

func sampleGraph() depgraph.Raw {
	return depgraph.Raw{
		"file:///p/a.ts":                       {"file:///p/b.ts", "file:///p/c.ts", "cce:/internal/x/cc"},
		"file:///p/b.ts":                       {"file:///p/c.ts"},
		"file:///p/c.ts":                       {},
		"cce:/internal/x/prerequisite-imports": {"file:///p/a.ts"},
	}
}

func TestBuildForwardAndReverse(t *testing.T) {
	deps, users := depgraph.Build(sampleGraph())

	// Every forward edge has a matching reverse edge and vice versa.
	for script, ds := range deps {
		for d := range ds {
			if _, ok := users[d][script]; !ok {
				t.Errorf("missing reverse edge %s <- %s", d, script)
			}
		}
	}
	for dep, us := range users {
		for u := range us {
			if _, ok := deps[u][dep]; !ok {
				t.Errorf("missing forward edge %s -> %s", u, dep)
			}
		}
	}
}

func TestBuildDropsNonFileSchemes(t *testing.T) {
	deps, users := depgraph.Build(sampleGraph())

	for script := range deps {
		if script == "/internal/x/prerequisite-imports" || script == "/internal/x/cc" {
			t.Errorf("non-file script %s leaked into index", script)
		}
	}
	if _, ok := users["/internal/x/cc"]; ok {
		t.Error("non-file dependency leaked into reverse index")
	}
	if len(users["/p/a.ts"]) != 0 {
		t.Errorf("expected no users of a.ts once virtual modules are dropped, got %v", users["/p/a.ts"])
	}
}

func TestIndexQueries(t *testing.T) {
	idx := depgraph.NewIndex()
	idx.SetRaw(sampleGraph())

	if !idx.Dirty() {
		t.Fatal("expected index to be dirty after SetRaw")
	}

	if got := idx.Deps("/p/a.ts"); !reflect.DeepEqual(got, []string{"/p/b.ts", "/p/c.ts"}) {
		t.Errorf("Deps(a) = %v", got)
	}
	if idx.Dirty() {
		t.Error("expected query to rebuild the index")
	}
	if got := idx.Users("/p/c.ts"); !reflect.DeepEqual(got, []string{"/p/a.ts", "/p/b.ts"}) {
		t.Errorf("Users(c) = %v", got)
	}
	if got := idx.Users("/p/missing.ts"); len(got) != 0 {
		t.Errorf("expected empty result for unknown path, got %v", got)
	}
}

func TestIndexNormalizesBackslashes(t *testing.T) {
	idx := depgraph.NewIndex()
	idx.SetRaw(depgraph.Raw{
		"file:///C:/proj/a.ts": {"file:///C:/proj/b.ts"},
	})

	if got := idx.Users(`C:\proj\b.ts`); !reflect.DeepEqual(got, []string{"C:/proj/a.ts"}) {
		t.Errorf("Users with backslashes = %v", got)
	}
}

func TestIndexQueriesAreIdempotent(t *testing.T) {
	idx := depgraph.NewIndex()
	idx.SetRaw(sampleGraph())

	first := idx.Deps("/p/a.ts")
	first[0] = "mutated"
	second := idx.Deps("/p/a.ts")

	if !reflect.DeepEqual(second, []string{"/p/b.ts", "/p/c.ts"}) {
		t.Errorf("query results must be copies, got %v", second)
	}
}

func TestEmptyIndex(t *testing.T) {
	idx := depgraph.NewIndex()
	if got := idx.Deps("/p/a.ts"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}
