// Package depgraph indexes the module dependency graph reported by the bundling engine
package depgraph

import (
	"sort"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

// Raw is the engine-reported adjacency: script URL -> dependency URLs
type Raw map[string][]string

type pathSet map[string]struct{}

// Build converts a raw graph into forward (script -> deps) and reverse
// (dep -> users) maps keyed by normalized filesystem paths. Edges whose
// script or dependency is not a file:// URL are dropped.
func Build(raw Raw) (deps map[string]pathSet, users map[string]pathSet) {
	deps = make(map[string]pathSet)
	users = make(map[string]pathSet)

	for scriptURL, depURLs := range raw {
		script, ok := urlutil.ToPath(scriptURL)
		if !ok {
			continue
		}
		if _, exists := deps[script]; !exists {
			deps[script] = make(pathSet)
		}
		for _, depURL := range depURLs {
			dep, ok := urlutil.ToPath(depURL)
			if !ok {
				continue
			}
			deps[script][dep] = struct{}{}
			if users[dep] == nil {
				users[dep] = make(pathSet)
			}
			users[dep][script] = struct{}{}
		}
	}

	return deps, users
}

// Index is a lazily rebuilt bidirectional dependency index. The raw graph
// is replaced wholesale; queries rebuild the derived maps when dirty.
type Index struct {
	mu    sync.Mutex
	raw   Raw
	dirty bool
	deps  map[string]pathSet
	users map[string]pathSet
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		deps:  make(map[string]pathSet),
		users: make(map[string]pathSet),
	}
}

// SetRaw replaces the raw graph and marks the index dirty
func (i *Index) SetRaw(raw Raw) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.raw = raw
	i.dirty = true
}

// Dirty reports whether the next query will rebuild the index
func (i *Index) Dirty() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dirty
}

// Deps returns the dependencies of the script at path, sorted
func (i *Index) Deps(path string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rebuildLocked()
	return sortedCopy(i.deps[urlutil.NormalizePath(path)])
}

// Users returns the scripts depending on path, sorted
func (i *Index) Users(path string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rebuildLocked()
	return sortedCopy(i.users[urlutil.NormalizePath(path)])
}

func (i *Index) rebuildLocked() {
	if !i.dirty {
		return
	}
	i.deps, i.users = Build(i.raw)
	i.dirty = false
}

func sortedCopy(set pathSet) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
