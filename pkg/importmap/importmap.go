// Package importmap builds the import maps handed to the bundling engine.
// See https://developer.mozilla.org/en-US/docs/Web/HTML/Element/script/type/importmap
package importmap

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
)

// EngineSpecifier is the bare specifier scripts use to import the engine
const EngineSpecifier = "cc"

// ImportMap represents an ES module import map
type ImportMap struct {
	Imports   map[string]string            `json:"imports,omitempty"`
	Scopes    map[string]map[string]string `json:"scopes,omitempty"`
	Integrity map[string]string            `json:"integrity,omitempty"`
}

// Parse parses JSON data into an ImportMap
func Parse(data []byte) (*ImportMap, error) {
	var im ImportMap
	if err := json.Unmarshal(data, &im); err != nil {
		return nil, err
	}
	return &im, nil
}

// Load reads and parses the import map file at path. The returned base URL
// is the file URL of path, against which relative entries resolve.
func Load(path string) (*ImportMap, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read import map: %w", err)
	}
	im, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse import map %s: %w", path, err)
	}
	return im, urlutil.FromPath(path), nil
}

// Merge combines this import map with another, with the other taking precedence.
// Neither input is modified.
func (im *ImportMap) Merge(other *ImportMap) *ImportMap {
	if im == nil {
		if other == nil {
			return &ImportMap{}
		}
		return other.Clone()
	}
	if other == nil {
		return im.Clone()
	}

	result := &ImportMap{
		Imports:   make(map[string]string),
		Scopes:    make(map[string]map[string]string),
		Integrity: make(map[string]string),
	}

	maps.Copy(result.Imports, im.Imports)
	maps.Copy(result.Imports, other.Imports)

	for scope, imports := range im.Scopes {
		result.Scopes[scope] = maps.Clone(imports)
	}
	for scope, imports := range other.Scopes {
		if result.Scopes[scope] == nil {
			result.Scopes[scope] = make(map[string]string, len(imports))
		}
		maps.Copy(result.Scopes[scope], imports)
	}

	maps.Copy(result.Integrity, im.Integrity)
	maps.Copy(result.Integrity, other.Integrity)

	if len(result.Imports) == 0 {
		result.Imports = nil
	}
	if len(result.Scopes) == 0 {
		result.Scopes = nil
	}
	if len(result.Integrity) == 0 {
		result.Integrity = nil
	}

	return result
}

// Clone creates a deep copy of the import map
func (im *ImportMap) Clone() *ImportMap {
	if im == nil {
		return nil
	}

	result := &ImportMap{
		Imports:   maps.Clone(im.Imports),
		Integrity: maps.Clone(im.Integrity),
	}
	if im.Scopes != nil {
		result.Scopes = make(map[string]map[string]string, len(im.Scopes))
		for scope, imports := range im.Scopes {
			result.Scopes[scope] = maps.Clone(imports)
		}
	}
	return result
}

// Resolve looks up specifier for a module at referrer. Scopes whose prefix
// matches the referrer win over top-level imports, longest prefix first.
// Trailing-slash keys map package prefixes.
func (im *ImportMap) Resolve(specifier, referrer string) (string, bool) {
	if im == nil {
		return "", false
	}

	bestScope := ""
	for scope := range im.Scopes {
		if strings.HasPrefix(referrer, scope) && len(scope) > len(bestScope) {
			bestScope = scope
		}
	}
	if bestScope != "" {
		if resolved, ok := resolveIn(im.Scopes[bestScope], specifier); ok {
			return resolved, true
		}
	}
	return resolveIn(im.Imports, specifier)
}

func resolveIn(table map[string]string, specifier string) (string, bool) {
	if target, ok := table[specifier]; ok {
		return target, true
	}

	bestKey := ""
	for key := range table {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(specifier, key) && len(key) > len(bestKey) {
			bestKey = key
		}
	}
	if bestKey == "" {
		return "", false
	}
	return table[bestKey] + strings.TrimPrefix(specifier, bestKey), true
}

// ToJSON converts the import map to indented JSON, or "" when empty
func (im *ImportMap) ToJSON() string {
	if im == nil || (len(im.Imports) == 0 && len(im.Scopes) == 0 && len(im.Integrity) == 0) {
		return ""
	}

	bytes, err := json.MarshalIndent(im, "", "  ")
	if err != nil {
		return ""
	}
	return string(bytes)
}

// Compose builds the import map for one build target: the engine alias first,
// then one prefix mapping per asset database domain, then user overrides
// merged on top for both imports and scopes.
func Compose(engineIndexURL string, domains []types.AssetDatabaseDomain, user *ImportMap) *ImportMap {
	builtin := &ImportMap{
		Imports: map[string]string{
			EngineSpecifier: engineIndexURL,
		},
	}

	for _, domain := range domains {
		root := domain.Root
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}
		physical := urlutil.FromPath(domain.Physical)
		if !strings.HasSuffix(physical, "/") {
			physical += "/"
		}
		builtin.Imports[root] = physical
	}

	return builtin.Merge(user)
}
