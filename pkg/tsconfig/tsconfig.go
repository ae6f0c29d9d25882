// Package tsconfig implements the project configuration builder over a
// project's tsconfig.json.
package tsconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
	"github.com/tailscale/hujson"
)

// FileName is the TypeScript project file name
const FileName = "tsconfig.json"

// DeclarationsDir is where generated declarations are written, relative to the project
const DeclarationsDir = "temp/declarations"

const maxExtendsDepth = 8

type rawConfig struct {
	Extends         string              `json:"extends,omitempty"`
	CompilerOptions *rawCompilerOptions `json:"compilerOptions,omitempty"`
}

type rawCompilerOptions struct {
	BaseURL *string             `json:"baseUrl,omitempty"`
	Paths   map[string][]string `json:"paths,omitempty"`
	Target  *string             `json:"target,omitempty"`
	Strict  *bool               `json:"strict,omitempty"`
}

// Builder reads compiler options and writes asset database declarations
type Builder struct {
	projectPath string
	logger      logger.Logger

	mu         sync.Mutex
	dbURLInfos []types.DBURLInfo
	internal   []types.DBURLInfo
}

// NewBuilder creates a builder for projectPath. internal lists the database
// URLs shipped with the engine.
func NewBuilder(projectPath string, internal []types.DBURLInfo, log logger.Logger) *Builder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Builder{
		projectPath: projectPath,
		logger:      log,
		internal:    append([]types.DBURLInfo(nil), internal...),
	}
}

// SetDBURLInfos replaces the mounted database URLs
func (b *Builder) SetDBURLInfos(infos []types.DBURLInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dbURLInfos = append([]types.DBURLInfo(nil), infos...)
}

// GetProjectPath returns the project root
func (b *Builder) GetProjectPath() string {
	return b.projectPath
}

// GetRealTsConfigPath returns the tsconfig.json of the project
func (b *Builder) GetRealTsConfigPath() string {
	return filepath.Join(b.projectPath, FileName)
}

// GetInternalDBURLInfos returns the database URLs shipped with the engine
func (b *Builder) GetInternalDBURLInfos() []types.DBURLInfo {
	return append([]types.DBURLInfo(nil), b.internal...)
}

// GetCompilerOptions reads compiler options, following "extends" chains.
// A project without tsconfig.json yields empty options.
func (b *Builder) GetCompilerOptions(ctx context.Context) (*types.CompilerOptions, error) {
	path := b.GetRealTsConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		b.logger.Debug("No tsconfig.json in project", logger.WithField("path", path))
		return &types.CompilerOptions{}, nil
	}

	opts := &types.CompilerOptions{}
	if err := b.mergeFile(path, opts, 0); err != nil {
		return nil, err
	}
	return opts, nil
}

func (b *Builder) mergeFile(path string, opts *types.CompilerOptions, depth int) error {
	if depth > maxExtendsDepth {
		return fmt.Errorf("tsconfig extends chain too deep at %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var raw rawConfig
	standard, err := Standardize(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := json.Unmarshal(standard, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if raw.Extends != "" && (strings.HasPrefix(raw.Extends, ".") || filepath.IsAbs(raw.Extends)) {
		parent := raw.Extends
		if !filepath.IsAbs(parent) {
			parent = filepath.Join(dir, parent)
		}
		if filepath.Ext(parent) == "" {
			parent += ".json"
		}
		if err := b.mergeFile(parent, opts, depth+1); err != nil {
			return err
		}
	}

	if raw.CompilerOptions == nil {
		return nil
	}
	co := raw.CompilerOptions
	if co.BaseURL != nil {
		opts.BaseURL = filepath.ToSlash(filepath.Join(dir, *co.BaseURL))
	}
	if co.Paths != nil {
		opts.Paths = co.Paths
	}
	if co.Target != nil {
		opts.Target = *co.Target
	}
	if co.Strict != nil {
		opts.Strict = *co.Strict
	}
	return nil
}

// GenerateDeclarations writes ambient module declarations for every mounted database URL
func (b *Builder) GenerateDeclarations(ctx context.Context) error {
	b.mu.Lock()
	infos := append(b.GetInternalDBURLInfos(), b.dbURLInfos...)
	b.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].DBURL < infos[j].DBURL })

	var sb strings.Builder
	sb.WriteString("// Auto generated. Do not edit.\n")
	for _, info := range infos {
		fmt.Fprintf(&sb, "declare module %q {\n    const url: string;\n    export default url;\n}\n", info.DBURL+"*")
	}

	dir := filepath.Join(b.projectPath, DeclarationsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create declarations directory: %w", err)
	}
	out := filepath.Join(dir, "db.d.ts")
	if err := os.WriteFile(out, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write declarations: %w", err)
	}
	b.logger.Debug("Generated declarations", logger.WithField("path", out))
	return nil
}

// LoadMappings turns compiler "paths" into specifier prefix to URL mappings.
// Only the first substitution of each pattern is used; wildcard patterns map
// prefixes, plain patterns map exact specifiers.
func LoadMappings(opts *types.CompilerOptions, projectPath string) map[string]string {
	mappings := make(map[string]string)
	if opts == nil || len(opts.Paths) == 0 {
		return mappings
	}

	base := opts.BaseURL
	if base == "" {
		base = projectPath
	}

	for pattern, substitutions := range opts.Paths {
		if len(substitutions) == 0 {
			continue
		}
		target := filepath.ToSlash(filepath.Join(base, substitutions[0]))
		if strings.HasSuffix(pattern, "*") {
			prefix := strings.TrimSuffix(pattern, "*")
			dir := strings.TrimSuffix(target, "*")
			url := urlutil.FromPath(strings.TrimSuffix(dir, "/"))
			if strings.HasSuffix(dir, "/") {
				url += "/"
			}
			mappings[prefix] = url
			continue
		}
		mappings[pattern] = urlutil.FromPath(target)
	}
	return mappings
}

// Standardize converts a tsconfig file, which may carry comments and
// trailing commas, to plain JSON. data is not modified.
func Standardize(data []byte) ([]byte, error) {
	return hujson.Standardize(bytes.Clone(data))
}
