package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/poltergeist/packer-driver/pkg/config"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// importMapCandidates are probed, in order, for a project import map
var importMapCandidates = []string{
	"import-map.json",
	"assets/import-map.json",
}

func (c *CLI) newInitCmd() *cobra.Command {
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new packer-driver configuration",
		Long: `Initialize a new configuration file in the project root. Asset databases
are detected from the assets directory and from extensions/<name>/assets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(format, force)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "configuration format (json, yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func (c *CLI) runInit(format string, force bool) error {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	var name string
	switch format {
	case "json":
		name = "packer.config.json"
	case "yaml", "yml":
		name = "packer.config.yaml"
	default:
		return fmt.Errorf("unsupported format %q (json, yaml)", format)
	}

	manager := config.NewManager()
	if existing, ok := manager.FindConfigFile(root); ok && !force {
		return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
	}

	cfg := createDefaultConfig(root)
	if err := manager.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}

	var data []byte
	if name == "packer.config.json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := filepath.Join(root, name)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	for _, db := range cfg.Databases {
		c.printInfo(fmt.Sprintf("Mounted database %s at %s", db.DBID, db.Target))
	}
	return nil
}

// createDefaultConfig starts from the built-in defaults and fills in what
// the project layout reveals
func createDefaultConfig(root string) *types.ProjectConfig {
	cfg := config.NewManager().GetDefaultConfig()
	cfg.Databases = detectDatabases(root)
	cfg.Watch.Include = nil
	for _, db := range cfg.Databases {
		cfg.Watch.Include = append(cfg.Watch.Include, db.Target+"/**/*.ts", db.Target+"/**/*.js")
	}

	for _, candidate := range importMapCandidates {
		if _, err := os.Stat(filepath.Join(root, candidate)); err == nil {
			cfg.Shared.ImportMapFile = candidate
			break
		}
	}

	enabled := false
	cfg.Notifications = &types.NotificationConfig{Enabled: &enabled}
	return cfg
}

func detectDatabases(root string) []types.AssetDatabaseInfo {
	databases := []types.AssetDatabaseInfo{{DBID: "assets", Target: "assets"}}

	matches, _ := filepath.Glob(filepath.Join(root, "extensions", "*", "assets"))
	sort.Strings(matches)
	for _, match := range matches {
		if info, err := os.Stat(match); err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, match)
		if err != nil {
			continue
		}
		databases = append(databases, types.AssetDatabaseInfo{
			DBID:   filepath.Base(filepath.Dir(match)),
			Target: filepath.ToSlash(rel),
		})
	}
	return databases
}
