package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/poltergeist/packer-driver/pkg/config"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every target once",
		Long: `Scan the project for scripts and run one build iteration over every target
without watching for changes. The exit status reflects the first failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd, targets)
		},
	}

	cmd.Flags().StringSliceVar(&targets, "targets", nil, "targets to build (default: editor,preview)")

	return cmd
}

func (c *CLI) newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <script>",
		Short: "List the scripts a script imports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuery(cmd, args[0], false)
		},
	}
}

func (c *CLI) newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users <script>",
		Short: "List the scripts importing a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuery(cmd, args[0], true)
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of all targets",
		Long:  `Display the recorded build status of every target, including the last build time and failure.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove build caches and state",
		Long:  `Remove the workspace directory: per-target caches, state files and the incremental record.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean()
		},
	}
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) runBuild(cmd *cobra.Command, targets []string) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	rt := NewRuntimeConfig(c.config, cmd.Context(), "build")

	s, err := c.openSession(rt.Context, p, targets)
	if err != nil {
		return err
	}
	defer s.close()

	scripts, buildErr := s.buildAll(rt.Context, rt.TaskID)
	c.printTargetSummary(s)
	if buildErr != nil {
		c.printError(fmt.Sprintf("Build failed: %v", buildErr))
		return buildErr
	}

	c.printSuccess(fmt.Sprintf("Built %d script(s) in %s", scripts, rt.Elapsed().Round(time.Millisecond)))
	return nil
}

func (c *CLI) printTargetSummary(s *session) {
	for _, name := range s.driver.Targets() {
		if s.driver.IsTargetReady(name) {
			fmt.Fprintf(c.out, "  %s %s\n", color.GreenString("✓"), name)
		} else {
			fmt.Fprintf(c.out, "  %s %s\n", color.RedString("✗"), name)
		}
	}
}

func (c *CLI) runQuery(cmd *cobra.Command, script string, users bool) error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}
	rt := NewRuntimeConfig(c.config, cmd.Context(), "query")

	s, err := c.openSession(rt.Context, p, nil)
	if err != nil {
		return err
	}
	defer s.close()

	// The graph of the last successful target still answers queries after
	// a partial failure.
	if _, err := s.buildAll(rt.Context, rt.TaskID); err != nil {
		c.printWarning(fmt.Sprintf("Build failed, results may be stale: %v", err))
	}

	path := p.scriptPath(script)
	var result []string
	if users {
		result = s.driver.QueryScriptUsers(path)
	} else {
		result = s.driver.QueryScriptDeps(path)
	}

	for _, entry := range result {
		fmt.Fprintln(c.out, entry)
	}
	return nil
}

func (c *CLI) runStatus() error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}

	states := map[string]*state.TargetState{}
	if _, err := os.Stat(p.stateDir()); err == nil {
		states, err = state.NewStateManager(p.stateDir(), c.logger).DiscoverStates()
		if err != nil {
			return fmt.Errorf("failed to discover states: %w", err)
		}
	}

	var extra []string
	for name := range states {
		if !slices.Contains(types.PredefinedTargets, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names := append(slices.Clone(types.PredefinedTargets), extra...)

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLAST BUILD\tBUILDS\tFAILURES\tMODULES\tLAST ERROR")
	fmt.Fprintln(w, "------\t------\t----------\t------\t--------\t-------\t----------")

	for _, name := range names {
		status := string(types.BuildStatusIdle)
		lastBuild := "-"
		builds, failures, modules := 0, 0, 0
		lastError := "-"

		if st, ok := states[name]; ok {
			status = string(st.BuildStatus)
			if !st.LastBuildTime.IsZero() {
				lastBuild = st.LastBuildTime.Format("15:04:05")
			}
			builds = st.BuildCount
			failures = st.FailureCount
			modules = st.Modules
			if st.LastError != "" {
				lastError = st.LastError
				if st.FailedFile != "" {
					lastError = fmt.Sprintf("%s (%s)", st.LastError, st.FailedFile)
				}
			}
		}

		statusColor := color.WhiteString(status)
		switch types.BuildStatus(status) {
		case types.BuildStatusSucceeded:
			statusColor = color.GreenString(status)
		case types.BuildStatusFailed:
			statusColor = color.RedString(status)
		case types.BuildStatusBuilding:
			statusColor = color.YellowString(status)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			name,
			statusColor,
			lastBuild,
			builds,
			failures,
			modules,
			lastError,
		)
	}

	return w.Flush()
}

func (c *CLI) runClean() error {
	p, err := c.loadProject()
	if err != nil {
		return err
	}

	if _, err := os.Stat(p.workspace); errors.Is(err, os.ErrNotExist) {
		c.printInfo("Nothing to clean")
		return nil
	}

	// Refuse to remove the project itself when the workspace is misconfigured.
	if filepath.Clean(p.workspace) == p.root {
		return fmt.Errorf("refusing to remove project root %s", p.root)
	}

	if err := os.RemoveAll(p.workspace); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Removed %s", p.workspace))
	return nil
}

func (c *CLI) runValidate() error {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return err
	}

	manager := config.NewManager()
	path := c.config.ConfigFile
	if path == "" {
		found, ok := manager.FindConfigFile(root)
		if !ok {
			c.printError(fmt.Sprintf("No configuration found in %s", root))
			return fmt.Errorf("no configuration file in %s", root)
		}
		path = found
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	cfg, err := manager.LoadConfig(path)
	if err != nil {
		c.printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	var warnings []string
	for _, db := range cfg.Databases {
		target := db.Target
		if !filepath.IsAbs(target) {
			target = filepath.Join(root, target)
		}
		if info, err := os.Stat(target); err != nil || !info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("Database '%s': directory %s does not exist", db.DBID, db.Target))
		}
	}
	for label, file := range map[string]string{
		"import map":    cfg.Shared.ImportMapFile,
		"engine config": cfg.EngineConfig,
	} {
		if file == "" {
			continue
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(root, file)
		}
		if _, err := os.Stat(file); err != nil {
			warnings = append(warnings, fmt.Sprintf("The %s %s does not exist", label, file))
		}
	}
	sort.Strings(warnings)

	if len(warnings) > 0 {
		c.printWarning("Configuration warnings:")
		for _, warning := range warnings {
			fmt.Fprintf(c.out, "  - %s\n", warning)
		}
	}

	c.printSuccess(fmt.Sprintf("Configuration %s is valid", filepath.Base(path)))
	return nil
}
