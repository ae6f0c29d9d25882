package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/poltergeist/packer-driver/pkg/config"
	pcontext "github.com/poltergeist/packer-driver/pkg/context"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/process"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/spf13/cobra"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch scripts and rebuild on change",
		Long: `Build every target once, then watch the project and run a fresh build
iteration for each settled batch of script changes. Edits to the
configuration file remount asset databases and reselect engine features
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), targets)
		},
	}

	cmd.Flags().StringSliceVar(&targets, "targets", nil, "targets to build (default: editor,preview)")

	return cmd
}

func (c *CLI) runWatch(parent context.Context, targets []string) error {
	if parent == nil {
		parent = context.Background()
	}
	pm := process.NewManager(c.logger)
	ctx := pm.Start(parent)
	defer pm.Stop()

	p, err := c.loadProject()
	if err != nil {
		return err
	}

	s, err := c.openSession(ctx, p, targets)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	unsubscribe := s.driver.Subscribe(func(event types.BuildEvent) {
		if event.Kind != types.EventCompiled {
			return
		}
		if len(event.FailedTargets) > 0 {
			c.printError(fmt.Sprintf("Build %s failed for %v: %v", event.TaskID, event.FailedTargets, event.Err))
			return
		}
		if event.Err != nil {
			c.printWarning(fmt.Sprintf("Build %s finished with errors: %v", event.TaskID, event.Err))
			return
		}
		c.printSuccess(fmt.Sprintf("Build %s succeeded", event.TaskID))
	})
	defer unsubscribe()

	c.printInfo(fmt.Sprintf("Starting packer-driver v%s in %s", c.config.Version, p.root))
	if _, err := s.buildAll(ctx, ""); err != nil {
		c.logger.Warn("Initial build failed", logger.WithError(err))
	}

	if p.configPath != "" {
		reload := config.NewReloadManager(p.configPath, c.logger)
		reload.AddCallback(c.onConfigReload(ctx, s))
		if err := reload.StartWatching(ctx); err != nil {
			c.printWarning(fmt.Sprintf("Configuration changes will not be picked up: %v", err))
		} else {
			pm.RegisterShutdownHandler(func() { reload.StopWatching() })
		}
	}

	watchErr := s.watcher.Run(ctx, func(changes []types.AssetChange) {
		rt := NewRuntimeConfig(c.config, ctx, "watch")
		log := logger.WithContext(rt.Context, c.logger)
		log.Info(fmt.Sprintf("Detected %d script change(s)", len(changes)))
		if err := s.driver.Build(rt.Context, changes, rt.TaskID); err != nil {
			log.Debug("Iteration failed", logger.WithError(err))
		}
	})

	c.printInfo("Shutting down gracefully...")
	if err := s.close(); err != nil {
		c.printWarning(fmt.Sprintf("Shutdown error: %v", err))
	}
	if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
		return watchErr
	}

	c.printSuccess("packer-driver stopped gracefully")
	return nil
}

// onConfigReload applies a reloaded configuration to the running session.
// Database mounts are diffed by id; removed mounts delete their scripts on
// the next iteration, which runs immediately.
func (c *CLI) onConfigReload(ctx context.Context, s *session) config.ReloadCallback {
	return func(cfg *types.ProjectConfig, err error) {
		if err != nil {
			c.printWarning(fmt.Sprintf("Ignoring configuration change: %v", err))
			return
		}

		previous := s.project.config
		for _, db := range previous.Databases {
			if !slices.ContainsFunc(cfg.Databases, func(next types.AssetDatabaseInfo) bool { return next.DBID == db.DBID }) {
				if err := s.driver.UpdateDBInfos(ctx, db, types.DBChangeRemove); err != nil {
					c.logger.Error(fmt.Sprintf("Failed to unmount database %s", db.DBID), logger.WithError(err))
				}
			}
		}
		for _, db := range cfg.Databases {
			if err := s.driver.UpdateDBInfos(ctx, db, types.DBChangeAdd); err != nil {
				c.logger.Error(fmt.Sprintf("Failed to mount database %s", db.DBID), logger.WithError(err))
			}
		}

		if !slices.Equal(previous.Shared.Features, cfg.Shared.Features) {
			s.driver.UpdateEngineFeatures(cfg.Shared.Features)
		}
		if !sharedSettingsEqual(previous.Shared, cfg.Shared) {
			c.printWarning("Shared build settings changed; restart to apply them")
		}
		s.project.config = cfg

		taskID := pcontext.GenerateTaskID()
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := s.driver.RunPendingWork(runCtx, taskID); err != nil {
			c.logger.Debug("Iteration after configuration change failed", logger.WithError(err))
		}
	}
}

// sharedSettingsEqual compares the settings baked into a session at creation.
// Features are excluded since they apply live.
func sharedSettingsEqual(a, b types.SharedSettings) bool {
	return a.UseDefineForClassFields == b.UseDefineForClassFields &&
		a.AllowDeclareFields == b.AllowDeclareFields &&
		a.Loose == b.Loose &&
		a.GuessCommonJSExports == b.GuessCommonJSExports &&
		slices.Equal(a.ExportsConditions, b.ExportsConditions) &&
		a.ImportMapFile == b.ImportMapFile &&
		a.PreserveSymlinks == b.PreserveSymlinks &&
		a.PreviewBrowsersTarget == b.PreviewBrowsersTarget
}
