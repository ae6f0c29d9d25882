package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/poltergeist/packer-driver/internal/engine"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/poltergeist/packer-driver/pkg/urlutil"
	"github.com/poltergeist/packer-driver/pkg/watcher"
)

const shutdownTimeout = 30 * time.Second

// session is a driver over one project together with its script source
type session struct {
	project *project
	driver  *engine.Driver
	watcher *watcher.Watcher
}

// openSession creates the driver, mounts the configured asset databases and
// prepares the watcher that discovers scripts.
func (c *CLI) openSession(ctx context.Context, p *project, targets []string) (*session, error) {
	d, err := engine.Create(ctx, engine.Options{
		ProjectPath:  p.root,
		Config:       p.config,
		WorkspaceDir: p.workspace,
		Targets:      targets,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}

	s := &session{project: p, driver: d}
	for _, db := range p.config.Databases {
		if err := d.UpdateDBInfos(ctx, db, types.DBChangeAdd); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to mount database %s: %w", db.DBID, err)
		}
	}

	opts := watcher.Options{Root: p.root, Logger: c.logger}
	if watch := p.config.Watch; watch != nil {
		opts.Include = watch.Include
		opts.Exclude = watch.Exclude
		opts.PluginScripts = watch.PluginScripts
		opts.SettlingDelay = time.Duration(watch.SettlingDelay) * time.Millisecond
	}
	w, err := watcher.New(opts)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	return s, nil
}

// buildAll scans every script and runs one iteration over them
func (s *session) buildAll(ctx context.Context, taskID string) (int, error) {
	changes, err := s.watcher.Scan()
	if err != nil {
		return 0, err
	}
	return len(changes), s.driver.Build(ctx, changes, taskID)
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.driver.Shutdown(ctx)
}

// scriptPath resolves a command-line script argument against the project root
func (p *project) scriptPath(arg string) string {
	if !filepath.IsAbs(arg) {
		arg = filepath.Join(p.root, arg)
	}
	return urlutil.NormalizePath(filepath.Clean(arg))
}
