// Package assetdb buffers asset change notifications and resolves mounted
// asset databases into import map domains.
package assetdb

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// URLScheme is the scheme of asset database URLs
const URLScheme = "db://"

// RootURL returns the database URL prefix of a database id
func RootURL(dbID string) string {
	return URLScheme + dbID + "/"
}

// Notifier accumulates asset changes, keeping one entry per uuid
type Notifier struct {
	projectPath string
	logger      logger.Logger

	mu      sync.Mutex
	changes []types.AssetChange
	index   map[string]int
}

// NewNotifier creates a notifier resolving relative mount targets against projectPath
func NewNotifier(projectPath string, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Notifier{
		projectPath: projectPath,
		logger:      log,
		index:       make(map[string]int),
	}
}

// OnAssetChange records a change. Successive changes of one uuid collapse:
// add then change stays an add, add then delete cancels out, delete then
// add becomes a change, anything else keeps the latest change.
func (n *Notifier) OnAssetChange(change types.AssetChange) {
	n.mu.Lock()
	defer n.mu.Unlock()

	i, ok := n.index[change.UUID]
	if !ok {
		n.index[change.UUID] = len(n.changes)
		n.changes = append(n.changes, change)
		return
	}

	prev := n.changes[i]
	switch {
	case prev.Type == types.AssetChangeAdd && change.Type == types.AssetChangeModify:
		change.Type = types.AssetChangeAdd
	case prev.Type == types.AssetChangeAdd && change.Type == types.AssetChangeDelete:
		n.removeLocked(i)
		return
	case prev.Type == types.AssetChangeDelete && change.Type == types.AssetChangeAdd:
		change.Type = types.AssetChangeModify
	}
	n.changes[i] = change
}

func (n *Notifier) removeLocked(i int) {
	delete(n.index, n.changes[i].UUID)
	n.changes = append(n.changes[:i], n.changes[i+1:]...)
	for j := i; j < len(n.changes); j++ {
		n.index[n.changes[j].UUID] = j
	}
}

// AssetChangeQueue returns the buffered changes in arrival order
func (n *Notifier) AssetChangeQueue() []types.AssetChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.AssetChange, len(n.changes))
	copy(out, n.changes)
	return out
}

// ResetAssetChangeQueue empties the buffer
func (n *Notifier) ResetAssetChangeQueue() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = nil
	n.index = make(map[string]int)
}

// QueryAssetDomains maps every mount to its domain, sorted by root URL.
// Read-only databases are jailed to their physical directory.
func (n *Notifier) QueryAssetDomains(ctx context.Context, mounts []types.AssetDatabaseInfo) ([]types.AssetDatabaseDomain, error) {
	domains := make([]types.AssetDatabaseDomain, 0, len(mounts))
	for _, mount := range mounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		physical := mount.Target
		if !filepath.IsAbs(physical) && n.projectPath != "" {
			physical = filepath.Join(n.projectPath, physical)
		}
		physical = filepath.ToSlash(physical)

		domain := types.AssetDatabaseDomain{
			Root:     RootURL(mount.DBID),
			Physical: physical,
		}
		if mount.Readonly {
			domain.Jail = physical
		}
		domains = append(domains, domain)
	}

	sort.Slice(domains, func(i, j int) bool { return domains[i].Root < domains[j].Root })
	return domains, nil
}

// ResolveURL converts a db:// URL to a physical path using domains
func ResolveURL(domains []types.AssetDatabaseDomain, dbURL string) (string, bool) {
	for _, domain := range domains {
		if strings.HasPrefix(dbURL, domain.Root) {
			rel := strings.TrimPrefix(dbURL, domain.Root)
			return filepath.ToSlash(filepath.Join(domain.Physical, rel)), true
		}
	}
	return "", false
}
