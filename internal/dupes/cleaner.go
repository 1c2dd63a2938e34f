package dupes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/release"
	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// Storage is the slice of the release client the cleaner mutates.
type Storage interface {
	ListAssets(ctx context.Context) ([]release.Asset, error)
	DeleteAsset(ctx context.Context, id int64) error
}

// Stats summarizes one cleaning run.
type Stats struct {
	// CatalogRemoved counts entries pruned from the feed.
	CatalogRemoved int
	// AssetsDeleted counts binaries removed from storage, both passes.
	AssetsDeleted int
	// GroupsApplied counts validated filename groups that drove at least one
	// deletion.
	GroupsApplied int
}

// Cleaner runs the two duplicate passes against one catalog file and its
// backing storage.
type Cleaner struct {
	detector *Detector
	registry *tweaks.Registry
	storage  Storage
	log      *slog.Logger
	now      func() time.Time
}

// CleanerConfig wires a Cleaner. Registry and Storage are required. A nil
// Detector skips the filename analysis pass; the catalog sweep needs no
// inference.
type CleanerConfig struct {
	Detector *Detector
	Registry *tweaks.Registry
	Storage  Storage
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewCleaner(cfg CleanerConfig) (*Cleaner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("cleaner requires a tweak registry")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("cleaner requires release storage")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cleaner{
		detector: cfg.Detector,
		registry: cfg.Registry,
		storage:  cfg.Storage,
		log:      cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Run sweeps the catalog at feedPath, rewrites it when entries were pruned
// (keeping a timestamped backup of the original), deletes the pruned entries'
// binaries, then runs the filename analysis over the remaining stored
// binaries and applies its validated groups. Individual deletion failures
// are logged and skipped.
func (c *Cleaner) Run(ctx context.Context, feedPath string) (Stats, error) {
	var stats Stats

	feed, err := catalog.Load(feedPath)
	if err != nil {
		return stats, fmt.Errorf("loading catalog: %w", err)
	}

	assets, err := c.storage.ListAssets(ctx)
	if err != nil {
		// The sweep can still prune catalog entries; only binary deletions
		// need the listing.
		c.log.Warn("could not list stored binaries, skipping deletions", "err", err)
		assets = nil
	}
	byName := make(map[string]int64, len(assets))
	for _, a := range assets {
		byName[a.Name] = a.ID
	}

	sweep := SweepCatalog(feed, c.registry, c.log)
	stats.CatalogRemoved = len(sweep.Removed)
	if len(sweep.Removed) > 0 {
		if err := c.backup(feedPath); err != nil {
			return stats, fmt.Errorf("backing up catalog: %w", err)
		}
		feed.Apps = sweep.Kept
		if err := catalog.Save(feedPath, feed); err != nil {
			return stats, fmt.Errorf("saving cleaned catalog: %w", err)
		}
		c.log.Info("pruned catalog",
			"removed", len(sweep.Removed), "remaining", len(sweep.Kept))

		for _, r := range sweep.Removed {
			name := r.Entry.BinaryRef()
			id, ok := byName[name]
			if !ok {
				continue
			}
			if err := c.storage.DeleteAsset(ctx, id); err != nil {
				c.log.Warn("could not delete superseded binary",
					"asset", name, "err", err)
				continue
			}
			delete(byName, name)
			stats.AssetsDeleted++
			c.log.Info("deleted superseded binary",
				"asset", name, "app", r.Entry.Name, "reason", r.Reason)
		}
	}

	if c.detector == nil {
		c.log.Info("no inference client configured, skipping filename analysis")
		return stats, nil
	}

	names := remainingIPAs(assets, byName)
	groups, err := c.detector.Analyze(ctx, names)
	if err != nil {
		return stats, err
	}
	for _, g := range groups {
		applied := false
		for _, del := range g.Delete {
			id, ok := byName[del]
			if !ok {
				continue
			}
			if err := c.storage.DeleteAsset(ctx, id); err != nil {
				c.log.Warn("could not delete duplicate binary",
					"asset", del, "err", err)
				continue
			}
			delete(byName, del)
			stats.AssetsDeleted++
			applied = true
			c.log.Info("deleted duplicate binary",
				"asset", del, "kept", g.Keep, "reason", g.Reason)
		}
		if applied {
			stats.GroupsApplied++
		}
	}
	return stats, nil
}

// backup copies the catalog file aside before the sweep rewrites it.
func (c *Cleaner) backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	backupPath := fmt.Sprintf("%s.backup.%s", path, c.now().Format("20060102_150405"))
	return os.WriteFile(backupPath, data, 0o644)
}

// remainingIPAs lists the stored .ipa filenames still present after the
// sweep's deletions, in listing order.
func remainingIPAs(assets []release.Asset, byName map[string]int64) []string {
	var names []string
	for _, a := range assets {
		if !strings.HasSuffix(a.Name, ".ipa") {
			continue
		}
		if _, ok := byName[a.Name]; !ok {
			continue
		}
		names = append(names, a.Name)
	}
	return names
}
