package dupes

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/ipafeed/ipafeed/internal/version"
)

// Removal is one catalog entry the sweep decided to drop.
type Removal struct {
	Entry  catalog.Entry
	Reason string
}

// SweepResult partitions a feed's entries into survivors and removals. Kept
// preserves the feed's original order.
type SweepResult struct {
	Kept    []catalog.Entry
	Removed []Removal
}

var trailingParenRe = regexp.MustCompile(`\(([^)]+)\)\s*$`)

// SweepCatalog finds published entries that share an identity: same bundle
// identifier, same base name, and the same registered tweak (or none), where
// only the version differs. Each such group keeps its newest version. Entries
// under different bundle identifiers are never grouped, and distinct tweaks
// of one app are distinct identities.
func SweepCatalog(feed catalog.Feed, reg *tweaks.Registry, log *slog.Logger) SweepResult {
	if log == nil {
		log = slog.Default()
	}

	groups := make(map[string][]int)
	for i, e := range feed.Apps {
		if e.BundleIdentifier == "" {
			continue
		}
		base, tweak := catalog.SplitDisplayName(e.Name, reg)
		if tweak == "" {
			if m := trailingParenRe.FindStringSubmatch(e.Name); m != nil {
				log.Warn("display name carries an unregistered parenthetical",
					"name", e.Name, "parenthetical", m[1])
			}
		}
		key := strings.ToLower(e.BundleIdentifier) + "|" + strings.ToLower(base) + "|" + strings.ToLower(tweak)
		groups[key] = append(groups[key], i)
	}

	reasons := make(map[int]string)
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		// First occurrence wins version ties, mirroring the merge pass where
		// the established entry beats an equal newcomer.
		best := idxs[0]
		for _, i := range idxs[1:] {
			if version.IsNewer(feed.Apps[i].Version, feed.Apps[best].Version, time.Time{}, time.Time{}) {
				best = i
			}
		}
		for _, i := range idxs {
			if i == best {
				continue
			}
			reasons[i] = fmt.Sprintf("v%s superseded by v%s", feed.Apps[i].Version, feed.Apps[best].Version)
			log.Info("catalog entry superseded",
				"name", feed.Apps[i].Name,
				"bundle_id", feed.Apps[i].BundleIdentifier,
				"version", feed.Apps[i].Version,
				"kept_version", feed.Apps[best].Version)
		}
	}

	result := SweepResult{Kept: make([]catalog.Entry, 0, len(feed.Apps))}
	for i, e := range feed.Apps {
		if reason, ok := reasons[i]; ok {
			result.Removed = append(result.Removed, Removal{Entry: e, Reason: reason})
			continue
		}
		result.Kept = append(result.Kept, e)
	}
	return result
}
