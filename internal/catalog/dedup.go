package catalog

import (
	"log/slog"
	"time"

	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/ipafeed/ipafeed/internal/version"
)

// Decision is the engine's verdict on one incoming observation.
type Decision int

const (
	// Inserted means the identity key was unseen and the variant is now the
	// resident.
	Inserted Decision = iota
	// Replaced means the variant superseded an older resident; the old
	// binary must be removed.
	Replaced
	// Rejected means an equal-or-newer resident exists; the candidate and
	// its downloaded binary are discarded.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Resident is the current holder of one identity key: either a fresh variant
// awaiting upload, or an already-published entry carried forward.
type Resident struct {
	Variant  AppVariant
	Existing *Entry
	// OldBinary names a release asset superseded during this run. The
	// uploader deletes it after the replacement is stored.
	OldBinary string
}

// MergeStats summarizes a merge with the published catalog.
type MergeStats struct {
	Carried    int
	Superseded int
	// KeptExisting counts conflicts resolved in favor of the published
	// entry; the matching incoming binaries appear in DiscardedBinaries.
	KeptExisting int
	// Dropped lists published entries removed because their backing binary
	// vanished from storage.
	Dropped []string
	// DiscardedBinaries lists local downloads made redundant by the merge.
	DiscardedBinaries []string
}

// Engine is the deduplication state machine. Add runs first over fresh
// observations, then MergePublished folds in the previous catalog. After
// both passes each identity key maps to exactly one resident. Not safe for
// concurrent use; the pipeline feeds it from a single goroutine.
type Engine struct {
	registry *tweaks.Registry
	log      *slog.Logger
	byKey    map[string]*Resident
	order    []string
}

func NewEngine(registry *tweaks.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry: registry,
		log:      log,
		byKey:    make(map[string]*Resident),
	}
}

// Add offers a fresh observation to the engine. When it returns Replaced,
// the superseded local binary is named in oldBinary and must be deleted by
// the caller; the engine remembers it for release cleanup at upload time.
func (e *Engine) Add(v AppVariant) (decision Decision, oldBinary string) {
	key := v.IdentityKey()
	resident, ok := e.byKey[key]
	if !ok {
		e.byKey[key] = &Resident{Variant: v}
		e.order = append(e.order, key)
		e.log.Debug("new identity", "key", key, "version", v.Version, "binary", v.BinaryRef)
		return Inserted, ""
	}

	old := resident.Variant
	if version.IsNewer(v.Version, old.Version, v.ObservedAt, old.ObservedAt) {
		e.byKey[key] = &Resident{Variant: v, OldBinary: old.BinaryRef}
		e.log.Info("superseding variant",
			"key", key, "old_version", old.Version, "new_version", v.Version)
		return Replaced, old.BinaryRef
	}

	e.log.Debug("rejecting older variant",
		"key", key, "resident_version", old.Version, "candidate_version", v.Version)
	return Rejected, ""
}

// MergePublished folds the previously published apps into the running map.
// live reports whether a binary filename still exists in remote storage;
// entries whose binary is gone are dropped rather than republished. On a key
// conflict the published entry wins ties, so unchanged apps are never
// re-uploaded.
func (e *Engine) MergePublished(apps []Entry, live func(binary string) bool) MergeStats {
	var stats MergeStats
	for i := range apps {
		entry := apps[i]
		_, tweak := SplitDisplayName(entry.Name, e.registry)
		key := IdentityKey(entry.BundleIdentifier, tweak)

		binary := entry.BinaryRef()
		alive := live == nil || (binary != "" && live(binary))

		resident, conflict := e.byKey[key]
		if !conflict {
			if !alive {
				stats.Dropped = append(stats.Dropped, entry.Name)
				e.log.Warn("dropping published entry, binary missing from storage",
					"name", entry.Name, "binary", binary)
				continue
			}
			e.byKey[key] = &Resident{Existing: &entry}
			e.order = append(e.order, key)
			stats.Carried++
			continue
		}

		// Published entries carry no observation timestamp, so version ties
		// resolve in their favor.
		incoming := resident.Variant
		if version.IsNewer(incoming.Version, entry.Version, incoming.ObservedAt, time.Time{}) {
			stats.Superseded++
			e.log.Info("published entry superseded by new observation",
				"key", key, "old_version", entry.Version, "new_version", incoming.Version)
			continue
		}
		if !alive {
			// The published entry won the version race but lost its
			// binary; the incoming variant is the only usable copy.
			stats.Superseded++
			e.log.Warn("keeping incoming variant, published binary missing",
				"key", key, "binary", binary)
			continue
		}

		stats.KeptExisting++
		stats.DiscardedBinaries = append(stats.DiscardedBinaries, incoming.BinaryRef)
		e.byKey[key] = &Resident{Existing: &entry}
		e.log.Info("keeping published entry",
			"key", key, "published_version", entry.Version, "candidate_version", incoming.Version)
	}
	return stats
}

// Residents returns the surviving entries in first-seen order.
func (e *Engine) Residents() []Resident {
	out := make([]Resident, 0, len(e.order))
	for _, key := range e.order {
		out = append(out, *e.byKey[key])
	}
	return out
}

// Len reports the number of distinct identity keys.
func (e *Engine) Len() int { return len(e.byKey) }
