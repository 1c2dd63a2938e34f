package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipafeed/ipafeed/internal/appstore"
	"github.com/ipafeed/ipafeed/internal/extract"
)

// Storage uploads one binary and returns its public download URL. A non-empty
// supersedes names a release asset to delete once the upload lands.
type Storage interface {
	Upload(ctx context.Context, localPath, supersedes string) (downloadURL string, err error)
}

// AppStore is the lookup collaborator surface the builder needs.
// *appstore.Client satisfies it.
type AppStore interface {
	Lookup(ctx context.Context, name, bundleID string) (appstore.Result, error)
	Peek(name, bundleID string) (appstore.Result, bool)
	IconURL(ctx context.Context, name, bundleID string) string
}

// BuilderConfig wires a Builder. Storage is required; a nil Store disables
// lookups and falls back to generated icons.
type BuilderConfig struct {
	FeedName      string
	FeedID        string
	Storage       Storage
	Store         AppStore
	NameOverrides map[string]string
	Now           func() time.Time
	Logger        *slog.Logger
}

// Builder turns the engine's residents into the published feed, uploading
// fresh binaries as it goes. Carried-forward entries pass through untouched
// so an unchanged catalog republishes byte-for-byte.
type Builder struct {
	feedName      string
	feedID        string
	storage       Storage
	store         AppStore
	nameOverrides map[string]string
	now           func() time.Time
	log           *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		feedName:      cfg.FeedName,
		feedID:        cfg.FeedID,
		storage:       cfg.Storage,
		store:         cfg.Store,
		nameOverrides: cfg.NameOverrides,
		now:           cfg.Now,
		log:           cfg.Logger,
	}
}

// Build assembles the feed from the engine's surviving residents. binDir is
// where fresh downloads live. An upload failure skips that app and the run
// continues; the feed that comes back is always complete and consistent.
func (b *Builder) Build(ctx context.Context, residents []Resident, binDir string) Feed {
	apps := make([]Entry, 0, len(residents))
	for _, r := range residents {
		if r.Existing != nil {
			apps = append(apps, *r.Existing)
			continue
		}
		entry, err := b.buildEntry(ctx, r, binDir)
		if err != nil {
			b.log.Error("skipping app, upload failed",
				"name", r.Variant.DisplayName(), "binary", r.Variant.BinaryRef, "error", err)
			continue
		}
		apps = append(apps, entry)
		b.log.Info("added app to feed", "name", entry.Name, "version", entry.Version)
	}
	return Feed{Name: b.feedName, Identifier: b.feedID, Apps: apps}
}

func (b *Builder) buildEntry(ctx context.Context, r Resident, binDir string) (Entry, error) {
	v := r.Variant

	downloadURL, err := b.storage.Upload(ctx, filepath.Join(binDir, v.BinaryRef), r.OldBinary)
	if err != nil {
		return Entry{}, err
	}

	name, bundleID, icon := b.identify(ctx, v)
	display := name
	if v.Tweak != "" {
		display = name + " (" + v.Tweak + ")"
	}

	date := b.now().UTC().Format("2006-01-02T15:04:05Z")
	rel := Version{Version: v.Version, Date: date, Size: v.SizeBytes, DownloadURL: downloadURL}

	return Entry{
		Name:                 display,
		BundleIdentifier:     bundleID,
		DeveloperName:        b.developer(v),
		IconURL:              icon,
		LocalizedDescription: b.describe(v, display),
		Versions:             []Version{rel},
		AppPermissions:       emptyPermissions(),
		Version:              v.Version,
		VersionDate:          date,
		Size:                 v.SizeBytes,
		DownloadURL:          downloadURL,
	}, nil
}

// identify settles the published name, bundle identifier, and icon. A full
// store lookup runs only for synthetic identities or inputs the cache has
// seen before; everything else keeps its reconciled identity and a fallback
// icon. Canonical store results supersede both the identifier and the name.
func (b *Builder) identify(ctx context.Context, v AppVariant) (name, bundleID, icon string) {
	name, bundleID = v.Name, v.BundleID
	if b.store == nil {
		return name, bundleID, appstore.DefaultIconURL
	}

	var hit appstore.Result
	if v.SyntheticIdentity() {
		res, err := b.store.Lookup(ctx, v.Name, v.BundleID)
		if err == nil {
			hit = res
		}
	} else if res, ok := b.store.Peek(v.Name, v.BundleID); ok {
		hit = res
	}

	if hit.Found() {
		if hit.Name != "" {
			name = hit.Name
		}
		if hit.BundleID != "" {
			bundleID = hit.BundleID
		}
		icon = hit.IconURL
	} else if v.SyntheticIdentity() {
		b.log.Warn("no canonical identity found, publishing synthetic",
			"name", v.Name, "bundle_id", v.BundleID)
	}

	if override, ok := b.nameOverrides[bundleID]; ok && override != "" {
		name = override
	}
	if icon == "" {
		icon = b.store.IconURL(ctx, v.Name, v.BundleID)
	}
	return name, bundleID, icon
}

func (b *Builder) developer(v AppVariant) string {
	if v.Channel == "" {
		return "Unknown"
	}
	return "@" + v.Channel
}

// describe builds the localized description: a source header over the
// model-cleaned text when available, over the raw post with markdown
// stripped otherwise, and the bare display name when the source is unknown.
func (b *Builder) describe(v AppVariant, display string) string {
	if v.Channel == "" {
		if v.Description != "" {
			return v.Description
		}
		return display
	}

	header := "from @" + v.Channel + " |"
	desc := header + "\n" + strings.Repeat("-", len(header))
	switch {
	case v.Description != "":
		return desc + "\n" + v.Description
	case v.Message != "":
		return desc + "\n" + extract.CleanMessage(v.Message)
	default:
		return desc
	}
}
