package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipafeed/ipafeed/internal/appstore"
	"github.com/ipafeed/ipafeed/internal/cache"
	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/extract"
	"github.com/ipafeed/ipafeed/internal/inference"
	"github.com/ipafeed/ipafeed/internal/ipa"
	"github.com/ipafeed/ipafeed/internal/reconcile"
	"github.com/ipafeed/ipafeed/internal/release"
	"github.com/ipafeed/ipafeed/internal/source"
	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/ipafeed/ipafeed/internal/version"
)

// pipeline bundles the components the commands share, wired once per
// invocation from the loaded config.
type pipeline struct {
	cfg      *config.Config
	rules    reconcile.Rules
	registry *tweaks.Registry
	tracking *cache.File[source.Track]
	extracts *cache.File[extract.Extraction]
	lookups  *cache.File[appstore.Result]

	store      *appstore.Client
	release    *release.Client
	inference  *inference.Resilient // nil when inference is disabled
	extractor  *extract.Extractor   // nil when inference is disabled
	reconciler *reconcile.Reconciler
	log        *slog.Logger
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	log := slog.Default()

	registry, err := tweaks.Load(cfg.Paths.Registry)
	if err != nil {
		return nil, fmt.Errorf("loading tweak registry: %w", err)
	}
	tracking, err := source.OpenTracking(cfg.Paths.Tracking)
	if err != nil {
		return nil, fmt.Errorf("loading source tracking: %w", err)
	}
	extracts, err := cache.Open[extract.Extraction](cfg.Paths.ExtractCache)
	if err != nil {
		return nil, fmt.Errorf("loading extraction cache: %w", err)
	}
	lookups, err := cache.Open[appstore.Result](cfg.Paths.LookupCache)
	if err != nil {
		return nil, fmt.Errorf("loading app store cache: %w", err)
	}

	store, err := appstore.New(appstore.Config{
		Cache:        lookups,
		LogoDevToken: cfg.LogoDevToken,
	})
	if err != nil {
		return nil, err
	}
	rel, err := newRelease(cfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:      cfg,
		registry: registry,
		tracking: tracking,
		extracts: extracts,
		lookups:  lookups,
		store:    store,
		release:  rel,
		log:      log,
	}

	if cfg.Inference.Enabled {
		client, err := inferenceClient(cfg)
		if err != nil {
			return nil, err
		}
		extractor, err := extract.NewExtractor(extract.ExtractorConfig{
			Client:        client,
			FallbackModel: cfg.Inference.FallbackModel,
			Cache:         extracts,
			Registry:      registry,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		p.inference = client
		p.extractor = extractor
	}

	rules, err := cfg.ReconcileRules()
	if err != nil {
		return nil, err
	}
	p.rules = rules
	p.reconciler = reconcile.New(rules, registry, store, log)

	return p, nil
}

// newRelease builds the GitHub release storage client.
func newRelease(cfg *config.Config) (*release.Client, error) {
	return release.New(release.Config{
		Owner:  cfg.Release.Owner,
		Repo:   cfg.Release.Repo,
		Tag:    cfg.Release.Tag,
		Token:  cfg.Release.Token,
		Logger: slog.Default(),
	})
}

// inferenceClient builds the configured provider wrapped in retries.
func inferenceClient(cfg *config.Config) (*inference.Resilient, error) {
	var (
		provider inference.Provider
		err      error
	)
	switch cfg.Inference.Provider {
	case config.ProviderAnthropic:
		provider, err = inference.NewAnthropic(inference.AnthropicConfig{
			APIKey:    cfg.Inference.APIKey,
			Model:     cfg.Inference.Model,
			MaxTokens: cfg.Inference.MaxTokens,
		})
	default:
		provider, err = inference.NewOpenRouter(inference.OpenRouterConfig{
			APIKey:    cfg.Inference.APIKey,
			Model:     cfg.Inference.Model,
			MaxTokens: cfg.Inference.MaxTokens,
		})
	}
	if err != nil {
		return nil, err
	}
	return inference.NewResilient(provider, inference.RetryConfig{})
}

// sourceClient picks the message transport: a Telegram Desktop export when
// configured, the Bot API otherwise.
func sourceClient(cfg *config.Config) (source.Client, error) {
	if cfg.Telegram.Export != "" {
		return source.OpenExport(cfg.Telegram.Export)
	}
	return source.NewBotClient(source.BotConfig{Token: cfg.Telegram.BotToken})
}

// expandSources turns one configured channel into its scannable streams. A
// fixed topic is scanned as-is. Otherwise forum channels get their package
// topics discovered when the transport can list them, and plain channels
// scan as themselves.
func expandSources(ctx context.Context, client source.Client, ch config.Channel, log *slog.Logger) []source.Source {
	if ch.Topic != 0 {
		return []source.Source{{Channel: ch.Name, Topic: ch.Topic}}
	}
	if lister, ok := client.(source.TopicLister); ok {
		topics, err := lister.Topics(ctx, ch.Name)
		if err != nil {
			log.Warn("listing topics failed, scanning channel directly", "channel", ch.Name, "err", err)
		}
		var out []source.Source
		for _, t := range topics {
			if source.IsPackageTopic(t.Title) {
				out = append(out, source.Source{Channel: ch.Name, Topic: t.ID})
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []source.Source{{Channel: ch.Name}}
}

// liveAssets lists the binaries currently attached to the release, as a set
// of filenames.
func (p *pipeline) liveAssets(ctx context.Context) (map[string]bool, error) {
	assets, err := p.release.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(assets))
	for _, a := range assets {
		live[a.Name] = true
	}
	return live, nil
}

// freshCheck builds the scanner's pre-download version gate. It extracts an
// identity from the post alone and skips the download when the published
// catalog already holds that version or newer. With inference off, or when
// no catalog has been published yet, everything not already stored gets
// downloaded and the dedup engine decides after the fact.
func (p *pipeline) freshCheck() func(ctx context.Context, m source.Message) bool {
	if p.extractor == nil {
		return nil
	}
	published, err := catalog.Load(p.cfg.Paths.Feed)
	if err != nil {
		return nil
	}
	current := make(map[string]catalog.Entry, len(published.Apps))
	for _, app := range published.Apps {
		_, tweak := catalog.SplitDisplayName(app.Name, p.registry)
		current[catalog.IdentityKey(app.BundleIdentifier, tweak)] = app
	}
	return func(ctx context.Context, m source.Message) bool {
		var filename string
		if m.Document != nil {
			filename = m.Document.Filename
		}
		ex, err := p.extractor.Extract(ctx, m.Text, filename)
		if err != nil || ex.BundleID == "" || ex.Version == "" {
			return true
		}
		entry, ok := current[catalog.IdentityKey(ex.BundleID, ex.Tweak)]
		if !ok {
			return true
		}
		return version.IsNewer(ex.Version, entry.Version, m.Date, entryDate(entry))
	}
}

// entryDate parses a published entry's version date. Entries written by
// other tools may carry a format we do not recognize; those compare as
// undated.
func entryDate(e catalog.Entry) time.Time {
	t, err := time.Parse(time.RFC3339, e.VersionDate)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// publishResult is what a publish run leaves behind, for the command
// summary.
type publishResult struct {
	Feed      catalog.Feed
	Processed int
	Stats     catalog.MergeStats
}

// publish runs the download directory through reconciliation and
// deduplication, merges in the published catalog, uploads the winners, and
// rewrites both feed documents.
func (p *pipeline) publish(ctx context.Context) (publishResult, error) {
	var res publishResult

	published, err := catalog.Load(p.cfg.Paths.Feed)
	if os.IsNotExist(err) {
		published = catalog.Feed{Name: p.cfg.Feed.Name, Identifier: p.cfg.Feed.Identifier}
	} else if err != nil {
		return res, fmt.Errorf("loading published feed: %w", err)
	}

	// A nil live func keeps every published entry. Better to republish a
	// stale link than to drop the catalog over a listing failure.
	var liveFn func(string) bool
	if live, err := p.liveAssets(ctx); err != nil {
		p.log.Warn("listing release assets failed, keeping all published entries", "err", err)
	} else {
		liveFn = func(binary string) bool { return live[binary] }
	}

	engine := catalog.NewEngine(p.registry, p.log)

	names, err := downloadedPackages(p.cfg.Paths.Downloads)
	if err != nil {
		return res, err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		decision, oldBinary := engine.Add(p.variantFor(ctx, name))
		switch decision {
		case catalog.Rejected:
			p.removeDownload(name)
		case catalog.Replaced:
			p.removeDownload(oldBinary)
		}
	}
	res.Processed = len(names)

	res.Stats = engine.MergePublished(published.Apps, liveFn)
	for _, binary := range res.Stats.DiscardedBinaries {
		p.removeDownload(binary)
	}

	builder := catalog.NewBuilder(catalog.BuilderConfig{
		FeedName:      p.cfg.Feed.Name,
		FeedID:        p.cfg.Feed.Identifier,
		Storage:       p.release,
		Store:         p.store,
		NameOverrides: p.rules.NameOverrides,
		Logger:        p.log,
	})
	feed := builder.Build(ctx, engine.Residents(), p.cfg.Paths.Downloads)

	if err := catalog.Save(p.cfg.Paths.Feed, feed); err != nil {
		return res, fmt.Errorf("writing feed: %w", err)
	}
	if err := catalog.SaveAltStore(p.cfg.Paths.AltStore, catalog.ToAltStore(feed, p.registry)); err != nil {
		return res, fmt.Errorf("writing altstore feed: %w", err)
	}

	res.Feed = feed
	return res, nil
}

// variantFor assembles the dedup candidate for one downloaded package,
// reconciling the tracked post text, the filename and the archive metadata.
func (p *pipeline) variantFor(ctx context.Context, filename string) catalog.AppVariant {
	path := filepath.Join(p.cfg.Paths.Downloads, filename)

	var track source.Track
	if t, ok := p.tracking.Get(filename); ok {
		track = t
	}

	var message extract.Extraction
	if p.extractor != nil {
		m, err := p.extractor.Extract(ctx, track.Message, filename)
		if err != nil {
			p.log.Warn("extraction failed, using filename only", "filename", filename, "err", err)
		} else {
			message = m
		}
	}

	archive, err := ipa.Inspect(path)
	if err != nil {
		p.log.Debug("archive metadata unavailable", "filename", filename, "err", err)
	}

	resolved := p.reconciler.Resolve(ctx, reconcile.Input{
		Message:  message,
		Archive:  archive,
		Filename: filename,
		Channel:  track.Source,
	})

	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}

	return catalog.AppVariant{
		BundleID:    resolved.BundleID,
		Tweak:       resolved.Tweak,
		Name:        resolved.Name,
		Version:     resolved.Version,
		ObservedAt:  observedAt(track.Timestamp),
		BinaryRef:   filename,
		SizeBytes:   size,
		Description: resolved.Description,
		Channel:     track.Source,
		Message:     track.Message,
	}
}

func observedAt(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// downloadedPackages lists the .ipa files sitting in the download directory,
// in name order. A missing directory is an empty run, not an error.
func downloadedPackages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading download directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".ipa") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// removeDownload deletes a local binary that lost deduplication.
func (p *pipeline) removeDownload(filename string) {
	if filename == "" {
		return
	}
	path := filepath.Join(p.cfg.Paths.Downloads, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("could not remove local binary", "path", path, "err", err)
		return
	}
	p.log.Debug("removed local binary", "filename", filename)
}

// saveState flushes the write-behind caches. Failures are logged rather
// than fatal; the next run rebuilds whatever is missing.
func (p *pipeline) saveState() {
	if err := p.tracking.Save(); err != nil {
		p.log.Warn("saving source tracking failed", "err", err)
	}
	if err := p.extracts.Save(); err != nil {
		p.log.Warn("saving extraction cache failed", "err", err)
	}
	if err := p.lookups.Save(); err != nil {
		p.log.Warn("saving app store cache failed", "err", err)
	}
}
