// Package reconcile merges the three identity candidates for one observed
// package (model extraction, filename heuristics, archive descriptor) into a
// single canonical record. Trust order is data, not control flow: channel
// overrides and bundle-identifier name corrections are injected tables.
package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ipafeed/ipafeed/internal/appstore"
	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/extract"
	"github.com/ipafeed/ipafeed/internal/ipa"
	"github.com/ipafeed/ipafeed/internal/remote"
	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// Rules is the injected trust policy.
type Rules struct {
	// VersionPriority is the default source order for version resolution,
	// most trusted first.
	VersionPriority []extract.Source
	// VersionOverrides swaps the version order for channels whose name
	// contains the key. One upstream ships reliable versions in filenames
	// and sloppy ones in post text.
	VersionOverrides map[string][]extract.Source
	// NameOverrides forces a display name for specific bundle identifiers,
	// applied unconditionally after resolution. Apps whose forks share
	// confusable names are disambiguated here, never by text heuristics.
	NameOverrides map[string]string
}

// DefaultRules returns the production policy.
func DefaultRules() Rules {
	return Rules{
		VersionPriority: []extract.Source{
			extract.SourceMessage, extract.SourceFilename, extract.SourceArchive,
		},
		VersionOverrides: map[string][]extract.Source{
			"binnichtaktiv": {
				extract.SourceFilename, extract.SourceMessage, extract.SourceArchive,
			},
		},
		NameOverrides: map[string]string{
			"com.atebits.Tweetie2": "X",
			"app.swiftgram.ios":    "Swiftgram",
			"ph.telegra.Telegraph": "Telegram",
		},
	}
}

// StoreLookup resolves an app name to its canonical store identity.
// *appstore.Client satisfies it.
type StoreLookup interface {
	Lookup(ctx context.Context, name, bundleID string) (appstore.Result, error)
}

// Input carries every candidate known for one observed package. Zero-valued
// Message or Archive means that source produced nothing.
type Input struct {
	Message  extract.Extraction
	Archive  ipa.Metadata
	Filename string
	Channel  string
}

// Resolved is the canonical record for one observation.
type Resolved struct {
	Name        string
	Version     string
	Tweak       string
	BundleID    string
	Description string
	// Synthetic marks a fabricated bundle identifier.
	Synthetic bool
}

// Reconciler applies Rules to Inputs. Store may be nil, which disables
// lookups and sends unidentifiable packages straight to a synthetic identity.
type Reconciler struct {
	rules    Rules
	registry *tweaks.Registry
	store    StoreLookup
	log      *slog.Logger
}

func New(rules Rules, registry *tweaks.Registry, store StoreLookup, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{rules: rules, registry: registry, store: store, log: log}
}

// Resolve merges the candidates. It always returns a usable record: a
// package no source can identify still gets a synthetic identity rather
// than being dropped.
func (r *Reconciler) Resolve(ctx context.Context, in Input) Resolved {
	fileName, fileVersion := extract.ParseFilename(in.Filename)

	res := Resolved{
		Name:        firstNonEmpty(extract.CleanName(in.Message.Name), extract.CleanName(in.Archive.Name), extract.CleanName(fileName)),
		Version:     r.resolveVersion(in, fileVersion),
		Tweak:       r.resolveTweak(in),
		Description: in.Message.Description,
	}

	switch {
	case in.Message.BundleID != "":
		res.BundleID = in.Message.BundleID
	case in.Archive.BundleID != "":
		res.BundleID = in.Archive.BundleID
	default:
		if hit := r.lookup(ctx, res.Name); hit.Found() {
			res.BundleID = hit.BundleID
			if hit.Name != "" {
				res.Name = hit.Name
			}
		} else {
			res.BundleID = catalog.SyntheticPrefix + slug(res.Name)
			res.Synthetic = true
		}
	}

	if canonical, ok := r.rules.NameOverrides[res.BundleID]; ok && canonical != "" && res.Name != canonical {
		r.log.Debug("applying name override",
			"bundle_id", res.BundleID, "from", res.Name, "to", canonical)
		res.Name = canonical
	}

	return res
}

func (r *Reconciler) resolveVersion(in Input, fileVersion string) string {
	bySource := map[extract.Source]string{
		extract.SourceMessage:  in.Message.Version,
		extract.SourceFilename: fileVersion,
		extract.SourceArchive:  in.Archive.Version,
	}
	for _, s := range r.versionOrder(in.Channel) {
		if v := bySource[s]; v != "" {
			r.log.Debug("resolved version", "version", v, "source", s.String(), "filename", in.Filename)
			return v
		}
	}
	return "1.0"
}

func (r *Reconciler) versionOrder(channel string) []extract.Source {
	ch := strings.ToLower(channel)
	for pattern, order := range r.rules.VersionOverrides {
		if pattern != "" && strings.Contains(ch, strings.ToLower(pattern)) {
			return order
		}
	}
	return r.rules.VersionPriority
}

// resolveTweak prefers the model's answer over the filename match; both go
// through the registry, and unregistered names resolve to no tweak at all.
func (r *Reconciler) resolveTweak(in Input) string {
	if in.Message.Tweak != "" {
		if canonical, ok := r.registry.Canonical(in.Message.Tweak); ok {
			return canonical
		}
		r.log.Warn("discarding unregistered tweak",
			"tweak", in.Message.Tweak, "filename", in.Filename)
	}
	return r.registry.FromFilename(in.Filename)
}

func (r *Reconciler) lookup(ctx context.Context, name string) appstore.Result {
	if r.store == nil || name == "" {
		return appstore.Result{}
	}
	res, err := r.store.Lookup(ctx, name, "")
	if err != nil {
		if !remote.IsNotFound(err) {
			r.log.Warn("app store lookup failed", "name", name, "error", err)
		}
		return appstore.Result{}
	}
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "")
}
