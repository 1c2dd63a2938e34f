// Package dupes is the batch duplicate detector: a coarser second line of
// defense that runs over already-published state rather than fresh
// observations. It sweeps the catalog feed for same-identity entries that
// slipped past the merge (typically seeded by hand or published before a
// tweak was registered) and asks the language-inference collaborator to
// group duplicate binaries in the raw storage listing. Every proposed group
// is validated against the tweak registry before anything is deleted.
package dupes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ipafeed/ipafeed/internal/inference"
	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// DefaultChunkSize bounds how many filenames one inference request carries.
// Larger chunks truncate the grouped response before it closes its JSON.
const DefaultChunkSize = 50

const analyzeMaxTokens = 2000

const analyzePromptFormat = `You are an iOS IPA filename analyzer. Given a list of IPA filenames, identify groups of duplicates.

A duplicate group is:
- Same base app name (ignore case, spacing, underscores, dashes)
- Same modifiers (Pro, Unlocked, Patched, etc.) - these are NOT version differences
- Same EXACT tweak name (can appear anywhere in filename as a standalone word)
- Different version numbers (v1.0, v2.0, v2.19, v2.20, v2.21, etc.)

%sTWEAK IDENTIFICATION:
- Tweaks can appear ANYWHERE in the filename as standalone words
- Examples: 'Instagram v405.1.0 BHInsta v1.2 Patched.ipa' → tweak is 'BHInsta'
- Examples: 'Instagram v405.1.0 Theta v4.0 Patched.ipa' → tweak is 'Theta'
- Match tweak names from the KNOWN TWEAKS list above
- BHInsta and Theta are DIFFERENT tweaks - NEVER group them together!

VERSION EXTRACTION RULES:
- Version can be anywhere in the filename: 'App v2.19.ipa', 'App_v2_19.ipa', 'App 2.19.ipa'
- Common patterns: v2.19, v2_19, 2.19, 404.0, 42.3.0
- Version format: major.minor.patch (e.g., 2.21 > 2.20 > 2.19)
- App version vs Tweak version: 'Instagram v405.1.0 BHInsta v1.2' has both - compare app versions
- IGNORE words like 'Pro', 'Unlocked', 'Patched', 'Premium', 'blatant' - these are modifiers, not versions

EXAMPLES:
✅ DUPLICATES:
- 'Instagram v405.1.0 BHInsta v1.2 blatant Patched.ipa' and 'Instagram v404.0.0 BHInsta v1.2 blatant Patched.ipa'
  → Same app (Instagram), SAME tweak (BHInsta), different app versions (405.1.0 vs 404.0.0)
  → KEEP v405.1.0, DELETE v404.0.0
- 'Instagram v405.1.0 Theta v4.0 blatant Patched.ipa' and 'Instagram v404.0.0 Theta v3.9 blatant Patched.ipa'
  → Same app (Instagram), SAME tweak (Theta), different app versions (405.1.0 vs 404.0.0)
  → KEEP v405.1.0, DELETE v404.0.0
- 'Coconote - AI Note Taker v2.19 Pro Unlocked blatant Patched.ipa'
  'Coconote - AI Note Taker v2.20 Pro Unlocked blatant Patched.ipa'
  'Coconote - AI Note Taker v2.21 Pro Unlocked blatant Patched.ipa'
  → Same app, same modifiers, no tweaks, different versions (2.19, 2.20, 2.21)
  → KEEP v2.21, DELETE v2.19 and v2.20

❌ NOT DUPLICATES:
- 'Instagram v405.1.0 BHInsta v1.2 blatant Patched.ipa' and 'Instagram v405.1.0 Theta v4.0 blatant Patched.ipa'
  → DIFFERENT tweaks (BHInsta vs Theta) - NEVER treat different tweaks as duplicates!
  → Even though they have the same app version, they are DIFFERENT files!
- 'Instagram v405.1.0 BHInsta v1.2.ipa' and 'Instagram v404.0.0 Theta v4.0.ipa'
  → DIFFERENT tweaks - even if BHInsta has newer version, they are NOT duplicates!
- 'YouTube.ipa' and 'YouTube Music.ipa'
  → Different apps (YouTube vs YouTube Music)

CRITICAL RULES:
- ONLY group files as duplicates if they have the EXACT SAME tweak name (or both have NO tweak)
- Different tweaks are NEVER EVER duplicates, even if one has a newer version number
- BHInsta, Theta, TikTokLRD, VibeTok, etc. are all DIFFERENT tweaks - keep them separate!
- Focus on VERSION NUMBERS WITHIN the same tweak only
- Ignore modifiers like Pro, Unlocked, Patched, Premium, blatant - these are NOT versions!
- If filenames are identical except for version numbers AND have the same tweak, they are duplicates
- Keep the file with the HIGHEST app version number within each tweak group

Respond with ONLY a JSON object with a 'groups' array:
{
  "groups": [
    {
      "app_name": "App Name",
      "tweak_name": "Tweak Name or null",
      "keep": "filename with newest version",
      "delete": ["older filename 1", "older filename 2"],
      "reason": "brief explanation with versions"
    }
  ]
}

If no duplicates found, return: {"groups": []}`

const knownTweaksFormat = `
KNOWN TWEAK NAMES (These are DISTINCT tweaks - NEVER treat them as duplicates):
%s

`

// Group is one validated duplicate proposal: keep the newest binary, delete
// the rest.
type Group struct {
	AppName string   `json:"app_name"`
	Tweak   string   `json:"tweak_name"`
	Keep    string   `json:"keep"`
	Delete  []string `json:"delete"`
	Reason  string   `json:"reason"`
}

// groupsResponse tolerates both key spellings models produce.
type groupsResponse struct {
	Groups     []Group `json:"groups"`
	Duplicates []Group `json:"duplicates"`
}

func (r groupsResponse) all() []Group {
	if len(r.Groups) > 0 {
		return r.Groups
	}
	return r.Duplicates
}

// Detector proposes duplicate groups over storage filenames.
type Detector struct {
	client    *inference.Resilient
	registry  *tweaks.Registry
	chunkSize int
	log       *slog.Logger
}

// DetectorConfig wires a Detector. Client and Registry are required.
type DetectorConfig struct {
	Client    *inference.Resilient
	Registry  *tweaks.Registry
	ChunkSize int // default DefaultChunkSize
	Logger    *slog.Logger
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("detector requires an inference client")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("detector requires a tweak registry")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Detector{
		client:    cfg.Client,
		registry:  cfg.Registry,
		chunkSize: cfg.ChunkSize,
		log:       cfg.Logger,
	}, nil
}

// Analyze proposes duplicate groups over the given filenames, analyzing them
// in fixed-size chunks. A chunk whose request or response fails is logged
// and skipped; only context cancellation aborts the remaining chunks. Every
// returned group has passed Validate.
func (d *Detector) Analyze(ctx context.Context, filenames []string) ([]Group, error) {
	if len(filenames) < 2 {
		return nil, nil
	}

	var groups []Group
	for start := 0; start < len(filenames); start += d.chunkSize {
		if err := ctx.Err(); err != nil {
			return groups, err
		}
		end := min(start+d.chunkSize, len(filenames))
		chunk := filenames[start:end]
		d.log.Debug("analyzing filename chunk",
			"from", start+1, "to", end, "total", len(filenames))

		proposed, err := d.analyzeChunk(ctx, chunk)
		if err != nil {
			d.log.Warn("duplicate analysis failed for chunk",
				"from", start+1, "to", end, "err", err)
			continue
		}
		groups = append(groups, d.validate(chunk, proposed)...)
	}
	return groups, nil
}

func (d *Detector) analyzeChunk(ctx context.Context, chunk []string) ([]Group, error) {
	raw, err := d.client.Complete(ctx, inference.Request{
		System:    d.systemPrompt(),
		User:      filenamesPrompt(chunk),
		MaxTokens: analyzeMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	resp, err := inference.Parse[groupsResponse](raw, "analyze duplicates")
	if err != nil {
		return nil, err
	}
	return resp.all(), nil
}

func (d *Detector) systemPrompt() string {
	known := ""
	if d.registry.Len() > 0 {
		known = fmt.Sprintf(knownTweaksFormat, strings.Join(d.registry.Names(), ", "))
	}
	return fmt.Sprintf(analyzePromptFormat, known)
}

func filenamesPrompt(chunk []string) string {
	lines := make([]string, len(chunk))
	for i, name := range chunk {
		lines[i] = fmt.Sprintf("%d. %s", i+1, name)
	}
	return "Analyze these IPA files:\n\n" + strings.Join(lines, "\n")
}

// validate keeps only groups that hold up against the registry and the
// submitted chunk. Any single violation rejects the whole group: a deletion
// driven by a hallucinated grouping is unrecoverable.
func (d *Detector) validate(chunk []string, groups []Group) []Group {
	inChunk := make(map[string]bool, len(chunk))
	for _, f := range chunk {
		inChunk[f] = true
	}

	var valid []Group
	for _, g := range groups {
		if reason := d.rejectReason(inChunk, g); reason != "" {
			d.log.Warn("rejecting duplicate group",
				"app", g.AppName, "keep", g.Keep, "reason", reason)
			continue
		}
		valid = append(valid, g)
	}
	if len(valid) < len(groups) {
		d.log.Info("duplicate group validation",
			"proposed", len(groups), "accepted", len(valid))
	}
	return valid
}

func (d *Detector) rejectReason(inChunk map[string]bool, g Group) string {
	if g.Keep == "" || len(g.Delete) == 0 {
		return "empty keep or delete list"
	}
	if !inChunk[g.Keep] {
		return fmt.Sprintf("keep %q is not in the submitted chunk", g.Keep)
	}
	keepTweak := d.registry.FromFilename(g.Keep)
	for _, del := range g.Delete {
		if del == g.Keep {
			return "keep filename listed among deletes"
		}
		if !inChunk[del] {
			return fmt.Sprintf("delete %q is not in the submitted chunk", del)
		}
		if delTweak := d.registry.FromFilename(del); delTweak != keepTweak {
			return fmt.Sprintf("tweak mismatch: keep implies %s, delete %q implies %s",
				orStock(keepTweak), del, orStock(delTweak))
		}
	}
	return ""
}

func orStock(tweak string) string {
	if tweak == "" {
		return "no tweak"
	}
	return fmt.Sprintf("%q", tweak)
}
