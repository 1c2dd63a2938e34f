// Package tweaks holds the curated registry of legitimate tweak names.
// Anything not in the registry is not a tweak: extraction results and
// AI-proposed duplicate groupings are both validated against it, so a
// hallucinated or uploader-invented "tweak" can never split an app's
// identity or trigger a deletion.
package tweaks

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultSeed is written to a fresh registry file when none exists.
var DefaultSeed = []string{
	"BHInstagram", "BHTikTok", "BHX", "TikTokLRD", "Theta",
	"TwiGalaxy", "NeoFreeBird", "Rocket", "Watusi", "OLED",
	"RXTikTok", "IGFormat", "DLEasy", "TGExtra", "Spotilife", "YouTopia",
}

const defaultDescription = "List of known tweak names for popular apps"

// registryFile is the on-disk shape: {description, tweaks: [...]}.
type registryFile struct {
	Description string   `json:"description"`
	Tweaks      []string `json:"tweaks"`
}

// Registry is a read-only set of known tweak names, loaded once per run.
type Registry struct {
	names    []string
	byLower  map[string]string
	patterns []*regexp.Regexp
}

// New builds an in-memory registry from explicit names.
func New(names []string) *Registry {
	r := &Registry{
		names:   append([]string(nil), names...),
		byLower: make(map[string]string, len(names)),
	}
	for _, n := range names {
		r.byLower[strings.ToLower(n)] = n
		r.patterns = append(r.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(n)+`\b`))
	}
	return r
}

// Load reads the registry file, creating it with the default seed list when
// it does not exist yet.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeSeed(path); werr != nil {
			return nil, fmt.Errorf("seeding registry file: %w", werr)
		}
		return New(DefaultSeed), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry file %s: %w", path, err)
	}
	return New(f.Tweaks), nil
}

func writeSeed(path string) error {
	data, err := json.MarshalIndent(registryFile{
		Description: defaultDescription,
		Tweaks:      DefaultSeed,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Names returns the registry entries in file order, for prompt building.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len reports the number of known tweaks.
func (r *Registry) Len() int { return len(r.names) }

// Contains reports whether name is a known tweak, case-insensitively.
func (r *Registry) Contains(name string) bool {
	_, ok := r.byLower[strings.ToLower(name)]
	return ok
}

// Canonical returns the registry's spelling for name, or ("", false) when the
// name is not a known tweak. Extraction results pass through here so variants
// like "bhinstagram" all land on one identity key.
func (r *Registry) Canonical(name string) (string, bool) {
	c, ok := r.byLower[strings.ToLower(name)]
	return c, ok
}

// FromFilename scans a filename for any known tweak as a whole word and
// returns its canonical spelling, or "" when none is present. Both catalog
// merge passes and duplicate-group validation key off this one routine so
// they can never disagree about what counts as a tweak.
func (r *Registry) FromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	for i, p := range r.patterns {
		if p.MatchString(filename) {
			return r.names[i]
		}
	}
	return ""
}
