// Package catalog owns the identity model and the deduplication passes that
// decide which observed package variant survives into the published feed.
// Identity is the composite of bundle identifier and tweak variant: the same
// base app carrying two different tweaks is two catalog entries.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// SyntheticPrefix marks bundle identifiers fabricated during reconciliation
// because no source supplied one. Publishing retries a store lookup for
// entries carrying it.
const SyntheticPrefix = "com.unknown."

// AppVariant is the unit of identity: one base app under one tweak (or none),
// backed by exactly one binary.
type AppVariant struct {
	BundleID string
	// Tweak is empty or a registry-validated tweak name.
	Tweak string
	// Name is the base app name without the tweak suffix.
	Name        string
	Version     string
	ObservedAt  time.Time
	BinaryRef   string
	SizeBytes   int64
	Description string
	Channel     string
	Message     string
}

// IdentityKey composes the case-normalized catalog key. No two catalog
// entries may share one.
func IdentityKey(bundleID, tweak string) string {
	key := strings.ToLower(bundleID)
	if tweak != "" {
		key += ":" + strings.ToLower(tweak)
	}
	return key
}

func (v AppVariant) IdentityKey() string {
	return IdentityKey(v.BundleID, v.Tweak)
}

// DisplayName is the published name, with the tweak spelled out so variants
// of the same app are distinguishable in a store UI.
func (v AppVariant) DisplayName() string {
	if v.Tweak == "" {
		return v.Name
	}
	return v.Name + " (" + v.Tweak + ")"
}

// SyntheticIdentity reports whether the bundle identifier is fabricated.
func (v AppVariant) SyntheticIdentity() bool {
	return strings.HasPrefix(strings.ToLower(v.BundleID), SyntheticPrefix)
}

// Validate checks the fields the deduplication passes depend on.
func (v AppVariant) Validate() error {
	if v.BundleID == "" {
		return fmt.Errorf("app variant %q has no bundle identifier", v.Name)
	}
	if v.Version == "" {
		return fmt.Errorf("app variant %s has no version", v.BundleID)
	}
	if v.BinaryRef == "" {
		return fmt.Errorf("app variant %s has no binary reference", v.BundleID)
	}
	return nil
}

var displayTweakRe = regexp.MustCompile(`^(.+?)\s*\(([^)]+)\)\s*$`)

// SplitDisplayName undoes DisplayName: a trailing parenthetical that names a
// registered tweak is split off; any other parenthetical stays part of the
// name. Published entries and fresh observations key their tweaks through
// this same registry check.
func SplitDisplayName(name string, reg *tweaks.Registry) (base, tweak string) {
	m := displayTweakRe.FindStringSubmatch(name)
	if m == nil {
		return name, ""
	}
	canonical, ok := reg.Canonical(strings.TrimSpace(m[2]))
	if !ok {
		return name, ""
	}
	return strings.TrimSpace(m[1]), canonical
}
