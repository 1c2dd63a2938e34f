// Package version orders the loosely formatted version strings that ride
// along with sideloaded app packages. Strings are compared as integer tuples
// when possible, with an observation-timestamp tie-break, and degrade to a
// plain string comparison when no numeric content exists on either side.
package version

import (
	"strconv"
	"strings"
	"time"
)

// IsNewer reports whether version a is strictly newer than version b.
// A zero atime/btime means the corresponding timestamp is unavailable;
// timestamps only matter when the versions themselves compare equal.
//
// The comparison is total and never panics: tokens are split on '.' and '-',
// non-numeric tokens are discarded, the shorter tuple is zero-padded, and the
// tuples compare lexicographically. When either side yields no numeric tokens
// the whole comparison falls back to a plain string compare. Non-numeric
// qualifiers ("2.0-beta" vs "2.0-rc") therefore collapse to equal tuples and
// resolve by timestamp; the tests document this deliberately.
func IsNewer(a, b string, atime, btime time.Time) bool {
	at := tokens(a)
	bt := tokens(b)

	if len(at) == 0 || len(bt) == 0 {
		if a == b {
			return tieBreak(atime, btime)
		}
		return a > b
	}

	for len(at) < len(bt) {
		at = append(at, 0)
	}
	for len(bt) < len(at) {
		bt = append(bt, 0)
	}

	for i := range at {
		if at[i] != bt[i] {
			return at[i] > bt[i]
		}
	}
	return tieBreak(atime, btime)
}

// tokens extracts the in-order numeric components of a version string.
func tokens(v string) []int {
	parts := strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-'
	})
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// tieBreak resolves equal versions: newer only with two known timestamps and
// a strictly greater first one. Missing timestamps keep the first-seen entry.
func tieBreak(atime, btime time.Time) bool {
	if atime.IsZero() || btime.IsZero() {
		return false
	}
	return atime.After(btime)
}
