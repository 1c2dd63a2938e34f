package version

import (
	"testing"
	"time"
)

func TestIsNewer(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	none := time.Time{}

	tests := []struct {
		name   string
		a, b   string
		atime  time.Time
		btime  time.Time
		want   bool
	}{
		{"equal versions are not newer", "1.2.3", "1.2.3", none, none, false},
		{"numeric tuple compare not string compare", "2.21", "2.2", none, none, true},
		{"string compare would get this wrong", "2.2", "2.21", none, none, false},
		{"major bump", "405.1.0", "404.0.0", none, none, true},
		{"major bump reversed", "404.0.0", "405.1.0", none, none, false},
		{"padding makes 1.0 equal 1.0.0", "1.0", "1.0.0", none, none, false},
		{"padded equal with newer timestamp wins", "1.0", "1.0.0", t2, t1, true},
		{"padded equal with older timestamp loses", "1.0", "1.0.0", t1, t2, false},
		{"padded equal with one timestamp missing", "1.0", "1.0.0", t2, none, false},
		{"dash treated as separator", "1.2-3", "1.2.3", none, none, false},
		{"garbage falls back to string compare", "abc", "2.2", none, none, true},
		{"identical garbage is not newer", "abc", "abc", none, none, false},
		{"identical garbage with newer timestamp", "abc", "abc", t2, t1, true},
		{"empty strings", "", "", none, none, false},
		{"longer tuple with real increment", "1.2.3.1", "1.2.3", none, none, true},
		{"junk token ignored", "1.2.x", "1.2", none, none, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNewer(tt.a, tt.b, tt.atime, tt.btime); got != tt.want {
				t.Errorf("IsNewer(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// Non-numeric qualifiers collapse to equal tuples on purpose: "2.0-beta" and
// "2.0-rc" both reduce to [2,0] and resolve only by timestamp. This is a
// known approximation, kept because upstream version strings never carry
// meaningful qualifiers.
func TestIsNewerQualifierCollapse(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	if IsNewer("2.0-beta", "2.0-rc", time.Time{}, time.Time{}) {
		t.Error("qualifiers alone must not order versions")
	}
	if IsNewer("2.0-rc", "2.0-beta", time.Time{}, time.Time{}) {
		t.Error("qualifiers alone must not order versions")
	}
	if !IsNewer("2.0-beta", "2.0-rc", t2, t1) {
		t.Error("timestamp should break the qualifier tie")
	}
}

func TestIsNewerAntisymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1.0.1", "1.0.0"},
		{"2.1", "2.0.9"},
		{"10.0", "9.9.9"},
		{"0.0.2", "0.0.1"},
		{"3.2.1", "3.2"},
	}
	for _, p := range pairs {
		hi, lo := p[0], p[1]
		if !IsNewer(hi, lo, time.Time{}, time.Time{}) {
			t.Errorf("IsNewer(%q, %q) = false, want true", hi, lo)
		}
		if IsNewer(lo, hi, time.Time{}, time.Time{}) {
			t.Errorf("IsNewer(%q, %q) = true, want false", lo, hi)
		}
	}
}

func TestIsNewerNeverPanics(t *testing.T) {
	inputs := []string{"", "....", "----", "v", "1..2", "-1", "999999999999999999999", "1.2.3", "абв"}
	for _, a := range inputs {
		for _, b := range inputs {
			IsNewer(a, b, time.Time{}, time.Time{})
			IsNewer(a, b, time.Now(), time.Now())
		}
	}
}
