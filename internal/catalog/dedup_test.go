package catalog

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipafeed/ipafeed/internal/tweaks"
)

func testRegistry() *tweaks.Registry {
	return tweaks.New([]string{"BHInstagram", "Theta", "Watusi"})
}

func testVariant(bundle, tweak, version, binary string, observed time.Time) AppVariant {
	return AppVariant{
		BundleID:   bundle,
		Tweak:      tweak,
		Name:       "App",
		Version:    version,
		BinaryRef:  binary,
		ObservedAt: observed,
		SizeBytes:  100,
	}
}

func publishedEntry(name, bundle, version, binary string) Entry {
	u := "https://example.com/owner/repo/releases/download/latest/" + url.PathEscape(binary)
	return Entry{
		Name:             name,
		BundleIdentifier: bundle,
		Versions:         []Version{{Version: version, Date: "2026-01-01T00:00:00Z", Size: 100, DownloadURL: u}},
		AppPermissions:   json.RawMessage("{}"),
		Version:          version,
		VersionDate:      "2026-01-01T00:00:00Z",
		Size:             100,
		DownloadURL:      u,
	}
}

func alwaysLive(string) bool { return true }

func TestAddKeepsNewestRegardlessOfArrivalOrder(t *testing.T) {
	older := testVariant("com.x.app", "", "404.0.0", "app_404.ipa", time.Time{})
	newer := testVariant("com.x.app", "", "405.1.0", "app_405.ipa", time.Time{})

	t.Run("older first", func(t *testing.T) {
		e := NewEngine(testRegistry(), nil)
		d, _ := e.Add(older)
		assert.Equal(t, Inserted, d)

		d, oldBinary := e.Add(newer)
		assert.Equal(t, Replaced, d)
		assert.Equal(t, "app_404.ipa", oldBinary, "superseded binary scheduled for deletion")

		residents := e.Residents()
		require.Len(t, residents, 1)
		assert.Equal(t, "405.1.0", residents[0].Variant.Version)
		assert.Equal(t, "app_404.ipa", residents[0].OldBinary)
	})

	t.Run("newer first", func(t *testing.T) {
		e := NewEngine(testRegistry(), nil)
		d, _ := e.Add(newer)
		assert.Equal(t, Inserted, d)

		d, oldBinary := e.Add(older)
		assert.Equal(t, Rejected, d)
		assert.Empty(t, oldBinary)

		residents := e.Residents()
		require.Len(t, residents, 1)
		assert.Equal(t, "405.1.0", residents[0].Variant.Version)
		assert.Empty(t, residents[0].OldBinary)
	})
}

func TestAddTimestampBreaksVersionTie(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	first := testVariant("com.x.app", "", "1.2", "a.ipa", base)
	second := testVariant("com.x.app", "", "1.2", "b.ipa", base.Add(time.Hour))

	e := NewEngine(testRegistry(), nil)
	e.Add(first)
	d, oldBinary := e.Add(second)
	assert.Equal(t, Replaced, d)
	assert.Equal(t, "a.ipa", oldBinary)

	e = NewEngine(testRegistry(), nil)
	e.Add(second)
	d, _ = e.Add(first)
	assert.Equal(t, Rejected, d, "older message never displaces a newer one")
}

func TestAddTweakVariantsAreDistinct(t *testing.T) {
	e := NewEngine(testRegistry(), nil)

	d, _ := e.Add(testVariant("com.x.app", "BHInstagram", "1.2", "a.ipa", time.Time{}))
	assert.Equal(t, Inserted, d)
	d, _ = e.Add(testVariant("com.x.app", "Theta", "1.2", "b.ipa", time.Time{}))
	assert.Equal(t, Inserted, d)

	assert.Equal(t, 2, e.Len(), "same bundle under different tweaks never collide")
}

func TestAddNormalizesKeyCase(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("COM.X.App", "Theta", "1.0", "a.ipa", time.Time{}))
	d, _ := e.Add(testVariant("com.x.app", "THETA", "2.0", "b.ipa", time.Time{}))
	assert.Equal(t, Replaced, d)
	assert.Equal(t, 1, e.Len())
}

func TestMergeCarriesExistingEntriesForward(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.new.app", "", "1.0", "new.ipa", time.Time{}))

	stats := e.MergePublished([]Entry{
		publishedEntry("Old App", "com.old.app", "2.0", "old.ipa"),
	}, alwaysLive)

	assert.Equal(t, 1, stats.Carried)
	residents := e.Residents()
	require.Len(t, residents, 2)
	assert.Nil(t, residents[0].Existing, "incoming apps keep their position")
	require.NotNil(t, residents[1].Existing)
	assert.Equal(t, "Old App", residents[1].Existing.Name)
}

func TestMergeConflictExistingWinsTies(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.x.app", "", "2.0", "incoming.ipa", time.Now()))

	stats := e.MergePublished([]Entry{
		publishedEntry("App", "com.x.app", "2.0", "published.ipa"),
	}, alwaysLive)

	assert.Equal(t, 1, stats.KeptExisting)
	assert.Equal(t, []string{"incoming.ipa"}, stats.DiscardedBinaries)

	residents := e.Residents()
	require.Len(t, residents, 1)
	require.NotNil(t, residents[0].Existing, "tie keeps the published entry, nothing re-uploads")
}

func TestMergeConflictNewerIncomingWins(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.x.app", "", "3.0", "incoming.ipa", time.Time{}))

	stats := e.MergePublished([]Entry{
		publishedEntry("App", "com.x.app", "2.9", "published.ipa"),
	}, alwaysLive)

	assert.Equal(t, 1, stats.Superseded)
	residents := e.Residents()
	require.Len(t, residents, 1)
	assert.Nil(t, residents[0].Existing)
	assert.Equal(t, "3.0", residents[0].Variant.Version)
}

func TestMergeConflictNewerExistingWins(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.x.app", "", "2.0", "incoming.ipa", time.Time{}))

	stats := e.MergePublished([]Entry{
		publishedEntry("App", "com.x.app", "2.1", "published.ipa"),
	}, alwaysLive)

	assert.Equal(t, 1, stats.KeptExisting)
	residents := e.Residents()
	require.NotNil(t, residents[0].Existing)
	assert.Equal(t, "2.1", residents[0].Existing.Version)
}

func TestMergeDropsEntriesWithMissingBinaries(t *testing.T) {
	e := NewEngine(testRegistry(), nil)

	stats := e.MergePublished([]Entry{
		publishedEntry("Ghost", "com.ghost.app", "1.0", "ghost.ipa"),
		publishedEntry("Alive", "com.alive.app", "1.0", "alive.ipa"),
	}, func(binary string) bool { return binary == "alive.ipa" })

	assert.Equal(t, []string{"Ghost"}, stats.Dropped)
	assert.Equal(t, 1, stats.Carried)
	residents := e.Residents()
	require.Len(t, residents, 1)
	assert.Equal(t, "Alive", residents[0].Existing.Name)
}

func TestMergeConflictDeadPublishedBinaryKeepsIncoming(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.x.app", "", "2.0", "incoming.ipa", time.Time{}))

	stats := e.MergePublished([]Entry{
		publishedEntry("App", "com.x.app", "2.1", "published.ipa"),
	}, func(string) bool { return false })

	assert.Equal(t, 1, stats.Superseded)
	residents := e.Residents()
	require.Len(t, residents, 1)
	assert.Nil(t, residents[0].Existing, "published entry without a binary cannot win the key")
}

func TestMergeKeysTweakFromDisplayName(t *testing.T) {
	e := NewEngine(testRegistry(), nil)
	e.Add(testVariant("com.burbn.instagram", "BHInstagram", "2.0", "incoming.ipa", time.Time{}))

	// Same bundle, registered tweak in the published name: same key.
	stats := e.MergePublished([]Entry{
		publishedEntry("Instagram (BHInstagram)", "com.burbn.instagram", "3.0", "published.ipa"),
	}, alwaysLive)
	assert.Equal(t, 1, stats.KeptExisting)
	assert.Equal(t, 1, e.Len())

	// Unregistered parenthetical is part of the name, so this is a new key.
	stats = e.MergePublished([]Entry{
		publishedEntry("Instagram (Golden Build)", "com.burbn.instagram", "1.0", "gold.ipa"),
	}, alwaysLive)
	assert.Equal(t, 1, stats.Carried)
	assert.Equal(t, 2, e.Len())
}

func TestEntryBinaryRefDecodesURL(t *testing.T) {
	entry := publishedEntry("App", "com.x.app", "1.0", "My App v1.2.ipa")
	assert.Equal(t, "My App v1.2.ipa", entry.BinaryRef())

	assert.Empty(t, Entry{}.BinaryRef())
}
