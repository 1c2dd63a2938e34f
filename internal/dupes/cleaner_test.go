package dupes

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/release"
	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// fakeStorage implements Storage over a fixed asset listing.
type fakeStorage struct {
	assets    []release.Asset
	listErr   error
	deleteErr map[int64]error
	deleted   []int64
}

func (s *fakeStorage) ListAssets(context.Context) ([]release.Asset, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.assets, nil
}

func (s *fakeStorage) DeleteAsset(_ context.Context, id int64) error {
	if err := s.deleteErr[id]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func cleanerNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestCleaner(t *testing.T, det *Detector, storage Storage) *Cleaner {
	t.Helper()
	c, err := NewCleaner(CleanerConfig{
		Detector: det,
		Registry: tweaks.New([]string{"BHInstagram", "Theta"}),
		Storage:  storage,
		Now:      cleanerNow,
	})
	require.NoError(t, err)
	return c
}

func storedEntry(name, bundleID, ver, asset string) catalog.Entry {
	e := pubEntry(name, bundleID, ver)
	e.DownloadURL = "https://github.com/owner/repo/releases/download/latest/" + url.PathEscape(asset)
	return e
}

func writeFeed(t *testing.T, apps []catalog.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.json")
	require.NoError(t, catalog.Save(path, catalog.Feed{Name: "Feed", Identifier: "com.feed", Apps: apps}))
	return path
}

func backups(t *testing.T, feedPath string) []string {
	t.Helper()
	matches, err := filepath.Glob(feedPath + ".backup.*")
	require.NoError(t, err)
	return matches
}

func TestRunPrunesCatalogAndDeletesBinaries(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Instagram (BHInstagram)", "com.burbn.instagram", "405.1.0", "Instagram (BHInstagram) v405.1.0.ipa"),
		storedEntry("Instagram (BHInstagram)", "com.burbn.instagram", "404.0.0", "Instagram (BHInstagram) v404.0.0.ipa"),
		storedEntry("TikTok", "com.zhiliaoapp.musically", "42.0.0", "TikTok v42.0.0.ipa"),
	})
	storage := &fakeStorage{assets: []release.Asset{
		{ID: 1, Name: "Instagram (BHInstagram) v405.1.0.ipa"},
		{ID: 2, Name: "Instagram (BHInstagram) v404.0.0.ipa"},
		{ID: 3, Name: "TikTok v42.0.0.ipa"},
	}}
	c := newTestCleaner(t, nil, storage)

	stats, err := c.Run(context.Background(), feedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CatalogRemoved)
	assert.Equal(t, 1, stats.AssetsDeleted)
	assert.Equal(t, 0, stats.GroupsApplied)
	assert.Equal(t, []int64{2}, storage.deleted, "only the superseded binary is deleted")

	feed, err := catalog.Load(feedPath)
	require.NoError(t, err)
	require.Len(t, feed.Apps, 2)
	assert.Equal(t, "405.1.0", feed.Apps[0].Version)
	assert.Equal(t, "TikTok", feed.Apps[1].Name)
}

func TestRunWritesTimestampedBackup(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Coconote", "com.coconote.app", "2.21", "Coconote v2.21.ipa"),
		storedEntry("Coconote", "com.coconote.app", "2.19", "Coconote v2.19.ipa"),
	})
	original, err := os.ReadFile(feedPath)
	require.NoError(t, err)

	c := newTestCleaner(t, nil, &fakeStorage{})
	_, err = c.Run(context.Background(), feedPath)
	require.NoError(t, err)

	files := backups(t, feedPath)
	require.Len(t, files, 1)
	assert.Equal(t, feedPath+".backup.20260102_030405", files[0])

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, original, data, "backup preserves the pre-sweep bytes")
}

func TestRunAppliesValidatedFilenameGroups(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Coconote", "com.coconote.app", "2.21", "Coconote v2.21.ipa"),
	})
	storage := &fakeStorage{assets: []release.Asset{
		{ID: 10, Name: "Coconote v2.19.ipa"},
		{ID: 11, Name: "Coconote v2.21.ipa"},
		{ID: 12, Name: "release-notes.txt"},
	}}
	p := &scriptedProvider{replies: []scriptedReply{
		{text: `{"groups": [{
			"app_name": "Coconote",
			"tweak_name": null,
			"keep": "Coconote v2.21.ipa",
			"delete": ["Coconote v2.19.ipa"],
			"reason": "2.21 newest"
		}]}`},
	}}
	c := newTestCleaner(t, newTestDetector(t, p, 0), storage)

	stats, err := c.Run(context.Background(), feedPath)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CatalogRemoved)
	assert.Equal(t, 1, stats.AssetsDeleted)
	assert.Equal(t, 1, stats.GroupsApplied)
	assert.Equal(t, []int64{10}, storage.deleted)

	require.Len(t, p.calls, 1)
	assert.Equal(t, "Analyze these IPA files:\n\n1. Coconote v2.19.ipa\n2. Coconote v2.21.ipa",
		p.calls[0].User, "only .ipa assets reach the analysis")
	assert.Empty(t, backups(t, feedPath), "clean catalog is not rewritten")
}

func TestRunContinuesWhenListingFails(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Coconote", "com.coconote.app", "2.21", "Coconote v2.21.ipa"),
		storedEntry("Coconote", "com.coconote.app", "2.19", "Coconote v2.19.ipa"),
	})
	storage := &fakeStorage{listErr: errors.New("storage unavailable")}
	c := newTestCleaner(t, nil, storage)

	stats, err := c.Run(context.Background(), feedPath)
	require.NoError(t, err, "a dead listing degrades to catalog-only cleaning")
	assert.Equal(t, 1, stats.CatalogRemoved)
	assert.Equal(t, 0, stats.AssetsDeleted)
	assert.Empty(t, storage.deleted)

	feed, err := catalog.Load(feedPath)
	require.NoError(t, err)
	assert.Len(t, feed.Apps, 1, "the sweep still prunes the catalog")
}

func TestRunToleratesDeletionFailures(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Coconote", "com.coconote.app", "2.21", "Coconote v2.21.ipa"),
		storedEntry("Coconote", "com.coconote.app", "2.19", "Coconote v2.19.ipa"),
	})
	storage := &fakeStorage{
		assets: []release.Asset{
			{ID: 1, Name: "Coconote v2.21.ipa"},
			{ID: 2, Name: "Coconote v2.19.ipa"},
		},
		deleteErr: map[int64]error{2: errors.New("403 Forbidden")},
	}
	c := newTestCleaner(t, nil, storage)

	stats, err := c.Run(context.Background(), feedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CatalogRemoved)
	assert.Equal(t, 0, stats.AssetsDeleted)

	feed, err := catalog.Load(feedPath)
	require.NoError(t, err)
	assert.Len(t, feed.Apps, 1, "catalog pruning does not depend on binary deletion")
}

func TestRunFailsWithoutCatalog(t *testing.T) {
	c := newTestCleaner(t, nil, &fakeStorage{})

	_, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading catalog")
}

func TestRunLeavesCleanCatalogAlone(t *testing.T) {
	feedPath := writeFeed(t, []catalog.Entry{
		storedEntry("Coconote", "com.coconote.app", "2.21", "Coconote v2.21.ipa"),
		storedEntry("TikTok", "com.zhiliaoapp.musically", "42.0.0", "TikTok v42.0.0.ipa"),
	})
	before, err := os.ReadFile(feedPath)
	require.NoError(t, err)

	storage := &fakeStorage{assets: []release.Asset{
		{ID: 1, Name: "Coconote v2.21.ipa"},
		{ID: 2, Name: "TikTok v42.0.0.ipa"},
	}}
	c := newTestCleaner(t, nil, storage)

	stats, err := c.Run(context.Background(), feedPath)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, storage.deleted)
	assert.Empty(t, backups(t, feedPath))

	after, err := os.ReadFile(feedPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
