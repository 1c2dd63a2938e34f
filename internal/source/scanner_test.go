package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient serves scripted messages and writes small payloads on download.
type fakeClient struct {
	msgs    []Message
	listErr error
	fail    map[int64]error

	mu         sync.Mutex
	downloaded []int64
}

func (f *fakeClient) Messages(_ context.Context, _ Source, limit int) ([]Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	msgs := f.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeClient) Download(_ context.Context, _ Source, m Message, dest string) error {
	f.mu.Lock()
	f.downloaded = append(f.downloaded, m.ID)
	f.mu.Unlock()
	if err := f.fail[m.ID]; err != nil {
		// Leave a partial file behind so cleanup is observable.
		_ = os.WriteFile(dest, []byte("partial"), 0o644)
		return err
	}
	return os.WriteFile(dest, []byte("ipa-"+m.Document.Filename), 0o644)
}

func ipaMessage(id int64, name string) Message {
	return Message{
		ID:   id,
		Text: strings.TrimSuffix(name, ".ipa"),
		Date: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Document: &Document{
			Filename: name,
			Size:     1 << 20,
			Ref:      "files/" + name,
		},
	}
}

func newTestScanner(t *testing.T, cfg ScannerConfig) (*Scanner, string) {
	t.Helper()
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}
	s, err := NewScanner(cfg)
	require.NoError(t, err)
	return s, cfg.DownloadDir
}

func TestScanDownloadsNewPackages(t *testing.T) {
	client := &fakeClient{msgs: []Message{
		ipaMessage(30, "TikTok v40.0.0.ipa"),
		{ID: 20, Text: "changelog only"},
		ipaMessage(10, "Spotify v9.0.44.ipa"),
	}}
	s, dir := newTestScanner(t, ScannerConfig{Client: client})

	obs, err := s.Scan(context.Background(), Source{Channel: "@decrypted"})
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "TikTok v40.0.0.ipa", obs[0].Message.Document.Filename)
	assert.Equal(t, filepath.Join(dir, "TikTok v40.0.0.ipa"), obs[0].LocalPath)
	data, err := os.ReadFile(obs[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "ipa-TikTok v40.0.0.ipa", string(data))

	assert.Equal(t, "Spotify v9.0.44.ipa", obs[1].Message.Document.Filename)
}

func TestScanStopsAtPerSourceLimit(t *testing.T) {
	client := &fakeClient{msgs: []Message{
		ipaMessage(4, "A.ipa"),
		ipaMessage(3, "B.ipa"),
		ipaMessage(2, "C.ipa"),
		ipaMessage(1, "D.ipa"),
	}}
	s, _ := newTestScanner(t, ScannerConfig{Client: client, PerSource: 2})

	obs, err := s.Scan(context.Background(), Source{Channel: "@chan"})
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.ElementsMatch(t, []int64{4, 3}, client.downloaded)
}

func TestScanSkipsStoredAndCurrentPackages(t *testing.T) {
	client := &fakeClient{msgs: []Message{
		ipaMessage(3, "Stored.ipa"),
		ipaMessage(2, "Current.ipa"),
		ipaMessage(1, "Fresh.ipa"),
	}}
	s, _ := newTestScanner(t, ScannerConfig{
		Client: client,
		Stored: func(name string) bool { return name == "Stored.ipa" },
		Fresh: func(_ context.Context, m Message) bool {
			// Stored packages are filtered before the version precheck runs.
			assert.NotEqual(t, "Stored.ipa", m.Document.Filename)
			return m.Document.Filename != "Current.ipa"
		},
	})

	obs, err := s.Scan(context.Background(), Source{Channel: "@chan"})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Fresh.ipa", obs[0].Message.Document.Filename)
	assert.Equal(t, []int64{1}, client.downloaded)
}

func TestScanKeepsPackagesAlreadyOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OnDisk.ipa"), []byte("earlier run"), 0o644))

	client := &fakeClient{msgs: []Message{ipaMessage(1, "OnDisk.ipa")}}
	s, _ := newTestScanner(t, ScannerConfig{Client: client, DownloadDir: dir})

	obs, err := s.Scan(context.Background(), Source{Channel: "@chan"})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Empty(t, client.downloaded)

	data, err := os.ReadFile(obs[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "earlier run", string(data))
}

func TestScanCleansUpFailedDownloads(t *testing.T) {
	client := &fakeClient{
		msgs: []Message{
			ipaMessage(2, "Broken.ipa"),
			ipaMessage(1, "Good.ipa"),
		},
		fail: map[int64]error{2: errors.New("connection reset")},
	}
	s, dir := newTestScanner(t, ScannerConfig{Client: client, BatchSize: 1})

	obs, err := s.Scan(context.Background(), Source{Channel: "@chan"})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Good.ipa", obs[0].Message.Document.Filename)

	_, statErr := os.Stat(filepath.Join(dir, "Broken.ipa"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestScanRecordsSourceTracking(t *testing.T) {
	tracking, err := OpenTracking(filepath.Join(t.TempDir(), "source_tracking.json"))
	require.NoError(t, err)

	client := &fakeClient{msgs: []Message{ipaMessage(1, "Spotify v9.0.44.ipa")}}
	s, _ := newTestScanner(t, ScannerConfig{Client: client, Tracking: tracking})

	_, err = s.Scan(context.Background(), Source{Channel: "@decrypted"})
	require.NoError(t, err)

	tr, ok := tracking.Get("Spotify v9.0.44.ipa")
	require.True(t, ok)
	assert.Equal(t, "decrypted", tr.Source)
	assert.Equal(t, "Spotify v9.0.44", tr.Message)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC).Unix(), tr.Timestamp)
}

func TestScanFailsWhenListingFails(t *testing.T) {
	client := &fakeClient{listErr: errors.New("flood wait")}
	s, _ := newTestScanner(t, ScannerConfig{Client: client})

	_, err := s.Scan(context.Background(), Source{Channel: "@chan", Topic: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing @chan#7")
}

func TestScanIgnoresNonPackageDocuments(t *testing.T) {
	client := &fakeClient{msgs: []Message{
		{ID: 2, Text: "notes", Document: &Document{Filename: "release-notes.txt", Ref: "files/release-notes.txt"}},
		ipaMessage(1, "App.IPA"),
	}}
	s, _ := newTestScanner(t, ScannerConfig{Client: client})

	obs, err := s.Scan(context.Background(), Source{Channel: "@chan"})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "App.IPA", obs[0].Message.Document.Filename)
}
