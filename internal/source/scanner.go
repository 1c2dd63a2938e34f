package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ipafeed/ipafeed/internal/cache"
)

const (
	// DefaultBatchSize is how many downloads run concurrently. A batch is
	// awaited in full before the next one starts, bounding peak connections.
	DefaultBatchSize = 3
	// DefaultPerSource caps how many packages one scan takes from a source.
	DefaultPerSource = 5
	// DefaultScanDepth is how many recent messages a scan walks.
	DefaultScanDepth = 200
)

// Observation is one package a scan decided to keep: the originating message
// and the downloaded file.
type Observation struct {
	Source    Source
	Message   Message
	LocalPath string
}

// Scanner walks a source's recent messages, picks out fresh packages, and
// downloads them in fixed-size concurrent batches.
type Scanner struct {
	client    Client
	dir       string
	batch     int
	perSource int
	depth     int
	stored    func(string) bool
	fresh     func(context.Context, Message) bool
	tracking  *cache.File[Track]
	log       *slog.Logger
}

// ScannerConfig wires a Scanner. Client and DownloadDir are required.
type ScannerConfig struct {
	Client      Client
	DownloadDir string
	BatchSize   int
	PerSource   int
	ScanDepth   int
	// Stored reports whether a filename is already live in release storage.
	// Stored filenames are skipped without downloading.
	Stored func(filename string) bool
	// Fresh reports whether a message's package is worth downloading. The
	// pipeline wires a version precheck against the published catalog here;
	// nil downloads everything not already stored.
	Fresh func(ctx context.Context, m Message) bool
	// Tracking, when set, receives a Track entry per kept observation.
	Tracking *cache.File[Track]
	Logger   *slog.Logger
}

func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("scanner requires a message client")
	}
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("scanner requires a download directory")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PerSource <= 0 {
		cfg.PerSource = DefaultPerSource
	}
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = DefaultScanDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scanner{
		client:    cfg.Client,
		dir:       cfg.DownloadDir,
		batch:     cfg.BatchSize,
		perSource: cfg.PerSource,
		depth:     cfg.ScanDepth,
		stored:    cfg.Stored,
		fresh:     cfg.Fresh,
		tracking:  cfg.Tracking,
		log:       cfg.Logger,
	}, nil
}

// Scan walks src's recent messages newest-first and returns the observations
// it downloaded or found already on disk. Individual download failures are
// logged and skipped; only the message listing itself can fail the scan.
func (s *Scanner) Scan(ctx context.Context, src Source) ([]Observation, error) {
	msgs, err := s.client.Messages(ctx, src, s.depth)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", src, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	var (
		obs   []Observation
		queue []Message
		found int
	)
	for _, m := range msgs {
		if m.Document == nil || !strings.HasSuffix(strings.ToLower(m.Document.Filename), ".ipa") {
			continue
		}
		found++
		if found > s.perSource {
			s.log.Info("package limit reached, stopping scan",
				"source", src.String(), "limit", s.perSource)
			break
		}
		name := m.Document.Filename
		if s.stored != nil && s.stored(name) {
			s.log.Debug("already in release storage, skipping", "filename", name)
			continue
		}
		if s.fresh != nil && !s.fresh(ctx, m) {
			s.log.Info("published version is current, skipping", "filename", name)
			continue
		}
		dest := filepath.Join(s.dir, name)
		if _, err := os.Stat(dest); err == nil {
			s.log.Debug("already downloaded, will be processed", "filename", name)
			obs = append(obs, s.observe(src, m, dest))
			continue
		}
		queue = append(queue, m)
	}

	for start := 0; start < len(queue); start += s.batch {
		end := min(start+s.batch, len(queue))
		batch := queue[start:end]
		failures := make([]error, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, m := range batch {
			g.Go(func() error {
				dest := filepath.Join(s.dir, m.Document.Filename)
				if err := s.client.Download(gctx, src, m, dest); err != nil {
					// Never leave a partial file for the build to pick up.
					os.Remove(dest)
					failures[i] = err
				}
				return nil
			})
		}
		_ = g.Wait()

		for i, m := range batch {
			if err := failures[i]; err != nil {
				s.log.Warn("download failed",
					"filename", m.Document.Filename, "source", src.String(), "err", err)
				continue
			}
			dest := filepath.Join(s.dir, m.Document.Filename)
			obs = append(obs, s.observe(src, m, dest))
			s.log.Info("downloaded package",
				"filename", m.Document.Filename, "size", m.Document.Size)
		}

		if err := ctx.Err(); err != nil {
			return obs, err
		}
	}

	s.log.Info("scan complete",
		"source", src.String(), "messages", len(msgs), "packages", found, "kept", len(obs))
	return obs, nil
}

func (s *Scanner) observe(src Source, m Message, path string) Observation {
	if s.tracking != nil {
		var ts int64
		if !m.Date.IsZero() {
			ts = m.Date.Unix()
		}
		s.tracking.Put(m.Document.Filename, Track{
			Source:    strings.TrimPrefix(src.Channel, "@"),
			Message:   m.Text,
			Timestamp: ts,
		})
	}
	return Observation{Source: src, Message: m, LocalPath: path}
}
