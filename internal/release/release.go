// Package release stores published binaries as assets on one rolling GitHub
// release. The tag never moves: uploads replace same-named assets in place,
// so the download URL for a given filename is stable across runs.
package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ipafeed/ipafeed/internal/remote"
)

const (
	// DefaultTag is the rolling release all binaries live under.
	DefaultTag = "latest"

	DefaultAPIBaseURL      = "https://api.github.com"
	DefaultDownloadBaseURL = "https://github.com"

	releaseTitle = "Latest IPAs"
	releaseNotes = "Latest scraped IPA files from Telegram channels"
)

// Asset is one stored binary.
type Asset struct {
	ID          int64
	Name        string
	Size        int64
	DownloadURL string
}

// Client talks to the GitHub Releases API for one repository. Mutations are
// paced by a shared limiter so bursts of uploads and deletions stay under
// the API's secondary rate limits.
type Client struct {
	owner   string
	repo    string
	tag     string
	token   string
	apiBase string
	webBase string
	http    *http.Client
	uploads *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// Config wires a Client. Owner and Repo are required; Token may be empty for
// read-only use against a public repository.
type Config struct {
	Owner           string
	Repo            string
	Token           string
	Tag             string       // default DefaultTag
	APIBaseURL      string       // default DefaultAPIBaseURL
	DownloadBaseURL string       // default DefaultDownloadBaseURL
	HTTPClient      *http.Client // default: retrying client, 30s per attempt
	UploadClient    *http.Client // default: plain client, 15m timeout
	Logger          *slog.Logger
}

// New builds a release storage client.
func New(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("release client requires repository owner and name")
	}
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.DownloadBaseURL == "" {
		cfg.DownloadBaseURL = DefaultDownloadBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = remote.HTTPClient(30*time.Second, 3)
	}
	if cfg.UploadClient == nil {
		// Uploads stream straight from disk and are not retried: a retrying
		// transport would have to buffer whole binaries in memory to replay
		// them.
		cfg.UploadClient = &http.Client{Timeout: 15 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		tag:     cfg.Tag,
		token:   cfg.Token,
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		webBase: strings.TrimRight(cfg.DownloadBaseURL, "/"),
		http:    cfg.HTTPClient,
		uploads: cfg.UploadClient,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		log:     cfg.Logger,
	}, nil
}

// Ensure creates the rolling release when it does not exist yet. Called once
// at startup so the first upload against a fresh repository cannot race
// release creation.
func (c *Client) Ensure(ctx context.Context) error {
	_, err := c.releaseOrCreate(ctx)
	return err
}

// ListAssets returns the assets attached to the release in API order. A
// repository without the release yet lists as empty.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	rel, err := c.fetchRelease(ctx)
	if remote.IsNotFound(err) {
		c.log.Info("release not found, treating storage as empty", "tag", c.tag)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseAssets(rel), nil
}

// Upload attaches the file under its base filename, deleting any same-named
// asset first and, when supersedes names an older binary, that one too. It
// returns the stable browser download URL for the new asset.
func (c *Client) Upload(ctx context.Context, localPath, supersedes string) (string, error) {
	const op = "release.upload"

	filename := filepath.Base(localPath)
	rel, err := c.releaseOrCreate(ctx)
	if err != nil {
		return "", err
	}

	for _, a := range parseAssets(rel) {
		if a.Name != filename && (supersedes == "" || a.Name != supersedes) {
			continue
		}
		if err := c.DeleteAsset(ctx, a.ID); err != nil {
			c.log.Warn("could not delete asset before upload", "asset", a.Name, "err", err)
			continue
		}
		c.log.Info("deleted stored binary", "asset", a.Name, "replaced_by", filename)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("sizing upload: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", remote.Wrap(op, err)
	}
	u := assetUploadURL(rel, c.apiBase, c.owner, c.repo) + "?name=" + escapeName(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, f)
	if err != nil {
		return "", remote.Wrap(op, err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = info.Size()

	resp, err := c.uploads.Do(req)
	if err != nil {
		return "", remote.Wrap(op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", remote.FromStatus(op, resp.StatusCode, string(body))
	}

	c.log.Info("uploaded binary", "asset", filename, "size", info.Size())
	return c.DownloadURL(filename), nil
}

// DeleteAsset removes one stored binary by asset id.
func (c *Client) DeleteAsset(ctx context.Context, id int64) error {
	const op = "release.delete"

	if err := c.limiter.Wait(ctx); err != nil {
		return remote.Wrap(op, err)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/releases/assets/%d", c.apiBase, c.owner, c.repo, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return remote.Wrap(op, err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return remote.Wrap(op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return remote.FromStatus(op, resp.StatusCode, string(body))
	}
	return nil
}

// DownloadURL is the stable browser-facing URL for a stored binary.
func (c *Client) DownloadURL(filename string) string {
	return fmt.Sprintf("%s/%s/%s/releases/download/%s/%s",
		c.webBase, c.owner, c.repo, c.tag, escapeName(filename))
}

// HealthCheck verifies the repository is reachable with the configured
// credentials. A missing release is healthy; it is created on first upload.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.fetchRelease(ctx)
	if err != nil && !remote.IsNotFound(err) {
		return fmt.Errorf("release storage unreachable: %w", err)
	}
	return nil
}

func (c *Client) fetchRelease(ctx context.Context) (gjson.Result, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		c.apiBase, c.owner, c.repo, url.PathEscape(c.tag))
	return c.doJSON(ctx, "release.fetch", http.MethodGet, u, nil)
}

func (c *Client) releaseOrCreate(ctx context.Context) (gjson.Result, error) {
	rel, err := c.fetchRelease(ctx)
	if err == nil {
		return rel, nil
	}
	if !remote.IsNotFound(err) {
		return gjson.Result{}, err
	}

	c.log.Info("creating release", "tag", c.tag)
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, remote.Wrap("release.create", err)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/releases", c.apiBase, c.owner, c.repo)
	return c.doJSON(ctx, "release.create", http.MethodPost, u, map[string]any{
		"tag_name":   c.tag,
		"name":       releaseTitle,
		"body":       releaseNotes,
		"draft":      false,
		"prerelease": false,
	})
}

func (c *Client) doJSON(ctx context.Context, op, method, u string, payload any) (gjson.Result, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, remote.Wrap(op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return gjson.Result{}, remote.Wrap(op, err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, remote.Wrap(op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, remote.Wrap(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, remote.FromStatus(op, resp.StatusCode, string(data))
	}
	return gjson.ParseBytes(data), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}

func parseAssets(rel gjson.Result) []Asset {
	raw := rel.Get("assets").Array()
	assets := make([]Asset, 0, len(raw))
	for _, a := range raw {
		assets = append(assets, Asset{
			ID:          a.Get("id").Int(),
			Name:        a.Get("name").String(),
			Size:        a.Get("size").Int(),
			DownloadURL: a.Get("browser_download_url").String(),
		})
	}
	return assets
}

// assetUploadURL prefers the hypermedia upload endpoint from the release
// payload, falling back to the path-by-id form for servers that omit it.
func assetUploadURL(rel gjson.Result, apiBase, owner, repo string) string {
	if u := rel.Get("upload_url").String(); u != "" {
		if i := strings.IndexByte(u, '{'); i >= 0 {
			return u[:i]
		}
		return u
	}
	return fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets", apiBase, owner, repo, rel.Get("id").Int())
}

// escapeName percent-encodes a filename for URL use, with %20 for spaces
// rather than the form-encoding plus sign.
func escapeName(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}
