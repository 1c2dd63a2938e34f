// Package appstore resolves heuristic app names and placeholder bundle
// identifiers to their canonical App Store identities via the iTunes Search
// API, with a flat-file cache in front so a run never asks twice.
package appstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ipafeed/ipafeed/internal/cache"
	"github.com/ipafeed/ipafeed/internal/remote"
)

const (
	searchURL = "https://itunes.apple.com/search"

	// DefaultIconURL is the last-resort icon for apps nothing can identify.
	DefaultIconURL = "https://github.com/khcrysalis/Feather/blob/v1.x/iOS/Resources/Icons/Main/Mac@3x.png?raw=true"
)

// Result is a canonical App Store identity. A zero Result is a cached miss.
type Result struct {
	Name     string `json:"name"`
	IconURL  string `json:"icon"`
	BundleID string `json:"bundle_id"`
}

// Found reports whether the lookup resolved anything.
func (r Result) Found() bool { return r.Name != "" || r.BundleID != "" }

// Client queries the iTunes Search API. Results, including misses, are
// memoized in the injected cache keyed "bundleId:name".
type Client struct {
	http         *http.Client
	cache        *cache.File[Result]
	logoDevToken string
}

// Config wires the lookup client.
type Config struct {
	Cache        *cache.File[Result] // required
	HTTPClient   *http.Client        // default: retrying client, 10s per attempt
	LogoDevToken string              // optional, enables the logo.dev icon fallback
}

// New builds a lookup client.
func New(cfg Config) (*Client, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("appstore cache is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = remote.HTTPClient(10*time.Second, 2)
	}
	return &Client{http: hc, cache: cfg.Cache, logoDevToken: cfg.LogoDevToken}, nil
}

// Lookup resolves an app by bundle identifier first (exact match only), then
// by name (exact case-insensitive match, else the first search hit). A miss
// is returned as remote.KindNotFound and cached so repeats stay local.
func (c *Client) Lookup(ctx context.Context, name, bundleID string) (Result, error) {
	const op = "appstore.lookup"

	key := bundleID + ":" + name
	if cached, ok := c.cache.Get(key); ok {
		if !cached.Found() {
			return Result{}, remote.Errorf(remote.KindNotFound, op, "cached miss for %q", key)
		}
		return cached, nil
	}

	if bundleID != "" {
		if r, ok := c.searchBundleID(ctx, bundleID); ok {
			c.cache.Put(key, r)
			return r, nil
		}
	}

	searchName := strings.TrimSpace(name)
	if searchName == "" && bundleID != "" {
		// A reverse-DNS identifier usually carries the app name second to last.
		parts := strings.Split(bundleID, ".")
		if len(parts) >= 2 {
			searchName = parts[len(parts)-2]
		}
	}
	if searchName != "" {
		if r, ok := c.searchName(ctx, searchName); ok {
			c.cache.Put(key, r)
			return r, nil
		}
	}

	c.cache.Put(key, Result{})
	return Result{}, remote.Errorf(remote.KindNotFound, op, "no match for name=%q bundle=%q", name, bundleID)
}

// Peek returns the cached lookup result, if any, without touching the
// network. Cached misses report ok=false.
func (c *Client) Peek(name, bundleID string) (Result, bool) {
	cached, ok := c.cache.Get(bundleID + ":" + name)
	if !ok || !cached.Found() {
		return Result{}, false
	}
	return cached, true
}

func (c *Client) searchBundleID(ctx context.Context, bundleID string) (Result, bool) {
	results, err := c.search(ctx, bundleID)
	if err != nil {
		slog.Debug("bundle id search failed", "bundle_id", bundleID, "err", err)
		return Result{}, false
	}
	for _, r := range results {
		if r.Get("bundleId").String() == bundleID {
			return resultFrom(r), true
		}
	}
	return Result{}, false
}

func (c *Client) searchName(ctx context.Context, name string) (Result, bool) {
	results, err := c.search(ctx, name)
	if err != nil {
		slog.Debug("name search failed", "name", name, "err", err)
		return Result{}, false
	}
	for _, r := range results {
		if strings.EqualFold(r.Get("trackName").String(), name) {
			return resultFrom(r), true
		}
	}
	if len(results) > 0 {
		return resultFrom(results[0]), true
	}
	return Result{}, false
}

func (c *Client) search(ctx context.Context, term string) ([]gjson.Result, error) {
	const op = "appstore.search"

	u := searchURL + "?term=" + url.QueryEscape(term) + "&entity=software&limit=5"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, remote.Wrap(op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.Wrap(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, remote.Wrap(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.FromStatus(op, resp.StatusCode, string(body))
	}
	return gjson.GetBytes(body, "results").Array(), nil
}

func resultFrom(r gjson.Result) Result {
	icon := r.Get("artworkUrl512").String()
	if icon == "" {
		icon = r.Get("artworkUrl100").String()
	}
	return Result{
		Name:     r.Get("trackName").String(),
		IconURL:  icon,
		BundleID: r.Get("bundleId").String(),
	}
}

// IconURL finds a presentable icon for an app: App Store artwork, then
// logo.dev when a token is configured, then a generated letter avatar, then
// the packaged default.
func (c *Client) IconURL(ctx context.Context, name, bundleID string) string {
	if r, err := c.Lookup(ctx, name, bundleID); err == nil && r.IconURL != "" {
		return r.IconURL
	}

	clean := strings.TrimSpace(name)
	if clean == "" && bundleID != "" {
		parts := strings.Split(bundleID, ".")
		if len(parts) >= 2 {
			clean = parts[len(parts)-2]
		}
	}
	if clean == "" {
		return DefaultIconURL
	}

	if c.logoDevToken != "" {
		logo := fmt.Sprintf("https://img.logo.dev/%s.com?token=%s",
			strings.ReplaceAll(strings.ToLower(clean), " ", ""), c.logoDevToken)
		if c.headOK(ctx, logo) {
			return logo
		}
	}

	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(clean) + "&size=512&background=random&bold=true"
}

func (c *Client) headOK(ctx context.Context, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
