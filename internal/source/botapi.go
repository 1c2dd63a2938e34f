package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ipafeed/ipafeed/internal/remote"
)

const (
	// DefaultBotAPIBaseURL is the public Bot API endpoint.
	DefaultBotAPIBaseURL = "https://api.telegram.org"

	// botDownloadCap is the Bot API's hard file-download limit. Larger
	// documents need an MTProto client and are skipped on this transport.
	botDownloadCap = 20 << 20

	updatesPageSize = 100
)

// BotClient reads channel posts through the Telegram Bot API. The bot must
// be a member of the channels it scans. Updates are drained with short polls
// so a scan terminates once the pending backlog is consumed.
type BotClient struct {
	token  string
	base   string
	http   *http.Client
	files  *http.Client
	log    *slog.Logger
	offset int64
}

// BotConfig wires a BotClient. Token is required.
type BotConfig struct {
	Token   string
	BaseURL string
	// HTTPClient serves the JSON methods; FileClient streams downloads and
	// should carry a generous timeout.
	HTTPClient *http.Client
	FileClient *http.Client
	Logger     *slog.Logger
}

func NewBotClient(cfg BotConfig) (*BotClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot client requires a token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBotAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = remote.HTTPClient(30*time.Second, 3)
	}
	if cfg.FileClient == nil {
		cfg.FileClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BotClient{
		token: cfg.Token,
		base:  strings.TrimSuffix(cfg.BaseURL, "/"),
		http:  cfg.HTTPClient,
		files: cfg.FileClient,
		log:   cfg.Logger,
	}, nil
}

// Messages drains pending updates and returns the posts for src, newest
// first. Updates for other chats are consumed and dropped; the offset only
// moves forward, so a second scan in the same process sees only new posts.
func (c *BotClient) Messages(ctx context.Context, src Source, limit int) ([]Message, error) {
	var out []Message
	for {
		page, err := c.getUpdates(ctx)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, u := range page {
			if m, ok := matchUpdate(u, src); ok {
				out = append(out, m)
			}
		}
	}
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Download resolves the document's server path via getFile and streams it to
// dest. Documents above the Bot API cap fail without a network round trip.
func (c *BotClient) Download(ctx context.Context, _ Source, msg Message, dest string) error {
	if msg.Document == nil || msg.Document.Ref == "" {
		return remote.Errorf(remote.KindNotFound, "botapi.getFile",
			"message %d carries no document", msg.ID)
	}
	if msg.Document.Size > botDownloadCap {
		c.log.Warn("document exceeds the bot download cap, skipping",
			"filename", msg.Document.Filename, "size", msg.Document.Size)
		return remote.Errorf(remote.KindUnavailable, "botapi.getFile",
			"%s (%d bytes) exceeds the bot download cap", msg.Document.Filename, msg.Document.Size)
	}

	body, err := c.call(ctx, "getFile", url.Values{"file_id": {msg.Document.Ref}})
	if err != nil {
		return err
	}
	fp := body.Get("result.file_path").String()
	if fp == "" {
		return remote.Errorf(remote.KindMalformed, "botapi.getFile",
			"no file_path for %s", msg.Document.Filename)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/file/bot%s/%s", c.base, c.token, fp), nil)
	if err != nil {
		return fmt.Errorf("building file request: %w", err)
	}
	resp, err := c.files.Do(req)
	if err != nil {
		return remote.Wrap("botapi.download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remote.FromStatus("botapi.download", resp.StatusCode, "")
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return out.Close()
}

// HealthCheck verifies the token against getMe.
func (c *BotClient) HealthCheck(ctx context.Context) error {
	_, err := c.call(ctx, "getMe", nil)
	return err
}

func (c *BotClient) getUpdates(ctx context.Context) ([]gjson.Result, error) {
	q := url.Values{
		"offset":          {strconv.FormatInt(c.offset, 10)},
		"limit":           {strconv.Itoa(updatesPageSize)},
		"timeout":         {"0"},
		"allowed_updates": {`["message","channel_post"]`},
	}
	body, err := c.call(ctx, "getUpdates", q)
	if err != nil {
		return nil, err
	}
	page := body.Get("result").Array()
	for _, u := range page {
		if id := u.Get("update_id").Int(); id >= c.offset {
			c.offset = id + 1
		}
	}
	return page, nil
}

// call performs one Bot API method and unwraps the ok envelope.
func (c *BotClient) call(ctx context.Context, method string, q url.Values) (gjson.Result, error) {
	op := "botapi." + method
	u := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("building bot request: %w", err)
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
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, remote.FromStatus(op, resp.StatusCode, string(data))
	}
	doc := gjson.ParseBytes(data)
	if !doc.Get("ok").Bool() {
		return gjson.Result{}, remote.Errorf(remote.KindUnknown, op,
			"%s", doc.Get("description").String())
	}
	return doc, nil
}

func matchUpdate(u gjson.Result, src Source) (Message, bool) {
	post := u.Get("channel_post")
	if !post.Exists() {
		post = u.Get("message")
	}
	if !post.Exists() {
		return Message{}, false
	}

	want := strings.TrimPrefix(strings.ToLower(src.Channel), "@")
	have := strings.ToLower(post.Get("chat.username").String())
	if want == "" || have != want {
		return Message{}, false
	}
	if src.Topic != 0 && int(post.Get("message_thread_id").Int()) != src.Topic {
		return Message{}, false
	}

	m := Message{
		ID:   post.Get("message_id").Int(),
		Text: strings.TrimSpace(post.Get("caption").String()),
		Date: time.Unix(post.Get("date").Int(), 0).UTC(),
	}
	if m.Text == "" {
		m.Text = strings.TrimSpace(post.Get("text").String())
	}
	if doc := post.Get("document"); doc.Exists() {
		m.Document = &Document{
			Filename: doc.Get("file_name").String(),
			Size:     doc.Get("file_size").Int(),
			Ref:      doc.Get("file_id").String(),
		}
	}
	return m, true
}
