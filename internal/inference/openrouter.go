package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ipafeed/ipafeed/internal/remote"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel = "openai/gpt-4o-mini"

	// maxResponseBytes caps how much of a completion body gets read.
	maxResponseBytes = 1 << 20
)

// OpenRouterConfig configures the OpenRouter (or any OpenAI-compatible
// chat-completions) provider.
type OpenRouterConfig struct {
	APIKey     string
	Model      string        // default: openai/gpt-4o-mini
	Endpoint   string        // default: the OpenRouter completions URL
	Referer    string        // OpenRouter attribution headers, optional
	Title      string
	HTTPClient *http.Client  // default: 60s timeout client
	MaxTokens  int           // default token budget per request (default: 500)
}

// OpenRouter is the primary inference provider: JSON-object responses with
// deterministic sampling over plain HTTP.
type OpenRouter struct {
	cfg  OpenRouterConfig
	http *http.Client
}

// NewOpenRouter validates the config and returns the provider.
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenRouterModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOpenRouterURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenRouter{cfg: cfg, http: hc}, nil
}

func (o *OpenRouter) Name() string  { return "openrouter" }
func (o *OpenRouter) Model() string { return o.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

// Complete posts a chat-completions request. Temperature is pinned to zero
// and the response format to json_object: the extraction contract depends on
// deterministic, directly parseable output.
func (o *OpenRouter) Complete(ctx context.Context, req Request) (string, error) {
	const op = "openrouter.complete"

	body := chatRequest{
		Model:       req.Model,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = o.cfg.Model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = o.cfg.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return "", remote.Errorf(remote.KindMalformed, op, "encoding request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", remote.Wrap(op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if o.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", o.cfg.Referer)
	}
	if o.cfg.Title != "" {
		httpReq.Header.Set("X-Title", o.cfg.Title)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return "", remote.Wrap(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", remote.Wrap(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", remote.FromStatus(op, resp.StatusCode, string(raw))
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || content.String() == "" {
		return "", remote.Errorf(remote.KindMalformed, op, "response has no completion content")
	}
	return content.String(), nil
}
