package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ipafeed/ipafeed/internal/remote"
)

const defaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicConfig configures the Anthropic Messages provider.
type AnthropicConfig struct {
	APIKey    string
	Model     string // default: claude-3-5-haiku-20241022
	MaxTokens int    // default token budget per request (default: 500)
}

// Anthropic is the alternate inference provider. Extraction prompts do not
// rely on role separation, so the system text is folded into the single user
// turn the Messages API receives.
type Anthropic struct {
	cfg    AnthropicConfig
	client *anthropic.Client
}

// NewAnthropic validates the config and returns the provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Anthropic{cfg: cfg, client: &client}, nil
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.cfg.Model }

// Complete sends one message and concatenates the text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	const op = "anthropic.complete"

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	prompt := req.User
	if req.System != "" {
		prompt = req.System + "\n\n" + req.User
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAnthropicErr(op, err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", remote.Errorf(remote.KindMalformed, op, "response has no text content")
	}
	return out.String(), nil
}

// classifyAnthropicErr maps SDK errors onto remote kinds. The SDK surfaces
// status codes in the error string, so this leans on substring checks the
// same way the HTTP providers lean on status codes.
func classifyAnthropicErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return remote.Errorf(remote.KindRateLimited, op, "%v", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return remote.Errorf(remote.KindUnauthorized, op, "%v", err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded"):
		return remote.Errorf(remote.KindUnavailable, op, "%v", err)
	default:
		return remote.Wrap(op, err)
	}
}
