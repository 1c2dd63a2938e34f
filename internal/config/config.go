// Package config loads the pipeline configuration: a YAML file for the
// data-shaped policy (channels, paths, models, override tables) and
// environment variables for credentials. Credentials never live in the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ipafeed/ipafeed/internal/extract"
	"github.com/ipafeed/ipafeed/internal/reconcile"
)

// Inference provider names accepted in the config file.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// DefaultPath is where commands look for the config file unless told
// otherwise.
const DefaultPath = "ipafeed.yaml"

// Config is the full pipeline configuration.
type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Channels  []Channel       `yaml:"channels"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Release   ReleaseConfig   `yaml:"release"`
	Inference InferenceConfig `yaml:"inference"`
	Scan      ScanConfig      `yaml:"scan"`
	Rules     RulesConfig     `yaml:"rules"`
	Paths     PathsConfig     `yaml:"paths"`

	// LogoDevToken enables the logo.dev icon fallback during App Store
	// lookups. Read from LOGODEV_TOKEN; empty skips that probe.
	LogoDevToken string `yaml:"-"`
}

// FeedConfig names the published source.
type FeedConfig struct {
	Name       string `yaml:"name"`
	Identifier string `yaml:"identifier"`
}

// Channel is one scannable stream. Topic 0 means the channel itself; forum
// channels get their package topics discovered when the transport can list
// them.
type Channel struct {
	Name  string `yaml:"name"`
	Topic int    `yaml:"topic,omitempty"`
}

// TelegramConfig selects the message transport.
type TelegramConfig struct {
	// Export points at a Telegram Desktop export (result.json or the
	// directory holding it). When set, scraping reads the export instead of
	// the Bot API.
	Export string `yaml:"export,omitempty"`

	// BotToken is read from TELEGRAM_BOT_TOKEN.
	BotToken string `yaml:"-"`
}

// ReleaseConfig names the GitHub repository whose release holds the binaries.
type ReleaseConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// Tag defaults to the release client's standing tag when empty.
	Tag string `yaml:"tag,omitempty"`

	// Token is read from GITHUB_TOKEN. Empty works for read-only use
	// against a public repository.
	Token string `yaml:"-"`
}

// InferenceConfig wires the extraction and duplicate-analysis models.
type InferenceConfig struct {
	// Enabled gates every model call. When off, extraction falls back to
	// filename parsing and duplicate cleanup to the deterministic sweep.
	Enabled       bool   `yaml:"enabled"`
	Provider      string `yaml:"provider,omitempty"` // openrouter or anthropic
	Model         string `yaml:"model,omitempty"`
	FallbackModel string `yaml:"fallback_model,omitempty"`
	MaxTokens     int    `yaml:"max_tokens,omitempty"`

	// APIKey is read from OPENROUTER_API_KEY or ANTHROPIC_API_KEY,
	// matching the provider.
	APIKey string `yaml:"-"`
}

// ScanConfig tunes the channel walk. Zero values take the scanner defaults.
type ScanConfig struct {
	PerSource int `yaml:"per_source,omitempty"`
	BatchSize int `yaml:"batch_size,omitempty"`
	Depth     int `yaml:"depth,omitempty"`
}

// RulesConfig overrides the built-in reconciliation policy. Version sources
// are named "message", "filename" and "archive".
type RulesConfig struct {
	VersionPriority  []string            `yaml:"version_priority,omitempty"`
	VersionOverrides map[string][]string `yaml:"version_overrides,omitempty"`
	NameOverrides    map[string]string   `yaml:"name_overrides,omitempty"`
}

// PathsConfig places the working files. Relative paths resolve against the
// working directory.
type PathsConfig struct {
	Feed         string `yaml:"feed,omitempty"`
	AltStore     string `yaml:"altstore,omitempty"`
	Registry     string `yaml:"registry,omitempty"`
	Tracking     string `yaml:"tracking,omitempty"`
	Downloads    string `yaml:"downloads,omitempty"`
	ExtractCache string `yaml:"extract_cache,omitempty"`
	LookupCache  string `yaml:"lookup_cache,omitempty"`
}

// Default returns the configuration a fresh checkout starts from. Channels
// must be filled in before it validates.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			Name:       "IPA Feed",
			Identifier: "com.ipafeed.source",
		},
		Inference: InferenceConfig{
			Enabled:  true,
			Provider: ProviderOpenRouter,
		},
		Paths: PathsConfig{
			Feed:         "apps.json",
			AltStore:     "altstore.json",
			Registry:     "tweaks.json",
			Tracking:     "sources.json",
			Downloads:    "downloads",
			ExtractCache: "ai_cache.json",
			LookupCache:  "appstore_cache.json",
		},
	}
}

// Load reads the YAML file over the defaults and applies environment
// overrides. Commands that run the pipeline call Validate separately, so
// diagnostic commands can still load a config that is not yet complete.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveDefault writes the default configuration to a file for editing.
func SaveDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// applyDefaults refills fields an explicit empty value in the file would
// otherwise blank out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Inference.Provider == "" {
		c.Inference.Provider = def.Inference.Provider
	}
	if c.Paths.Feed == "" {
		c.Paths.Feed = def.Paths.Feed
	}
	if c.Paths.AltStore == "" {
		c.Paths.AltStore = def.Paths.AltStore
	}
	if c.Paths.Registry == "" {
		c.Paths.Registry = def.Paths.Registry
	}
	if c.Paths.Tracking == "" {
		c.Paths.Tracking = def.Paths.Tracking
	}
	if c.Paths.Downloads == "" {
		c.Paths.Downloads = def.Paths.Downloads
	}
	if c.Paths.ExtractCache == "" {
		c.Paths.ExtractCache = def.Paths.ExtractCache
	}
	if c.Paths.LookupCache == "" {
		c.Paths.LookupCache = def.Paths.LookupCache
	}
}

// applyEnv layers environment variables over the file. Credentials only
// arrive this way.
func (c *Config) applyEnv() error {
	parseEnvString("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	parseEnvString("GITHUB_TOKEN", &c.Release.Token)
	parseEnvString("LOGODEV_TOKEN", &c.LogoDevToken)
	parseEnvString(c.inferenceKeyVar(), &c.Inference.APIKey)
	parseEnvString("IPAFEED_MODEL", &c.Inference.Model)

	if err := parseEnvInt("IPAFEED_SCAN_DEPTH", &c.Scan.Depth); err != nil {
		return err
	}
	if err := parseEnvBool("IPAFEED_INFERENCE_ENABLED", &c.Inference.Enabled); err != nil {
		return err
	}
	return nil
}

// inferenceKeyVar names the environment variable the active provider's
// credential comes from.
func (c *Config) inferenceKeyVar() string {
	if c.Inference.Provider == ProviderAnthropic {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENROUTER_API_KEY"
}

// Validate enforces the fatal startup preconditions. Everything else
// degrades at runtime instead.
func (c *Config) Validate() error {
	if c.Feed.Name == "" || c.Feed.Identifier == "" {
		return fmt.Errorf("feed name and identifier are required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("channel %d has no name", i)
		}
	}
	if c.Telegram.Export == "" && c.Telegram.BotToken == "" {
		return fmt.Errorf("no chat source configured: set telegram.export or TELEGRAM_BOT_TOKEN")
	}
	switch c.Inference.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown inference provider: %q", c.Inference.Provider)
	}
	if c.Inference.Enabled && c.Inference.APIKey == "" {
		return fmt.Errorf("inference is enabled but %s is not set", c.inferenceKeyVar())
	}
	if c.Release.Owner == "" || c.Release.Repo == "" {
		return fmt.Errorf("release owner and repo are required")
	}
	return nil
}

// ReconcileRules converts the override tables into the reconciler's policy.
// Empty sections keep the built-in defaults.
func (c *Config) ReconcileRules() (reconcile.Rules, error) {
	rules := reconcile.DefaultRules()
	if len(c.Rules.VersionPriority) > 0 {
		p, err := parseSources(c.Rules.VersionPriority)
		if err != nil {
			return rules, fmt.Errorf("rules.version_priority: %w", err)
		}
		rules.VersionPriority = p
	}
	if len(c.Rules.VersionOverrides) > 0 {
		rules.VersionOverrides = make(map[string][]extract.Source, len(c.Rules.VersionOverrides))
		for channel, names := range c.Rules.VersionOverrides {
			p, err := parseSources(names)
			if err != nil {
				return rules, fmt.Errorf("rules.version_overrides[%s]: %w", channel, err)
			}
			rules.VersionOverrides[channel] = p
		}
	}
	if len(c.Rules.NameOverrides) > 0 {
		rules.NameOverrides = c.Rules.NameOverrides
	}
	return rules, nil
}

func parseSources(names []string) ([]extract.Source, error) {
	out := make([]extract.Source, 0, len(names))
	for _, n := range names {
		s, err := parseSource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func parseSource(name string) (extract.Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "message":
		return extract.SourceMessage, nil
	case "filename":
		return extract.SourceFilename, nil
	case "archive":
		return extract.SourceArchive, nil
	default:
		return 0, fmt.Errorf("unknown version source: %q", name)
	}
}

// parseEnvString overwrites dest when the variable is set.
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}

// parseEnvInt parses an int from an environment variable.
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable.
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
