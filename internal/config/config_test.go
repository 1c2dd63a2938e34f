package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipafeed/ipafeed/internal/extract"
	"github.com/ipafeed/ipafeed/internal/reconcile"
)

// minimalYAML is a valid config except for credentials, which tests supply
// through the environment.
const minimalYAML = `
feed:
  name: Decrypted Feed
  identifier: xyz.decrypted
channels:
  - name: "@decrypted"
release:
  owner: ipafeed
  repo: binaries
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ipafeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

// clearEnv pins every variable Load reads so host credentials cannot leak
// into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "GITHUB_TOKEN", "LOGODEV_TOKEN",
		"OPENROUTER_API_KEY", "ANTHROPIC_API_KEY",
		"IPAFEED_MODEL", "IPAFEED_SCAN_DEPTH", "IPAFEED_INFERENCE_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
feed:
  name: Decrypted Feed
  identifier: xyz.decrypted
channels:
  - name: "@decrypted"
  - name: "@forum"
    topic: 42
telegram:
  export: export/
release:
  owner: ipafeed
  repo: binaries
inference:
  enabled: false
scan:
  per_source: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Decrypted Feed", cfg.Feed.Name)
	assert.Equal(t, "xyz.decrypted", cfg.Feed.Identifier)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, Channel{Name: "@forum", Topic: 42}, cfg.Channels[1])
	assert.Equal(t, 10, cfg.Scan.PerSource)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "apps.json", cfg.Paths.Feed)
	assert.Equal(t, "appstore_cache.json", cfg.Paths.LookupCache)
	assert.Equal(t, ProviderOpenRouter, cfg.Inference.Provider)
}

func TestLoadReadsCredentialsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("LOGODEV_TOKEN", "pk_logo")
	t.Setenv("IPAFEED_MODEL", "openai/gpt-4o")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "ghp_test", cfg.Release.Token)
	assert.Equal(t, "sk-or-test", cfg.Inference.APIKey)
	assert.Equal(t, "pk_logo", cfg.LogoDevToken)
	assert.Equal(t, "openai/gpt-4o", cfg.Inference.Model)
}

func TestLoadReadsAnthropicKeyForAnthropicProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-ignored")

	cfg, err := Load(writeConfig(t, minimalYAML+`
inference:
  provider: anthropic
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Inference.APIKey)
}

func TestValidateFailsWithoutChatSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chat source configured")
}

func TestValidateRequiresInferenceKeyWhenEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	path := writeConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")

	// The kill switch clears the precondition.
	t.Setenv("IPAFEED_INFERENCE_ENABLED", "false")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Inference.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load(writeConfig(t, minimalYAML+`
inference:
  provider: llamacpp
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inference provider")
}

func TestValidateRequiresChannels(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load(writeConfig(t, `
feed:
  name: Feed
  identifier: com.feed
release:
  owner: ipafeed
  repo: binaries
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one channel")
}

func TestEnvScanDepthOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("IPAFEED_SCAN_DEPTH", "500")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Scan.Depth)

	t.Setenv("IPAFEED_SCAN_DEPTH", "lots")
	_, err = Load(writeConfig(t, minimalYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IPAFEED_SCAN_DEPTH")
}

func TestReconcileRulesDefaultsAndOverrides(t *testing.T) {
	cfg := Default()

	rules, err := cfg.ReconcileRules()
	require.NoError(t, err)
	assert.Equal(t, reconcile.DefaultRules().VersionPriority, rules.VersionPriority)

	cfg.Rules = RulesConfig{
		VersionPriority:  []string{"filename", "message", "archive"},
		VersionOverrides: map[string][]string{"weird": {"archive"}},
		NameOverrides:    map[string]string{"com.example.app": "Example"},
	}
	rules, err = cfg.ReconcileRules()
	require.NoError(t, err)
	assert.Equal(t, []extract.Source{
		extract.SourceFilename, extract.SourceMessage, extract.SourceArchive,
	}, rules.VersionPriority)
	assert.Equal(t, []extract.Source{extract.SourceArchive}, rules.VersionOverrides["weird"])
	assert.Equal(t, "Example", rules.NameOverrides["com.example.app"])

	cfg.Rules.VersionPriority = []string{"hearsay"}
	_, err = cfg.ReconcileRules()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown version source")
}

func TestSaveDefaultNeedsEditingBeforeUse(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ipafeed.yaml")
	require.NoError(t, SaveDefault(path))

	// The starter file parses but fails validation until channels are added.
	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one channel")
}
