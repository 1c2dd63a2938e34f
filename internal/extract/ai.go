package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ipafeed/ipafeed/internal/cache"
	"github.com/ipafeed/ipafeed/internal/inference"
	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// DefaultFallbackModel handles the posts the primary model gives up on.
const DefaultFallbackModel = "openai/gpt-4o"

const systemPromptFormat = `You are an iOS app metadata extraction expert. Given a Telegram message description (and optionally a filename), extract the following information:

1. **app_name**: The official App Store name of the base app (NOT the tweak name)
   - Examples: 'Instagram', 'TikTok', 'X' (not 'Twitter'), 'Snapchat', 'YouTube'
   - Use the CURRENT official name (e.g., 'X' not 'Twitter')
   - Remove suffixes like (Pro), (Plus), (Premium), (Subscription Unlocked), (Patched), Plus, +, etc.
   - ONLY include the base app name, NOT any modification status
   - For bilingual descriptions: prefer the ENGLISH app name if available, otherwise use the primary name
   - CRITICAL: If you cannot confidently determine the app name from the description, return null
2. **version**: The app version number (format: X.X.X or similar)
3. **tweak_name**: The tweak/mod name if present
   - CRITICAL: ONLY use tweak names from the KNOWN LEGITIMATE TWEAKS list below
   - If a tweak-like name appears but is NOT in the approved list, set to null
   - IMPORTANT: Only include actual tweak/mod names, NOT developer/uploader names
   - If the description says 'made by X', 'developed by X', 'uploaded by X', X is a developer, NOT a tweak
   - Set to null if no tweak is mentioned or if the tweak is not in the approved list
%s
4. **bundle_id**: The official App Store bundle identifier for the BASE app
   - Examples: 'com.burbn.instagram', 'com.zhiliaoapp.musically', 'com.atebits.Tweetie2'
   - IMPORTANT: Tweaks do NOT change the bundle ID. Always use the official app's bundle ID.
5. **description**: The original description with ONLY markdown formatting removed
   - Remove markdown syntax: **bold**, [links](url), etc.
   - Keep ALL original text, emojis, and content exactly as-is
   - Do NOT rewrite, rephrase, or summarize the content

Common bundle IDs:
- Instagram -> com.burbn.instagram
- TikTok -> com.zhiliaoapp.musically
- X (Twitter) -> com.atebits.Tweetie2
- Snapchat -> com.toyopagroup.picaboo
- YouTube -> com.google.ios.youtube
- WhatsApp -> net.whatsapp.WhatsApp
- Spotify -> com.spotify.client
- Reddit -> com.reddit.Reddit
- Facebook -> com.facebook.Facebook
- Telegram -> ph.telegra.Telegraph
- Swiftgram -> app.swiftgram.ios (This is a SEPARATE app, NOT Telegram!)

IMPORTANT DISTINCTIONS:
- Swiftgram (app.swiftgram.ios) is its OWN standalone app in the App Store
- Swiftgram is NOT a Telegram tweak or mod
- If bundle ID is app.swiftgram.ios, the app_name should be 'Swiftgram', NOT 'Telegram'
- If bundle ID is ph.telegra.Telegraph, the app_name should be 'Telegram'

Respond with ONLY a JSON object (no markdown, no explanation):
{
  "app_name": "AppName",
  "version": "X.X.X",
  "tweak_name": "TweakName" or null,
  "bundle_id": "com.company.app",
  "description": "Cleaned description"
}`

const approvedTweaksFormat = `
**KNOWN LEGITIMATE TWEAKS (use these ONLY):**
The following is the OFFICIAL list of known, legitimate tweak names. ONLY use tweak names from this list. If a tweak name appears in the description but is NOT in this list, set tweak_name to null.

Approved tweaks: %s

If you see any of these exact names in the description or filename, extract them as the tweak_name. Otherwise, set tweak_name to null.`

// Extractor asks a language model to read channel posts. Answers are cached
// by input hash so reruns over old posts cost nothing, and a stronger
// fallback model takes over when the primary cannot name the app.
type Extractor struct {
	client        *inference.Resilient
	fallbackModel string
	cache         *cache.File[Extraction]
	registry      *tweaks.Registry
	log           *slog.Logger
}

// ExtractorConfig wires an Extractor. Client, Cache and Registry are
// required; FallbackModel defaults to DefaultFallbackModel.
type ExtractorConfig struct {
	Client        *inference.Resilient
	FallbackModel string
	Cache         *cache.File[Extraction]
	Registry      *tweaks.Registry
	Logger        *slog.Logger
}

func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("extractor requires an inference client")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("extractor requires a cache")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("extractor requires a tweak registry")
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = DefaultFallbackModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		client:        cfg.Client,
		fallbackModel: cfg.FallbackModel,
		cache:         cfg.Cache,
		registry:      cfg.Registry,
		log:           cfg.Logger,
	}, nil
}

// Extract reads one post. A zero Extraction with nil error means both models
// answered but committed to nothing; the caller falls back to the filename.
func (e *Extractor) Extract(ctx context.Context, messageText, filename string) (Extraction, error) {
	key := extractionKey(messageText, filename)
	if cached, ok := e.cache.Get(key); ok {
		e.log.Debug("extraction cache hit", "filename", filename)
		return cached, nil
	}

	system := e.systemPrompt()
	user := "Description: " + messageText
	if filename != "" {
		user += "\nFilename: " + filename
	}

	result, err := e.extractOnce(ctx, system, user, "")

	// A result with neither app name nor bundle ID triggers the fallback
	// model, same as a failed call.
	if (err != nil || (result.Name == "" && result.BundleID == "")) &&
		e.fallbackModel != "" && e.fallbackModel != e.client.Provider().Model() {
		e.log.Info("retrying extraction with fallback model",
			"filename", filename, "model", e.fallbackModel)
		if fallback, ferr := e.extractOnce(ctx, system, user, e.fallbackModel); ferr == nil {
			result, err = fallback, nil
		}
	}
	if err != nil {
		return Extraction{}, err
	}

	result = e.validateTweak(result, filename)
	e.cache.Put(key, result)
	return result, nil
}

func (e *Extractor) extractOnce(ctx context.Context, system, user, model string) (Extraction, error) {
	raw, err := e.client.Complete(ctx, inference.Request{
		System: system,
		User:   user,
		Model:  model,
	})
	if err != nil {
		return Extraction{}, err
	}
	parsed, err := inference.Parse[Extraction](raw, "extract metadata")
	if err != nil {
		return Extraction{}, err
	}
	return normalize(parsed), nil
}

func (e *Extractor) systemPrompt() string {
	approved := ""
	if e.registry.Len() > 0 {
		approved = fmt.Sprintf(approvedTweaksFormat, strings.Join(e.registry.Names(), ", "))
	}
	return fmt.Sprintf(systemPromptFormat, approved)
}

// validateTweak keeps only registry-approved tweak names. Models occasionally
// invent tweaks or echo uploader handles despite the prompt.
func (e *Extractor) validateTweak(ex Extraction, filename string) Extraction {
	if ex.Tweak == "" {
		return ex
	}
	canonical, ok := e.registry.Canonical(ex.Tweak)
	if !ok {
		e.log.Warn("discarding unrecognized tweak name",
			"tweak", ex.Tweak, "filename", filename)
		ex.Tweak = ""
		return ex
	}
	ex.Tweak = canonical
	return ex
}

// normalize clears fields the model filled with the string "null" instead of
// JSON null.
func normalize(ex Extraction) Extraction {
	for _, f := range []*string{&ex.Name, &ex.Version, &ex.Tweak, &ex.BundleID, &ex.Description} {
		if *f == "null" {
			*f = ""
		} else {
			*f = strings.TrimSpace(*f)
		}
	}
	return ex
}

// extractionKey hashes the first hundred characters of the post plus the
// filename. Edits past the first hundred characters reuse the cached answer.
func extractionKey(messageText, filename string) string {
	head := messageText
	if len(head) > 100 {
		head = head[:100]
	}
	sum := sha256.Sum256([]byte(head + "|" + filename))
	return "metadata:" + hex.EncodeToString(sum[:])
}
