package inference

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ipafeed/ipafeed/internal/remote"
)

// Pre-compiled patterns; compiling per parse is measurably slower and these
// run for every extraction response.
var (
	// Code fences, with optional language tag and optional newlines.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	// Cleanup patterns for almost-JSON.
	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// Greedy extraction of an object or array embedded in prose.
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// maxParseInput caps parser input; anything bigger than this is not a
// completion response worth recovering.
const maxParseInput = 1 << 20

// Parse decodes a model response into T, recovering from the usual formatting
// quirks before giving up. The strategies run in order:
//
//  1. direct JSON parse
//  2. strip markdown code fences, parse again
//  3. fix trailing commas, unquoted keys, comments, parse again
//  4. extract the first object/array embedded in prose, parse again
//
// Failure returns a remote.KindMalformed error; op labels it for logs.
func Parse[T any](text, op string) (T, error) {
	var zero T

	if len(text) > maxParseInput {
		return zero, remote.Errorf(remote.KindMalformed, op, "response too large to parse (%d bytes)", len(text))
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, remote.Errorf(remote.KindMalformed, op, "empty response")
	}

	if v, err := tryDecode[T](trimmed); err == nil {
		return v, nil
	} else {
		slog.Debug("direct JSON parse failed, trying recovery",
			"op", op,
			"err", err,
			"preview", preview(trimmed))
	}

	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		if v, err := tryDecode[T](withoutFences); err == nil {
			return v, nil
		}
	}

	cleaned := cleanupJSON(withoutFences)
	if v, err := tryDecode[T](cleaned); err == nil {
		return v, nil
	}

	if extracted := extractJSON(cleaned); extracted != "" {
		if v, err := tryDecode[T](extracted); err == nil {
			return v, nil
		}
	}

	return zero, remote.Errorf(remote.KindMalformed, op, "no parseable JSON in response: %s", preview(trimmed))
}

func tryDecode[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

// removeCodeFences strips markdown fences, preferring a whole-string match
// before falling back to fences anywhere, then lone wrapping backticks.
func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		cleaned = codeFenceAnyRegex.ReplaceAllString(text, "$1")
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "`"), "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON repairs trailing commas, unquoted identifier keys, and
// JavaScript-style comments. Single quotes are left alone: rewriting them
// would corrupt valid JSON containing apostrophes.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls an object or array out of surrounding prose. The first
// JSON-like character decides the type so an array is never shredded into
// its first element.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			if m := arrayRegex.FindString(text); m != "" {
				return m
			}
		case '{':
			if m := objectRegex.FindString(text); m != "" {
				return m
			}
		}
	}
	if m := objectRegex.FindString(text); m != "" {
		return m
	}
	return arrayRegex.FindString(text)
}

func preview(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100] + "..."
}
