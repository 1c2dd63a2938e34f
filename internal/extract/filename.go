package extract

import (
	"regexp"
	"strings"
)

// Filename conventions vary wildly across channels. The patterns below cover
// the three version spellings seen in the wild ("App v1.2.3", "App_v1_2_3",
// "App 1.2.3") and the pile of crack-scene suffixes that pollute names.
var (
	versionSpacedRe     = regexp.MustCompile(`(?i)\sv(\d+(?:[\d._]+\d)?)`)
	versionUnderscoreRe = regexp.MustCompile(`(?i)_v(\d+(?:_\d+)*)`)
	versionBareRe       = regexp.MustCompile(`\s(\d+\.\d+\.\d+)`)

	stripUnderscoreVersionRe = regexp.MustCompile(`(?i)_v\d+[\d_.]+.*$`)
	stripSpacedVersionRe     = regexp.MustCompile(`(?i)\sv\d+[\d.]+.*$`)
	stripBareVersionRe       = regexp.MustCompile(`\s\d+\.\d+\.\d+.*$`)
	stripUnlockedRe          = regexp.MustCompile(`(?i)_(Pro_|Plus_|Premium_)?(Subscription_)?Unlocked.*$`)
	stripBlatantRe           = regexp.MustCompile(`(?i)_blatant.*$`)
	stripPatchedRe           = regexp.MustCompile(`(?i)_Patched.*$`)
	stripUploaderTagRe       = regexp.MustCompile(`\[tg@.*\]$`)
	stripLRDTrailRe          = regexp.MustCompile(`\sLRD.*$`)
	stripEditionRe           = regexp.MustCompile(`(?i)\s(Pro|Plus|Premium)$`)
	collapseSpacesRe         = regexp.MustCompile(`\s+`)

	markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	emojiRe        = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}\x{1FA00}-\x{1FAFF}\x{2700}-\x{27BF}\x{FE00}-\x{FE0F}\x{0600}-\x{06FF}]`)
	modSuffixRe    = regexp.MustCompile(`(?i)\s*\((Pro|Plus|Premium|Unlocked|Patched|Subscription Unlocked|Mod|Modded|Hacked|Cracked|Full)\)\s*$`)
)

// ParseFilename guesses an app name and version from a package filename.
// Either return value may be empty when the filename carries no signal.
func ParseFilename(filename string) (name, version string) {
	base := strings.TrimSuffix(filename, ".ipa")

	if m := versionSpacedRe.FindStringSubmatch(base); m != nil {
		version = strings.ReplaceAll(m[1], "_", ".")
	} else if m := versionUnderscoreRe.FindStringSubmatch(base); m != nil {
		version = strings.ReplaceAll(m[1], "_", ".")
	} else if m := versionBareRe.FindStringSubmatch(base); m != nil {
		version = m[1]
	}

	name = base
	name = stripUnderscoreVersionRe.ReplaceAllString(name, "")
	name = stripSpacedVersionRe.ReplaceAllString(name, "")
	name = stripBareVersionRe.ReplaceAllString(name, "")
	name = stripUnlockedRe.ReplaceAllString(name, "")
	name = stripBlatantRe.ReplaceAllString(name, "")
	name = stripPatchedRe.ReplaceAllString(name, "")
	name = stripUploaderTagRe.ReplaceAllString(name, "")
	name = stripLRDTrailRe.ReplaceAllString(name, "")
	name = stripEditionRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	name = collapseSpacesRe.ReplaceAllString(name, " ")

	return name, version
}

// CleanName strips markdown, emoji, trailing mod suffixes like "(Unlocked)",
// and the doubled first word some uploaders produce ("AppAuth AppAuth").
func CleanName(name string) string {
	if name == "" {
		return name
	}

	name = strings.ReplaceAll(name, "**", "")
	name = markdownLinkRe.ReplaceAllString(name, "$1")
	name = emojiRe.ReplaceAllString(name, "")
	name = modSuffixRe.ReplaceAllString(name, "")

	parts := strings.Fields(name)
	if len(parts) >= 2 && parts[0] == parts[1] {
		name = parts[0]
	}

	return strings.TrimSpace(name)
}

// CleanMessage removes markdown formatting from a raw channel post while
// keeping the text itself intact.
func CleanMessage(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	return markdownLinkRe.ReplaceAllString(text, "$1")
}
