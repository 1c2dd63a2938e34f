package catalog

import (
	"encoding/json"
	"strings"

	"github.com/ipafeed/ipafeed/internal/tweaks"
)

// AltStore requires bundle identifiers to be unique across the source, but
// the feed deliberately publishes tweak variants under the base app's real
// identifier. Conversion re-keys each tweaked entry by appending the
// lowercased tweak name to the identifier.

// AltVersion is one release in AltStore's source schema.
type AltVersion struct {
	Version      string `json:"version"`
	Date         string `json:"date"`
	Size         int64  `json:"size"`
	DownloadURL  string `json:"downloadURL"`
	BuildVersion string `json:"buildVersion"`
}

// AltApp is one app in AltStore's source schema.
type AltApp struct {
	Name                 string          `json:"name"`
	BundleIdentifier     string          `json:"bundleIdentifier"`
	DeveloperName        string          `json:"developerName"`
	LocalizedDescription string          `json:"localizedDescription"`
	IconURL              string          `json:"iconURL"`
	Versions             []AltVersion    `json:"versions"`
	AppPermissions       json.RawMessage `json:"appPermissions"`
}

// AltSource is the AltStore source document.
type AltSource struct {
	Name       string            `json:"name"`
	Identifier string            `json:"identifier"`
	Apps       []AltApp          `json:"apps"`
	News       []json.RawMessage `json:"news"`
}

// ToAltStore converts the feed. The display name keeps its tweak
// parenthetical; only the bundle identifier changes, and only for entries
// whose parenthetical names a registered tweak.
func ToAltStore(feed Feed, registry *tweaks.Registry) AltSource {
	apps := make([]AltApp, 0, len(feed.Apps))
	for _, app := range feed.Apps {
		apps = append(apps, toAltApp(app, registry))
	}
	return AltSource{
		Name:       feed.Name,
		Identifier: feed.Identifier,
		Apps:       apps,
		News:       []json.RawMessage{},
	}
}

func toAltApp(app Entry, registry *tweaks.Registry) AltApp {
	bundleID := app.BundleIdentifier
	if _, tweak := SplitDisplayName(app.Name, registry); tweak != "" {
		bundleID += "." + strings.ToLower(tweak)
	}

	versions := make([]AltVersion, 0, len(app.Versions))
	for _, v := range app.Versions {
		versions = append(versions, AltVersion{
			Version:      v.Version,
			Date:         v.Date,
			Size:         v.Size,
			DownloadURL:  v.DownloadURL,
			BuildVersion: v.Version,
		})
	}

	permissions := app.AppPermissions
	if len(permissions) == 0 {
		permissions = emptyPermissions()
	}

	return AltApp{
		Name:                 app.Name,
		BundleIdentifier:     bundleID,
		DeveloperName:        app.DeveloperName,
		LocalizedDescription: app.LocalizedDescription,
		IconURL:              app.IconURL,
		Versions:             versions,
		AppPermissions:       permissions,
	}
}
