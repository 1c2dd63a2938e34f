package catalog

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Feed is the published catalog document.
type Feed struct {
	Name       string  `json:"name"`
	Identifier string  `json:"identifier"`
	Apps       []Entry `json:"apps"`
}

// Version is one downloadable release of an app.
type Version struct {
	Version     string `json:"version"`
	Date        string `json:"date"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadURL"`
}

// Entry is one published app. The trailing fields mirror the latest version
// for feed readers that do not walk the versions array.
type Entry struct {
	Name                 string          `json:"name"`
	BundleIdentifier     string          `json:"bundleIdentifier"`
	DeveloperName        string          `json:"developerName"`
	IconURL              string          `json:"iconURL"`
	LocalizedDescription string          `json:"localizedDescription"`
	Versions             []Version       `json:"versions"`
	AppPermissions       json.RawMessage `json:"appPermissions"`
	Version              string          `json:"version"`
	VersionDate          string          `json:"versionDate"`
	Size                 int64           `json:"size"`
	DownloadURL          string          `json:"downloadURL"`
}

// emptyPermissions is the default for entries this pipeline creates.
func emptyPermissions() json.RawMessage {
	return json.RawMessage("{}")
}

// BinaryRef extracts the storage filename backing this entry from its
// download URL. Filenames are URL-encoded on upload and decoded here.
func (e Entry) BinaryRef() string {
	if e.DownloadURL == "" {
		return ""
	}
	last := e.DownloadURL[strings.LastIndex(e.DownloadURL, "/")+1:]
	decoded, err := url.PathUnescape(last)
	if err != nil {
		return last
	}
	return decoded
}
