// Package ipa reads the metadata an app package declares about itself. The
// declared identifier is the most trustworthy identity source there is; the
// declared version is routinely a placeholder and is trusted least.
package ipa

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"howett.net/plist"
)

// Metadata is what the package descriptor declares.
type Metadata struct {
	BundleID string
	Version  string
	Name     string
}

// infoPlist covers the keys inspection needs; plists carry dozens more.
type infoPlist struct {
	CFBundleIdentifier         string `plist:"CFBundleIdentifier"`
	CFBundleShortVersionString string `plist:"CFBundleShortVersionString"`
	CFBundleDisplayName        string `plist:"CFBundleDisplayName"`
	CFBundleName               string `plist:"CFBundleName"`
}

// Inspect opens an IPA and decodes the main app's Info.plist. Framework and
// plugin plists inside the archive are skipped; only the top-level
// Payload/<App>.app/Info.plist describes the app itself.
func Inspect(path string) (Metadata, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("opening package %s: %w", path, err)
	}
	defer r.Close()

	var entry *zip.File
	for _, f := range r.File {
		if isMainInfoPlist(f.Name) {
			entry = f
			break
		}
	}
	if entry == nil {
		return Metadata{}, fmt.Errorf("package %s has no app Info.plist", path)
	}

	rc, err := entry.Open()
	if err != nil {
		return Metadata{}, fmt.Errorf("opening Info.plist: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 4<<20))
	if err != nil {
		return Metadata{}, fmt.Errorf("reading Info.plist: %w", err)
	}

	var info infoPlist
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return Metadata{}, fmt.Errorf("decoding Info.plist: %w", err)
	}

	name := info.CFBundleDisplayName
	if name == "" {
		name = info.CFBundleName
	}
	version := info.CFBundleShortVersionString
	if version == "" {
		version = "1.0"
	}

	return Metadata{
		BundleID: info.CFBundleIdentifier,
		Version:  version,
		Name:     name,
	}, nil
}

func isMainInfoPlist(name string) bool {
	return strings.HasPrefix(name, "Payload/") &&
		strings.HasSuffix(name, ".app/Info.plist") &&
		!strings.Contains(name, "/Frameworks/") &&
		!strings.Contains(name, "/PlugIns/")
}
