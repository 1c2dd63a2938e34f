package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Load reads a published feed. A missing file is a normal first-run
// condition; callers check with os.IsNotExist.
func Load(path string) (Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Feed{}, err
	}
	var feed Feed
	if err := json.Unmarshal(data, &feed); err != nil {
		return Feed{}, fmt.Errorf("parsing feed %s: %w", path, err)
	}
	return feed, nil
}

// Save writes the feed atomically: marshal everything, write to a temp file
// next to the target, rename over it. Readers never observe a partial feed.
func Save(path string, feed Feed) error {
	return write(path, feed)
}

// SaveAltStore writes the strict AltStore document the same way.
func SaveAltStore(path string, src AltSource) error {
	return write(path, src)
}

func write(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding feed: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating feed directory: %w", err)
		}
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing feed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing feed: %w", err)
	}
	return nil
}
