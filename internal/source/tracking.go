package source

import "github.com/ipafeed/ipafeed/internal/cache"

// Track records where a stored binary came from. The tracking file bridges
// the download phase and the catalog build: the builder reads the channel
// name and original message text back out by filename.
type Track struct {
	Source    string `json:"source"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// OpenTracking loads the source-tracking file, one JSON map from binary
// filename to Track. A missing file yields an empty tracker.
func OpenTracking(path string) (*cache.File[Track], error) {
	return cache.Open[Track](path)
}
