// Package source abstracts where observed packages come from. A Source names
// either a whole channel or one topic inside a forum channel; the same scan
// routine serves both. Transports implement Client: the Telegram Desktop
// export reader covers offline backfill, the Bot API poller covers live
// channels the bot can see.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source is one scannable message stream.
type Source struct {
	Channel string
	// Topic is the forum topic ID, 0 for the channel itself.
	Topic int
}

func (s Source) String() string {
	ch := strings.TrimPrefix(s.Channel, "@")
	if s.Topic == 0 {
		return "@" + ch
	}
	return fmt.Sprintf("@%s#%d", ch, s.Topic)
}

// Document is a file attached to a message.
type Document struct {
	Filename string
	Size     int64
	// Ref is the transport's handle for fetching the document: a relative
	// file path for exports, a file identifier for the Bot API.
	Ref string
}

// Message is one observed post. Document is nil when the post carries no file.
type Message struct {
	ID       int64
	Text     string
	Date     time.Time
	Document *Document
}

// Topic is one forum topic.
type Topic struct {
	ID    int
	Title string
}

// Client is a message transport.
type Client interface {
	// Messages returns up to limit messages for src, newest first.
	Messages(ctx context.Context, src Source, limit int) ([]Message, error)
	// Download copies the document attached to msg to dest.
	Download(ctx context.Context, src Source, msg Message, dest string) error
}

// TopicLister is implemented by transports that can enumerate forum topics.
type TopicLister interface {
	Topics(ctx context.Context, channel string) ([]Topic, error)
}

// IsPackageTopic reports whether a forum topic's title advertises packages.
func IsPackageTopic(title string) bool {
	return strings.Contains(strings.ToLower(title), "ipa") ||
		strings.Contains(title, "👀") ||
		strings.Contains(title, "📁")
}
