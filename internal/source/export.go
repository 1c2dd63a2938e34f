package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ipafeed/ipafeed/internal/remote"
)

// Export reads a Telegram Desktop chat export (result.json plus its files/
// directory). One export holds one channel; the configured channel name is
// used for attribution only. Topic filtering matches direct replies to the
// topic's root message, which is how the export records forum posts.
type Export struct {
	name   string
	root   string
	msgs   []exportMsg // newest first
	topics []Topic
}

// exportMsg pairs a transport-neutral Message with the topic it replies
// into, which only the export reader needs to remember.
type exportMsg struct {
	Message
	topic int
}

// OpenExport loads an export. Path may point at result.json itself or at the
// directory containing it.
func OpenExport(path string) (*Export, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	file, root := path, filepath.Dir(path)
	if info.IsDir() {
		root = path
		file = filepath.Join(path, "result.json")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, remote.Errorf(remote.KindMalformed, "export", "%s is not valid JSON", file)
	}
	doc := gjson.ParseBytes(data)

	e := &Export{
		name: strings.TrimPrefix(doc.Get("name").String(), "@"),
		root: root,
	}
	doc.Get("messages").ForEach(func(_, m gjson.Result) bool {
		if m.Get("type").String() == "service" {
			if m.Get("action").String() == "topic_created" {
				e.topics = append(e.topics, Topic{
					ID:    int(m.Get("id").Int()),
					Title: m.Get("title").String(),
				})
			}
			return true
		}
		e.msgs = append(e.msgs, exportMsg{
			Message: parseExportMessage(e.root, m),
			topic:   int(m.Get("reply_to_message_id").Int()),
		})
		return true
	})

	// Exports list oldest first; Messages serves newest first.
	slices.Reverse(e.msgs)
	return e, nil
}

// Name returns the channel name recorded in the export.
func (e *Export) Name() string { return e.name }

func (e *Export) Messages(_ context.Context, src Source, limit int) ([]Message, error) {
	var out []Message
	for _, m := range e.msgs {
		if src.Topic != 0 && m.topic != src.Topic && m.ID != int64(src.Topic) {
			continue
		}
		out = append(out, m.Message)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e *Export) Download(_ context.Context, _ Source, msg Message, dest string) error {
	if msg.Document == nil || msg.Document.Ref == "" {
		return remote.Errorf(remote.KindNotFound, "export", "message %d carries no file", msg.ID)
	}
	in, err := os.Open(filepath.Join(e.root, filepath.FromSlash(msg.Document.Ref)))
	if err != nil {
		return fmt.Errorf("opening exported file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying exported file: %w", err)
	}
	return out.Close()
}

func (e *Export) Topics(_ context.Context, _ string) ([]Topic, error) {
	return slices.Clone(e.topics), nil
}

func parseExportMessage(root string, m gjson.Result) Message {
	msg := Message{
		ID:   m.Get("id").Int(),
		Text: flattenText(m.Get("text")),
		Date: exportDate(m),
	}
	if file := m.Get("file").String(); file != "" {
		name := m.Get("file_name").String()
		if name == "" {
			name = filepath.Base(file)
		}
		size := m.Get("size").Int()
		if size == 0 {
			size = m.Get("file_size").Int()
		}
		if size == 0 {
			if st, err := os.Stat(filepath.Join(root, filepath.FromSlash(file))); err == nil {
				size = st.Size()
			}
		}
		msg.Document = &Document{Filename: name, Size: size, Ref: file}
	}
	return msg
}

func exportDate(m gjson.Result) time.Time {
	if ts := m.Get("date_unixtime").Int(); ts > 0 {
		return time.Unix(ts, 0).UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", m.Get("date").String()); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// flattenText joins the export's rich-text form (a string, or an array of
// strings and {type, text} spans) into plain text.
func flattenText(t gjson.Result) string {
	if t.Type == gjson.String {
		return strings.TrimSpace(t.String())
	}
	if !t.IsArray() {
		return ""
	}
	var b strings.Builder
	t.ForEach(func(_, part gjson.Result) bool {
		if part.Type == gjson.String {
			b.WriteString(part.String())
		} else {
			b.WriteString(part.Get("text").String())
		}
		return true
	})
	return strings.TrimSpace(b.String())
}
