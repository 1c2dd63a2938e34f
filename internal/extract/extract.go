// Package extract pulls app identity out of the three places it hides: the
// channel post text, the package filename, and the package's own descriptor.
// Each source lies in its own way, so extraction only collects candidates;
// reconciliation decides which one to believe.
package extract

// Source identifies where a candidate field came from.
type Source int

const (
	// SourceArchive is the Info.plist inside the package itself.
	SourceArchive Source = iota
	// SourceFilename is the heuristic parse of the package filename.
	SourceFilename
	// SourceMessage is the model's reading of the channel post.
	SourceMessage
)

func (s Source) String() string {
	switch s {
	case SourceArchive:
		return "archive"
	case SourceFilename:
		return "filename"
	case SourceMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Extraction is the model's answer for one post. Empty fields mean the model
// could not commit to a value. The json tags double as the response contract
// in the extraction prompt.
type Extraction struct {
	Name        string `json:"app_name"`
	Version     string `json:"version"`
	Tweak       string `json:"tweak_name"`
	BundleID    string `json:"bundle_id"`
	Description string `json:"description"`
}

// Empty reports whether the extraction carries no identity signal at all.
func (e Extraction) Empty() bool {
	return e.Name == "" && e.Version == "" && e.Tweak == "" && e.BundleID == ""
}
