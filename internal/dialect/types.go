package dialect

import (
	"time"
)

// RelRelated is the link relation persisted as an item's related links.
const RelRelated = "related"

// DefaultLinkTitle labels grouped links published without a title attribute.
const DefaultLinkTitle = "No title available for this link."

type Link struct {
	URL   string
	Title string
}

// Metadata holds the channel-level fields of a normalized feed.
type Metadata struct {
	Title         string
	Description   string
	Link          string
	Language      string
	Copyright     string
	Image         string
	Docs          string
	WebMaster     string
	TTL           *int
	LastBuildDate *time.Time
	PubDate       *time.Time
	Extra         map[string]string
}

type Item struct {
	Title        string
	Description  string
	Link         string
	Categories   []string
	GUID         string
	PubDate      *time.Time
	Author       string
	Creator      string
	Rights       string
	EnclosureURL string
	LinkGroups   map[string][]Link // keyed by rel
	Extra        map[string]string
}

func (i Item) RelatedLinks() []Link {
	return i.LinkGroups[RelRelated]
}

// Feed is the canonical record produced for one document.
type Feed struct {
	Metadata Metadata
	Items    []Item
	Skipped  int // items without guid or link
}
