package database

import (
	"time"
)

// Feed is one subscription row: the schedule the core reads and writes plus
// the publisher metadata written after successful fetches.
type Feed struct {
	ID              int64
	OwnerID         int64
	SourceURL       string
	RefreshInterval time.Duration
	NextScanAt      *time.Time // nil means due immediately
	Terminated      bool

	CustomTitle   string
	Title         string
	Description   string
	SiteLink      string // channel <link>, distinct from SourceURL
	Language      string
	Copyright     string
	Image         string
	Docs          string
	WebMaster     string
	TTL           *int
	LastBuildDate *time.Time
	PubDate       *time.Time
	Extra         map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether the scheduler should dispatch the feed at now.
func (f Feed) IsDue(now time.Time) bool {
	if f.Terminated {
		return false
	}
	return f.NextScanAt == nil || !f.NextScanAt.After(now)
}

// FeedMetadata carries channel fields; empty or nil fields leave the stored
// value unchanged.
type FeedMetadata struct {
	Title         string
	Description   string
	SiteLink      string
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

type Link struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type Item struct {
	ID           int64
	FeedID       int64
	OwnerID      int64
	GUID         string
	Title        string
	Description  string
	Link         string
	Categories   []string
	PubDate      time.Time
	Author       string
	Creator      string
	Rights       string
	EnclosureURL string
	RelatedLinks []Link
	Extra        map[string]string
	CreatedAt    time.Time
	Favorite     bool
	Read         bool
}

type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "inserted"
}

// FeedCounts summarizes the feed table for health and stats endpoints.
type FeedCounts struct {
	Total      int
	Terminated int
	Due        int
}
