package tasks

import (
	"time"

	"github.com/lysyi3m/feed-fetcher/internal/database"
)

// WorkItem is the immutable snapshot of a feed handed from the producer to a
// worker. It is passed by value through the queue.
type WorkItem struct {
	FeedID          int64
	SourceURL       string
	RefreshInterval time.Duration
	OwnerID         int64
	DispatchedAt    time.Time
}

func NewWorkItem(feed database.Feed, dispatchedAt time.Time) WorkItem {
	return WorkItem{
		FeedID:          feed.ID,
		SourceURL:       feed.SourceURL,
		RefreshInterval: feed.RefreshInterval,
		OwnerID:         feed.OwnerID,
		DispatchedAt:    dispatchedAt,
	}
}

type Outcome string

const (
	// OutcomeDelivered covers successful ingestion and unsupported
	// publishers, which end without store writes.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeTerminated means every attempt failed and the feed was disabled.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeAbandoned means shutdown interrupted the work item.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeFailed means a store call failed; the feed stays scheduled.
	OutcomeFailed Outcome = "failed"
)

type Result struct {
	Outcome     Outcome
	Attempts    int
	Unsupported bool
	Inserted    int
	Duplicates  int
	Skipped     int
}
