package database

import (
	"context"
	"errors"
	"time"
)

var ErrFeedNotFound = errors.New("feed not found")

// dueFeedsLimit bounds a single due-scan so one pass cannot pin the store.
const dueFeedsLimit = 500

// Store is the only component touching persistent state. Implementations
// must be safe for concurrent use by the scheduler and all workers.
type Store interface {
	Close() error
	DatabaseType() string
	Ping(ctx context.Context) error

	// Scheduling operations
	ListDueFeeds(ctx context.Context, now time.Time) ([]Feed, error)
	// Reschedule moves next_scan_at from the value observed in feed to next.
	// It reports false when the row changed since it was read, so the caller
	// must not dispatch it.
	Reschedule(ctx context.Context, feed Feed, next time.Time) (bool, error)
	Terminate(ctx context.Context, feedID int64) error

	// Ingestion operations
	UpsertFeedMetadata(ctx context.Context, feedID int64, meta FeedMetadata) error
	InsertItem(ctx context.Context, item Item) (InsertResult, error)

	// Collaborator operations
	CreateFeed(ctx context.Context, feed Feed) (int64, error)
	GetFeed(ctx context.Context, feedID int64) (*Feed, error)
	PullNow(ctx context.Context, feedID int64) error
	Resume(ctx context.Context, feedID int64) error
	ListItems(ctx context.Context, feedID int64, limit int) ([]Item, error)
	CountItems(ctx context.Context, feedID int64) (int, error)
	CountFeeds(ctx context.Context, now time.Time) (FeedCounts, error)
}
