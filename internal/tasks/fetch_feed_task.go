package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lysyi3m/feed-fetcher/internal/database"
	"github.com/lysyi3m/feed-fetcher/internal/dialect"
	"github.com/lysyi3m/feed-fetcher/internal/metrics"
)

var ErrHTTPStatus = errors.New("unexpected HTTP status")

type FetchOptions struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	FetchTimeout time.Duration
	UserAgent    string
}

// FetchFeedTask fetches a feed with bounded retries, normalizes the body and
// persists the result. It is shared by all workers.
type FetchFeedTask struct {
	store      database.Store
	normalizer *dialect.Normalizer
	httpClient *http.Client
	limiter    *HostLimiter
	opts       FetchOptions

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

var _ Processor = (*FetchFeedTask)(nil)

func NewFetchFeedTask(store database.Store, normalizer *dialect.Normalizer, httpClient *http.Client,
	limiter *HostLimiter, opts FetchOptions) *FetchFeedTask {
	return &FetchFeedTask{
		store:      store,
		normalizer: normalizer,
		httpClient: httpClient,
		limiter:    limiter,
		opts:       opts,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// newRetryBackoff yields base, doubling per retry up to ceiling, without jitter.
func newRetryBackoff(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = ceiling
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	return bo
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *FetchFeedTask) Process(ctx context.Context, item WorkItem) (Result, error) {
	host := PublisherKey(item.SourceURL)
	bo := newRetryBackoff(t.opts.BackoffBase, t.opts.BackoffCap)
	var lastErr error

	for attempt := 0; attempt < t.opts.MaxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 0 {
			delay = bo.NextBackOff()
		}
		if err := t.sleep(ctx, delay); err != nil {
			return Result{Outcome: OutcomeAbandoned, Attempts: attempt}, err
		}
		if err := t.limiter.Wait(ctx, host); err != nil {
			return Result{Outcome: OutcomeAbandoned, Attempts: attempt}, err
		}

		start := t.now()
		body, err := t.fetchFeed(ctx, item.SourceURL)
		if err != nil {
			metrics.RecordFetchAttempt(host, "fetch_error", time.Since(start))
			if ctx.Err() != nil {
				return Result{Outcome: OutcomeAbandoned, Attempts: attempt + 1}, ctx.Err()
			}
			slog.Debug("Fetch attempt failed", "feed_id", item.FeedID, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		feed, err := t.normalizer.Normalize(body, host)
		if errors.Is(err, dialect.ErrUnsupported) {
			metrics.RecordFetchAttempt(host, "unsupported", time.Since(start))
			slog.Debug("No dialect for publisher, skipping", "feed_id", item.FeedID, "publisher", host)
			return Result{Outcome: OutcomeDelivered, Attempts: attempt + 1, Unsupported: true}, nil
		}
		if err != nil {
			metrics.RecordFetchAttempt(host, "parse_error", time.Since(start))
			slog.Debug("Normalization failed", "feed_id", item.FeedID, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		metrics.RecordFetchAttempt(host, "ok", time.Since(start))
		return t.persist(ctx, item, feed, attempt+1, start)
	}

	if err := t.store.Terminate(ctx, item.FeedID); err != nil {
		return Result{Outcome: OutcomeFailed, Attempts: t.opts.MaxAttempts}, fmt.Errorf("failed to terminate feed: %w", err)
	}

	slog.Warn("Feed terminated after repeated failures",
		"feed_id", item.FeedID,
		"url", item.SourceURL,
		"attempts", t.opts.MaxAttempts,
		"last_error", lastErr)

	return Result{Outcome: OutcomeTerminated, Attempts: t.opts.MaxAttempts}, nil
}

func (t *FetchFeedTask) fetchFeed(ctx context.Context, feedURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (t *FetchFeedTask) persist(ctx context.Context, item WorkItem, feed *dialect.Feed, attempts int, fetchedAt time.Time) (Result, error) {
	result := Result{Outcome: OutcomeDelivered, Attempts: attempts, Skipped: feed.Skipped}

	if err := t.store.UpsertFeedMetadata(ctx, item.FeedID, toFeedMetadata(feed.Metadata)); err != nil {
		result.Outcome = OutcomeFailed
		return result, fmt.Errorf("failed to store feed metadata: %w", err)
	}

	for _, it := range feed.Items {
		res, err := t.store.InsertItem(ctx, toStoreItem(it, item, fetchedAt))
		if err != nil {
			result.Outcome = OutcomeFailed
			return result, fmt.Errorf("failed to store item: %w", err)
		}
		if res == database.AlreadyExists {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	metrics.RecordItems(result.Inserted, result.Duplicates, result.Skipped)
	return result, nil
}

// PublisherKey is the hostname dialects are registered under.
func PublisherKey(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func toFeedMetadata(m dialect.Metadata) database.FeedMetadata {
	return database.FeedMetadata{
		Title:         m.Title,
		Description:   m.Description,
		SiteLink:      m.Link,
		Language:      m.Language,
		Copyright:     m.Copyright,
		Image:         m.Image,
		Docs:          m.Docs,
		WebMaster:     m.WebMaster,
		TTL:           m.TTL,
		LastBuildDate: m.LastBuildDate,
		PubDate:       m.PubDate,
		Extra:         m.Extra,
	}
}

func toStoreItem(it dialect.Item, item WorkItem, fetchedAt time.Time) database.Item {
	pubDate := fetchedAt
	if it.PubDate != nil {
		pubDate = *it.PubDate
	}

	var related []database.Link
	for _, l := range it.RelatedLinks() {
		related = append(related, database.Link{URL: l.URL, Title: l.Title})
	}

	return database.Item{
		FeedID:       item.FeedID,
		OwnerID:      item.OwnerID,
		GUID:         it.GUID,
		Title:        it.Title,
		Description:  it.Description,
		Link:         it.Link,
		Categories:   it.Categories,
		PubDate:      pubDate,
		Author:       it.Author,
		Creator:      it.Creator,
		Rights:       it.Rights,
		EnclosureURL: it.EnclosureURL,
		RelatedLinks: related,
		Extra:        it.Extra,
	}
}
