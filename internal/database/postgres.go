package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres opens a PostgreSQL connection pool and applies migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	version, dirty, err := RunMigrations(db, DriverPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Database ready", "driver", DriverPostgres, "schema_version", version, "dirty", dirty)

	return NewPostgresFromDB(db), nil
}

// NewPostgresFromDB wraps an already opened pool without migrating it.
func NewPostgresFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) DatabaseType() string {
	return "PostgreSQL"
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const pgFeedColumns = `id, owner_id, source_url, refresh_interval, next_scan_at, terminated,
	COALESCE(custom_title, ''), COALESCE(title, ''), COALESCE(description, ''), COALESCE(site_link, ''),
	COALESCE(language, ''), COALESCE(copyright, ''), COALESCE(image, ''), COALESCE(docs, ''),
	COALESCE(web_master, ''), ttl, last_build_date, pub_date, extra, created_at, updated_at`

func scanPgFeed(row interface{ Scan(...any) error }) (Feed, error) {
	var (
		feed          Feed
		intervalSecs  int64
		nextScanAt    sql.NullTime
		ttl           sql.NullInt64
		lastBuildDate sql.NullTime
		pubDate       sql.NullTime
		extra         sql.NullString
	)
	err := row.Scan(
		&feed.ID, &feed.OwnerID, &feed.SourceURL, &intervalSecs, &nextScanAt, &feed.Terminated,
		&feed.CustomTitle, &feed.Title, &feed.Description, &feed.SiteLink,
		&feed.Language, &feed.Copyright, &feed.Image, &feed.Docs,
		&feed.WebMaster, &ttl, &lastBuildDate, &pubDate, &extra, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return Feed{}, err
	}

	feed.RefreshInterval = time.Duration(intervalSecs) * time.Second
	feed.NextScanAt = timePtr(nextScanAt)
	feed.TTL = intPtr(ttl)
	feed.LastBuildDate = timePtr(lastBuildDate)
	feed.PubDate = timePtr(pubDate)
	if err := decodeJSON(extra, &feed.Extra); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

func (s *PostgresStore) ListDueFeeds(ctx context.Context, now time.Time) ([]Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgFeedColumns+`
		FROM feeds
		WHERE terminated = FALSE
		  AND (next_scan_at IS NULL OR next_scan_at <= $1)
		ORDER BY next_scan_at NULLS FIRST, id
		LIMIT $2
	`, now, dueFeedsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanPgFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feed rows: %w", err)
	}

	return feeds, nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, feed Feed, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET next_scan_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND terminated = FALSE
		  AND next_scan_at IS NOT DISTINCT FROM $3
	`, feed.ID, next, feed.NextScanAt)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule feed %d: %w", feed.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reschedule result: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Terminate(ctx context.Context, feedID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET terminated = TRUE, updated_at = NOW() WHERE id = $1
	`, feedID)
	if err != nil {
		return fmt.Errorf("failed to terminate feed %d: %w", feedID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertFeedMetadata(ctx context.Context, feedID int64, meta FeedMetadata) error {
	extra, err := jsonMapColumn(meta.Extra)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE feeds
		SET title           = COALESCE($2, title),
		    description     = COALESCE($3, description),
		    site_link       = COALESCE($4, site_link),
		    language        = COALESCE($5, language),
		    copyright       = COALESCE($6, copyright),
		    image           = COALESCE($7, image),
		    docs            = COALESCE($8, docs),
		    web_master      = COALESCE($9, web_master),
		    ttl             = COALESCE($10, ttl),
		    last_build_date = COALESCE($11, last_build_date),
		    pub_date        = COALESCE($12, pub_date),
		    extra           = COALESCE($13::jsonb, extra),
		    updated_at      = NOW()
		WHERE id = $1
	`, feedID,
		nullString(meta.Title), nullString(meta.Description), nullString(meta.SiteLink),
		nullString(meta.Language), nullString(meta.Copyright), nullString(meta.Image),
		nullString(meta.Docs), nullString(meta.WebMaster), nullInt(meta.TTL),
		meta.LastBuildDate, meta.PubDate, extra,
	)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, item Item) (InsertResult, error) {
	related, err := jsonColumn(item.RelatedLinks)
	if err != nil {
		return 0, err
	}
	extra, err := jsonMapColumn(item.Extra)
	if err != nil {
		return 0, err
	}
	categories := item.Categories
	if categories == nil {
		categories = []string{}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_items (
			feed_id, owner_id, guid, title, description, link, categories, pub_date,
			author, creator, rights, enclosure_url, related_links, extra
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (guid, owner_id) DO NOTHING
	`, item.FeedID, item.OwnerID, item.GUID, nullString(item.Title), nullString(item.Description),
		nullString(item.Link), pq.Array(categories), item.PubDate,
		nullString(item.Author), nullString(item.Creator), nullString(item.Rights),
		nullString(item.EnclosureURL), related, extra,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item %q: %w", item.GUID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (s *PostgresStore) CreateFeed(ctx context.Context, feed Feed) (int64, error) {
	if feed.RefreshInterval < time.Second {
		return 0, fmt.Errorf("refresh interval must be at least 1s, got %s", feed.RefreshInterval)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feeds (owner_id, source_url, refresh_interval, next_scan_at, terminated, custom_title)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, feed.OwnerID, feed.SourceURL, int64(feed.RefreshInterval/time.Second),
		feed.NextScanAt, feed.Terminated, nullString(feed.CustomTitle),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetFeed(ctx context.Context, feedID int64) (*Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgFeedColumns+` FROM feeds WHERE id = $1`, feedID)

	feed, err := scanPgFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed %d: %w", feedID, err)
	}
	return &feed, nil
}

func (s *PostgresStore) PullNow(ctx context.Context, feedID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET next_scan_at = NULL, updated_at = NOW() WHERE id = $1
	`, feedID)
	if err != nil {
		return fmt.Errorf("failed to pull feed %d: %w", feedID, err)
	}
	return expectOneRow(res, feedID)
}

func (s *PostgresStore) Resume(ctx context.Context, feedID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET terminated = FALSE, updated_at = NOW() WHERE id = $1
	`, feedID)
	if err != nil {
		return fmt.Errorf("failed to resume feed %d: %w", feedID, err)
	}
	return expectOneRow(res, feedID)
}

func (s *PostgresStore) ListItems(ctx context.Context, feedID int64, limit int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_id, owner_id, guid, COALESCE(title, ''), COALESCE(description, ''),
		       COALESCE(link, ''), categories, pub_date, COALESCE(author, ''), COALESCE(creator, ''),
		       COALESCE(rights, ''), COALESCE(enclosure_url, ''), related_links, extra,
		       favorite, read, created_at
		FROM feed_items
		WHERE feed_id = $1
		ORDER BY id
		LIMIT $2
	`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item    Item
			related sql.NullString
			extra   sql.NullString
		)
		err := rows.Scan(
			&item.ID, &item.FeedID, &item.OwnerID, &item.GUID, &item.Title, &item.Description,
			&item.Link, pq.Array(&item.Categories), &item.PubDate, &item.Author, &item.Creator,
			&item.Rights, &item.EnclosureURL, &related, &extra,
			&item.Favorite, &item.Read, &item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		if err := decodeJSON(related, &item.RelatedLinks); err != nil {
			return nil, err
		}
		if err := decodeJSON(extra, &item.Extra); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) CountItems(ctx context.Context, feedID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_items WHERE feed_id = $1`, feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountFeeds(ctx context.Context, now time.Time) (FeedCounts, error) {
	var counts FeedCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE terminated),
		       COUNT(*) FILTER (WHERE NOT terminated AND (next_scan_at IS NULL OR next_scan_at <= $1))
		FROM feeds
	`, now).Scan(&counts.Total, &counts.Terminated, &counts.Due)
	if err != nil {
		return FeedCounts{}, fmt.Errorf("failed to count feeds: %w", err)
	}
	return counts, nil
}

func expectOneRow(res sql.Result, feedID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
	}
	return nil
}
