package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps a single connection so writes from workers serialize in
// the pool instead of failing with SQLITE_BUSY. Times are unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens or creates the database file at path and applies migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	version, dirty, err := RunMigrations(db, DriverSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Database ready", "driver", DriverSQLite, "path", path, "schema_version", version, "dirty", dirty)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DatabaseType() string {
	return "SQLite"
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

const sqliteFeedColumns = `id, owner_id, source_url, refresh_interval, next_scan_at, terminated,
	COALESCE(custom_title, ''), COALESCE(title, ''), COALESCE(description, ''), COALESCE(site_link, ''),
	COALESCE(language, ''), COALESCE(copyright, ''), COALESCE(image, ''), COALESCE(docs, ''),
	COALESCE(web_master, ''), ttl, last_build_date, pub_date, extra, created_at, updated_at`

func scanSQLiteFeed(row interface{ Scan(...any) error }) (Feed, error) {
	var (
		feed          Feed
		intervalSecs  int64
		nextScanAt    sql.NullInt64
		ttl           sql.NullInt64
		lastBuildDate sql.NullInt64
		pubDate       sql.NullInt64
		extra         sql.NullString
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(
		&feed.ID, &feed.OwnerID, &feed.SourceURL, &intervalSecs, &nextScanAt, &feed.Terminated,
		&feed.CustomTitle, &feed.Title, &feed.Description, &feed.SiteLink,
		&feed.Language, &feed.Copyright, &feed.Image, &feed.Docs,
		&feed.WebMaster, &ttl, &lastBuildDate, &pubDate, &extra, &createdAt, &updatedAt,
	)
	if err != nil {
		return Feed{}, err
	}

	feed.RefreshInterval = time.Duration(intervalSecs) * time.Second
	feed.NextScanAt = fromMillis(nextScanAt)
	feed.TTL = intPtr(ttl)
	feed.LastBuildDate = fromMillis(lastBuildDate)
	feed.PubDate = fromMillis(pubDate)
	feed.CreatedAt = time.UnixMilli(createdAt)
	feed.UpdatedAt = time.UnixMilli(updatedAt)
	if err := decodeJSON(extra, &feed.Extra); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

func (s *SQLiteStore) ListDueFeeds(ctx context.Context, now time.Time) ([]Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteFeedColumns+`
		FROM feeds
		WHERE terminated = 0
		  AND (next_scan_at IS NULL OR next_scan_at <= ?)
		ORDER BY next_scan_at IS NOT NULL, next_scan_at, id
		LIMIT ?
	`, now.UnixMilli(), dueFeedsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanSQLiteFeed(rows)
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

func (s *SQLiteStore) Reschedule(ctx context.Context, feed Feed, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET next_scan_at = ?, updated_at = ?
		WHERE id = ?
		  AND terminated = 0
		  AND next_scan_at IS ?
	`, next.UnixMilli(), time.Now().UnixMilli(), feed.ID, toMillis(feed.NextScanAt))
	if err != nil {
		return false, fmt.Errorf("failed to reschedule feed %d: %w", feed.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reschedule result: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Terminate(ctx context.Context, feedID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET terminated = 1, updated_at = ? WHERE id = ?
	`, time.Now().UnixMilli(), feedID)
	if err != nil {
		return fmt.Errorf("failed to terminate feed %d: %w", feedID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertFeedMetadata(ctx context.Context, feedID int64, meta FeedMetadata) error {
	extra, err := jsonMapColumn(meta.Extra)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE feeds
		SET title           = COALESCE(?, title),
		    description     = COALESCE(?, description),
		    site_link       = COALESCE(?, site_link),
		    language        = COALESCE(?, language),
		    copyright       = COALESCE(?, copyright),
		    image           = COALESCE(?, image),
		    docs            = COALESCE(?, docs),
		    web_master      = COALESCE(?, web_master),
		    ttl             = COALESCE(?, ttl),
		    last_build_date = COALESCE(?, last_build_date),
		    pub_date        = COALESCE(?, pub_date),
		    extra           = COALESCE(?, extra),
		    updated_at      = ?
		WHERE id = ?
	`,
		nullString(meta.Title), nullString(meta.Description), nullString(meta.SiteLink),
		nullString(meta.Language), nullString(meta.Copyright), nullString(meta.Image),
		nullString(meta.Docs), nullString(meta.WebMaster), nullInt(meta.TTL),
		toMillis(meta.LastBuildDate), toMillis(meta.PubDate), extra,
		time.Now().UnixMilli(), feedID,
	)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertItem(ctx context.Context, item Item) (InsertResult, error) {
	categories := item.Categories
	if categories == nil {
		categories = []string{}
	}
	encodedCategories, err := json.Marshal(categories)
	if err != nil {
		return 0, fmt.Errorf("failed to encode categories: %w", err)
	}
	related, err := jsonColumn(item.RelatedLinks)
	if err != nil {
		return 0, err
	}
	extra, err := jsonMapColumn(item.Extra)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_items (
			feed_id, owner_id, guid, title, description, link, categories, pub_date,
			author, creator, rights, enclosure_url, related_links, extra, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid, owner_id) DO NOTHING
	`, item.FeedID, item.OwnerID, item.GUID, nullString(item.Title), nullString(item.Description),
		nullString(item.Link), string(encodedCategories), item.PubDate.UnixMilli(),
		nullString(item.Author), nullString(item.Creator), nullString(item.Rights),
		nullString(item.EnclosureURL), related, extra, time.Now().UnixMilli(),
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

func (s *SQLiteStore) CreateFeed(ctx context.Context, feed Feed) (int64, error) {
	if feed.RefreshInterval < time.Second {
		return 0, fmt.Errorf("refresh interval must be at least 1s, got %s", feed.RefreshInterval)
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (owner_id, source_url, refresh_interval, next_scan_at, terminated, custom_title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, feed.OwnerID, feed.SourceURL, int64(feed.RefreshInterval/time.Second),
		toMillis(feed.NextScanAt), feed.Terminated, nullString(feed.CustomTitle), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create feed: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetFeed(ctx context.Context, feedID int64) (*Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteFeedColumns+` FROM feeds WHERE id = ?`, feedID)

	feed, err := scanSQLiteFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed %d: %w", feedID, err)
	}
	return &feed, nil
}

func (s *SQLiteStore) PullNow(ctx context.Context, feedID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET next_scan_at = NULL, updated_at = ? WHERE id = ?
	`, time.Now().UnixMilli(), feedID)
	if err != nil {
		return fmt.Errorf("failed to pull feed %d: %w", feedID, err)
	}
	return expectOneRow(res, feedID)
}

func (s *SQLiteStore) Resume(ctx context.Context, feedID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET terminated = 0, updated_at = ? WHERE id = ?
	`, time.Now().UnixMilli(), feedID)
	if err != nil {
		return fmt.Errorf("failed to resume feed %d: %w", feedID, err)
	}
	return expectOneRow(res, feedID)
}

func (s *SQLiteStore) ListItems(ctx context.Context, feedID int64, limit int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_id, owner_id, guid, COALESCE(title, ''), COALESCE(description, ''),
		       COALESCE(link, ''), categories, pub_date, COALESCE(author, ''), COALESCE(creator, ''),
		       COALESCE(rights, ''), COALESCE(enclosure_url, ''), related_links, extra,
		       favorite, read, created_at
		FROM feed_items
		WHERE feed_id = ?
		ORDER BY id
		LIMIT ?
	`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item       Item
			categories sql.NullString
			pubDate    int64
			related    sql.NullString
			extra      sql.NullString
			createdAt  int64
		)
		err := rows.Scan(
			&item.ID, &item.FeedID, &item.OwnerID, &item.GUID, &item.Title, &item.Description,
			&item.Link, &categories, &pubDate, &item.Author, &item.Creator,
			&item.Rights, &item.EnclosureURL, &related, &extra,
			&item.Favorite, &item.Read, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		item.PubDate = time.UnixMilli(pubDate)
		item.CreatedAt = time.UnixMilli(createdAt)
		if err := decodeJSON(categories, &item.Categories); err != nil {
			return nil, err
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

func (s *SQLiteStore) CountItems(ctx context.Context, feedID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_items WHERE feed_id = ?`, feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountFeeds(ctx context.Context, now time.Time) (FeedCounts, error) {
	var counts FeedCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(terminated), 0),
		       COALESCE(SUM(CASE WHEN terminated = 0 AND (next_scan_at IS NULL OR next_scan_at <= ?) THEN 1 ELSE 0 END), 0)
		FROM feeds
	`, now.UnixMilli()).Scan(&counts.Total, &counts.Terminated, &counts.Due)
	if err != nil {
		return FeedCounts{}, fmt.Errorf("failed to count feeds: %w", err)
	}
	return counts, nil
}
