package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLite(filepath.Join(t.TempDir(), "feeds.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreateFeed(t *testing.T, store Store, feed Feed) int64 {
	t.Helper()

	id, err := store.CreateFeed(context.Background(), feed)
	if err != nil {
		t.Fatalf("CreateFeed() error = %v", err)
	}
	return id
}

func TestSQLiteCreateAndGetFeed(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	id := mustCreateFeed(t, store, Feed{
		OwnerID:         7,
		SourceURL:       "https://www.nu.nl/rss/Algemeen",
		RefreshInterval: 10 * time.Minute,
		CustomTitle:     "Nieuws",
	})

	feed, err := store.GetFeed(ctx, id)
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}
	if feed == nil {
		t.Fatal("expected feed, got nil")
	}
	if feed.OwnerID != 7 || feed.SourceURL != "https://www.nu.nl/rss/Algemeen" {
		t.Errorf("unexpected feed %+v", feed)
	}
	if feed.RefreshInterval != 10*time.Minute {
		t.Errorf("expected 10m refresh interval, got %s", feed.RefreshInterval)
	}
	if feed.NextScanAt != nil || feed.Terminated {
		t.Errorf("expected new feed to be due and active, got next=%v terminated=%v", feed.NextScanAt, feed.Terminated)
	}
	if feed.CustomTitle != "Nieuws" {
		t.Errorf("expected custom title 'Nieuws', got %q", feed.CustomTitle)
	}

	missing, err := store.GetFeed(ctx, id+100)
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing feed, got %+v", missing)
	}

	if _, err := store.CreateFeed(ctx, Feed{OwnerID: 1, SourceURL: "https://x", RefreshInterval: 0}); err == nil {
		t.Error("expected error for zero refresh interval")
	}
}

func TestSQLiteListDueFeeds(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	neverScanned := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://a.example/rss", RefreshInterval: time.Minute})
	overdue := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://b.example/rss", RefreshInterval: time.Minute, NextScanAt: &past})
	mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://c.example/rss", RefreshInterval: time.Minute, NextScanAt: &future})
	mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://d.example/rss", RefreshInterval: time.Minute, Terminated: true})
	exact := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://e.example/rss", RefreshInterval: time.Minute, NextScanAt: &now})

	feeds, err := store.ListDueFeeds(ctx, now)
	if err != nil {
		t.Fatalf("ListDueFeeds() error = %v", err)
	}

	got := make(map[int64]bool)
	for _, f := range feeds {
		got[f.ID] = true
		if !f.IsDue(now) {
			t.Errorf("feed %d returned but not due", f.ID)
		}
	}
	if len(feeds) != 3 || !got[neverScanned] || !got[overdue] || !got[exact] {
		t.Errorf("expected feeds %d, %d and %d to be due, got %v", neverScanned, overdue, exact, got)
	}
	if feeds[0].ID != neverScanned {
		t.Errorf("expected never-scanned feed first, got %d", feeds[0].ID)
	}
}

func TestSQLiteRescheduleIsCompareAndSet(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	id := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Minute})

	due, err := store.ListDueFeeds(ctx, now)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due feed, got %d (err %v)", len(due), err)
	}
	snapshot := due[0]

	won, err := store.Reschedule(ctx, snapshot, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if !won {
		t.Fatal("expected first reschedule to win")
	}

	// A second producer holding the same stale snapshot must not dispatch.
	won, err = store.Reschedule(ctx, snapshot, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if won {
		t.Error("expected stale reschedule to lose")
	}

	due, err = store.ListDueFeeds(ctx, now)
	if err != nil {
		t.Fatalf("ListDueFeeds() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due feeds after reschedule, got %d", len(due))
	}

	feed, _ := store.GetFeed(ctx, id)
	if feed.NextScanAt == nil || feed.NextScanAt.Before(now) {
		t.Errorf("expected next_scan_at in the future, got %v", feed.NextScanAt)
	}

	// Rescheduling from the fresh snapshot succeeds again.
	won, err = store.Reschedule(ctx, *feed, now.Add(2*time.Minute))
	if err != nil || !won {
		t.Errorf("expected reschedule from fresh snapshot to win, got %v (err %v)", won, err)
	}
}

func TestSQLiteRescheduleSkipsTerminated(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	id := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Minute})
	feed, _ := store.GetFeed(ctx, id)

	if err := store.Terminate(ctx, id); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	won, err := store.Reschedule(ctx, *feed, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if won {
		t.Error("expected reschedule of terminated feed to lose")
	}

	due, _ := store.ListDueFeeds(ctx, time.Now().Add(time.Hour))
	if len(due) != 0 {
		t.Errorf("terminated feed must never be due, got %d", len(due))
	}
}

func TestSQLiteInsertItemUniquePerOwner(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	feedA := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Minute})
	feedB := mustCreateFeed(t, store, Feed{OwnerID: 2, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Minute})
	pubDate := time.Date(2019, 3, 15, 17, 5, 0, 0, time.UTC)

	item := Item{
		FeedID:       feedA,
		OwnerID:      1,
		GUID:         "https://www.nu.nl/-/5784120/",
		Title:        "Headline",
		Link:         "https://www.nu.nl/buitenland/5784120/headline.html",
		Categories:   []string{"Buitenland", "Algemeen"},
		PubDate:      pubDate,
		Creator:      "NU.nl/ANP",
		EnclosureURL: "https://media.nu.nl/m/photo.jpg",
		RelatedLinks: []Link{{URL: "https://www.nu.nl/related", Title: defaultLinkTitle}},
		Extra:        map[string]string{"NSPL:section": "buitenland"},
	}

	tests := []struct {
		name string
		item Item
		want InsertResult
	}{
		{"first insert", item, Inserted},
		{"same guid same owner", item, AlreadyExists},
		{"same guid other owner", withOwner(item, feedB, 2), Inserted},
	}

	for _, tt := range tests {
		got, err := store.InsertItem(ctx, tt.item)
		if err != nil {
			t.Fatalf("%s: InsertItem() error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: InsertItem() = %v, want %v", tt.name, got, tt.want)
		}
	}

	items, err := store.ListItems(ctx, feedA, 10)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item for owner 1, got %d", len(items))
	}

	stored := items[0]
	if !stored.PubDate.Equal(pubDate) {
		t.Errorf("expected pub date %v, got %v", pubDate, stored.PubDate)
	}
	if len(stored.Categories) != 2 || stored.Categories[1] != "Algemeen" {
		t.Errorf("unexpected categories %v", stored.Categories)
	}
	if len(stored.RelatedLinks) != 1 || stored.RelatedLinks[0].URL != "https://www.nu.nl/related" {
		t.Errorf("unexpected related links %v", stored.RelatedLinks)
	}
	if stored.Extra["NSPL:section"] != "buitenland" {
		t.Errorf("unexpected extra %v", stored.Extra)
	}
	if stored.Favorite || stored.Read {
		t.Error("expected favorite and read to default to false")
	}
	if stored.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	count, err := store.CountItems(ctx, feedB)
	if err != nil || count != 1 {
		t.Errorf("expected 1 item for owner 2, got %d (err %v)", count, err)
	}
}

const defaultLinkTitle = "No title available for this link."

func withOwner(item Item, feedID, ownerID int64) Item {
	item.FeedID = feedID
	item.OwnerID = ownerID
	return item
}

func TestSQLiteUpsertFeedMetadataKeepsAbsentFields(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	id := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Minute})

	ttl := 60
	built := time.Date(2019, 3, 15, 18, 32, 44, 0, time.UTC)
	err := store.UpsertFeedMetadata(ctx, id, FeedMetadata{
		Title:         "NU - Algemeen",
		Description:   "Het laatste nieuws",
		SiteLink:      "https://www.nu.nl/algemeen",
		Language:      "nl-nl",
		TTL:           &ttl,
		LastBuildDate: &built,
		Extra:         map[string]string{"generator": "nu.nl"},
	})
	if err != nil {
		t.Fatalf("UpsertFeedMetadata() error = %v", err)
	}

	err = store.UpsertFeedMetadata(ctx, id, FeedMetadata{Title: "NU - Algemeen (2)"})
	if err != nil {
		t.Fatalf("UpsertFeedMetadata() error = %v", err)
	}

	feed, err := store.GetFeed(ctx, id)
	if err != nil {
		t.Fatalf("GetFeed() error = %v", err)
	}
	if feed.Title != "NU - Algemeen (2)" {
		t.Errorf("expected title to be overwritten, got %q", feed.Title)
	}
	if feed.Description != "Het laatste nieuws" || feed.Language != "nl-nl" {
		t.Errorf("expected absent fields to be kept, got %+v", feed)
	}
	if feed.SiteLink != "https://www.nu.nl/algemeen" || feed.SourceURL != "https://www.nu.nl/rss" {
		t.Errorf("site link must not replace source url: site=%q source=%q", feed.SiteLink, feed.SourceURL)
	}
	if feed.TTL == nil || *feed.TTL != 60 {
		t.Errorf("expected ttl 60, got %v", feed.TTL)
	}
	if feed.RefreshInterval != time.Minute {
		t.Errorf("ttl must not change refresh interval, got %s", feed.RefreshInterval)
	}
	if feed.LastBuildDate == nil || !feed.LastBuildDate.Equal(built) {
		t.Errorf("expected last build date %v, got %v", built, feed.LastBuildDate)
	}
	if feed.Extra["generator"] != "nu.nl" {
		t.Errorf("expected extra to be kept, got %v", feed.Extra)
	}
}

func TestSQLitePullNowAndResume(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	id := mustCreateFeed(t, store, Feed{OwnerID: 1, SourceURL: "https://www.nu.nl/rss", RefreshInterval: time.Hour, NextScanAt: &future})
	if err := store.Terminate(ctx, id); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	if err := store.PullNow(ctx, id); err != nil {
		t.Fatalf("PullNow() error = %v", err)
	}
	if due, _ := store.ListDueFeeds(ctx, time.Now()); len(due) != 0 {
		t.Errorf("terminated feed must stay idle after pull, got %d due", len(due))
	}

	if err := store.Resume(ctx, id); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	due, _ := store.ListDueFeeds(ctx, time.Now())
	if len(due) != 1 || due[0].ID != id {
		t.Errorf("expected resumed feed to be due, got %v", due)
	}

	counts, err := store.CountFeeds(ctx, time.Now())
	if err != nil {
		t.Fatalf("CountFeeds() error = %v", err)
	}
	if counts != (FeedCounts{Total: 1, Terminated: 0, Due: 1}) {
		t.Errorf("unexpected counts %+v", counts)
	}

	if err := store.PullNow(ctx, id+1); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("mysql", ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
