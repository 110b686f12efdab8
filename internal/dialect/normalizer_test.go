package dialect

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	return NewNormalizer(registry)
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestNormalizeNuAlgemeen(t *testing.T) {
	n := newTestNormalizer(t)

	feed, err := n.Normalize(readFixture(t, "nu_algemeen.xml"), "www.nu.nl")
	if err != nil {
		t.Fatal(err)
	}

	meta := feed.Metadata
	if meta.Title != "NU - Algemeen" {
		t.Errorf("Expected title 'NU - Algemeen', got '%s'", meta.Title)
	}
	if meta.Link != "https://www.nu.nl/algemeen" {
		t.Errorf("Expected link 'https://www.nu.nl/algemeen', got '%s'", meta.Link)
	}
	if meta.TTL == nil || *meta.TTL != 60 {
		t.Errorf("Expected ttl 60, got %v", meta.TTL)
	}
	if meta.Language != "nl-nl" {
		t.Errorf("Expected language 'nl-nl', got '%s'", meta.Language)
	}
	if meta.Image != "https://www.nu.nl/static/img/atoms/images/logos/rss-logo-250x40.png" {
		t.Errorf("Expected atom:logo to become image, got '%s'", meta.Image)
	}
	expectedBuild := time.Date(2019, 3, 15, 17, 32, 44, 0, time.UTC)
	if meta.LastBuildDate == nil || !meta.LastBuildDate.Equal(expectedBuild) {
		t.Errorf("Expected last build date %v, got %v", expectedBuild, meta.LastBuildDate)
	}
	if _, ok := meta.Extra["atom:link"]; ok {
		t.Error("Expected channel atom:link to be discarded")
	}

	if len(feed.Items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(feed.Items))
	}
	for i, item := range feed.Items {
		if item.PubDate == nil {
			t.Errorf("Item %d: expected pub date", i)
		}
		if len(item.Categories) == 0 {
			t.Errorf("Item %d: expected categories", i)
		}
	}

	first := feed.Items[0]
	if first.GUID != "https://www.nu.nl/-/5779601/" {
		t.Errorf("Expected guid 'https://www.nu.nl/-/5779601/', got '%s'", first.GUID)
	}
	if !reflect.DeepEqual(first.Categories, []string{"Buitenland", "Algemeen"}) {
		t.Errorf("Expected categories [Buitenland Algemeen], got %v", first.Categories)
	}
	expectedPub := time.Date(2019, 3, 15, 17, 20, 10, 0, time.UTC)
	if !first.PubDate.Equal(expectedPub) {
		t.Errorf("Expected pub date %v, got %v", expectedPub, first.PubDate)
	}
	if first.EnclosureURL != "https://media.nu.nl/m/m1nxf2xa.jpg" {
		t.Errorf("Expected enclosure url from attribute, got '%s'", first.EnclosureURL)
	}
	if first.Creator != "NU.nl/ANP" {
		t.Errorf("Expected creator 'NU.nl/ANP', got '%s'", first.Creator)
	}
	if first.Rights != "copyright photo: AFP" {
		t.Errorf("Expected rights 'copyright photo: AFP', got '%s'", first.Rights)
	}

	expectedLinks := []Link{
		{URL: "https://www.nu.nl/buitenland/5779520/eerder.html", Title: "Eerder bericht"},
		{URL: "https://www.nu.nl/buitenland/5779521/achtergrond.html", Title: DefaultLinkTitle},
	}
	if !reflect.DeepEqual(first.RelatedLinks(), expectedLinks) {
		t.Errorf("Expected related links %v, got %v", expectedLinks, first.RelatedLinks())
	}
	if first.Extra[UnknownNamespacePrefix+":section"] != "buitenland" {
		t.Errorf("Expected unknown namespace element under sentinel prefix, got %v", first.Extra)
	}

	if _, ok := feed.Items[2].Extra["media:content"]; !ok {
		t.Errorf("Expected media:content to be preserved, got %v", feed.Items[2].Extra)
	}
}

func TestNormalizeFeedburnerTweakers(t *testing.T) {
	n := newTestNormalizer(t)

	feed, err := n.Normalize(readFixture(t, "feedburner_tweakers_mixed.xml"), "feeds.feedburner.com")
	if err != nil {
		t.Fatal(err)
	}

	meta := feed.Metadata
	if meta.Title != "Tweakers Mixed RSS Feed" {
		t.Errorf("Expected title 'Tweakers Mixed RSS Feed', got '%s'", meta.Title)
	}
	if meta.Link != "https://tweakers.net/" {
		t.Errorf("Expected link 'https://tweakers.net/', got '%s'", meta.Link)
	}
	if meta.WebMaster != "gathering@tweakers.net (Tweakers)" {
		t.Errorf("Expected web master, got '%s'", meta.WebMaster)
	}
	if meta.Image != "https://tweakers.net/g/if/logo.gif" {
		t.Errorf("Expected image url from child element, got '%s'", meta.Image)
	}
	if len(meta.Extra) != 0 {
		t.Errorf("Expected discarded channel tags to leave no extras, got %v", meta.Extra)
	}

	if len(feed.Items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(feed.Items))
	}

	expectedCategories := [][]string{
		{"Games", "Software"},
		{"Telefonie", "Smartphones"},
		{"Software"},
	}
	for i, item := range feed.Items {
		if !reflect.DeepEqual(item.Categories, expectedCategories[i]) {
			t.Errorf("Item %d: expected categories %v, got %v", i, expectedCategories[i], item.Categories)
		}
		if item.PubDate == nil {
			t.Errorf("Item %d: expected pub date", i)
		}
		if _, ok := item.Extra["comments"]; ok {
			t.Errorf("Item %d: expected comments to be discarded", i)
		}
	}

	first := feed.Items[0]
	if first.Author != "Redactie" {
		t.Errorf("Expected author 'Redactie', got '%s'", first.Author)
	}
	if first.Extra["feedburner:origLink"] != "https://tweakers.net/nieuws/150000/nintendo.html" {
		t.Errorf("Expected feedburner:origLink extra, got %v", first.Extra)
	}
	expectedPub := time.Date(2019, 3, 15, 17, 20, 0, 0, time.UTC)
	if !first.PubDate.Equal(expectedPub) {
		t.Errorf("Expected pub date %v, got %v", expectedPub, first.PubDate)
	}
}

func TestNormalizeUnsupportedPublisher(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize(readFixture(t, "nu_algemeen.xml"), "example.com")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if _, err := n.Normalize(readFixture(t, "nu_algemeen.xml"), "WWW.NU.NL"); err != nil {
		t.Errorf("Expected publisher lookup to ignore case, got %v", err)
	}
}

func TestNormalizeErrors(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name     string
		document string
		want     error
	}{
		{
			name:     "truncated document",
			document: `<?xml version="1.0"?><rss version="2.0"><channel><title>Broken</title>`,
			want:     ErrMalformed,
		},
		{
			name:     "not a feed",
			document: `<html><body>This is not a feed</body></html>`,
			want:     ErrMalformed,
		},
		{
			name: "atom document",
			document: `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Atom</title></feed>`,
			want: ErrMalformed,
		},
		{
			name:     "rss without channel",
			document: `<?xml version="1.0"?><rss version="2.0"></rss>`,
			want:     ErrMalformed,
		},
		{
			name:     "unparsable item date",
			document: channelWith(`<item><guid>a</guid><pubDate>yesterday</pubDate></item>`),
			want:     ErrCoercion,
		},
		{
			name:     "unparsable channel date",
			document: channelWith(`<lastBuildDate>2019-03-15</lastBuildDate>`),
			want:     ErrCoercion,
		},
		{
			name:     "non numeric ttl",
			document: channelWith(`<ttl>hourly</ttl>`),
			want:     ErrCoercion,
		},
		{
			name:     "enclosure without url",
			document: channelWith(`<item><guid>a</guid><enclosure type="image/jpeg"/></item>`),
			want:     ErrCoercion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tt.document), "www.nu.nl")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func channelWith(body string) string {
	return `<?xml version="1.0"?>
<rss version="2.0" xmlns:x="urn:example:other">
  <channel>
    <title>Minimal</title>
    ` + body + `
  </channel>
</rss>`
}

func TestNormalizeUnknownNamespaceDoesNotCollide(t *testing.T) {
	n := newTestNormalizer(t)

	doc := channelWith(`<item>
      <title>Real title</title>
      <x:title>Other title</x:title>
      <guid>item-1</guid>
    </item>`)

	feed, err := n.Normalize([]byte(doc), "www.nu.nl")
	if err != nil {
		t.Fatal(err)
	}

	item := feed.Items[0]
	if item.Title != "Real title" {
		t.Errorf("Expected title 'Real title', got '%s'", item.Title)
	}
	if item.Extra[UnknownNamespacePrefix+":title"] != "Other title" {
		t.Errorf("Expected foreign title under sentinel prefix, got %v", item.Extra)
	}
}

func TestNormalizeGUIDFallback(t *testing.T) {
	n := newTestNormalizer(t)

	doc := channelWith(`<item><title>Only link</title><link>https://www.nu.nl/a.html</link></item>
    <item><title>Nothing to identify</title></item>
    <item><title>Guid</title><guid>g-1</guid><link>https://www.nu.nl/b.html</link></item>`)

	feed, err := n.Normalize([]byte(doc), "www.nu.nl")
	if err != nil {
		t.Fatal(err)
	}

	if len(feed.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(feed.Items))
	}
	if feed.Skipped != 1 {
		t.Errorf("Expected 1 skipped item, got %d", feed.Skipped)
	}
	if feed.Items[0].GUID != "https://www.nu.nl/a.html" {
		t.Errorf("Expected guid to fall back to link, got '%s'", feed.Items[0].GUID)
	}
	if feed.Items[1].GUID != "g-1" {
		t.Errorf("Expected guid 'g-1', got '%s'", feed.Items[1].GUID)
	}
}

func TestNormalizeDeclaredCharset(t *testing.T) {
	n := newTestNormalizer(t)

	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<rss version=\"2.0\"><channel><title>Caf\xe9</title></channel></rss>"

	feed, err := n.Normalize([]byte(doc), "www.nu.nl")
	if err != nil {
		t.Fatal(err)
	}
	if feed.Metadata.Title != "Café" {
		t.Errorf("Expected decoded title 'Café', got %q", feed.Metadata.Title)
	}
}

func TestSplitCategories(t *testing.T) {
	tests := []struct {
		mode     string
		text     string
		expected []string
	}{
		{SplitNone, "Algemeen", []string{"Algemeen"}},
		{SplitNone, "  Binnenland  ", []string{"Binnenland"}},
		{SplitNone, "", []string{}},
		{SplitFeedburner, "Nieuws: Games / Software", []string{"Games", "Software"}},
		{SplitFeedburner, "Meuktracker: Software", []string{"Software"}},
		{SplitFeedburner, "Hardware", []string{"Hardware"}},
		{SplitFeedburner, "Nieuws: Café", []string{"Café"}},
	}

	for _, tt := range tests {
		got := splitCategories(tt.mode, tt.text)
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("splitCategories(%q, %q) = %v, expected %v", tt.mode, tt.text, got, tt.expected)
		}
	}
}
