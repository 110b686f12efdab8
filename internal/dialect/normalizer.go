package dialect

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"
)

// UnknownNamespacePrefix is given to elements whose namespace is not in the
// publisher's table, so they cannot collide with known tags.
const UnknownNamespacePrefix = "NSPL"

var (
	ErrUnsupported = errors.New("unsupported publisher")
	ErrMalformed   = errors.New("malformed feed document")
	ErrCoercion    = errors.New("uncoercible value")
)

var (
	feedburnerLabel     = regexp.MustCompile(`^.*: `)
	feedburnerSeparator = regexp.MustCompile(` / `)
)

// Normalizer turns publisher XML into canonical records. It holds no state
// besides the registry and is safe for concurrent use.
type Normalizer struct {
	registry *Registry
}

func NewNormalizer(registry *Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize parses raw using the rules registered for publisherKey.
// It returns ErrUnsupported for unknown publishers, and errors wrapping
// ErrMalformed or ErrCoercion when the document cannot be normalized.
func (n *Normalizer) Normalize(raw []byte, publisherKey string) (*Feed, error) {
	rules, ok := n.registry.Lookup(publisherKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, publisherKey)
	}

	if rules.Format == FormatRSS {
		if ft := gofeed.DetectFeedType(bytes.NewReader(raw)); ft != gofeed.FeedTypeRSS {
			return nil, fmt.Errorf("%w: expected RSS document", ErrMalformed)
		}
	}

	root, err := parseTree(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(root.children) == 0 {
		return nil, fmt.Errorf("%w: document has no channel", ErrMalformed)
	}

	return normalizeChannel(root.children[0], rules)
}

func normalizeChannel(channel *element, rules *Rules) (*Feed, error) {
	feed := &Feed{}
	meta := &feed.Metadata

	for _, child := range channel.children {
		tag := child.qualifiedName(rules)

		if tag == "item" {
			item, err := normalizeItem(child, rules)
			if err != nil {
				return nil, err
			}
			if item.GUID == "" {
				feed.Skipped++
				continue
			}
			feed.Items = append(feed.Items, item)
			continue
		}

		tag, keep := rules.Channel.apply(tag)
		if !keep {
			continue
		}

		switch tag {
		case "last_build_date", "pub_date":
			t, err := parseDate(rules.DateLayout, tag, child.text)
			if err != nil {
				return nil, err
			}
			if tag == "pub_date" {
				meta.PubDate = &t
			} else {
				meta.LastBuildDate = &t
			}
		case "ttl":
			ttl, err := strconv.Atoi(child.text)
			if err != nil {
				return nil, fmt.Errorf("%w: ttl %q", ErrCoercion, child.text)
			}
			meta.TTL = &ttl
		case "image":
			if child.text == "" {
				meta.Image = child.childText("url")
			} else {
				meta.Image = child.text
			}
		case "title":
			meta.Title = child.text
		case "description":
			meta.Description = child.text
		case "link":
			meta.Link = child.text
		case "language":
			meta.Language = child.text
		case "copyright":
			meta.Copyright = child.text
		case "docs":
			meta.Docs = child.text
		case "web_master":
			meta.WebMaster = child.text
		default:
			meta.Extra = setExtra(meta.Extra, tag, child.text)
		}
	}

	return feed, nil
}

func normalizeItem(el *element, rules *Rules) (Item, error) {
	item := Item{}

	for _, child := range el.children {
		tag, keep := rules.Item.apply(child.qualifiedName(rules))
		if !keep {
			continue
		}

		switch {
		case tag == "pub_date":
			t, err := parseDate(rules.DateLayout, tag, child.text)
			if err != nil {
				return Item{}, err
			}
			item.PubDate = &t
		case tag == "category":
			item.Categories = append(item.Categories, splitCategories(rules.CategorySplit, child.text)...)
		case tag == "enclosure":
			url, ok := child.attr("url")
			if !ok {
				return Item{}, fmt.Errorf("%w: enclosure without url", ErrCoercion)
			}
			item.EnclosureURL = url
		case tag == "links" && child.text == "":
			href, ok := child.attr("href")
			if !ok {
				return Item{}, fmt.Errorf("%w: link without href", ErrCoercion)
			}
			rel, ok := child.attr("rel")
			if !ok {
				rel = "alternate"
			}
			title, ok := child.attr("title")
			if !ok {
				title = DefaultLinkTitle
			}
			if item.LinkGroups == nil {
				item.LinkGroups = make(map[string][]Link)
			}
			item.LinkGroups[rel] = append(item.LinkGroups[rel], Link{URL: href, Title: title})
		case tag == "title":
			item.Title = child.text
		case tag == "description":
			item.Description = child.text
		case tag == "link":
			item.Link = child.text
		case tag == "guid":
			item.GUID = child.text
		case tag == "author":
			item.Author = child.text
		case tag == "creator":
			item.Creator = child.text
		case tag == "rights":
			item.Rights = child.text
		default:
			item.Extra = setExtra(item.Extra, tag, child.text)
		}
	}

	if item.GUID == "" {
		item.GUID = item.Link
	}

	return item, nil
}

func parseDate(layout, field, value string) (time.Time, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %v", ErrCoercion, field, value, err)
	}
	return t, nil
}

func splitCategories(mode, text string) []string {
	var parts []string
	switch mode {
	case SplitFeedburner:
		cleaned := feedburnerLabel.ReplaceAllString(text, "")
		cleaned = feedburnerSeparator.ReplaceAllString(cleaned, "/")
		parts = strings.Split(cleaned, "/")
	default:
		parts = []string{text}
	}

	categories := make([]string, 0, len(parts))
	for _, p := range parts {
		p = norm.NFC.String(strings.TrimSpace(p))
		if p != "" {
			categories = append(categories, p)
		}
	}
	return categories
}

func setExtra(extra map[string]string, tag, value string) map[string]string {
	if extra == nil {
		extra = make(map[string]string)
	}
	extra[tag] = value
	return extra
}

type element struct {
	name     xml.Name
	attrs    []xml.Attr
	text     string
	children []*element
}

func (e *element) qualifiedName(rules *Rules) string {
	if e.name.Space == "" {
		return e.name.Local
	}
	return rules.prefix(e.name.Space) + ":" + e.name.Local
}

func (e *element) attr(local string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (e *element) childText(local string) string {
	for _, c := range e.children {
		if c.name.Local == local {
			return c.text
		}
	}
	return ""
}

func parseTree(raw []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *element
		stack []*element
		texts []*strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else if root == nil {
				root = el
			} else {
				return nil, fmt.Errorf("multiple root elements")
			}
			stack = append(stack, el)
			texts = append(texts, &strings.Builder{})
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		case xml.EndElement:
			el := stack[len(stack)-1]
			el.text = strings.TrimSpace(texts[len(texts)-1].String())
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		}
	}

	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}
