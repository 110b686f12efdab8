package dialect

import (
	"fmt"
	"slices"
)

const (
	FormatRSS = "rss"

	SplitNone       = ""
	SplitFeedburner = "feedburner"
)

// Rules is the declarative rule set of one publisher.
type Rules struct {
	Format        string            `yaml:"format"`
	DateLayout    string            `yaml:"date_layout"`
	CategorySplit string            `yaml:"category_split"`
	Namespaces    map[string]string `yaml:"namespaces"` // namespace URI -> prefix
	Channel       ScopeRules        `yaml:"channel"`
	Item          ScopeRules        `yaml:"item"`
}

// ScopeRules renames and discards tags within the channel or an item.
type ScopeRules struct {
	Rename  map[string]string `yaml:"rename"`
	Discard []string          `yaml:"discard"`
}

func (s ScopeRules) apply(tag string) (string, bool) {
	if renamed, ok := s.Rename[tag]; ok {
		tag = renamed
	}
	return tag, !slices.Contains(s.Discard, tag)
}

func (r *Rules) prefix(namespace string) string {
	if p, ok := r.Namespaces[namespace]; ok {
		return p
	}
	return UnknownNamespacePrefix
}

func (r *Rules) validate() error {
	if r.DateLayout == "" {
		return fmt.Errorf("date_layout is required")
	}
	switch r.Format {
	case "", FormatRSS:
	default:
		return fmt.Errorf("unsupported format %q", r.Format)
	}
	switch r.CategorySplit {
	case SplitNone, SplitFeedburner:
	default:
		return fmt.Errorf("unsupported category_split %q", r.CategorySplit)
	}
	for uri, p := range r.Namespaces {
		if p == "" {
			return fmt.Errorf("namespace %q has an empty prefix", uri)
		}
	}
	return nil
}
