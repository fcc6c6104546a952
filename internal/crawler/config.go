package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Selectors locate the parts of a listing page the crawler reads.
type Selectors struct {
	// Item matches one listing element.
	Item string
	// IdentifierAttr is the attribute on the item element holding its stable ID.
	IdentifierAttr string
	// Title and Price are resolved relative to the item element.
	Title string
	Price string
	// NextDisabled matches the next-page control in its disabled state.
	NextDisabled string
	// NextLink matches the enabled next-page anchor.
	NextLink string
}

// DefaultSelectors returns the selectors for an Amazon search results page.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:           "div[data-uuid].s-result-item",
		IdentifierAttr: "data-uuid",
		Title:          "h2 > a > span",
		Price:          ".a-price > span",
		NextDisabled:   ".s-pagination-next.s-pagination-disabled",
		NextLink:       "a.s-pagination-next",
	}
}

// Validate checks that every selector is set.
func (s Selectors) Validate() error {
	fields := []struct {
		key   string
		value string
	}{
		{"crawl.selectors.item", s.Item},
		{"crawl.selectors.identifier_attr", s.IdentifierAttr},
		{"crawl.selectors.title", s.Title},
		{"crawl.selectors.price", s.Price},
		{"crawl.selectors.next_disabled", s.NextDisabled},
		{"crawl.selectors.next_link", s.NextLink},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s must be set", f.key)
		}
	}
	return nil
}

// Config captures every knob that influences a crawl run.
type Config struct {
	SeedURL string
	// MaxPages stops the loop after this many pages; 0 means unlimited.
	MaxPages int
	// VisitedCacheSize bounds the set of URLs remembered for cycle detection.
	VisitedCacheSize int
	Selectors        Selectors
	// SnapshotPrefix is the blob path prefix for page snapshots.
	SnapshotPrefix string
	// NotifyTopic receives a ProductEvent per newly inserted product.
	NotifyTopic string
}

const defaultVisitedCacheSize = 1024

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SeedURL) == "" {
		return fmt.Errorf("crawl.seed_url must be set")
	}
	parsed, err := url.Parse(c.SeedURL)
	if err != nil {
		return fmt.Errorf("crawl.seed_url is invalid: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("crawl.seed_url must be an absolute URL")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.VisitedCacheSize < 0 {
		return fmt.Errorf("crawl.visited_cache_size must be >= 0")
	}
	return c.Selectors.Validate()
}

func (c Config) visitedCacheSize() int {
	if c.VisitedCacheSize > 0 {
		return c.VisitedCacheSize
	}
	return defaultVisitedCacheSize
}
