package crawler

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ListingItem is the record extracted from one listing element.
type ListingItem struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	// RawPrice is the price text as rendered, currency symbol included.
	RawPrice string `json:"raw_price"`
	// Price is RawPrice without its leading currency symbol.
	Price string `json:"price"`
}

// StoredProduct is one persisted row of the products table.
type StoredProduct struct {
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cursor tracks the pagination position of a run. An empty URL means the
// crawl has finished.
type Cursor struct {
	URL  string
	Page int
}

// Done reports whether there is no further page to visit.
func (c Cursor) Done() bool {
	return c.URL == ""
}

// Accessor describes a read-only lookup against an element. Selector scopes
// the read to the first matching descendant (empty means the element itself).
// Attr reads an attribute, Property reads a DOM property; when both are empty
// the text content is returned.
type Accessor struct {
	Selector string
	Attr     string
	Property string
}

// AttrOf reads an attribute of the element itself.
func AttrOf(name string) Accessor {
	return Accessor{Attr: name}
}

// TextAt reads the text content of the first descendant matching selector.
func TextAt(selector string) Accessor {
	return Accessor{Selector: selector}
}

// PropertyOf reads a DOM property of the element itself.
func PropertyOf(name string) Accessor {
	return Accessor{Property: name}
}

// StripCurrency drops the leading currency symbol from a price string.
// Exactly one rune is removed whatever it is.
func StripCurrency(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	_, size := utf8.DecodeRuneInString(raw)
	return raw[size:]
}

// StopReason records why a crawl loop ended.
type StopReason string

// Stop reasons reported in Summary.
const (
	StopLastPage         StopReason = "last_page"
	StopNoNextLink       StopReason = "no_next_link"
	StopRevisit          StopReason = "revisit"
	StopMaxPages         StopReason = "max_pages"
	StopCanceled         StopReason = "canceled"
	StopLaunchFailed     StopReason = "launch_failed"
	StopNavigationFailed StopReason = "navigation_failed"
	StopFailed           StopReason = "failed"
)

// Summary reports the outcome of one crawl run.
type Summary struct {
	RunID         string        `json:"run_id"`
	Pages         int           `json:"pages"`
	Elements      int           `json:"elements"`
	Extracted     int           `json:"extracted"`
	Skipped       int           `json:"skipped"`
	Inserted      int           `json:"inserted"`
	Duplicates    int           `json:"duplicates"`
	StoreFailures int           `json:"store_failures"`
	Stop          StopReason    `json:"stop"`
	LastURL       string        `json:"last_url"`
	Duration      time.Duration `json:"duration"`
}

// ProductEvent is published for every product inserted for the first time.
type ProductEvent struct {
	RunID      string    `json:"run_id"`
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	SourceURL  string    `json:"source_url"`
	Page       int       `json:"page"`
	SeenAt     time.Time `json:"seen_at"`
}
