package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ExtractStats counts what one Extract call saw.
type ExtractStats struct {
	Elements  int
	Extracted int
	Skipped   int
}

// Extractor reads ListingItems from listing pages. Extraction is tolerant:
// every field of every element is attempted, and an element missing any field
// is dropped without affecting its siblings.
type Extractor struct {
	selectors Selectors
	logger    *zap.Logger
}

// NewExtractor builds an Extractor for the given selectors.
func NewExtractor(selectors Selectors, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{selectors: selectors, logger: logger}
}

// Extract queries the page afresh and returns the complete items in document
// order. Only a failure to enumerate the elements is returned as an error.
func (e *Extractor) Extract(ctx context.Context, page Page) ([]ListingItem, ExtractStats, error) {
	elements, err := page.QueryAll(ctx, e.selectors.Item)
	if err != nil {
		return nil, ExtractStats{}, fmt.Errorf("query listing items: %w", err)
	}
	stats := ExtractStats{Elements: len(elements)}
	items := make([]ListingItem, 0, len(elements))
	for i, el := range elements {
		if err := ctx.Err(); err != nil {
			return items, stats, fmt.Errorf("extract canceled: %w", err)
		}
		item, missing := e.extractOne(ctx, el)
		if len(missing) > 0 {
			stats.Skipped++
			e.logger.Debug("listing element skipped",
				zap.Int("index", i),
				zap.Strings("missing", missing),
			)
			continue
		}
		stats.Extracted++
		items = append(items, item)
	}
	return items, stats, nil
}

func (e *Extractor) extractOne(ctx context.Context, el Element) (ListingItem, []string) {
	id := readField(ctx, el, AttrOf(e.selectors.IdentifierAttr))
	title := readField(ctx, el, TextAt(e.selectors.Title))
	price := readField(ctx, el, TextAt(e.selectors.Price))

	var missing []string
	if !id.ok {
		missing = append(missing, "identifier")
	}
	if !title.ok {
		missing = append(missing, "title")
	}
	if !price.ok {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return ListingItem{}, missing
	}
	return ListingItem{
		Identifier: id.value,
		Title:      title.value,
		RawPrice:   price.value,
		Price:      StripCurrency(price.value),
	}, nil
}

type field struct {
	value string
	ok    bool
}

// readField collapses errors, absent values and blank text into "not read".
func readField(ctx context.Context, el Element, acc Accessor) field {
	value, ok, err := el.Evaluate(ctx, acc)
	if err != nil || !ok {
		return field{}
	}
	value = strings.TrimSpace(value)
	return field{value: value, ok: value != ""}
}
