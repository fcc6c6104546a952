package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractorSkipsIncompleteElements(t *testing.T) {
	sel := DefaultSelectors()
	broken := listingElement("c", "", "$3.00")
	broken.errs = map[Accessor]error{TextAt(sel.Title): errors.New("node detached")}

	page := &fakePage{items: []Element{
		listingElement("a", "Alpha", "$1.00"),
		listingElement("b", "Bravo", "$2.00"),
		broken,
		listingElement("d", "Delta", "$4.00"),
		listingElement("e", "Echo", "$5.00"),
	}}

	items, stats, err := NewExtractor(sel, zap.NewNop()).Extract(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, ExtractStats{Elements: 5, Extracted: 4, Skipped: 1}, stats)

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Identifier)
	}
	require.Equal(t, []string{"a", "b", "d", "e"}, ids)
}

func TestExtractorAttemptsEveryField(t *testing.T) {
	sel := DefaultSelectors()
	el := &fakeElement{errs: map[Accessor]error{
		AttrOf(sel.IdentifierAttr): errors.New("boom"),
		TextAt(sel.Title):          errors.New("boom"),
	}}

	items, stats, err := NewExtractor(sel, nil).Extract(context.Background(), &fakePage{items: []Element{el}})
	require.NoError(t, err)
	require.Empty(t, items)
	require.Equal(t, 1, stats.Skipped)
	require.ElementsMatch(t, []Accessor{
		AttrOf(sel.IdentifierAttr),
		TextAt(sel.Title),
		TextAt(sel.Price),
	}, el.calls)
}

func TestExtractorTreatsBlankAsMissing(t *testing.T) {
	sel := DefaultSelectors()
	page := &fakePage{items: []Element{
		listingElement("a", "   ", "$1.00"),
		listingElement("b", "Bravo", "\n$2.00 "),
	}}

	items, stats, err := NewExtractor(sel, nil).Extract(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Skipped)
	require.Len(t, items, 1)
	require.Equal(t, ListingItem{Identifier: "b", Title: "Bravo", RawPrice: "$2.00", Price: "2.00"}, items[0])
}

func TestExtractorStripsLeadingSymbol(t *testing.T) {
	page := &fakePage{items: []Element{listingElement("a", "Alpha", "$19.99")}}

	items, _, err := NewExtractor(DefaultSelectors(), nil).Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "19.99", items[0].Price)
	require.Equal(t, "$19.99", items[0].RawPrice)
}

func TestExtractorEmptyPage(t *testing.T) {
	items, stats, err := NewExtractor(DefaultSelectors(), nil).Extract(context.Background(), &fakePage{})
	require.NoError(t, err)
	require.Empty(t, items)
	require.Zero(t, stats.Elements)
}

func TestExtractorQueryFailure(t *testing.T) {
	page := &fakePage{queryErr: errors.New("target crashed")}

	_, _, err := NewExtractor(DefaultSelectors(), nil).Extract(context.Background(), page)
	require.Error(t, err)
	require.ErrorContains(t, err, "query listing items")
}

func TestExtractorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := &fakePage{items: []Element{listingElement("a", "Alpha", "$1")}}

	_, _, err := NewExtractor(DefaultSelectors(), nil).Extract(ctx, page)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStripCurrency(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"$19.99", "19.99"},
		{"€5,00", "5,00"},
		{"£", ""},
		{"  ¥120 ", "120"},
		{"19.99", "9.99"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StripCurrency(tt.in), "input %q", tt.in)
	}
}
