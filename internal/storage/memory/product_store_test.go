package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestProductStoreUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewProductStore()
	require.NoError(t, store.EnsureSchema(ctx))

	inserted, err := store.Upsert(ctx, crawler.ListingItem{Identifier: "a", Title: "Alpha", Price: "1.00"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.Upsert(ctx, crawler.ListingItem{Identifier: "a", Title: "Other", Price: "9.00"})
	require.NoError(t, err)
	require.False(t, inserted)

	_, err = store.Upsert(ctx, crawler.ListingItem{Identifier: "b", Title: "Bravo", Price: "2.00"})
	require.NoError(t, err)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Alpha", rows[0].Title)
	require.Equal(t, "b", rows[1].Identifier)
	require.False(t, rows[0].CreatedAt.IsZero())
}

func TestProductStoreClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewProductStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Upsert(ctx, crawler.ListingItem{Identifier: "a", Title: "A", Price: "1"})
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, store.EnsureSchema(ctx))
	inserted, err := store.Upsert(ctx, crawler.ListingItem{Identifier: "a", Title: "A", Price: "1"})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestProductStoreRejectsEmptyIdentifier(t *testing.T) {
	t.Parallel()

	_, err := NewProductStore().Upsert(context.Background(), crawler.ListingItem{Title: "x"})
	var storeErr *crawler.StoreError
	require.ErrorAs(t, err, &storeErr)
}
