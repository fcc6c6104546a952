package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*ProductStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO products").
		WithArgs("a", "Alpha", "19.99").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.Upsert(context.Background(), crawler.ListingItem{
		Identifier: "a", Title: "Alpha", RawPrice: "$19.99", Price: "19.99",
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConflictIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO products").
		WithArgs("a", "Alpha", "1.00").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.Upsert(context.Background(), crawler.ListingItem{Identifier: "a", Title: "Alpha", Price: "1.00"})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMalformedPrice(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO products").
		WithArgs("a", "Alpha", "1,299.00").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type numeric"})

	_, err := store.Upsert(context.Background(), crawler.ListingItem{Identifier: "a", Title: "Alpha", Price: "1,299.00"})
	var storeErr *crawler.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "a", storeErr.Identifier)
	require.ErrorContains(t, err, "22P02")

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
}

func TestListScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"identifier", "title", "price", "created_at"}).
		AddRow("a", "Alpha", "19.99000", now).
		AddRow("b", "Bravo", "", now.Add(time.Second))
	mock.ExpectQuery("SELECT identifier, title").WillReturnRows(rows)

	products, err := store.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.StoredProduct{
		{Identifier: "a", Title: "Alpha", Price: "19.99000", CreatedAt: now},
		{Identifier: "b", Title: "Bravo", Price: "", CreatedAt: now.Add(time.Second)},
	}, products)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT identifier, title").WillReturnError(errors.New("connection reset"))

	_, err := store.List(context.Background())
	require.ErrorContains(t, err, "list products")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "store.dsn")

	_, err = New(context.Background(), Config{DSN: "postgres://x", Table: "bad-name"})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}
