// Package postgres provides a Postgres-backed crawler.ItemStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const defaultTable = "products"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for product rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ProductStore writes product rows into Postgres.
type ProductStore struct {
	pool      pool
	table     string
	closeOnce sync.Once
}

// New creates a ProductStore using the provided config.
func New(ctx context.Context, cfg Config) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProductStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*ProductStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProductStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the products table if it does not exist.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identifier TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	price      NUMERIC(12,5),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Upsert inserts the item and ignores identifier conflicts. The price is
// sent as text so Postgres performs the numeric coercion.
func (s *ProductStore) Upsert(ctx context.Context, item crawler.ListingItem) (bool, error) {
	if item.Identifier == "" {
		return false, &crawler.StoreError{Op: "insert", Err: errors.New("identifier is required")}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (identifier, title, price)
VALUES ($1, $2, $3::text::numeric)
ON CONFLICT (identifier) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query, item.Identifier, item.Title, item.Price)
	if err != nil {
		return false, &crawler.StoreError{Identifier: item.Identifier, Op: "insert", Err: describe(err)}
	}
	return tag.RowsAffected() == 1, nil
}

// List returns stored products oldest first.
func (s *ProductStore) List(ctx context.Context) ([]crawler.StoredProduct, error) {
	query := fmt.Sprintf(`
SELECT identifier, title, COALESCE(price::text, ''), created_at
FROM %s
ORDER BY created_at, identifier`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []crawler.StoredProduct
	for rows.Next() {
		var p crawler.StoredProduct
		if err := rows.Scan(&p.Identifier, &p.Title, &p.Price, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.closeOnce.Do(s.pool.Close)
	return nil
}

// describe surfaces the SQLSTATE so malformed prices are easy to spot in logs.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (sqlstate %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return err
}
