// Package sqlite implements crawler.ItemStore on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultTable = "products"
	timeLayout   = "2006-01-02T15:04:05.000Z"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config locates the database file.
type Config struct {
	Path  string
	Table string
}

// ProductStore persists products with insert-or-ignore semantics.
type ProductStore struct {
	db    *sql.DB
	table string

	closeOnce sync.Once
	closeErr  error
}

// New opens (creating if needed) the database file. The schema is not
// touched until EnsureSchema.
func New(cfg Config) (*ProductStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("store.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	return &ProductStore{db: db, table: table}, nil
}

// EnsureSchema creates the products table when it is missing.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	identifier TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	price      NUMERIC,
	created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Upsert inserts item unless its identifier is already stored. It reports
// whether a row was written.
func (s *ProductStore) Upsert(ctx context.Context, item crawler.ListingItem) (bool, error) {
	if item.Identifier == "" {
		return false, &crawler.StoreError{Op: "insert", Err: errors.New("identifier is required")}
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (identifier, title, price) VALUES (?, ?, ?) ON CONFLICT(identifier) DO NOTHING`,
		s.table,
	)
	res, err := s.db.ExecContext(ctx, query, item.Identifier, item.Title, item.Price)
	if err != nil {
		return false, &crawler.StoreError{Identifier: item.Identifier, Op: "insert", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &crawler.StoreError{Identifier: item.Identifier, Op: "rows affected", Err: err}
	}
	return n == 1, nil
}

// List returns every stored product in insertion order.
func (s *ProductStore) List(ctx context.Context) ([]crawler.StoredProduct, error) {
	query := fmt.Sprintf(
		`SELECT identifier, title, COALESCE(CAST(price AS TEXT), ''), created_at FROM %s ORDER BY rowid`,
		s.table,
	)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []crawler.StoredProduct
	for rows.Next() {
		var (
			p       crawler.StoredProduct
			created string
		)
		if err := rows.Scan(&p.Identifier, &p.Title, &p.Price, &created); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// Close releases the database handle. It is safe to call more than once.
func (s *ProductStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse created_at %q", raw)
}
