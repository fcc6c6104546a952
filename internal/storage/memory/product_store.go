// Package memory keeps products and snapshots in process memory. It backs
// dry runs and tests; nothing survives the process.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrClosed is returned by operations on a closed ProductStore.
var ErrClosed = errors.New("memory store closed")

// ProductStore is an in-memory crawler.ItemStore.
type ProductStore struct {
	mu     sync.RWMutex
	rows   []crawler.StoredProduct
	index  map[string]int
	closed bool
	now    func() time.Time
}

// NewProductStore constructs a ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{
		index: make(map[string]int),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema reopens a closed store; the data is kept.
func (s *ProductStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

// Upsert stores item unless its identifier is already present.
func (s *ProductStore) Upsert(_ context.Context, item crawler.ListingItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, &crawler.StoreError{Identifier: item.Identifier, Op: "insert", Err: ErrClosed}
	}
	if item.Identifier == "" {
		return false, &crawler.StoreError{Op: "insert", Err: errors.New("identifier is required")}
	}
	if _, exists := s.index[item.Identifier]; exists {
		return false, nil
	}
	s.index[item.Identifier] = len(s.rows)
	s.rows = append(s.rows, crawler.StoredProduct{
		Identifier: item.Identifier,
		Title:      item.Title,
		Price:      item.Price,
		CreatedAt:  s.now(),
	})
	return true, nil
}

// List returns a copy of the rows in insertion order.
func (s *ProductStore) List(context.Context) ([]crawler.StoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.StoredProduct(nil), s.rows...), nil
}

// Close marks the store closed. It is idempotent.
func (s *ProductStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
