package crawler

import (
	"context"
	"io"
)

// Browser launches browsing sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a live browsing session. Close must be idempotent.
type Session interface {
	Navigate(ctx context.Context, rawURL string) (Page, error)
	Close() error
}

// Page is a loaded document that can be queried.
type Page interface {
	// URL is the final URL after redirects.
	URL() string
	// QueryAll returns matches in document order; no match is an empty slice.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// QueryOne returns the first match, or found=false when nothing matches.
	QueryOne(ctx context.Context, selector string) (el Element, found bool, err error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
}

// Element is a handle to one node of a Page.
type Element interface {
	// Evaluate runs a read-only accessor against the node. ok=false means the
	// accessor yielded no value.
	Evaluate(ctx context.Context, acc Accessor) (value string, ok bool, err error)
}

// ItemStore persists listing items keyed by identifier.
type ItemStore interface {
	EnsureSchema(ctx context.Context) error
	// Upsert inserts the item unless the identifier already exists, in which
	// case it is a no-op reporting inserted=false.
	Upsert(ctx context.Context, item ListingItem) (inserted bool, err error)
	List(ctx context.Context) ([]StoredProduct, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes product events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
