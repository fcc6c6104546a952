package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"
)

// fakeElement answers Evaluate from a table of accessor results.
type fakeElement struct {
	values map[Accessor]string
	errs   map[Accessor]error

	mu    sync.Mutex
	calls []Accessor
}

func (e *fakeElement) Evaluate(_ context.Context, acc Accessor) (string, bool, error) {
	e.mu.Lock()
	e.calls = append(e.calls, acc)
	e.mu.Unlock()
	if err, ok := e.errs[acc]; ok {
		return "", false, err
	}
	v, ok := e.values[acc]
	return v, ok, nil
}

func listingElement(id, title, price string) *fakeElement {
	sel := DefaultSelectors()
	values := map[Accessor]string{}
	if id != "" {
		values[AttrOf(sel.IdentifierAttr)] = id
	}
	if title != "" {
		values[TextAt(sel.Title)] = title
	}
	if price != "" {
		values[TextAt(sel.Price)] = price
	}
	return &fakeElement{values: values}
}

// fakePage serves listing elements and pagination controls.
type fakePage struct {
	url      string
	items    []Element
	singles  map[string]Element
	queryErr error
	html     string
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) QueryAll(_ context.Context, selector string) ([]Element, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if selector == DefaultSelectors().Item {
		return p.items, nil
	}
	return nil, nil
}

func (p *fakePage) QueryOne(_ context.Context, selector string) (Element, bool, error) {
	el, ok := p.singles[selector]
	return el, ok, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	if p.html == "" {
		return "<html></html>", nil
	}
	return p.html, nil
}

func lastPage(url string, items ...Element) *fakePage {
	return &fakePage{
		url:   url,
		items: items,
		singles: map[string]Element{
			DefaultSelectors().NextDisabled: &fakeElement{},
		},
	}
}

func pageWithNext(url, href string, items ...Element) *fakePage {
	return &fakePage{
		url:   url,
		items: items,
		singles: map[string]Element{
			DefaultSelectors().NextLink: &fakeElement{
				values: map[Accessor]string{PropertyOf("href"): href},
			},
		},
	}
}

// eventLog records lifecycle calls across fakes so ordering can be asserted.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSession struct {
	pages  map[string]Page
	errs   map[string]error
	log    *eventLog
	visits []string
	closed bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) (Page, error) {
	s.visits = append(s.visits, url)
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	page, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return page, nil
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.add("session.close")
	return nil
}

// MockBrowser is a mock implementation of the Browser interface.
type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) Open(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(Session)
	return session, args.Error(1)
}

// fakeStore keeps rows in insertion order and ignores identifier conflicts.
type fakeStore struct {
	log       *eventLog
	schemaErr error
	failOn    map[string]error

	rows   []ListingItem
	ids    map[string]struct{}
	schema int
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{log: log, ids: map[string]struct{}{}}
}

func (s *fakeStore) EnsureSchema(context.Context) error {
	s.schema++
	s.log.add("store.schema")
	return s.schemaErr
}

func (s *fakeStore) Upsert(_ context.Context, item ListingItem) (bool, error) {
	if err, ok := s.failOn[item.Identifier]; ok {
		return false, &StoreError{Identifier: item.Identifier, Op: "insert", Err: err}
	}
	if _, ok := s.ids[item.Identifier]; ok {
		return false, nil
	}
	s.ids[item.Identifier] = struct{}{}
	s.rows = append(s.rows, item)
	return true, nil
}

func (s *fakeStore) List(context.Context) ([]StoredProduct, error) {
	out := make([]StoredProduct, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, StoredProduct{Identifier: r.Identifier, Title: r.Title, Price: r.Price})
	}
	return out, nil
}

func (s *fakeStore) Close() error {
	s.log.add("store.close")
	return nil
}

func (s *fakeStore) identifiers() []string {
	out := make([]string, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.Identifier)
	}
	return out
}

type fakeBlobs struct {
	paths []string
	err   error
}

func (b *fakeBlobs) PutObject(_ context.Context, path, _ string, body io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

type fakePublisher struct {
	topics []string
	events []ProductEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	event, ok := payload.(ProductEvent)
	if !ok {
		return "", errors.New("unexpected payload")
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }
