// Package collyfetcher implements crawler.Browser over plain HTTP using gocolly
// and goquery. It does not run scripts, so it suits listing pages that are
// rendered server side and hermetic tests.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Browser implements crawler.Browser using the Colly collector.
type Browser struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// Option customizes a Browser.
type Option func(*Browser)

// WithTransport replaces the HTTP transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Browser) { b.transport = rt }
}

// New builds a Browser.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	if b.transport == nil {
		b.transport = newHTTPTransport()
	}
	return b
}

// Open prepares a collector. No network traffic happens until Navigate.
func (b *Browser) Open(context.Context) (crawler.Session, error) {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !b.cfg.RespectRobots
	if b.cfg.UserAgent != "" {
		c.UserAgent = b.cfg.UserAgent
	}
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(b.transport)
	return &session{base: c, logger: b.logger}, nil
}

type session struct {
	base   *colly.Collector
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	finalURL string
	body     []byte
	err      error
}

// Navigate performs a GET and parses the response body.
func (s *session) Navigate(ctx context.Context, rawURL string) (crawler.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, crawler.ErrSessionClosed
	}

	collector := s.base.Clone()
	collector.Context = ctx
	var result fetchResult
	configureCollectorHooks(collector, &result)

	if err := runCollector(ctx, collector, rawURL, &result); err != nil {
		return nil, &crawler.NavigationError{URL: rawURL, Err: err}
	}
	if result.finalURL == "" {
		result.finalURL = rawURL
	}
	p, err := newPage(result.finalURL, result.body)
	if err != nil {
		return nil, &crawler.NavigationError{URL: rawURL, Err: err}
	}
	s.logger.Debug("page fetched", zap.String("url", result.finalURL), zap.Int("bytes", len(result.body)))
	return p, nil
}

func configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.finalURL = r.Request.URL.String()
		result.body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		result.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		return nil
	}
}

// Close is idempotent; later Navigate calls fail with ErrSessionClosed.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type page struct {
	base *url.URL
	doc  *goquery.Document
	html string
}

func newPage(finalURL string, body []byte) (*page, error) {
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parse final url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Url = base
	return &page{base: base, doc: doc, html: string(body)}, nil
}

func (p *page) URL() string { return p.base.String() }

func (p *page) QueryAll(ctx context.Context, selector string) ([]crawler.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	sel := p.doc.FindMatcher(matcher)
	out := make([]crawler.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{page: p, sel: s})
	})
	return out, nil
}

func (p *page) QueryOne(ctx context.Context, selector string) (crawler.Element, bool, error) {
	all, err := p.QueryAll(ctx, selector)
	if err != nil {
		return nil, false, err
	}
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[0], true, nil
}

func (p *page) HTML(context.Context) (string, error) {
	return p.html, nil
}

type element struct {
	page *page
	sel  *goquery.Selection
}

// Evaluate mirrors what a DOM accessor would see on a static document.
// Properties are limited to the few the crawler reads.
func (e *element) Evaluate(ctx context.Context, acc crawler.Accessor) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	target := e.sel
	if acc.Selector != "" {
		matcher, err := cascadia.Compile(acc.Selector)
		if err != nil {
			return "", false, fmt.Errorf("compile selector %q: %w", acc.Selector, err)
		}
		target = target.FindMatcher(matcher).First()
		if target.Length() == 0 {
			return "", false, nil
		}
	}
	switch {
	case acc.Attr != "":
		v, ok := target.Attr(acc.Attr)
		return v, ok, nil
	case acc.Property != "":
		return e.property(target, acc.Property)
	default:
		return target.Text(), true, nil
	}
}

func (e *element) property(target *goquery.Selection, name string) (string, bool, error) {
	switch name {
	case "href", "src":
		v, ok := target.Attr(name)
		if !ok {
			return "", false, nil
		}
		ref, err := url.Parse(strings.TrimSpace(v))
		if err != nil {
			return "", false, fmt.Errorf("parse %s: %w", name, err)
		}
		return e.page.base.ResolveReference(ref).String(), true, nil
	case "textContent", "innerText":
		return target.Text(), true, nil
	case "innerHTML":
		html, err := target.Html()
		if err != nil {
			return "", false, fmt.Errorf("render inner html: %w", err)
		}
		return html, true, nil
	case "id":
		v, _ := target.Attr("id")
		return v, true, nil
	case "className":
		v, _ := target.Attr("class")
		return v, true, nil
	default:
		return "", false, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
