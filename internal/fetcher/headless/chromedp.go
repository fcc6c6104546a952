// Package headless drives Chrome through chromedp so listing pages are read
// after their scripts have run.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Viewport policies.
const (
	ViewportMaximized = "maximized"
	ViewportFixed     = "fixed"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls how Chrome is launched.
type Config struct {
	Headless bool
	// ProfileDir keeps cookies and session data between runs when set.
	ProfileDir        string
	Viewport          string
	Width             int
	Height            int
	UserAgent         string
	NavigationTimeout time.Duration
	ExecPath          string
}

// Browser implements crawler.Browser on top of chromedp.
type Browser struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Browser. Chrome is not started until Open.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Viewport {
	case "":
		cfg.Viewport = ViewportMaximized
	case ViewportMaximized:
	case ViewportFixed:
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, fmt.Errorf("fixed viewport needs positive width and height, got %dx%d", cfg.Width, cfg.Height)
		}
	default:
		return nil, fmt.Errorf("unknown viewport policy %q", cfg.Viewport)
	}
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	return &Browser{cfg: cfg, logger: logger}, nil
}

// Open launches Chrome and returns a session bound to a single tab.
func (b *Browser) Open(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Debugf),
	)

	// The first Run allocates the browser against the context it is given, so
	// it must be tabCtx itself and not a derived context.
	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, &crawler.LaunchError{Err: fmt.Errorf("chromedp warmup: %w", err)}
	}

	b.logger.Info("browser session opened",
		zap.Bool("headless", b.cfg.Headless),
		zap.String("viewport", b.cfg.Viewport),
		zap.Bool("persistent_profile", b.cfg.ProfileDir != ""),
	)
	return &session{
		cfg:         b.cfg,
		logger:      b.logger,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}, nil
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if b.cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.cfg.ProfileDir))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.Viewport == ViewportFixed {
		opts = append(opts, chromedp.WindowSize(b.cfg.Width, b.cfg.Height))
	} else {
		opts = append(opts, chromedp.Flag("start-maximized", true))
	}
	return opts
}

type session struct {
	cfg         Config
	logger      *zap.Logger
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Navigate loads rawURL and waits for the document body to be ready.
func (s *session) Navigate(ctx context.Context, rawURL string) (crawler.Page, error) {
	if s.isClosed() {
		return nil, crawler.ErrSessionClosed
	}
	var finalURL string
	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	}
	if err := s.run(ctx, s.navTimeout(), actions...); err != nil {
		return nil, &crawler.NavigationError{URL: rawURL, Err: err}
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return &page{session: s, url: finalURL}, nil
}

func (s *session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.Viewport == ViewportFixed {
			err := emulation.SetDeviceMetricsOverride(int64(s.cfg.Width), int64(s.cfg.Height), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the session tab. The tab outlives ctx; only the
// actions are aborted when ctx ends.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.tabCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *session) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close shuts Chrome down. Repeated calls return the first result.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := chromedp.Cancel(s.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.tabCancel()
		s.allocCancel()
		s.logger.Info("browser session closed")
	})
	return s.closeErr
}

type page struct {
	session *session
	url     string
}

func (p *page) URL() string { return p.url }

func (p *page) QueryAll(ctx context.Context, selector string) ([]crawler.Element, error) {
	nodes, err := p.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{page: p, node: n})
	}
	return out, nil
}

func (p *page) QueryOne(ctx context.Context, selector string) (crawler.Element, bool, error) {
	nodes, err := p.nodes(ctx, selector)
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return &element{page: p, node: nodes[0]}, true, nil
}

// nodes never waits for a match: an empty slice means nothing matched.
func (p *page) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	if p.session.isClosed() {
		return nil, crawler.ErrSessionClosed
	}
	var nodes []*cdp.Node
	err := p.session.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return nodes, nil
}

func (p *page) HTML(ctx context.Context) (string, error) {
	if p.session.isClosed() {
		return "", crawler.ErrSessionClosed
	}
	var html string
	if err := p.session.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

type element struct {
	page *page
	node *cdp.Node
}

// Evaluate runs the accessor against the live DOM node and returns only
// primitive results.
func (e *element) Evaluate(ctx context.Context, acc crawler.Accessor) (string, bool, error) {
	if e.page.session.isClosed() {
		return "", false, crawler.ErrSessionClosed
	}
	script, err := accessorScript(acc)
	if err != nil {
		return "", false, err
	}
	var (
		value string
		found bool
	)
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(e.node.BackendNodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(script).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("call accessor: %w", err)
		}
		if exc != nil {
			return fmt.Errorf("accessor threw: %s", exc.Text)
		}
		value, found, err = decodeResult(res)
		return err
	})
	if err := e.page.session.run(ctx, 0, action); err != nil {
		return "", false, err
	}
	return value, found, nil
}

// accessorScript builds a function declaration evaluated with the element as
// this. Arguments are embedded as JSON string literals.
func accessorScript(acc crawler.Accessor) (string, error) {
	args, err := json.Marshal([]string{acc.Selector, acc.Attr, acc.Property})
	if err != nil {
		return "", fmt.Errorf("encode accessor: %w", err)
	}
	return fmt.Sprintf(`function() {
	const [sel, attr, prop] = %s;
	let el = this;
	if (sel) {
		el = el.querySelector(sel);
		if (!el) { return null; }
	}
	if (attr) { return el.getAttribute(attr); }
	if (prop) {
		const v = el[prop];
		if (v === null || v === undefined || typeof v === "object" || typeof v === "function") { return null; }
		return v;
	}
	return el.textContent;
}`, args), nil
}

// decodeResult maps a by-value RemoteObject onto (value, found). Objects are
// rejected so that DOM nodes never leak out as values.
func decodeResult(res *runtime.RemoteObject) (string, bool, error) {
	if res == nil {
		return "", false, nil
	}
	raw := []byte(res.Value)
	switch res.Type {
	case runtime.TypeUndefined:
		return "", false, nil
	case runtime.TypeString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, fmt.Errorf("decode string result: %w", err)
		}
		return s, true, nil
	case runtime.TypeNumber, runtime.TypeBoolean:
		if len(raw) == 0 {
			return strings.TrimSpace(res.UnserializableValue.String()), true, nil
		}
		return strings.TrimSpace(string(raw)), true, nil
	case runtime.TypeObject:
		if res.Subtype == runtime.SubtypeNull {
			return "", false, nil
		}
	}
	return "", false, fmt.Errorf("accessor returned unsupported %s result", res.Type)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
