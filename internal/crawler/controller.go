package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/progress"
)

const snapshotContentType = "text/html; charset=utf-8"

// Controller drives the pagination loop: navigate, extract, persist, then
// follow the next-page link until the listing ends. It owns the browsing
// session and the item store for the duration of a run and releases both on
// every exit path, session first.
type Controller struct {
	cfg       Config
	browser   Browser
	store     ItemStore
	extractor *Extractor
	blobs     BlobStore
	publisher Publisher
	ids       IDGenerator
	progress  progress.Emitter
	now       func() time.Time
	logger    *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithProgress reports run milestones to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(c *Controller) {
		c.progress = emitter
	}
}

// NewController wires a Controller. blobs, publisher and ids are optional.
func NewController(
	cfg Config,
	browser Browser,
	store ItemStore,
	blobs BlobStore,
	publisher Publisher,
	ids IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	c := &Controller{
		cfg:       cfg,
		browser:   browser,
		store:     store,
		extractor: NewExtractor(cfg.Selectors, logger.Named("extractor")),
		blobs:     blobs,
		publisher: publisher,
		ids:       ids,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls from the seed URL until the listing ends. Launch and navigation
// failures abort the run and are returned; per-item extraction and store
// failures are absorbed and counted in the Summary.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: c.newRunID()}
	logger := c.logger.With(zap.String("run_id", summary.RunID))
	c.emit(progress.Event{RunID: summary.RunID, Stage: progress.StageRunStart, URL: c.cfg.SeedURL})

	err := c.run(ctx, &summary, logger)
	summary.Duration = time.Since(start)
	if err != nil && summary.Stop == "" {
		summary.Stop = StopFailed
	}
	metrics.ObserveRun(string(summary.Stop))

	fields := []zap.Field{
		zap.String("stop", string(summary.Stop)),
		zap.Int("pages", summary.Pages),
		zap.Int("inserted", summary.Inserted),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("store_failures", summary.StoreFailures),
		zap.Duration("duration", summary.Duration),
	}
	if err != nil {
		c.emit(progress.Event{
			RunID: summary.RunID,
			Stage: progress.StageRunError,
			Page:  summary.Pages,
			URL:   summary.LastURL,
			Dur:   summary.Duration,
			Note:  err.Error(),
		})
		logger.Error("crawl aborted", append(fields, zap.Error(err))...)
		return summary, err
	}
	c.emit(progress.Event{
		RunID: summary.RunID,
		Stage: progress.StageRunDone,
		Page:  summary.Pages,
		URL:   summary.LastURL,
		Dur:   summary.Duration,
		Note:  string(summary.Stop),
	})
	logger.Info("crawl finished", fields...)
	return summary, nil
}

func (c *Controller) run(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	var session Session
	defer func() {
		c.release(session, logger)
	}()

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid crawl config: %w", err)
	}
	if err := c.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	opened, err := c.browser.Open(ctx)
	if err != nil {
		summary.Stop = StopLaunchFailed
		var launchErr *LaunchError
		if errors.As(err, &launchErr) {
			return err
		}
		return &LaunchError{Err: err}
	}
	session = opened

	visited, err := lru.New[string, struct{}](c.cfg.visitedCacheSize())
	if err != nil {
		return fmt.Errorf("visited cache: %w", err)
	}

	cursor := Cursor{URL: c.cfg.SeedURL}
	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			summary.Stop = StopCanceled
			return fmt.Errorf("crawl canceled: %w", err)
		}
		cursor.Page++
		summary.LastURL = cursor.URL
		visited.Add(visitKey(cursor.URL), struct{}{})

		pageStart := time.Now()
		page, err := c.load(ctx, session, cursor, logger)
		if err != nil {
			summary.Stop = StopNavigationFailed
			if ctx.Err() != nil {
				summary.Stop = StopCanceled
			}
			return err
		}
		summary.Pages++

		c.snapshot(ctx, summary.RunID, cursor, page, logger)

		inserted, skipped := summary.Inserted, summary.Skipped
		if err := c.persistPage(ctx, page, cursor, summary, logger); err != nil {
			if ctx.Err() != nil {
				summary.Stop = StopCanceled
			}
			return err
		}
		c.emit(progress.Event{
			RunID:    summary.RunID,
			Stage:    progress.StagePageDone,
			Page:     cursor.Page,
			URL:      cursor.URL,
			Inserted: summary.Inserted - inserted,
			Skipped:  summary.Skipped - skipped,
			Dur:      time.Since(pageStart),
		})

		next, reason, err := c.nextURL(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				summary.Stop = StopCanceled
			}
			return fmt.Errorf("page %d: %w", cursor.Page, err)
		}
		switch {
		case next == "":
			summary.Stop = reason
		case c.cfg.MaxPages > 0 && cursor.Page >= c.cfg.MaxPages:
			summary.Stop = StopMaxPages
			next = ""
		case visited.Contains(visitKey(next)):
			logger.Warn("next page already visited", zap.String("url", next))
			summary.Stop = StopRevisit
			next = ""
		}
		cursor.URL = next
	}
	return nil
}

func (c *Controller) load(ctx context.Context, session Session, cursor Cursor, logger *zap.Logger) (Page, error) {
	logger.Info("loading page", zap.Int("page", cursor.Page), zap.String("url", cursor.URL))
	start := time.Now()
	page, err := session.Navigate(ctx, cursor.URL)
	metrics.ObserveNavigation(time.Since(start), err)
	if err != nil {
		var navErr *NavigationError
		if errors.As(err, &navErr) {
			if navErr.Page == 0 {
				navErr.Page = cursor.Page
			}
			return nil, navErr
		}
		return nil, &NavigationError{URL: cursor.URL, Page: cursor.Page, Err: err}
	}
	metrics.ObservePage()
	return page, nil
}

// persistPage extracts the page and upserts each item in document order. A
// failed upsert is logged and does not stop the remaining items.
func (c *Controller) persistPage(
	ctx context.Context,
	page Page,
	cursor Cursor,
	summary *Summary,
	logger *zap.Logger,
) error {
	items, stats, err := c.extractor.Extract(ctx, page)
	summary.Elements += stats.Elements
	summary.Extracted += stats.Extracted
	summary.Skipped += stats.Skipped
	metrics.ObserveItems(stats.Extracted, stats.Skipped)
	if err != nil {
		return fmt.Errorf("page %d: %w", cursor.Page, err)
	}

	for _, item := range items {
		inserted, err := c.store.Upsert(ctx, item)
		switch {
		case err != nil:
			summary.StoreFailures++
			metrics.ObserveUpsert(metrics.UpsertFailed)
			logger.Warn("store item failed",
				zap.String("identifier", item.Identifier),
				zap.Int("page", cursor.Page),
				zap.Error(err),
			)
		case inserted:
			summary.Inserted++
			metrics.ObserveUpsert(metrics.UpsertInserted)
			c.notify(ctx, summary.RunID, cursor, item, logger)
		default:
			summary.Duplicates++
			metrics.ObserveUpsert(metrics.UpsertDuplicate)
		}
	}

	logger.Info("page persisted",
		zap.Int("page", cursor.Page),
		zap.Int("elements", stats.Elements),
		zap.Int("extracted", stats.Extracted),
		zap.Int("skipped", stats.Skipped),
	)
	return nil
}

// nextURL checks the disabled-next marker before looking for the next link.
// An empty URL means the loop is done, with reason saying why.
func (c *Controller) nextURL(ctx context.Context, page Page) (string, StopReason, error) {
	_, disabled, err := page.QueryOne(ctx, c.cfg.Selectors.NextDisabled)
	if err != nil {
		return "", "", fmt.Errorf("query disabled next control: %w", err)
	}
	if disabled {
		return "", StopLastPage, nil
	}

	link, found, err := page.QueryOne(ctx, c.cfg.Selectors.NextLink)
	if err != nil {
		return "", "", fmt.Errorf("query next link: %w", err)
	}
	if !found {
		return "", StopNoNextLink, nil
	}
	href, ok, err := link.Evaluate(ctx, PropertyOf("href"))
	if err != nil {
		return "", "", fmt.Errorf("read next link href: %w", err)
	}
	if !ok || strings.TrimSpace(href) == "" {
		return "", StopNoNextLink, nil
	}
	next, err := ResolveURL(page.URL(), href)
	if err != nil {
		return "", "", fmt.Errorf("resolve next link: %w", err)
	}
	return next, "", nil
}

func (c *Controller) snapshot(ctx context.Context, runID string, cursor Cursor, page Page, logger *zap.Logger) {
	if c.blobs == nil {
		return
	}
	html, err := page.HTML(ctx)
	if err != nil {
		metrics.ObserveSideEffectFailure("snapshot")
		logger.Warn("read page html failed", zap.Int("page", cursor.Page), zap.Error(err))
		return
	}
	path := snapshotPath(c.cfg.SnapshotPrefix, runID, cursor.Page)
	uri, err := c.blobs.PutObject(ctx, path, snapshotContentType, strings.NewReader(html))
	if err != nil {
		metrics.ObserveSideEffectFailure("snapshot")
		logger.Warn("write page snapshot failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("page snapshot written", zap.Int("page", cursor.Page), zap.String("uri", uri))
}

func (c *Controller) notify(ctx context.Context, runID string, cursor Cursor, item ListingItem, logger *zap.Logger) {
	if c.publisher == nil || c.cfg.NotifyTopic == "" {
		return
	}
	event := ProductEvent{
		RunID:      runID,
		Identifier: item.Identifier,
		Title:      item.Title,
		Price:      item.Price,
		SourceURL:  cursor.URL,
		Page:       cursor.Page,
		SeenAt:     c.now(),
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.NotifyTopic, event); err != nil {
		metrics.ObserveSideEffectFailure("notify")
		logger.Warn("publish product event failed",
			zap.String("identifier", item.Identifier),
			zap.Error(err),
		)
	}
}

// release closes the session (if one was opened) and then the store.
func (c *Controller) release(session Session, logger *zap.Logger) {
	if session != nil {
		if err := session.Close(); err != nil {
			logger.Warn("close browser session failed", zap.Error(err))
		}
	}
	if err := c.store.Close(); err != nil {
		logger.Warn("close item store failed", zap.Error(err))
	}
}

func (c *Controller) emit(evt progress.Event) {
	if c.progress == nil {
		return
	}
	evt.TS = c.now()
	c.progress.Emit(evt)
}

func (c *Controller) newRunID() string {
	if c.ids == nil {
		return "local"
	}
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("generate run id failed", zap.Error(err))
		return "local"
	}
	return id
}

func visitKey(rawURL string) string {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return rawURL
	}
	return normalized
}

func snapshotPath(prefix, runID string, page int) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/page-%04d.html", runID, page)
	}
	return fmt.Sprintf("%s/%s/page-%04d.html", prefix, runID, page)
}
