// Package app builds the long-lived services a command needs from Config and
// releases them afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/progress"
	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/listing-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/listing-crawler/internal/storage/sqlite"
)

// ClientFactory creates Google Cloud clients. Tests replace it to avoid
// reaching real endpoints.
type ClientFactory interface {
	Storage(ctx context.Context) (*storage.Client, error)
	PubSub(ctx context.Context, projectID string) (*pubsub.Client, error)
}

// DefaultClientFactory uses application default credentials.
type DefaultClientFactory struct{}

// Storage returns a GCS client.
func (DefaultClientFactory) Storage(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// PubSub returns a Pub/Sub client for projectID.
func (DefaultClientFactory) PubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}

// App holds the services for one command invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	browser   crawler.Browser
	store     crawler.ItemStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	ids       *uuid.Generator
	status    *sinks.StatusSink
	hub       *progress.Hub

	closers []func() error
}

// New builds every service named by cfg. On error, anything already created
// is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, clients ClientFactory) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clients == nil {
		clients = DefaultClientFactory{}
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New(), status: sinks.NewStatusSink()}
	fail := func(err error) (*App, error) {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	var err error
	if a.browser, err = newBrowser(cfg.Browser, logger.Named("browser")); err != nil {
		return fail(err)
	}
	if a.store, err = newStore(ctx, cfg.Store); err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, a.store.Close)

	if cfg.Snapshot.Enabled {
		if err := a.initSnapshots(ctx, clients); err != nil {
			return fail(err)
		}
	}
	if cfg.Notify.Enabled {
		if err := a.initNotify(ctx, clients); err != nil {
			return fail(err)
		}
	}

	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		a.status,
	)
	logger.Info("application services initialized",
		zap.String("engine", cfg.Browser.Engine),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("snapshots", cfg.Snapshot.Enabled),
		zap.Bool("notify", cfg.Notify.Enabled),
	)
	return a, nil
}

func newBrowser(cfg config.BrowserConfig, logger *zap.Logger) (crawler.Browser, error) {
	switch cfg.Engine {
	case config.EngineStatic:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.NavTimeout,
		}, logger), nil
	case config.EngineChromedp:
		b, err := headless.New(headless.Config{
			Headless:          cfg.Headless,
			ProfileDir:        cfg.ProfileDir,
			Viewport:          cfg.Viewport,
			Width:             cfg.Width,
			Height:            cfg.Height,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavTimeout,
			ExecPath:          cfg.ExecPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("configure chromedp browser: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

func newStore(ctx context.Context, cfg config.StoreConfig) (crawler.ItemStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(sqlite.Config{Path: cfg.Path, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return memorystore.NewProductStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) initSnapshots(ctx context.Context, clients ClientFactory) error {
	switch a.cfg.Snapshot.Backend {
	case config.BackendLocal:
		blobs, err := localstore.New(localstore.Config{BaseDir: a.cfg.Snapshot.Dir})
		if err != nil {
			return fmt.Errorf("open snapshot dir: %w", err)
		}
		a.blobs = blobs
	case config.BackendGCS:
		client, err := clients.Storage(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		blobs, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Snapshot.GCSBucket})
		if err != nil {
			return fmt.Errorf("configure gcs snapshots: %w", err)
		}
		a.blobs = blobs
	case config.BackendMemory:
		a.blobs = memorystore.NewBlobStore()
	default:
		return fmt.Errorf("unknown snapshot backend %q", a.cfg.Snapshot.Backend)
	}
	return nil
}

func (a *App) initNotify(ctx context.Context, clients ClientFactory) error {
	if a.cfg.Notify.Backend == config.NotifyMemory {
		pub := memorypublisher.New(a.logger.Named("notify"))
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		return nil
	}
	client, err := clients.PubSub(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return err
	}
	pub, err := pubsubpublisher.New(client, a.logger.Named("pubsub"))
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("configure publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Controller returns a crawl controller wired to the app's services.
func (a *App) Controller() *crawler.Controller {
	return crawler.NewController(
		a.cfg.CrawlConfig(),
		a.browser,
		a.store,
		a.blobs,
		a.publisher,
		a.ids,
		a.logger.Named("crawler"),
		crawler.WithProgress(a.hub),
	)
}

// OpsServer returns the ops HTTP server, or nil when metrics.addr is empty.
func (a *App) OpsServer() *api.Server {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	return api.NewServer(a.status, api.Config{APIKey: a.cfg.Metrics.APIKey}, a.logger.Named("api"))
}

// Store exposes the item store for read-only commands.
func (a *App) Store() crawler.ItemStore {
	return a.store
}

// Status returns the latest run status.
func (a *App) Status() sinks.RunStatus {
	return a.status.Snapshot()
}

// Blobs returns the snapshot store, or nil when snapshots are off.
func (a *App) Blobs() crawler.BlobStore {
	return a.blobs
}

// IDs returns the run ID generator.
func (a *App) IDs() *uuid.Generator {
	return a.ids
}

// Close drains progress events and releases clients in reverse order of
// creation. Stores tolerate a second Close after the controller's.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing application services", zap.Error(err))
		return err
	}
	return nil
}
