// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Notify backends.
const (
	NotifyPubSub = "pubsub"
	NotifyMemory = "memory"
)

// Snapshot backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Store    StoreConfig    `mapstructure:"store"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs the pagination loop.
type CrawlConfig struct {
	SeedURL          string          `mapstructure:"seed_url"`
	MaxPages         int             `mapstructure:"max_pages"`
	VisitedCacheSize int             `mapstructure:"visited_cache_size"`
	Selectors        SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig mirrors crawler.Selectors for the target site.
type SelectorsConfig struct {
	Item           string `mapstructure:"item"`
	IdentifierAttr string `mapstructure:"identifier_attr"`
	Title          string `mapstructure:"title"`
	Price          string `mapstructure:"price"`
	NextDisabled   string `mapstructure:"next_disabled"`
	NextLink       string `mapstructure:"next_link"`
}

// BrowserConfig selects and tunes the page navigator.
type BrowserConfig struct {
	Engine        string        `mapstructure:"engine"`
	Headless      bool          `mapstructure:"headless"`
	ProfileDir    string        `mapstructure:"profile_dir"`
	Viewport      string        `mapstructure:"viewport"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	UserAgent     string        `mapstructure:"user_agent"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	ExecPath      string        `mapstructure:"exec_path"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// StoreConfig selects the item store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotConfig controls page HTML snapshots.
type SnapshotConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig holds Pub/Sub settings for new-product events.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the ops server. An empty Addr disables it.
type MetricsConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"seed":         "crawl.seed_url",
	"max-pages":    "crawl.max_pages",
	"engine":       "browser.engine",
	"store-driver": "store.driver",
	"metrics-addr": "metrics.addr",
}

// LoadDotEnv loads KEY=VALUE pairs from files into the environment. Missing
// files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file, LISTING_* environment
// variables and any flags set on flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sel := crawler.DefaultSelectors()
	v.SetDefault("crawl.seed_url", "https://www.amazon.com/s?k=iphone")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.visited_cache_size", 1024)
	v.SetDefault("crawl.selectors.item", sel.Item)
	v.SetDefault("crawl.selectors.identifier_attr", sel.IdentifierAttr)
	v.SetDefault("crawl.selectors.title", sel.Title)
	v.SetDefault("crawl.selectors.price", sel.Price)
	v.SetDefault("crawl.selectors.next_disabled", sel.NextDisabled)
	v.SetDefault("crawl.selectors.next_link", sel.NextLink)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "./tmp")
	v.SetDefault("browser.viewport", "maximized")
	v.SetDefault("browser.width", 1920)
	v.SetDefault("browser.height", 1080)
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "products.db")
	v.SetDefault("store.table", "products")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.backend", BackendLocal)
	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("snapshot.prefix", "pages")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.backend", NotifyPubSub)
	v.SetDefault("notify.topic", "new-products")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if err := c.CrawlConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Browser.Engine {
	case EngineChromedp:
		if c.Browser.Viewport != "maximized" && c.Browser.Viewport != "fixed" {
			errs = append(errs, fmt.Errorf("browser.viewport must be maximized or fixed, got %q", c.Browser.Viewport))
		}
	case EngineStatic:
	default:
		errs = append(errs, fmt.Errorf("browser.engine must be %s or %s, got %q", EngineChromedp, EngineStatic, c.Browser.Engine))
	}
	if c.Browser.NavTimeout <= 0 {
		errs = append(errs, errors.New("browser.nav_timeout must be > 0"))
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Snapshot.Enabled {
		switch c.Snapshot.Backend {
		case BackendLocal:
			if c.Snapshot.Dir == "" {
				errs = append(errs, errors.New("snapshot.dir is required for the local backend"))
			}
		case BackendGCS:
			if c.Snapshot.GCSBucket == "" {
				errs = append(errs, errors.New("snapshot.gcs_bucket is required for the gcs backend"))
			}
		case BackendMemory:
		default:
			errs = append(errs, fmt.Errorf("snapshot.backend %q is not supported", c.Snapshot.Backend))
		}
	}
	if c.Notify.Enabled {
		switch c.Notify.Backend {
		case NotifyPubSub:
			if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
				errs = append(errs, errors.New("notify.project_id and notify.topic must be set for pubsub"))
			}
		case NotifyMemory:
			if c.Notify.Topic == "" {
				errs = append(errs, errors.New("notify.topic must be set"))
			}
		default:
			errs = append(errs, fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend))
		}
	}
	return errors.Join(errs...)
}

// CrawlConfig maps the loaded settings onto the controller's configuration.
func (c Config) CrawlConfig() crawler.Config {
	out := crawler.Config{
		SeedURL:          c.Crawl.SeedURL,
		MaxPages:         c.Crawl.MaxPages,
		VisitedCacheSize: c.Crawl.VisitedCacheSize,
		Selectors: crawler.Selectors{
			Item:           c.Crawl.Selectors.Item,
			IdentifierAttr: c.Crawl.Selectors.IdentifierAttr,
			Title:          c.Crawl.Selectors.Title,
			Price:          c.Crawl.Selectors.Price,
			NextDisabled:   c.Crawl.Selectors.NextDisabled,
			NextLink:       c.Crawl.Selectors.NextLink,
		},
	}
	if c.Snapshot.Enabled {
		out.SnapshotPrefix = c.Snapshot.Prefix
	}
	if c.Notify.Enabled {
		out.NotifyTopic = c.Notify.Topic
	}
	return out
}
