package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Equal(t, "https://www.amazon.com/s?k=iphone", cfg.Crawl.SeedURL)
	require.Equal(t, EngineChromedp, cfg.Browser.Engine)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, "maximized", cfg.Browser.Viewport)
	require.Equal(t, "./tmp", cfg.Browser.ProfileDir)
	require.Equal(t, 45*time.Second, cfg.Browser.NavTimeout)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "products", cfg.Store.Table)
	require.Empty(t, cfg.Metrics.Addr)

	crawlCfg := cfg.CrawlConfig()
	require.Equal(t, crawler.DefaultSelectors(), crawlCfg.Selectors)
	require.Empty(t, crawlCfg.SnapshotPrefix)
	require.Empty(t, crawlCfg.NotifyTopic)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  seed_url: https://shop.test/s?k=widgets
  max_pages: 5
  selectors:
    item: li.product
    identifier_attr: data-sku
browser:
  engine: static
  nav_timeout: 10s
store:
  driver: postgres
  dsn: postgres://crawler@localhost/listings
  table: widgets
snapshot:
  enabled: true
  backend: memory
  prefix: snaps
notify:
  enabled: true
  project_id: demo
  topic: widgets-new
metrics:
  addr: ":9102"
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Crawl.MaxPages)
	require.Equal(t, EngineStatic, cfg.Browser.Engine)
	require.Equal(t, 10*time.Second, cfg.Browser.NavTimeout)
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, "widgets", cfg.Store.Table)
	require.Equal(t, ":9102", cfg.Metrics.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)

	crawlCfg := cfg.CrawlConfig()
	require.Equal(t, "li.product", crawlCfg.Selectors.Item)
	require.Equal(t, "data-sku", crawlCfg.Selectors.IdentifierAttr)
	require.Equal(t, crawler.DefaultSelectors().NextLink, crawlCfg.Selectors.NextLink)
	require.Equal(t, "snaps", crawlCfg.SnapshotPrefix)
	require.Equal(t, "widgets-new", crawlCfg.NotifyTopic)
}

func TestLoadEnvAndFlagPrecedence(t *testing.T) {
	t.Setenv("LISTING_CRAWL_MAX_PAGES", "7")
	t.Setenv("LISTING_STORE_DRIVER", "memory")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Crawl.MaxPages)
	require.Equal(t, DriverMemory, cfg.Store.Driver)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-pages", 0, "")
	flags.String("seed", "", "")
	require.NoError(t, flags.Parse([]string{"--max-pages=2", "--seed=https://shop.test/s"}))

	cfg, err = Load("", flags)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Crawl.MaxPages)
	require.Equal(t, "https://shop.test/s", cfg.Crawl.SeedURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative seed", func(c *Config) { c.Crawl.SeedURL = "/s?k=x" }, "absolute URL"},
		{"engine", func(c *Config) { c.Browser.Engine = "lynx" }, "browser.engine"},
		{"viewport", func(c *Config) { c.Browser.Viewport = "tiny" }, "browser.viewport"},
		{"nav timeout", func(c *Config) { c.Browser.NavTimeout = 0 }, "nav_timeout"},
		{"driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"gcs bucket", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Backend = BackendGCS
		}, "gcs_bucket"},
		{"notify project", func(c *Config) { c.Notify.Enabled = true }, "notify.project_id"},
		{"empty selector", func(c *Config) { c.Crawl.Selectors.Price = "" }, "price"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			tc.mutate(&c)
			require.ErrorContains(t, c.Validate(), tc.want)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LISTING_STORE_TABLE=from_dotenv\n"), 0o600))
	t.Setenv("LISTING_STORE_TABLE", "")
	require.NoError(t, os.Unsetenv("LISTING_STORE_TABLE"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "from_dotenv", cfg.Store.Table)
}
