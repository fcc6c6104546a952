// Package cmd defines the CLI commands for the listing-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/app"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/logging"
)

// newApp is the application factory. Tests replace it to inject fake cloud
// clients.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, nil)
}

// cli carries state shared between the root hooks and subcommands.
type cli struct {
	cfgFile string
	envFile string

	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing-crawler",
		Short: "Crawls a paginated product listing into a database.",
		Long: `listing-crawler opens a browser on a search results page, stores every
complete product card it finds, and follows the next-page link until the
listing ends. Stored products are keyed by the site's own identifier, so
re-running a crawl only adds what is new.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(c.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			c.cfg, c.logger, c.app = cfg, logger, a
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flags.String("seed", "", "seed URL of the listing")
	flags.Int("max-pages", 0, "stop after this many pages (0 = no limit)")
	flags.String("engine", "", "page navigator: chromedp or static")
	flags.String("store-driver", "", "item store: sqlite, postgres or memory")
	flags.String("metrics-addr", "", "serve /healthz, /readyz, /metrics and /v1/status on this address")

	cmd.AddCommand(newCrawlCmd(c), newListCmd(c), newSchemaCmd(c))
	return cmd
}

// close releases application services once the command has finished,
// whether or not it succeeded.
func (c *cli) close() {
	if c.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.app.Close(ctx)
		c.app = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func run(ctx context.Context, args []string) error {
	c := &cli{}
	defer c.close()
	root := newRootCmd(c)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("listing-crawler: %w", err)
	}
	return nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
