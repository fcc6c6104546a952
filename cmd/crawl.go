package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
)

// crawlReport is printed to stdout when a crawl ends.
type crawlReport struct {
	crawler.Summary
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func newCrawlCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl from the seed URL",
		Long: `Navigates to the seed URL, persists every complete listing on each page
and follows the next-page link until the last page, a missing link, a
revisited URL or the page limit ends the run. Prints a JSON summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, c)
		},
	}
}

func runCrawl(cmd *cobra.Command, c *cli) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serverDone := make(chan error, 1)
	if srv := c.app.OpsServer(); srv != nil {
		go func() { serverDone <- srv.Run(ctx, c.cfg.Metrics.Addr) }()
	} else {
		close(serverDone)
	}

	summary, runErr := c.app.Controller().Run(ctx)

	cancel()
	if err := <-serverDone; err != nil {
		c.logger.Warn("ops server failed", zap.Error(err))
	}

	report := crawlReport{Summary: summary}
	if started, err := uuid.StartedAt(summary.RunID); err == nil {
		report.StartedAt = &started
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("crawl: %w", runErr)
	}
	return nil
}
