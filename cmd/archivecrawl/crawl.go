package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"archivecrawl/pkg/config"
	"archivecrawl/pkg/crawler"
	"archivecrawl/pkg/logger"
	"archivecrawl/pkg/ratelimit"
	"archivecrawl/pkg/source"
	"archivecrawl/pkg/source/archive"
)

var (
	// Crawl command flags
	inputFiles string
	outputDir  string
	workers    int
	chromePath string
	reqPerMin  int
	headful    bool
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl every parcel of the input files and download case documents",
	Long: `Crawl reads parcel lists (group, gush, chelka), discovers the building
cases of each parcel and downloads every case document into the group's
output directory.

The run is resumable: each group keeps a status ledger next to its
downloads, and a rerun skips everything the ledger marks completed. After
the crawl drains, every group is reconciled against the files on disk and
a master report is written to the output root.`,
	Example: `  # Crawl with defaults
  archivecrawl crawl --input parcels.csv

  # Merge several input files and use 16 workers
  archivecrawl crawl --input north.csv,south.csv --workers 16 --output ./archive

  # Watch the browser while debugging selectors
  archivecrawl crawl --input parcels.csv --headful --workers 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl()
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&inputFiles, "input", "i", "", "comma-separated parcel input files (group,gush,chelka)")
	crawlCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default ./output)")
	crawlCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of crawl workers")
	crawlCmd.Flags().StringVar(&chromePath, "driver", "", "path to the Chrome binary")
	crawlCmd.Flags().IntVar(&reqPerMin, "rate-limit", 0, "page navigations per minute")
	crawlCmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
}

func runCrawl() error {
	flags := make(map[string]interface{})
	if inputFiles != "" {
		flags["input"] = inputFiles
	}
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if workers > 0 {
		flags["workers"] = workers
	}
	if chromePath != "" {
		flags["driver"] = chromePath
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}
	if reqPerMin > 0 {
		cfg.RateLimit.RequestsPerMinute = reqPerMin
	}
	if headful {
		cfg.Source.Headless = false
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := crawler.New(cfg, func(groupDir string) (source.Source, error) {
		limiter := ratelimit.NewTokenBucket(cfg.RateLimit.BurstSize, cfg.RateLimit.RefillPeriod())
		return archive.New(archive.Config{
			Homepage:          cfg.Source.Homepage,
			ChromePath:        cfg.Source.ChromePath,
			Headless:          cfg.Source.Headless,
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: cfg.Source.NavigationTimeout,
			DownloadDir:       groupDir,
		}, limiter)
	})

	if err := c.Run(ctx); err != nil {
		log.WithError(err).Error("Crawl failed")
		return err
	}
	return nil
}
