package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/source"
	"github.com/spf13/cobra"
)

var (
	scrapeDepth        int
	scrapePerSource    int
	scrapeDownloadOnly bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scan the configured channels, download fresh packages, and publish",
	Long: `Scan every configured channel for package posts, download the ones the
catalog does not already hold, then run the publish phase: reconcile each
download's identity, deduplicate against the published catalog, upload the
winners as release assets, and rewrite the feed documents.

Packages already stored as release assets or already superseded by a newer
published version are skipped before downloading.

Example:
  ipafeed scrape
  ipafeed scrape --depth 500          # look further back in each channel
  ipafeed scrape --download-only      # skip the publish phase`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if scrapeDepth > 0 {
			cfg.Scan.Depth = scrapeDepth
		}
		if scrapePerSource > 0 {
			cfg.Scan.PerSource = scrapePerSource
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer p.saveState()

		client, err := sourceClient(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		// Binaries already stored as release assets are never re-downloaded.
		var stored func(string) bool
		if live, err := p.liveAssets(ctx); err != nil {
			p.log.Warn("listing release assets failed, stored check disabled", "err", err)
		} else {
			stored = func(filename string) bool { return live[filename] }
		}

		scanner, err := source.NewScanner(source.ScannerConfig{
			Client:      client,
			DownloadDir: cfg.Paths.Downloads,
			BatchSize:   cfg.Scan.BatchSize,
			PerSource:   cfg.Scan.PerSource,
			ScanDepth:   cfg.Scan.Depth,
			Stored:      stored,
			Fresh:       p.freshCheck(),
			Tracking:    p.tracking,
			Logger:      p.log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Scan phase: walk each channel's package sources.
		var downloaded, failed int
		for _, ch := range cfg.Channels {
			if ctx.Err() != nil {
				break
			}
			for _, src := range expandSources(ctx, client, ch, p.log) {
				obs, err := scanner.Scan(ctx, src)
				downloaded += len(obs)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					failed++
					fmt.Printf("%s %v\n", yellow("⚠"), err)
					continue
				}
				for _, o := range obs {
					fmt.Printf("%s %s %s\n", green("✓"), cyan(o.Source.String()), o.Message.Document.Filename)
				}
			}
		}
		if ctx.Err() != nil {
			fmt.Printf("\n%s Interrupted, publishing what was downloaded\n", yellow("⚠"))
		}
		fmt.Printf("\n%s Scan complete: %d new package(s)", green("✓"), downloaded)
		if failed > 0 {
			fmt.Printf(", %s", yellow(fmt.Sprintf("%d source(s) failed", failed)))
		}
		fmt.Println()

		if scrapeDownloadOnly {
			return
		}

		// Publish phase runs even after an interrupt so finished downloads
		// are not stranded locally. A fresh context gives it room to finish,
		// and releasing the signal handler lets a second interrupt kill us.
		pubCtx := ctx
		if ctx.Err() != nil {
			stop()
			pubCtx = context.Background()
		}
		res, err := p.publish(pubCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printPublishSummary(res, cfg)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().IntVar(&scrapeDepth, "depth", 0, "Messages to scan per source (0 = config value)")
	scrapeCmd.Flags().IntVar(&scrapePerSource, "per-source", 0, "Download cap per source (0 = config value)")
	scrapeCmd.Flags().BoolVar(&scrapeDownloadOnly, "download-only", false, "Scan and download without publishing")
}

// printPublishSummary reports what a publish run changed.
func printPublishSummary(res publishResult, cfg *config.Config) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("%s Published %d app(s) to %s (%s)\n",
		green("✓"), len(res.Feed.Apps), cyan(cfg.Paths.Feed), cyan(cfg.Paths.AltStore))
	fmt.Printf("  %d processed, %d carried forward, %d superseded\n",
		res.Processed, res.Stats.Carried, res.Stats.Superseded)
	if n := len(res.Stats.DiscardedBinaries); n > 0 {
		fmt.Printf("  %d download(s) discarded as duplicates\n", n)
	}
	for _, name := range res.Stats.Dropped {
		fmt.Printf("%s dropped %s: binary missing from storage\n", yellow("⚠"), name)
	}
}
