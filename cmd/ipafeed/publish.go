package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Rebuild and publish the feed from already-downloaded packages",
	Long: `Run the publish phase without scanning Telegram: reconcile every package
in the download directory, deduplicate against the published catalog, upload
fresh binaries as release assets, and rewrite the feed documents.

Useful after an interrupted scrape, or to apply changed override rules to
packages that are already on disk.

Example:
  ipafeed publish`,
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer p.saveState()

		res, err := p.publish(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printPublishSummary(res, cfg)
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
