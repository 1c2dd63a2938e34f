package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ipafeed",
	Short: "Scrape IPA channels on Telegram and publish an AltStore feed",
	Long: `ipafeed watches Telegram channels that post decrypted IPA packages,
downloads releases it has not seen, reconciles each package's identity from
the post text, the filename and the archive itself, and republishes the
result as a deduplicated AltStore-compatible feed backed by GitHub release
assets.

Credentials come from the environment, never from the config file:
  TELEGRAM_BOT_TOKEN   Bot API transport (or set telegram.export instead)
  GITHUB_TOKEN         release asset uploads and deletions
  OPENROUTER_API_KEY   metadata extraction (ANTHROPIC_API_KEY for anthropic)

Typical flow:
  ipafeed init        # write a starter config and seed the tweak registry
  ipafeed scrape      # scan channels, download, and publish
  ipafeed doctor      # check configuration and connectivity`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
