package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/spf13/cobra"
)

var (
	convertInput  string
	convertOutput string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the published feed into the strict AltStore source format",
	Long: `Regenerate the AltStore source document from the published feed without
touching Telegram or release storage. The publish phase already writes both
documents; convert exists for feeds produced elsewhere or for regenerating
the AltStore view after editing the feed by hand.

Example:
  ipafeed convert
  ipafeed convert -i apps.json -o altstore.json`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			// Conversion is a local file transform; run it on defaults when
			// no config exists yet.
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			cfg = config.Default()
		}

		input := cfg.Paths.Feed
		if convertInput != "" {
			input = convertInput
		}
		output := cfg.Paths.AltStore
		if convertOutput != "" {
			output = convertOutput
		}

		registry, err := tweaks.Load(cfg.Paths.Registry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		feed, err := catalog.Load(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := catalog.SaveAltStore(output, catalog.ToAltStore(feed, registry)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Converted %d app(s): %s → %s\n", green("✓"), len(feed.Apps), cyan(input), cyan(output))
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertInput, "input", "i", "", "Feed to convert (default: the configured feed path)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Where to write the AltStore source (default: the configured path)")
}
