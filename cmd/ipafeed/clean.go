package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/dupes"
	"github.com/spf13/cobra"
)

var (
	cleanChunkSize int
	cleanSweepOnly bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove duplicate catalog entries and their stored binaries",
	Long: `Run the duplicate passes over the published catalog. The deterministic
sweep collapses entries that resolve to the same identity, keeping the
newest version. With inference enabled, a second pass asks the model to
group stored binaries that are the same app under cosmetically different
filenames, and deletes everything but each group's newest member.

The catalog file is backed up before it is rewritten.

Example:
  ipafeed clean
  ipafeed clean --sweep-only       # skip the model pass`,
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

		// The filename analysis needs a model; without one the sweep still
		// runs.
		var detector *dupes.Detector
		if p.inference != nil && !cleanSweepOnly {
			detector, err = dupes.NewDetector(dupes.DetectorConfig{
				Client:    p.inference,
				Registry:  p.registry,
				ChunkSize: cleanChunkSize,
				Logger:    p.log,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		cleaner, err := dupes.NewCleaner(dupes.CleanerConfig{
			Detector: detector,
			Registry: p.registry,
			Storage:  p.release,
			Logger:   p.log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		stats, err := cleaner.Run(ctx, cfg.Paths.Feed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Keep the AltStore document in step with the pruned catalog.
		if stats.CatalogRemoved > 0 {
			feed, err := catalog.Load(cfg.Paths.Feed)
			if err == nil {
				err = catalog.SaveAltStore(cfg.Paths.AltStore, catalog.ToAltStore(feed, p.registry))
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: rewriting altstore feed: %v\n", err)
				os.Exit(1)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Clean complete\n", green("✓"))
		fmt.Printf("  %d catalog entr%s removed\n", stats.CatalogRemoved, plural(stats.CatalogRemoved, "y", "ies"))
		fmt.Printf("  %d stored binar%s deleted\n", stats.AssetsDeleted, plural(stats.AssetsDeleted, "y", "ies"))
		if detector != nil {
			fmt.Printf("  %d duplicate group(s) applied\n", stats.GroupsApplied)
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().IntVar(&cleanChunkSize, "chunk-size", 0, "Filenames per analysis request (0 = default)")
	cleanCmd.Flags().BoolVar(&cleanSweepOnly, "sweep-only", false, "Run only the deterministic sweep, no model calls")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
