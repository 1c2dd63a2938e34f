package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ipafeed/ipafeed/internal/catalog"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/source"
	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/spf13/cobra"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check ipafeed configuration and connectivity",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks:
- Config file existence and validity
- Credentials in the environment
- The tweak registry and catalog files
- The download directory
- GitHub release storage reachability
- The inference provider, when enabled
- The Telegram transport

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent ipafeed from running`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running ipafeed health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		// Check 1: Config file
		fmt.Printf("%s Configuration\n", cyan("→"))
		cfg, err := config.Load(configPath)
		if err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Cannot load config: %v", err))
			fmt.Printf("  %s Cannot load %s\n", red("✗"), configPath)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
			fmt.Printf("\n%s Run 'ipafeed init' to create a starter config.\n", red("✗"))
			os.Exit(2)
		}
		fmt.Printf("  %s Loaded %s (%d channel(s))\n", green("✓"), configPath, len(cfg.Channels))
		if err := cfg.Validate(); err != nil {
			failures = append(failures, fmt.Sprintf("Config invalid: %v", err))
			fmt.Printf("  %s Config does not validate\n", red("✗"))
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s Config validates\n", green("✓"))
		}

		// Check 2: Credentials
		fmt.Printf("%s Credentials\n", cyan("→"))
		switch {
		case cfg.Telegram.Export != "":
			fmt.Printf("  %s Transport: Telegram Desktop export (%s)\n", green("✓"), cfg.Telegram.Export)
		case cfg.Telegram.BotToken != "":
			fmt.Printf("  %s Transport: Bot API (TELEGRAM_BOT_TOKEN set)\n", green("✓"))
		default:
			failures = append(failures, "No chat source: set TELEGRAM_BOT_TOKEN or telegram.export")
			fmt.Printf("  %s No chat source configured\n", red("✗"))
		}
		if cfg.Release.Token == "" {
			warnings = append(warnings, "GITHUB_TOKEN not set: uploads and deletions will fail")
			fmt.Printf("  %s GITHUB_TOKEN not set (read-only storage access)\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s GITHUB_TOKEN set\n", green("✓"))
		}
		if cfg.Inference.Enabled {
			if cfg.Inference.APIKey == "" {
				failures = append(failures, "Inference enabled but its API key is not set")
				fmt.Printf("  %s Inference key missing for provider %s\n", red("✗"), cfg.Inference.Provider)
			} else {
				fmt.Printf("  %s Inference key set (%s)\n", green("✓"), cfg.Inference.Provider)
			}
		} else {
			fmt.Printf("  %s Inference disabled: extraction falls back to filenames\n", yellow("⚠"))
		}

		// Check 3: Tweak registry
		fmt.Printf("%s Tweak registry\n", cyan("→"))
		registry, err := tweaks.Load(cfg.Paths.Registry)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Cannot load tweak registry: %v", err))
			fmt.Printf("  %s Cannot load %s\n", red("✗"), cfg.Paths.Registry)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s %d known tweak(s) in %s\n", green("✓"), registry.Len(), cfg.Paths.Registry)
		}

		// Check 4: Catalog files
		fmt.Printf("%s Catalog\n", cyan("→"))
		feed, err := catalog.Load(cfg.Paths.Feed)
		switch {
		case os.IsNotExist(err):
			fmt.Printf("  %s No feed published yet (%s)\n", green("✓"), cfg.Paths.Feed)
		case err != nil:
			failures = append(failures, fmt.Sprintf("Feed file unreadable: %v", err))
			fmt.Printf("  %s Cannot parse %s\n", red("✗"), cfg.Paths.Feed)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		default:
			fmt.Printf("  %s %d app(s) in %s\n", green("✓"), len(feed.Apps), cfg.Paths.Feed)
			if _, err := os.Stat(cfg.Paths.AltStore); err != nil {
				warnings = append(warnings, "AltStore document missing: run 'ipafeed convert'")
				fmt.Printf("  %s %s missing\n", yellow("⚠"), cfg.Paths.AltStore)
			} else {
				fmt.Printf("  %s AltStore document present\n", green("✓"))
			}
		}

		// Check 5: Download directory
		fmt.Printf("%s Download directory\n", cyan("→"))
		pending, err := downloadedPackages(cfg.Paths.Downloads)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Download directory unreadable: %v", err))
			fmt.Printf("  %s Cannot read %s\n", red("✗"), cfg.Paths.Downloads)
		} else if len(pending) > 0 {
			fmt.Printf("  %s %d package(s) awaiting publish in %s\n", green("✓"), len(pending), cfg.Paths.Downloads)
		} else {
			fmt.Printf("  %s Empty (%s)\n", green("✓"), cfg.Paths.Downloads)
		}

		// Network checks from here down.
		if doctorOffline {
			fmt.Printf("%s Network checks skipped (--offline)\n", cyan("→"))
			printDoctorSummary(criticalFailures, failures, warnings)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Check 6: Release storage
		fmt.Printf("%s Release storage\n", cyan("→"))
		if cfg.Release.Owner == "" || cfg.Release.Repo == "" {
			failures = append(failures, "Release repository not configured")
			fmt.Printf("  %s release.owner and release.repo are required\n", red("✗"))
		} else if rel, err := newRelease(cfg); err != nil {
			failures = append(failures, fmt.Sprintf("Release client: %v", err))
			fmt.Printf("  %s %v\n", red("✗"), err)
		} else if err := rel.HealthCheck(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("GitHub unreachable: %v", err))
			fmt.Printf("  %s Cannot reach %s/%s\n", red("✗"), cfg.Release.Owner, cfg.Release.Repo)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s %s/%s reachable\n", green("✓"), cfg.Release.Owner, cfg.Release.Repo)
		}

		// Check 7: Inference provider
		if cfg.Inference.Enabled && cfg.Inference.APIKey != "" {
			fmt.Printf("%s Inference provider\n", cyan("→"))
			if client, err := inferenceClient(cfg); err != nil {
				failures = append(failures, fmt.Sprintf("Inference client: %v", err))
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else if err := client.HealthCheck(ctx); err != nil {
				failures = append(failures, fmt.Sprintf("Inference provider unreachable: %v", err))
				fmt.Printf("  %s %s did not answer a probe request\n", red("✗"), cfg.Inference.Provider)
				if verbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				fmt.Printf("  %s %s answered (model %s)\n", green("✓"), cfg.Inference.Provider, client.Provider().Model())
			}
		}

		// Check 8: Telegram transport
		fmt.Printf("%s Telegram transport\n", cyan("→"))
		switch {
		case cfg.Telegram.Export != "":
			if _, err := source.OpenExport(cfg.Telegram.Export); err != nil {
				failures = append(failures, fmt.Sprintf("Export unreadable: %v", err))
				fmt.Printf("  %s Cannot open export %s\n", red("✗"), cfg.Telegram.Export)
				if verbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				fmt.Printf("  %s Export parses\n", green("✓"))
			}
		case cfg.Telegram.BotToken != "":
			if bot, err := source.NewBotClient(source.BotConfig{Token: cfg.Telegram.BotToken}); err != nil {
				failures = append(failures, fmt.Sprintf("Bot client: %v", err))
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else if err := bot.HealthCheck(ctx); err != nil {
				failures = append(failures, fmt.Sprintf("Bot API rejected the token: %v", err))
				fmt.Printf("  %s Bot API rejected the token\n", red("✗"))
				if verbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				fmt.Printf("  %s Bot token accepted\n", green("✓"))
			}
		default:
			fmt.Printf("  %s Skipped: no transport configured\n", yellow("⚠"))
		}

		printDoctorSummary(criticalFailures, failures, warnings)
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip checks that need network access")
	rootCmd.AddCommand(doctorCmd)
}

func printDoctorSummary(criticalFailures, failures, warnings []string) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n", strings.Repeat("─", 60))

	totalIssues := len(criticalFailures) + len(failures) + len(warnings)
	if totalIssues == 0 {
		fmt.Printf("%s All checks passed! ipafeed is ready to run.\n", green("✓"))
		os.Exit(0)
	}

	if len(criticalFailures) > 0 {
		fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
		for _, failure := range criticalFailures {
			fmt.Printf("  • %s\n", failure)
		}
	}

	if len(failures) > 0 {
		fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
		for _, failure := range failures {
			fmt.Printf("  • %s\n", failure)
		}
	}

	if len(warnings) > 0 {
		fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
		for _, warning := range warnings {
			fmt.Printf("  • %s\n", warning)
		}
	}

	if len(criticalFailures) > 0 {
		fmt.Printf("\n%s ipafeed cannot run until critical issues are resolved.\n", red("✗"))
		os.Exit(2)
	}

	if len(failures) > 0 {
		fmt.Printf("\n%s ipafeed may not work correctly. Please address the failures above.\n", yellow("⚠"))
		os.Exit(1)
	}

	fmt.Printf("\n%s ipafeed should work, but some warnings were detected.\n", green("✓"))
	os.Exit(0)
}
