package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/ipafeed/ipafeed/internal/config"
	"github.com/ipafeed/ipafeed/internal/tweaks"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration and seed the tweak registry",
	Long: `Create a starter config file and the default tweak registry in the
current directory. The config must be edited before the first scrape: at
minimum, add the channels to watch and the GitHub repository that stores
the binaries.

Credentials are never written to the config file; export them instead:
  TELEGRAM_BOT_TOKEN, GITHUB_TOKEN, OPENROUTER_API_KEY

Example:
  ipafeed init
  ipafeed init --config feeds/mine.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(configPath); err == nil && !initForce {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", configPath)
			os.Exit(1)
		}

		if err := config.SaveDefault(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Loading the registry seeds the default tweak names when the file
		// does not exist yet.
		registry, err := tweaks.Load(config.Default().Paths.Registry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized ipafeed\n\n", green("✓"))
		fmt.Printf("  Config: %s\n", cyan(configPath))
		fmt.Printf("  Tweak registry: %s (%d tweaks)\n", cyan(config.Default().Paths.Registry), registry.Len())
		fmt.Println()

		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("edit "+configPath+"  # add channels and the release repository"))
		fmt.Printf("  %s\n", gray("export TELEGRAM_BOT_TOKEN=... GITHUB_TOKEN=... OPENROUTER_API_KEY=..."))
		fmt.Printf("  %s\n", gray("ipafeed doctor"))
		fmt.Printf("  %s\n", gray("ipafeed scrape"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}
