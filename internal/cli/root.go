package cli

import (
	"fmt"

	"github.com/ihavespoons/driftline/internal/config"
	"github.com/spf13/cobra"
)

// Version information set via ldflags
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	verbose    bool
	configFile string
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "driftline",
	Short: "Trajectory tracking for evolving work sessions",
	Long: `Driftline classifies how a work session is evolving from a stream of
change observations: expanding, converging, pivoting, stable, or uncertain.

It segments each session into phases of sustained direction, scores session
health, and projects likely next states. Feed it NDJSON change records from
an editor, a build watcher, or any adapter that can report sizes and deltas.

Configure in:
  - ~/.driftline/config.yaml (global)
  - .driftline/config.yaml (project-specific)`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("driftline %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", Date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Override config file path")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "Override project directory")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration from flags and config files
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}

	if configFile != "" {
		return loader.LoadFromFile(configFile)
	}
	return loader.Load()
}
