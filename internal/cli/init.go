package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ihavespoons/driftline/internal/config"
)

var (
	initGlobal bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize driftline configuration",
	Long: `Initialize a driftline configuration file.

By default, creates a .driftline/config.yaml in the current directory.
Use --global to create ~/.driftline/config.yaml instead.`,
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().BoolVarP(&initGlobal, "global", "g", false, "Create global config in ~/.driftline/")
	rootCmd.AddCommand(initCmd)
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	var configPath string

	if initGlobal {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".driftline", "config.yaml")
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		configPath = filepath.Join(cwd, ".driftline", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created config file: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Tune engine settings (window_size, hysteresis_k) for your workload")
	fmt.Println("2. Pipe change records through 'driftline watch'")
	fmt.Println("3. Or run 'driftline serve start' and POST records to /api/events")

	return nil
}
