package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/daemon"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/spf13/cobra"
)

var (
	backgroundFlag      bool
	backgroundChildFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Manage the driftline daemon",
	Long: `Manage the driftline daemon.

The daemon accepts change records over HTTP, tracks session trajectories,
and serves snapshots, predictions, and a live dashboard over SSE.

Commands:
  start  - Start the daemon (foreground or background)
  stop   - Stop the running daemon
  status - Check if the daemon is running`,
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the driftline daemon.

By default, runs in the foreground. Use --background to run as a background process.

Example:
  driftline serve start              # Run in foreground
  driftline serve start --background # Run in background`,
	RunE: runServeStart,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the driftline daemon if it is running.

Example:
  driftline serve stop`,
	RunE: runServeStop,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long: `Check if the driftline daemon is running.

Example:
  driftline serve status`,
	RunE: runServeStatus,
}

func init() {
	serveStartCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Run daemon in background")
	serveStartCmd.Flags().BoolVar(&backgroundChildFlag, "background-child", false, "Internal flag for background process")
	_ = serveStartCmd.Flags().MarkHidden("background-child")

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadDaemonConfig loads global-only config so project-specific tuning
// never leaks into the shared daemon.
func loadDaemonConfig() *config.Config {
	loader, err := config.NewLoader("")
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.LoadGlobalOnly()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

func runServeStart(cmd *cobra.Command, args []string) error {
	cfg := loadDaemonConfig()

	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		_ = logger.Init("info", cfg.Settings.LogFile)
	}

	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	// If --background flag is set, start in background and exit
	if backgroundFlag && !backgroundChildFlag {
		if lifecycle.IsRunning() {
			fmt.Println("Daemon is already running")
			return nil
		}

		if err := lifecycle.StartInBackground(); err != nil {
			return fmt.Errorf("failed to start daemon in background: %w", err)
		}

		fmt.Printf("Daemon started on http://127.0.0.1:%d\n", lifecycle.Port())
		return nil
	}

	if !backgroundChildFlag && lifecycle.IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", lifecycle.PIDFile())
	}

	st, storeErr := store.NewSQLiteStore(cfg.Settings.Store.Path)
	if storeErr != nil {
		logger.Warn().Err(storeErr).Msg("Failed to open session store, running in-memory only")
		st = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sessionStore store.SessionStore
	if st != nil {
		sessionStore = st
	}

	mgr := ingest.NewManager(cfg.EngineOptions(), sessionStore, cfg.Settings.Store.MaxEventsPerSession)
	server := daemon.NewServer(cfg, mgr, sessionStore, Version)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if !backgroundChildFlag {
		fmt.Printf("Driftline running at http://127.0.0.1:%d\n", server.Port())
		fmt.Println("Press Ctrl+C to stop")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	if st != nil {
		_ = st.Close()
	}

	return nil
}

func runServeStop(cmd *cobra.Command, args []string) error {
	cfg := loadDaemonConfig()
	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	if !lifecycle.IsRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, _ := lifecycle.GetPID()
	if err := lifecycle.Stop(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Printf("Daemon stopped (was PID %d)\n", pid)
	return nil
}

func runServeStatus(cmd *cobra.Command, args []string) error {
	cfg := loadDaemonConfig()
	lifecycle := daemon.NewLifecycle(cfg.Settings.Daemon)

	if lifecycle.IsRunning() {
		pid, _ := lifecycle.GetPID()
		fmt.Printf("Daemon is running (PID %d)\n", pid)
		fmt.Printf("Dashboard: http://127.0.0.1:%d\n", lifecycle.Port())
	} else {
		fmt.Println("Daemon is not running")
	}

	return nil
}
