package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/trajectory"
	"github.com/spf13/cobra"
)

var (
	inspectJSON    bool
	inspectHorizon int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Rebuild and inspect a stored session",
	Long: `Replay a session's stored events through the trajectory engine and
print its snapshot and predictions.

Example:
  driftline inspect draft-1
  driftline inspect draft-1 --json
  driftline inspect draft-1 --horizon 5`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output snapshot and predictions as JSON")
	inspectCmd.Flags().IntVar(&inspectHorizon, "horizon", 0, "Prediction horizon in steps (0 = default)")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	if verbose {
		_ = logger.Init("debug", "")
	} else {
		logger.InitQuiet()
	}

	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessionID := args[0]
	session, err := st.GetSession(sessionID)
	if err != nil {
		return err
	}

	eng, err := ingest.Replay(st, sessionID, cfg.EngineOptions())
	if err != nil {
		return err
	}

	snap := eng.Snapshot()
	preds := eng.Predict(inspectHorizon)

	if inspectJSON {
		out := struct {
			Snapshot    trajectory.Snapshot         `json:"snapshot"`
			Predictions []trajectory.PredictedState `json:"predictions"`
		}{snap, preds}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	state := "open"
	if session.Closed {
		state = "closed"
	}

	fmt.Printf("Session: %s (%s)\n", session.SessionID, state)
	if session.Label != "" {
		fmt.Printf("Label:   %s\n", session.Label)
	}
	fmt.Printf("Started: %s\n", humanize.Time(session.CreatedAt))
	printSnapshot(snap)

	if len(preds) > 0 {
		fmt.Println("  next:")
		for _, p := range preds {
			fmt.Printf("    %-12s %.2f  %s\n", p.Direction, p.Confidence, p.Rationale)
		}
	}

	return nil
}
