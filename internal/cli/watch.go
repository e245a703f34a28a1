package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/ihavespoons/driftline/internal/trajectory"
	"github.com/spf13/cobra"
)

var (
	watchSessionID string
	watchNoStore   bool
	watchQuiet     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Ingest a change-record stream and track its trajectory",
	Long: `Read NDJSON change records from a file or stdin and feed them through
the trajectory engine, printing the session's direction as it evolves.

Each input line is one JSON object:
  {"session_id":"draft-1","timestamp":"2026-01-10T09:00:00Z","size":1240}

insertions/deletions may be given explicitly; otherwise they are derived
from the size delta. Records without a session_id share one generated
session. Out-of-order records are dropped and counted.

Example:
  driftline watch changes.ndjson
  tail -f changes.ndjson | driftline watch
  driftline watch --session draft-1 < changes.ndjson`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchSessionID, "session", "s", "", "Session ID for records that omit one")
	watchCmd.Flags().BoolVar(&watchNoStore, "no-store", false, "Skip persisting events to the session store")
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Only print the final summary")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}

	var input io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		input = f
	}

	var st store.SessionStore
	if !watchNoStore {
		st, err = store.NewSQLiteStore(cfg.Settings.Store.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to open session store, running without persistence")
			st = nil
		} else {
			defer func() { _ = st.Close() }()
		}
	}

	mgr := ingest.NewManager(cfg.EngineOptions(), st, cfg.Settings.Store.MaxEventsPerSession)

	if !watchQuiet {
		mgr.SetOnUpdate(func(sessionID string, snap trajectory.Snapshot) {
			fmt.Printf("%s  %-12s  conf %.2f  health %.2f  seg %d\n",
				snap.LastEventTime.Format("15:04:05"),
				snap.CurrentDirection,
				snap.CurrentConfidence,
				snap.HealthScore,
				snap.TotalSegments,
			)
		})
	}

	stats, err := mgr.ReadStream(input, watchSessionID)
	if err != nil {
		return err
	}

	fmt.Printf("\n%d accepted, %d dropped, %d malformed\n", stats.Accepted, stats.Dropped, stats.Malformed)

	for _, id := range mgr.SessionIDs() {
		snap, err := mgr.Snapshot(id)
		if err != nil {
			continue
		}
		printSnapshot(snap)

		preds, err := mgr.Predict(id, 0)
		if err != nil || len(preds) == 0 {
			continue
		}
		fmt.Println("  next:")
		for _, p := range preds {
			fmt.Printf("    %-12s %.2f  %s\n", p.Direction, p.Confidence, p.Rationale)
		}
	}

	return nil
}

func printSnapshot(snap trajectory.Snapshot) {
	fmt.Printf("\nsession %s\n", snap.SessionID)
	fmt.Printf("  direction:  %s (conf %.2f)\n", snap.CurrentDirection, snap.CurrentConfidence)
	fmt.Printf("  health:     %.2f\n", snap.HealthScore)
	fmt.Printf("  points:     %d across %d segments\n", snap.TotalPoints, snap.TotalSegments)

	for i, seg := range snap.Segments {
		end := "open"
		if seg.EndTime != nil {
			end = seg.EndTime.Format("15:04:05")
		}
		fmt.Printf("  segment %d:  %-12s %s - %s  (%d points, conf %.2f)\n",
			i+1, seg.Dominant, seg.StartTime.Format("15:04:05"), end, seg.PointCount, seg.AvgConfidence)
	}
}
