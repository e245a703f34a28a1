package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/spf13/cobra"
)

var (
	sessionsLimit int
	sessionsAll   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tracked sessions",
	Long: `List sessions from the session store with their activity and stored
segment counts.

Example:
  driftline sessions            # Most recent sessions
  driftline sessions --all      # Include closed sessions
  driftline sessions rm <id>    # Delete a session and its data`,
	RunE: runSessionsList,
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a session",
	Long:  `Delete a session, its events, and its segments from the store.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsRm,
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions to show")
	sessionsCmd.Flags().BoolVarP(&sessionsAll, "all", "a", false, "Include closed sessions")

	sessionsCmd.AddCommand(sessionsRmCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore() (store.SessionStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	st, err := store.NewSQLiteStore(cfg.Settings.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return st, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if verbose {
		_ = logger.Init("debug", "")
	} else {
		logger.InitQuiet()
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if !sessionsAll {
		open := sessions[:0]
		for _, s := range sessions {
			if !s.Closed {
				open = append(open, s)
			}
		}
		sessions = open
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	if sessionsLimit > 0 && len(sessions) > sessionsLimit {
		sessions = sessions[:sessionsLimit]
	}

	fmt.Printf("%-40s  %-14s  %-14s  %-8s  %s\n", "SESSION ID", "STARTED", "LAST SEEN", "SEGMENTS", "STATE")
	fmt.Println(strings.Repeat("-", 92))

	for _, session := range sessions {
		sessionID := session.SessionID
		if len(sessionID) > 38 {
			sessionID = sessionID[:35] + "..."
		}

		segments, _ := st.GetSessionSegments(session.SessionID)

		state := "open"
		if session.Closed {
			state = "closed"
		}

		fmt.Printf("%-40s  %-14s  %-14s  %-8d  %s\n",
			sessionID,
			humanize.Time(session.CreatedAt),
			humanize.Time(session.LastSeenAt),
			len(segments),
			state,
		)
	}

	if len(sessions) == sessionsLimit {
		fmt.Printf("\n(Showing first %d sessions. Use --limit to see more.)\n", sessionsLimit)
	}

	return nil
}

func runSessionsRm(cmd *cobra.Command, args []string) error {
	logger.InitQuiet()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessionID := args[0]
	if _, err := st.GetSession(sessionID); err != nil {
		return err
	}

	if err := st.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Printf("Deleted session %s\n", sessionID)
	return nil
}
