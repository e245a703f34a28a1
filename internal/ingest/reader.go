package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ihavespoons/driftline/internal/event"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

// maxLineBytes bounds a single NDJSON line. Change records are small;
// anything near this size is a malformed stream.
const maxLineBytes = 1 << 20

// Stats summarizes one stream read
type Stats struct {
	Accepted  int
	Dropped   int
	Malformed int
}

// ReadStream consumes NDJSON change records from r until EOF. Records
// without a session_id are assigned defaultSessionID (a fresh UUID is
// generated when that is empty too). Malformed lines and out-of-order
// records are logged and skipped; only the stream itself failing returns
// an error.
func (m *Manager) ReadStream(r io.Reader, defaultSessionID string) (Stats, error) {
	if defaultSessionID == "" {
		defaultSessionID = uuid.NewString()
	}

	var stats Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		rec, err := event.ParseChangeRecord(line)
		if err != nil {
			stats.Malformed++
			logger.Warn().
				Err(err).
				Int("line", lineNo).
				Msg("Skipping malformed change record")
			continue
		}

		if rec.SessionID == "" {
			rec.SessionID = defaultSessionID
		}

		if err := m.Accept(rec); err != nil {
			if trajectory.IsOutOfOrder(err) {
				stats.Dropped++
				logger.Warn().
					Str("session", rec.SessionID).
					Int("line", lineNo).
					Time("timestamp", rec.Timestamp).
					Msg("Dropping out-of-order change record")
				continue
			}
			return stats, fmt.Errorf("line %d: %w", lineNo, err)
		}
		stats.Accepted++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read stream: %w", err)
	}
	return stats, nil
}
