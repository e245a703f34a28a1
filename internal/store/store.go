// Package store persists sessions, their state events, and closed segments
// in SQLite so snapshots can be rebuilt after a restart and inspected
// offline.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/trajectory"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Session is a persisted work session
type Session struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Label      string    `json:"label,omitempty"`
	Closed     bool      `json:"closed"`
}

// SegmentRecord is a persisted closed segment
type SegmentRecord struct {
	ID            int64                `json:"id"`
	SessionID     string               `json:"session_id"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	Dominant      trajectory.Direction `json:"dominant"`
	AvgConfidence float64              `json:"avg_confidence"`
	PointCount    int                  `json:"point_count"`
}

// SessionStore defines the interface for session/event persistence
type SessionStore interface {
	// Session management
	GetOrCreateSession(sessionID, label string) (*Session, error)
	UpdateSessionLastSeen(sessionID string) error
	MarkSessionClosed(sessionID string) error
	GetSession(sessionID string) (*Session, error)
	DeleteSession(sessionID string) error
	ListSessions() ([]*Session, error)

	// Event management
	StoreEvent(sessionID string, ev event.StateEvent) error
	GetSessionEvents(sessionID string, since time.Time) ([]event.StateEvent, error)
	GetRecentEvents(sessionID string, limit int) ([]event.StateEvent, error)

	// Segment management
	StoreSegment(sessionID string, seg trajectory.Segment) error
	GetSessionSegments(sessionID string) ([]*SegmentRecord, error)

	// Cleanup
	CleanupOldSessions(ttl time.Duration) (int64, error)
	CleanupExcessEvents(sessionID string, maxEvents int) (int64, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements SessionStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-backed session store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".driftline", "sessions.db")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened session store")

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		label TEXT,
		closed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp_ns INTEGER NOT NULL,
		size INTEGER NOT NULL,
		insertions INTEGER NOT NULL,
		deletions INTEGER NOT NULL,
		structure_hash INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		dominant TEXT NOT NULL,
		avg_confidence REAL NOT NULL,
		point_count INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp_ns);
	CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id, start_ns);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateSession retrieves an existing session or creates a new one
func (s *SQLiteStore) GetOrCreateSession(sessionID, label string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	session, err := s.getSessionLocked(sessionID)
	if err == nil {
		_, err = s.db.Exec(
			"UPDATE sessions SET last_seen_at = ? WHERE session_id = ?",
			now, sessionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update session: %w", err)
		}
		session.LastSeenAt = time.Unix(now, 0)
		return session, nil
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (session_id, created_at, last_seen_at, label, closed)
		 VALUES (?, ?, ?, ?, 0)`,
		sessionID, now, now, label,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		SessionID:  sessionID,
		CreatedAt:  time.Unix(now, 0),
		LastSeenAt: time.Unix(now, 0),
		Label:      label,
	}, nil
}

// UpdateSessionLastSeen updates the last_seen_at timestamp
func (s *SQLiteStore) UpdateSessionLastSeen(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"UPDATE sessions SET last_seen_at = ? WHERE session_id = ?",
		time.Now().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	return nil
}

// MarkSessionClosed flags a session as closed to further ingestion
func (s *SQLiteStore) MarkSessionClosed(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"UPDATE sessions SET closed = 1, last_seen_at = ? WHERE session_id = ?",
		time.Now().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(sessionID)
}

func (s *SQLiteStore) getSessionLocked(sessionID string) (*Session, error) {
	var session Session
	var createdAt, lastSeenAt int64
	var label sql.NullString
	var closed int

	err := s.db.QueryRow(
		`SELECT session_id, created_at, last_seen_at, label, closed
		 FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&session.SessionID, &createdAt, &lastSeenAt, &label, &closed)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeenAt, 0)
	session.Label = label.String
	session.Closed = closed != 0
	return &session, nil
}

// DeleteSession removes a session, its events, and its segments
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec("DELETE FROM events WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	_, err = tx.Exec("DELETE FROM segments WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}

	_, err = tx.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// ListSessions returns all sessions ordered by last_seen_at
func (s *SQLiteStore) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, created_at, last_seen_at, label, closed
		 FROM sessions ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAt, lastSeenAt int64
		var label sql.NullString
		var closed int

		if err := rows.Scan(&session.SessionID, &createdAt, &lastSeenAt, &label, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		session.CreatedAt = time.Unix(createdAt, 0)
		session.LastSeenAt = time.Unix(lastSeenAt, 0)
		session.Label = label.String
		session.Closed = closed != 0
		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// StoreEvent stores a state event for a session
func (s *SQLiteStore) StoreEvent(sessionID string, ev event.StateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	var err error

	if ev.Metadata != nil {
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO events (session_id, timestamp_ns, size, insertions, deletions, structure_hash, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		ev.Timestamp.UnixNano(),
		ev.Fingerprint.Size,
		ev.Fingerprint.Insertions,
		ev.Fingerprint.Deletions,
		int64(ev.Fingerprint.StructureHash),
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	return nil
}

// GetSessionEvents retrieves events for a session since a given time, in
// timestamp order
func (s *SQLiteStore) GetSessionEvents(sessionID string, since time.Time) ([]event.StateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT timestamp_ns, size, insertions, deletions, structure_hash, metadata
		 FROM events
		 WHERE session_id = ? AND timestamp_ns >= ?
		 ORDER BY timestamp_ns ASC, id ASC`,
		sessionID, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanEvents(rows)
}

// GetRecentEvents retrieves the most recent events for a session in
// chronological order
func (s *SQLiteStore) GetRecentEvents(sessionID string, limit int) ([]event.StateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT timestamp_ns, size, insertions, deletions, structure_hash, metadata
		 FROM events
		 WHERE session_id = ?
		 ORDER BY timestamp_ns DESC, id DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events, err := s.scanEvents(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}

func (s *SQLiteStore) scanEvents(rows *sql.Rows) ([]event.StateEvent, error) {
	var events []event.StateEvent

	for rows.Next() {
		var ev event.StateEvent
		var timestampNs, structureHash int64
		var metadataJSON sql.NullString

		if err := rows.Scan(&timestampNs, &ev.Fingerprint.Size, &ev.Fingerprint.Insertions, &ev.Fingerprint.Deletions, &structureHash, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.Timestamp = time.Unix(0, timestampNs)
		ev.Fingerprint.StructureHash = uint64(structureHash)

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata); err != nil {
				logger.Debug().Err(err).Msg("Failed to unmarshal event metadata")
			}
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

// StoreSegment records a closed segment for a session
func (s *SQLiteStore) StoreSegment(sessionID string, seg trajectory.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.Open() {
		return fmt.Errorf("cannot store an open segment")
	}

	_, err := s.db.Exec(
		`INSERT INTO segments (session_id, start_ns, end_ns, dominant, avg_confidence, point_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID,
		seg.StartTime.UnixNano(),
		seg.EndTime.UnixNano(),
		string(seg.Dominant),
		seg.AvgConfidence,
		len(seg.Points),
	)
	if err != nil {
		return fmt.Errorf("failed to store segment: %w", err)
	}

	return nil
}

// GetSessionSegments returns a session's closed segments in start order
func (s *SQLiteStore) GetSessionSegments(sessionID string) ([]*SegmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, start_ns, end_ns, dominant, avg_confidence, point_count
		 FROM segments
		 WHERE session_id = ?
		 ORDER BY start_ns ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var segments []*SegmentRecord
	for rows.Next() {
		var rec SegmentRecord
		var startNs, endNs int64
		var dominant string

		if err := rows.Scan(&rec.ID, &rec.SessionID, &startNs, &endNs, &dominant, &rec.AvgConfidence, &rec.PointCount); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		rec.StartTime = time.Unix(0, startNs)
		rec.EndTime = time.Unix(0, endNs)
		rec.Dominant = trajectory.Direction(dominant)
		segments = append(segments, &rec)
	}

	return segments, rows.Err()
}

// CleanupOldSessions removes sessions older than the given TTL
func (s *SQLiteStore) CleanupOldSessions(ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	_, err := s.db.Exec("DELETE FROM events WHERE session_id IN (SELECT session_id FROM sessions WHERE last_seen_at < ?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	_, err = s.db.Exec("DELETE FROM segments WHERE session_id IN (SELECT session_id FROM sessions WHERE last_seen_at < ?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old segments: %w", err)
	}

	result, err := s.db.Exec("DELETE FROM sessions WHERE last_seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("ttl", ttl.String()).
			Msg("Cleaned up old sessions")
	}

	return deleted, nil
}

// CleanupExcessEvents removes oldest events when session exceeds max events
func (s *SQLiteStore) CleanupExcessEvents(sessionID string, maxEvents int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	if count <= maxEvents {
		return 0, nil
	}

	toDelete := count - maxEvents
	result, err := s.db.Exec(
		`DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE session_id = ? ORDER BY timestamp_ns ASC, id ASC LIMIT ?
		)`,
		sessionID, toDelete,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete excess events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("session", sessionID).
			Msg("Cleaned up excess events")
	}

	return deleted, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
