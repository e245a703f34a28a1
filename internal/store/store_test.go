package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

func testEvent(ts time.Time, size, ins, del int64) event.StateEvent {
	return event.StateEvent{
		Timestamp: ts,
		Fingerprint: event.Fingerprint{
			Size:       size,
			Insertions: ins,
			Deletions:  del,
		},
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestSessionCRUD(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Create session
	session, err := store.GetOrCreateSession("test-session-1", "design doc draft")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if session.SessionID != "test-session-1" {
		t.Errorf("Expected session ID 'test-session-1', got '%s'", session.SessionID)
	}
	if session.Label != "design doc draft" {
		t.Errorf("Expected label 'design doc draft', got '%s'", session.Label)
	}
	if session.Closed {
		t.Error("New session should not be closed")
	}

	// Get existing session
	session2, err := store.GetOrCreateSession("test-session-1", "design doc draft")
	if err != nil {
		t.Fatalf("Failed to get existing session: %v", err)
	}

	if session2.SessionID != session.SessionID {
		t.Error("Expected to get same session")
	}

	// Get session by ID
	session3, err := store.GetSession("test-session-1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}

	if session3.SessionID != "test-session-1" {
		t.Error("GetSession returned wrong session")
	}

	// List sessions
	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}

	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}

	// Delete session
	err = store.DeleteSession("test-session-1")
	if err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}

	// Verify session is deleted
	_, err = store.GetSession("test-session-1")
	if err == nil {
		t.Error("Expected error getting deleted session")
	}
}

func TestMarkSessionClosed(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreateSession("s1", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := store.MarkSessionClosed("s1"); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	session, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if !session.Closed {
		t.Error("Expected session to be closed")
	}

	if err := store.MarkSessionClosed("missing"); err == nil {
		t.Error("Expected error closing unknown session")
	}
}

func TestEventCRUD(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreateSession("s1", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := testEvent(base.Add(time.Duration(i)*time.Minute), int64(100+i*20), 20, 0)
		ev.Metadata = map[string]string{"source": "editor"}
		if err := store.StoreEvent("s1", ev); err != nil {
			t.Fatalf("Failed to store event %d: %v", i, err)
		}
	}

	// All events since the beginning, in timestamp order
	events, err := store.GetSessionEvents("s1", time.Time{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("Events not in timestamp order")
		}
	}
	if events[0].Fingerprint.Size != 100 {
		t.Errorf("Expected first event size 100, got %d", events[0].Fingerprint.Size)
	}
	if events[0].Metadata["source"] != "editor" {
		t.Errorf("Expected metadata source 'editor', got '%s'", events[0].Metadata["source"])
	}

	// Only events since the third
	since := base.Add(2 * time.Minute)
	events, err = store.GetSessionEvents("s1", since)
	if err != nil {
		t.Fatalf("Failed to get events since: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected 3 events since cutoff, got %d", len(events))
	}

	// Recent events, chronological
	events, err = store.GetRecentEvents("s1", 2)
	if err != nil {
		t.Fatalf("Failed to get recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 recent events, got %d", len(events))
	}
	if !events[0].Timestamp.Before(events[1].Timestamp) {
		t.Error("Recent events not in chronological order")
	}
	if events[1].Fingerprint.Size != 180 {
		t.Errorf("Expected last event size 180, got %d", events[1].Fingerprint.Size)
	}
}

func TestSegmentCRUD(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreateSession("s1", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	seg := trajectory.Segment{
		StartTime:     base,
		EndTime:       base.Add(10 * time.Minute),
		Dominant:      trajectory.Expanding,
		AvgConfidence: 0.82,
		Points: []trajectory.Point{
			{Timestamp: base, Direction: trajectory.Expanding, Confidence: 0.8},
			{Timestamp: base.Add(5 * time.Minute), Direction: trajectory.Expanding, Confidence: 0.84},
		},
	}

	if err := store.StoreSegment("s1", seg); err != nil {
		t.Fatalf("Failed to store segment: %v", err)
	}

	records, err := store.GetSessionSegments("s1")
	if err != nil {
		t.Fatalf("Failed to get segments: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(records))
	}

	rec := records[0]
	if rec.Dominant != trajectory.Expanding {
		t.Errorf("Expected dominant %s, got %s", trajectory.Expanding, rec.Dominant)
	}
	if !rec.StartTime.Equal(base) {
		t.Errorf("Expected start %v, got %v", base, rec.StartTime)
	}
	if rec.PointCount != 2 {
		t.Errorf("Expected 2 points, got %d", rec.PointCount)
	}
	if rec.AvgConfidence != 0.82 {
		t.Errorf("Expected avg confidence 0.82, got %f", rec.AvgConfidence)
	}
}

func TestStoreSegment_RejectsOpen(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	seg := trajectory.Segment{
		StartTime: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		Dominant:  trajectory.Stable,
	}

	if err := store.StoreSegment("s1", seg); err == nil {
		t.Error("Expected error storing open segment")
	}
}

func TestCleanupOldSessions(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreateSession("old-session", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Backdate last_seen_at past the TTL
	old := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := store.db.Exec("UPDATE sessions SET last_seen_at = ? WHERE session_id = ?", old, "old-session"); err != nil {
		t.Fatalf("Failed to backdate session: %v", err)
	}

	if _, err := store.GetOrCreateSession("fresh-session", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	deleted, err := store.CleanupOldSessions(24 * time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted session, got %d", deleted)
	}

	if _, err := store.GetSession("old-session"); err == nil {
		t.Error("Expected old session to be gone")
	}
	if _, err := store.GetSession("fresh-session"); err != nil {
		t.Errorf("Fresh session should survive cleanup: %v", err)
	}
}

func TestCleanupExcessEvents(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreateSession("s1", ""); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ev := testEvent(base.Add(time.Duration(i)*time.Minute), int64(100+i), 1, 0)
		if err := store.StoreEvent("s1", ev); err != nil {
			t.Fatalf("Failed to store event: %v", err)
		}
	}

	deleted, err := store.CleanupExcessEvents("s1", 6)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("Expected 4 deleted events, got %d", deleted)
	}

	events, err := store.GetSessionEvents("s1", time.Time{})
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("Expected 6 remaining events, got %d", len(events))
	}

	// The oldest events were the ones trimmed
	if events[0].Fingerprint.Size != 104 {
		t.Errorf("Expected oldest remaining size 104, got %d", events[0].Fingerprint.Size)
	}

	// Under the cap is a no-op
	deleted, err = store.CleanupExcessEvents("s1", 100)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted events, got %d", deleted)
	}
}
