package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ihavespoons/driftline/internal/config"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mgr := ingest.NewManager(nil, nil, 0)
	srv := NewServer(config.DefaultConfig(), mgr, nil, "test")

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func feedGrowth(t *testing.T, ts *httptest.Server, sessionID string, n int) {
	t.Helper()

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"session_id":%q,"timestamp":%q,"size":%d}`,
			sessionID, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), 100+i*25)

		resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /api/events failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("Expected 202, got %d", resp.StatusCode)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("Expected version 'test', got '%s'", health.Version)
	}
}

func TestIngestAndSnapshot(t *testing.T) {
	ts := newTestServer(t)

	feedGrowth(t, ts, "s1", 5)

	resp, err := http.Get(ts.URL + "/api/sessions/s1/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var snap trajectory.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}

	if snap.SessionID != "s1" {
		t.Errorf("Expected session 's1', got '%s'", snap.SessionID)
	}
	if snap.TotalPoints != 5 {
		t.Errorf("Expected 5 points, got %d", snap.TotalPoints)
	}
	if snap.CurrentDirection != trajectory.Expanding {
		t.Errorf("Expected expanding, got %s", snap.CurrentDirection)
	}
}

func TestIngest_Rejections(t *testing.T) {
	ts := newTestServer(t)

	post := func(body string) int {
		resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(`not json`); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", code)
	}
	if code := post(`{"timestamp":"2026-01-10T09:00:00Z","size":100}`); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing session_id, got %d", code)
	}

	if code := post(`{"session_id":"s1","timestamp":"2026-01-10T09:05:00Z","size":100}`); code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", code)
	}
	if code := post(`{"session_id":"s1","timestamp":"2026-01-10T09:00:00Z","size":120}`); code != http.StatusConflict {
		t.Errorf("Expected 409 for out-of-order record, got %d", code)
	}
}

func TestSnapshot_UnknownSession(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/nope/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestPredictionsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	feedGrowth(t, ts, "s1", 6)

	resp, err := http.Get(ts.URL + "/api/sessions/s1/predictions?horizon=2")
	if err != nil {
		t.Fatalf("GET predictions failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var preds []trajectory.PredictedState
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		t.Fatalf("Failed to decode predictions: %v", err)
	}
	if len(preds) == 0 {
		t.Fatal("Expected at least one prediction")
	}
	if len(preds) > 2 {
		t.Errorf("Expected at most 2 predictions, got %d", len(preds))
	}

	badResp, err := http.Get(ts.URL + "/api/sessions/s1/predictions?horizon=abc")
	if err != nil {
		t.Fatalf("GET predictions failed: %v", err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad horizon, got %d", badResp.StatusCode)
	}
}

func TestCloseSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	feedGrowth(t, ts, "s1", 3)

	resp, err := http.Post(ts.URL+"/api/sessions/s1/close", "application/json", nil)
	if err != nil {
		t.Fatalf("POST close failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	// Further ingestion is refused
	body := `{"session_id":"s1","timestamp":"2026-01-10T10:00:00Z","size":500}`
	resp2, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusGone {
		t.Errorf("Expected 410 for closed session, got %d", resp2.StatusCode)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	feedGrowth(t, ts, "s1", 4)
	feedGrowth(t, ts, "s2", 2)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET sessions failed: %v", err)
	}
	defer resp.Body.Close()

	var sessions []SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}

	byID := make(map[string]SessionResponse)
	for _, s := range sessions {
		byID[s.SessionID] = s
	}
	if byID["s1"].TotalPoints != 4 {
		t.Errorf("Expected s1 with 4 points, got %d", byID["s1"].TotalPoints)
	}
	if byID["s2"].TotalPoints != 2 {
		t.Errorf("Expected s2 with 2 points, got %d", byID["s2"].TotalPoints)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	feedGrowth(t, ts, "s1", 5)
	feedGrowth(t, ts, "s2", 3)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	if stats.TrackedSessions != 2 {
		t.Errorf("Expected 2 tracked sessions, got %d", stats.TrackedSessions)
	}
	if stats.TotalPoints != 8 {
		t.Errorf("Expected 8 total points, got %d", stats.TotalPoints)
	}
	if stats.DirectionCounts[string(trajectory.Expanding)] != 2 {
		t.Errorf("Expected 2 expanding sessions, got %d", stats.DirectionCounts[string(trajectory.Expanding)])
	}
	if stats.AvgHealth <= 0 {
		t.Errorf("Expected positive average health, got %f", stats.AvgHealth)
	}
}

func TestBroadcasterSubscribe(t *testing.T) {
	b := NewSSEBroadcaster()

	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", b.ClientCount())
	}

	b.Broadcast(SSEEvent{Type: SSESnapshotUpdate, Data: "x"})
	select {
	case ev := <-ch:
		if ev.Type != SSESnapshotUpdate {
			t.Errorf("Expected %s, got %s", SSESnapshotUpdate, ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for broadcast")
	}

	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", b.ClientCount())
	}
}

func TestSSEStream(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse/events failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	// Accepting an event should appear on the stream as a snapshot update
	rec := fmt.Sprintf(`{"session_id":"s1","timestamp":%q,"size":100}`,
		time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC).Format(time.RFC3339))
	post, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(rec))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	post.Body.Close()

	buf := make([]byte, 4096)
	deadline := time.Now().Add(3 * time.Second)
	var got string
	for time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			got += string(buf[:n])
			if strings.Contains(got, "event: snapshot_update") {
				return
			}
		}
		if err != nil {
			break
		}
	}
	t.Errorf("Did not observe snapshot_update on SSE stream, got: %q", got)
}
