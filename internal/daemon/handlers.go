package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
	"github.com/ihavespoons/driftline/internal/ingest"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

// maxRecordBytes bounds a single posted change record.
const maxRecordBytes = 1 << 20

// Handlers contains the HTTP handlers for the daemon API
type Handlers struct {
	mgr       *ingest.Manager
	store     store.SessionStore
	startedAt time.Time
	version   string
}

// NewHandlers creates a new handlers instance. store may be nil.
func NewHandlers(mgr *ingest.Manager, st store.SessionStore, version string) *Handlers {
	return &Handlers{
		mgr:       mgr,
		store:     st,
		startedAt: time.Now(),
		version:   version,
	}
}

// Health handles the health check endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sessions handles the sessions list endpoint
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	resp := []SessionResponse{}
	seen := make(map[string]bool)

	if h.store != nil {
		sessions, err := h.store.ListSessions()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		for _, s := range sessions {
			sr := SessionResponse{
				SessionID:  s.SessionID,
				CreatedAt:  s.CreatedAt,
				LastSeenAt: s.LastSeenAt,
				Label:      s.Label,
				Closed:     s.Closed,
			}
			if snap, err := h.mgr.Snapshot(s.SessionID); err == nil {
				fillFromSnapshot(&sr, snap)
			}
			resp = append(resp, sr)
			seen[s.SessionID] = true
		}
	}

	// In-memory sessions the store has not heard of (store disabled or
	// registration failed)
	for _, id := range h.mgr.SessionIDs() {
		if seen[id] {
			continue
		}
		snap, err := h.mgr.Snapshot(id)
		if err != nil {
			continue
		}
		sr := SessionResponse{SessionID: id, LastSeenAt: snap.LastEventTime}
		fillFromSnapshot(&sr, snap)
		resp = append(resp, sr)
	}

	writeJSON(w, http.StatusOK, resp)
}

func fillFromSnapshot(sr *SessionResponse, snap trajectory.Snapshot) {
	sr.Direction = snap.CurrentDirection
	sr.Confidence = snap.CurrentConfidence
	sr.HealthScore = snap.HealthScore
	sr.TotalPoints = snap.TotalPoints
	sr.TotalSegments = snap.TotalSegments
}

// Snapshot handles the per-session snapshot endpoint
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	snap, err := h.mgr.Snapshot(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Predictions handles the per-session predictions endpoint
func (h *Handlers) Predictions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	horizon := 0
	if hs := r.URL.Query().Get("horizon"); hs != "" {
		v, err := strconv.Atoi(hs)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid horizon")
			return
		}
		horizon = v
	}

	preds, err := h.mgr.Predict(sessionID, horizon)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, preds)
}

// Segments handles the per-session closed segments endpoint
func (h *Handlers) Segments(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if h.store == nil {
		writeError(w, http.StatusNotFound, "store not available")
		return
	}

	records, err := h.store.GetSessionSegments(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]SegmentResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, SegmentResponse{
			StartTime:     rec.StartTime,
			EndTime:       rec.EndTime,
			Dominant:      rec.Dominant,
			AvgConfidence: rec.AvgConfidence,
			PointCount:    rec.PointCount,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// IngestEvent handles posted change records
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	rec, err := event.ParseChangeRecord(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rec.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.mgr.Accept(rec); err != nil {
		switch {
		case trajectory.IsOutOfOrder(err):
			writeError(w, http.StatusConflict, err.Error())
		case err == trajectory.ErrSessionClosed:
			writeError(w, http.StatusGone, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	snap, err := h.mgr.Snapshot(rec.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		SessionID: rec.SessionID,
		Snapshot:  snap,
	})
}

// CloseSession handles the session close endpoint
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := h.mgr.CloseSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	snap, err := h.mgr.Snapshot(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Stats handles the aggregate statistics endpoint
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		DirectionCounts: make(map[string]int),
	}

	if h.store != nil {
		if sessions, err := h.store.ListSessions(); err == nil {
			resp.TotalSessions = len(sessions)
			activeThreshold := time.Now().Add(-1 * time.Hour)
			for _, s := range sessions {
				if !s.Closed && s.LastSeenAt.After(activeThreshold) {
					resp.ActiveSessions++
				}
			}
		}
	}

	var healthSum float64
	for _, id := range h.mgr.SessionIDs() {
		snap, err := h.mgr.Snapshot(id)
		if err != nil {
			continue
		}
		resp.TrackedSessions++
		resp.TotalPoints += snap.TotalPoints
		resp.DirectionCounts[string(snap.CurrentDirection)]++
		healthSum += snap.HealthScore
	}
	if resp.TrackedSessions > 0 {
		resp.AvgHealth = healthSum / float64(resp.TrackedSessions)
	}

	if resp.TotalSessions < resp.TrackedSessions {
		resp.TotalSessions = resp.TrackedSessions
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
