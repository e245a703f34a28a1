package daemon

import (
	"time"

	"github.com/ihavespoons/driftline/internal/trajectory"
)

// SessionResponse represents a session in API responses
type SessionResponse struct {
	SessionID     string               `json:"session_id"`
	CreatedAt     time.Time            `json:"created_at"`
	LastSeenAt    time.Time            `json:"last_seen_at"`
	Label         string               `json:"label,omitempty"`
	Closed        bool                 `json:"closed"`
	Direction     trajectory.Direction `json:"direction,omitempty"`
	Confidence    float64              `json:"confidence"`
	HealthScore   float64              `json:"health_score"`
	TotalPoints   int                  `json:"total_points"`
	TotalSegments int                  `json:"total_segments"`
}

// SegmentResponse represents a closed segment in API responses
type SegmentResponse struct {
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	Dominant      trajectory.Direction `json:"dominant"`
	AvgConfidence float64              `json:"avg_confidence"`
	PointCount    int                  `json:"point_count"`
}

// IngestResponse reports the outcome of a posted change record
type IngestResponse struct {
	SessionID string              `json:"session_id"`
	Snapshot  trajectory.Snapshot `json:"snapshot"`
}

// StatsResponse represents aggregate statistics across sessions
type StatsResponse struct {
	TotalSessions   int            `json:"total_sessions"`
	ActiveSessions  int            `json:"active_sessions"`
	TrackedSessions int            `json:"tracked_sessions"`
	TotalPoints     int            `json:"total_points"`
	DirectionCounts map[string]int `json:"direction_counts"`
	AvgHealth       float64        `json:"avg_health"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSE event types
const (
	SSESnapshotUpdate = "snapshot_update"
	SSESessionClosed  = "session_closed"
	SSEHeartbeat      = "heartbeat"
)
