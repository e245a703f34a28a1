// Package trajectory implements the trajectory classification and
// segmentation engine: it consumes an ordered stream of state events for
// one work session and maintains a structured model of where the work is
// headed - a list of direction segments, a health score, and short-horizon
// predictions.
package trajectory

import (
	"time"

	"github.com/ihavespoons/driftline/internal/event"
)

// Direction is the categorical short-term trend of change.
type Direction string

const (
	// Expanding - net growth dominates, new material is being added.
	Expanding Direction = "expanding"

	// Converging - net shrinkage or refinement dominates.
	Converging Direction = "converging"

	// Pivoting - a structural discontinuity: heavy simultaneous
	// insertion and deletion relative to the session's volatility.
	Pivoting Direction = "pivoting"

	// Stable - deltas near zero across the window.
	Stable Direction = "stable"

	// Uncertain - window too short, or signals contradict each other.
	Uncertain Direction = "uncertain"
)

// AllDirections returns every direction value.
func AllDirections() []Direction {
	return []Direction{Expanding, Converging, Pivoting, Stable, Uncertain}
}

// Point is the classifier output attached to one accepted event.
type Point struct {
	Timestamp  time.Time `json:"timestamp"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`

	// PrevIndex is the index of the preceding point within the same
	// segment, -1 for the segment's first point. Debug/explainability
	// only - never used in scoring.
	PrevIndex int `json:"prev_index"`

	// Note optionally explains the transition from the preceding point.
	Note string `json:"note,omitempty"`
}

// Segment is a maximal contiguous run of points sharing a dominant
// direction. Append-only while open, frozen once closed.
type Segment struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"` // zero while open

	Dominant      Direction `json:"dominant_direction"`
	Points        []Point   `json:"points"`
	AvgConfidence float64   `json:"average_confidence"`
}

// Open reports whether the segment is still accumulating points.
func (s *Segment) Open() bool {
	return s.EndTime.IsZero()
}

// recompute refreshes Dominant and AvgConfidence. grace is the number of
// trailing points excluded from the dominance count (the hysteresis run
// being watched by the segmenter); they still count toward the average.
func (s *Segment) recompute(grace int) {
	counted := s.Points
	if grace > 0 && grace < len(counted) {
		counted = counted[:len(counted)-grace]
	}

	counts := make(map[Direction]int, len(counted))
	for _, p := range counted {
		counts[p.Direction]++
	}

	best, bestN := Uncertain, 0
	for _, d := range AllDirections() {
		if counts[d] > bestN {
			best, bestN = d, counts[d]
		}
	}

	// An initial Uncertain run yields to the first definite direction
	// that reaches parity, so session-start segments adopt the emerging
	// trend instead of splitting away from it.
	if best == Uncertain {
		for _, d := range []Direction{Expanding, Converging, Pivoting, Stable} {
			if counts[d] == bestN && bestN > 0 {
				best = d
				break
			}
		}
	}
	s.Dominant = best

	sum := 0.0
	for _, p := range s.Points {
		sum += p.Confidence
	}
	if len(s.Points) > 0 {
		s.AvgConfidence = sum / float64(len(s.Points))
	}
}

// clone deep-copies the segment so readers never alias engine-owned state.
func (s *Segment) clone() Segment {
	out := *s
	out.Points = make([]Point, len(s.Points))
	copy(out.Points, s.Points)
	return out
}

// SegmentSummary is the renderer-facing view of a segment.
type SegmentSummary struct {
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"` // nil while open
	Dominant      Direction  `json:"dominant_direction"`
	AvgConfidence float64    `json:"average_confidence"`
	PointCount    int        `json:"point_count"`
}

// Snapshot is an immutable, serializable view of the engine state.
// Renderers map it onto timeline/tree/flow/heatmap views; the engine is
// agnostic to which.
type Snapshot struct {
	SessionID         string           `json:"session_id,omitempty"`
	CurrentDirection  Direction        `json:"current_direction"`
	CurrentConfidence float64          `json:"current_confidence"`
	HealthScore       float64          `json:"health_score"`
	TotalPoints       int              `json:"total_points"`
	TotalSegments     int              `json:"total_segments"`
	Segments          []SegmentSummary `json:"segments"`

	// OpenSegmentPoints carries the open segment's recent points so
	// predictors can read the live trend without touching the engine.
	OpenSegmentPoints []Point `json:"open_segment_points,omitempty"`

	// LastEventTime is the timestamp of the most recently accepted
	// event, zero before the first event.
	LastEventTime time.Time `json:"last_event_time"`
}

// PredictedState is one ranked next-state hypothesis.
type PredictedState struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
}

// Classifier maps a window of recent events to a direction and a
// confidence in [0,1]. Implementations must be pure functions of the
// window so classification stays deterministic and unit-testable.
type Classifier interface {
	Classify(window []event.StateEvent) (Direction, float64)
}

// Predictor produces ranked next-state hypotheses from a snapshot. It
// must never return an empty list: with no usable signal it returns a
// single Uncertain prediction.
type Predictor interface {
	Predict(snap Snapshot, horizon int) []PredictedState
}
