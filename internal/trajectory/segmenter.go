package trajectory

import (
	"fmt"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
)

// Segmenter tuning defaults.
const (
	// DefaultWindowSize is the classifier lookback in events.
	DefaultWindowSize = 8

	// DefaultHysteresisK is how many consecutive contrary points confirm
	// a segment boundary.
	DefaultHysteresisK = 3
)

// Boundary describes a confirmed segment close. The new segment is
// backdated to where the new direction first began being observed, so
// boundaries align with the inflection rather than the detection lag.
type Boundary struct {
	Closed       Segment
	NewDirection Direction
}

// Segmenter groups incoming events into direction segments. It owns the
// classifier window and the open segment; closed segments are handed to
// the caller through Boundary results. Not safe for concurrent use - the
// engine serializes access.
type Segmenter struct {
	classifier  Classifier
	windowSize  int
	hysteresisK int

	window []event.StateEvent
	open   *Segment

	// Contrary-run tracking for hysteresis: runDir is the candidate new
	// direction, runLen how many consecutive trailing points share it.
	runDir Direction
	runLen int
}

// NewSegmenter creates a segmenter. Non-positive sizes fall back to
// defaults; a nil classifier gets the default DeltaClassifier.
func NewSegmenter(classifier Classifier, windowSize, hysteresisK int) *Segmenter {
	if classifier == nil {
		classifier = NewDeltaClassifier(0, 0)
	}
	if windowSize < 2 {
		windowSize = DefaultWindowSize
	}
	if hysteresisK < 1 {
		hysteresisK = DefaultHysteresisK
	}
	return &Segmenter{
		classifier:  classifier,
		windowSize:  windowSize,
		hysteresisK: hysteresisK,
	}
}

// Ingest classifies one event, appends the resulting point to the open
// segment, and closes the segment when a direction change is confirmed.
// Returns a non-nil Boundary when a segment closed. Events must arrive in
// non-decreasing timestamp order.
func (s *Segmenter) Ingest(ev event.StateEvent) (*Boundary, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	if last := s.lastTimestamp(); !last.IsZero() && ev.Timestamp.Before(last) {
		return nil, &OutOfOrderError{EventTime: ev.Timestamp, LastTime: last}
	}

	// Slide the classifier window.
	s.window = append(s.window, ev)
	if len(s.window) > s.windowSize {
		s.window = s.window[1:]
	}

	dir, conf := s.classifier.Classify(s.window)

	point := Point{
		Timestamp:  ev.Timestamp,
		Direction:  dir,
		Confidence: conf,
		PrevIndex:  -1,
	}

	// First event of the session opens the initial segment.
	if s.open == nil {
		s.open = &Segment{StartTime: ev.Timestamp}
		s.appendPoint(point)
		s.open.recompute(0)
		return nil, nil
	}

	s.appendPoint(point)
	s.trackContraryRun(dir)
	s.open.recompute(s.runLen)

	if s.runLen < s.hysteresisK || s.runDir == s.open.Dominant {
		return nil, nil
	}

	return s.splitSegment(), nil
}

// appendPoint adds a point to the open segment with its back pointer and
// transition note filled in.
func (s *Segmenter) appendPoint(p Point) {
	if n := len(s.open.Points); n > 0 {
		prev := s.open.Points[n-1]
		p.PrevIndex = n - 1
		if prev.Direction != p.Direction {
			p.Note = fmt.Sprintf("shifted %s -> %s", prev.Direction, p.Direction)
		}
	}
	s.open.Points = append(s.open.Points, p)
}

// trackContraryRun updates the consecutive-contrary-point counter. Only
// definite directions start or extend a run, and only against a definite
// dominant: an Uncertain point breaks the run, so noise cannot confirm a
// boundary, and a segment still settling on its first definite direction
// adopts it instead of splitting.
func (s *Segmenter) trackContraryRun(dir Direction) {
	if dir == Uncertain || s.open.Dominant == Uncertain || dir == s.open.Dominant {
		s.runDir, s.runLen = Uncertain, 0
		return
	}
	if dir == s.runDir {
		s.runLen++
		return
	}
	s.runDir, s.runLen = dir, 1
}

// splitSegment closes the open segment at the point before the contrary
// run began and opens a new segment containing the run, backdated to the
// run's first point.
func (s *Segmenter) splitSegment() *Boundary {
	cut := len(s.open.Points) - s.runLen
	run := make([]Point, s.runLen)
	copy(run, s.open.Points[cut:])

	closed := *s.open
	closed.Points = closed.Points[:cut]
	closed.EndTime = closed.Points[cut-1].Timestamp
	closed.recompute(0)

	// Rebase the run's back pointers into the new segment.
	for i := range run {
		run[i].PrevIndex = i - 1
	}

	next := &Segment{
		StartTime: run[0].Timestamp,
		Points:    run,
	}

	boundary := &Boundary{
		Closed:       closed.clone(),
		NewDirection: s.runDir,
	}

	s.open = next
	s.runDir, s.runLen = Uncertain, 0
	s.open.recompute(0)

	return boundary
}

// OpenSegment returns the current open segment, nil before the first
// event. The returned value is a copy.
func (s *Segmenter) OpenSegment() *Segment {
	if s.open == nil {
		return nil
	}
	c := s.open.clone()
	return &c
}

// WindowSize returns the configured classifier lookback.
func (s *Segmenter) WindowSize() int {
	return s.windowSize
}

// HysteresisK returns the configured boundary confirmation threshold.
func (s *Segmenter) HysteresisK() int {
	return s.hysteresisK
}

func (s *Segmenter) lastTimestamp() time.Time {
	if len(s.window) == 0 {
		return time.Time{}
	}
	return s.window[len(s.window)-1].Timestamp
}
