package trajectory

import (
	"sync"

	"github.com/ihavespoons/driftline/internal/event"
)

// HealthWeights tunes the health score blend. Weights are normalized at
// construction, so only their ratio matters.
type HealthWeights struct {
	// Confidence weighs the average classification confidence across
	// recent segments.
	Confidence float64 `yaml:"confidence" json:"confidence"`

	// Stability weighs the inverse of segment-closure frequency
	// (thrashing proxy).
	Stability float64 `yaml:"stability" json:"stability"`

	// Sustain weighs the share of the session spent in the current
	// single-direction run (flow proxy).
	Sustain float64 `yaml:"sustain" json:"sustain"`
}

// DefaultHealthWeights returns the standard blend.
func DefaultHealthWeights() HealthWeights {
	return HealthWeights{Confidence: 0.5, Stability: 0.3, Sustain: 0.2}
}

func (w HealthWeights) normalized() HealthWeights {
	sum := w.Confidence + w.Stability + w.Sustain
	if sum <= 0 {
		return DefaultHealthWeights()
	}
	return HealthWeights{
		Confidence: w.Confidence / sum,
		Stability:  w.Stability / sum,
		Sustain:    w.Sustain / sum,
	}
}

// healthSegmentLookback bounds how many recent segments feed the
// confidence term, so ancient history stops moving the score.
const healthSegmentLookback = 5

// Option configures an Engine at construction. Configuration is fixed for
// the life of a session.
type Option func(*Engine)

// WithClassifier injects a custom direction classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithPredictor injects a custom prediction strategy.
func WithPredictor(p Predictor) Option {
	return func(e *Engine) { e.predictor = p }
}

// WithWindowSize sets the classifier lookback in events.
func WithWindowSize(n int) Option {
	return func(e *Engine) { e.windowSize = n }
}

// WithHysteresis sets the consecutive-contrary-point threshold for
// closing a segment.
func WithHysteresis(k int) Option {
	return func(e *Engine) { e.hysteresisK = k }
}

// WithHealthWeights sets the health score blend.
func WithHealthWeights(w HealthWeights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithSessionID labels snapshots with a session identifier.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// Engine is the per-session trajectory orchestrator. Exactly one writer
// may call Accept at a time; Snapshot and any Predictor reading its output
// are safe from any number of goroutines.
type Engine struct {
	mu sync.RWMutex

	sessionID   string
	classifier  Classifier
	predictor   Predictor
	windowSize  int
	hysteresisK int
	weights     HealthWeights

	seg           *Segmenter
	closed        []Segment
	health        float64
	closedForGood bool

	totalPoints   int
	totalSegments int
}

// NewEngine creates an Active engine for a new session.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		weights: DefaultHealthWeights(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.weights = e.weights.normalized()
	if e.predictor == nil {
		e.predictor = NewTrendPredictor()
	}
	e.seg = NewSegmenter(e.classifier, e.windowSize, e.hysteresisK)
	return e
}

// Accept feeds one event through the segmenter and refreshes derived
// state. Out-of-order events and accepts after Close leave the engine
// untouched and return a typed error.
func (e *Engine) Accept(ev event.StateEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closedForGood {
		return ErrSessionClosed
	}

	boundary, err := e.seg.Ingest(ev)
	if err != nil {
		return err
	}

	if boundary != nil {
		e.closed = append(e.closed, boundary.Closed)
	}
	e.totalPoints++
	// Closed segments plus the open one.
	e.totalSegments = len(e.closed) + 1

	e.health = e.computeHealth()
	return nil
}

// Close marks the session ended. Snapshot and Predict remain valid
// indefinitely; further Accepts fail with ErrSessionClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedForGood = true
}

// Closed reports whether the session has ended.
func (e *Engine) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closedForGood
}

// ClosedSegments returns copies of the segments closed so far, in order.
func (e *Engine) ClosedSegments() []Segment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Segment, 0, len(e.closed))
	for i := range e.closed {
		out = append(out, e.closed[i].clone())
	}
	return out
}

// Snapshot returns an immutable copy of the engine state. Two calls with
// no intervening Accept return equal snapshots.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		SessionID:        e.sessionID,
		CurrentDirection: Uncertain,
		HealthScore:      e.health,
		TotalPoints:      e.totalPoints,
		TotalSegments:    e.totalSegments,
		Segments:         make([]SegmentSummary, 0, len(e.closed)+1),
	}

	for i := range e.closed {
		snap.Segments = append(snap.Segments, summarize(&e.closed[i]))
	}

	if open := e.seg.OpenSegment(); open != nil {
		snap.Segments = append(snap.Segments, summarize(open))
		snap.OpenSegmentPoints = open.Points
		last := open.Points[len(open.Points)-1]
		snap.CurrentDirection = last.Direction
		snap.CurrentConfidence = last.Confidence
		snap.LastEventTime = last.Timestamp
	}

	return snap
}

// Predict runs the configured prediction strategy against the current
// state. Read-only; safe for concurrent callers.
func (e *Engine) Predict(horizon int) []PredictedState {
	return e.predictor.Predict(e.Snapshot(), horizon)
}

// computeHealth blends three monotonic terms, clamped to [0,1]:
// average confidence over recent segments (higher -> healthier), closure
// frequency (more closures per event -> lower), and the open segment's
// share of the session (longer sustained run -> higher).
func (e *Engine) computeHealth() float64 {
	open := e.seg.OpenSegment()
	if open == nil || e.totalPoints == 0 {
		return 0.0
	}

	// Confidence term: mean of per-segment average confidence across the
	// last few segments including the open one.
	segs := append([]Segment{}, e.closed...)
	segs = append(segs, *open)
	if len(segs) > healthSegmentLookback {
		segs = segs[len(segs)-healthSegmentLookback:]
	}
	conf := 0.0
	for i := range segs {
		conf += segs[i].AvgConfidence
	}
	conf /= float64(len(segs))

	// Stability term: 1 minus the closure rate. Ten closures in ten
	// events scores near zero, one segment over the whole session scores
	// one.
	stability := 1.0 - float64(len(e.closed))/float64(e.totalPoints)
	if stability < 0 {
		stability = 0
	}

	// Sustain term: how much of the session the current run covers.
	sustain := float64(len(open.Points)) / float64(e.totalPoints)

	h := e.weights.Confidence*conf + e.weights.Stability*stability + e.weights.Sustain*sustain
	return clamp01(h)
}

func summarize(s *Segment) SegmentSummary {
	sum := SegmentSummary{
		StartTime:     s.StartTime,
		Dominant:      s.Dominant,
		AvgConfidence: s.AvgConfidence,
		PointCount:    len(s.Points),
	}
	if !s.EndTime.IsZero() {
		end := s.EndTime
		sum.EndTime = &end
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
