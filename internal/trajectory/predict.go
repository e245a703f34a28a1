package trajectory

import "fmt"

// Predictor tuning defaults.
const (
	// DefaultHorizon is the number of predicted steps when the caller
	// passes a non-positive horizon.
	DefaultHorizon = 3

	// maxHorizon caps requested horizons; beyond this the signal does
	// not support fabricating further steps.
	maxHorizon = 10

	// horizonDecay discounts confidence per predicted step.
	horizonDecay = 0.8

	// trendLookback is how many trailing open-segment points feed the
	// trend check.
	trendLookback = 3
)

// TrendPredictor is the default Predictor: it extrapolates the open
// segment's direction when its confidence has been holding or rising, and
// flags a direction change when confidence is falling or a boundary just
// closed.
type TrendPredictor struct{}

// NewTrendPredictor creates the default prediction strategy.
func NewTrendPredictor() *TrendPredictor {
	return &TrendPredictor{}
}

// Predict implements Predictor. Never returns an empty list.
func (p *TrendPredictor) Predict(snap Snapshot, horizon int) []PredictedState {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if horizon > maxHorizon {
		horizon = maxHorizon
	}

	points := snap.OpenSegmentPoints
	if len(points) < 2 || snap.CurrentDirection == Uncertain {
		return []PredictedState{{
			Direction:  Uncertain,
			Confidence: 0.1,
			Rationale:  "insufficient history to project a trend",
		}}
	}

	// A freshly opened segment right after a closure means a pivot is in
	// progress: projecting the old trend forward would be a guess.
	if snap.TotalSegments > 1 && len(points) <= trendLookback {
		return []PredictedState{{
			Direction:  Uncertain,
			Confidence: 0.2,
			Rationale:  "direction change in progress",
		}}
	}

	rising, slope := confidenceTrend(points)
	if !rising {
		return []PredictedState{{
			Direction:  Uncertain,
			Confidence: 0.25,
			Rationale: fmt.Sprintf("confidence in %s falling over last %d points",
				snap.CurrentDirection, trendLookback),
		}}
	}

	// Continuation: confidence proportional to the trend's consistency,
	// decayed per step so far-out guesses rank below near-term ones.
	base := snap.CurrentConfidence
	if slope > 0 {
		// A rising trend earns a small boost, capped below certainty.
		base = clamp01(base + slope)
	}

	out := make([]PredictedState, 0, horizon)
	conf := base
	for i := 0; i < horizon; i++ {
		conf *= horizonDecay
		if conf < 0.05 {
			break
		}
		out = append(out, PredictedState{
			Direction:  snap.CurrentDirection,
			Confidence: conf,
			Rationale: fmt.Sprintf("%s held for %d points with steady or rising confidence",
				snap.CurrentDirection, len(points)),
		})
	}

	if len(out) == 0 {
		return []PredictedState{{
			Direction:  Uncertain,
			Confidence: 0.1,
			Rationale:  "trend too weak to project",
		}}
	}
	return out
}

// confidenceTrend inspects the trailing points of the open segment:
// rising is true when confidence is non-decreasing over the lookback and
// the direction has held; slope is the average per-step confidence gain.
func confidenceTrend(points []Point) (rising bool, slope float64) {
	n := len(points)
	look := trendLookback
	if look > n {
		look = n
	}
	tail := points[n-look:]

	dir := tail[len(tail)-1].Direction
	gain := 0.0
	for i := 1; i < len(tail); i++ {
		if tail[i].Direction != dir {
			return false, 0
		}
		step := tail[i].Confidence - tail[i-1].Confidence
		if step < -1e-9 {
			return false, 0
		}
		gain += step
	}
	if len(tail) > 1 {
		slope = gain / float64(len(tail)-1)
	}
	return true, slope
}
