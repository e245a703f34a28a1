package trajectory

import (
	"math"

	"github.com/ihavespoons/driftline/internal/event"
)

// Classifier tuning defaults.
const (
	// DefaultStableBand is the per-step delta magnitude treated as noise.
	DefaultStableBand int64 = 2

	// DefaultPivotFactor is how many times the window's baseline churn a
	// step must reach, with simultaneous insertion and deletion, to count
	// as a pivot.
	DefaultPivotFactor = 3.0
)

// voteEpsilon guards the tie comparison between weighted direction votes.
const voteEpsilon = 1e-9

// DeltaClassifier is the default Classifier. It derives per-step deltas
// from content fingerprints and takes a recency-weighted majority vote:
// each step's vote weighs twice its predecessor's, so the newest signal
// dominates without single-step flapping.
type DeltaClassifier struct {
	stableBand  int64
	pivotFactor float64
}

// NewDeltaClassifier creates a classifier with the given tuning. Non-positive
// arguments fall back to defaults.
func NewDeltaClassifier(stableBand int64, pivotFactor float64) *DeltaClassifier {
	if stableBand <= 0 {
		stableBand = DefaultStableBand
	}
	if pivotFactor <= 0 {
		pivotFactor = DefaultPivotFactor
	}
	return &DeltaClassifier{
		stableBand:  stableBand,
		pivotFactor: pivotFactor,
	}
}

// Classify implements Classifier. A window shorter than 2 events is
// unclassifiable: Uncertain with confidence 0. Ties between directions
// resolve to Uncertain rather than an arbitrary winner.
func (c *DeltaClassifier) Classify(window []event.StateEvent) (Direction, float64) {
	n := len(window)
	if n < 2 {
		return Uncertain, 0.0
	}

	steps := n - 1
	votes := make(map[Direction]float64, 5)
	stepVotes := make([]Direction, 0, steps)
	total := 0.0

	// Baseline churn accumulates over earlier steps so a pivot is judged
	// against the window's own volatility, not an absolute threshold.
	var churnSum int64

	for i := 1; i < n; i++ {
		fp := window[i].Fingerprint
		prev := window[i-1].Fingerprint

		vote := c.classifyStep(fp, prev, churnSum, int64(i-1))
		churnSum += fp.Churn()
		stepVotes = append(stepVotes, vote)

		// Newest step carries weight 1, each older step half the next.
		weight := math.Pow(2, float64(i-n+1))
		votes[vote] += weight
		total += weight
	}

	scale := 1.0 - math.Pow(2, -float64(steps))

	// Alternating expand/converge with no settled trend is a
	// contradiction, not a trend to pick a side of.
	if contradictory(stepVotes) {
		return Uncertain, 0.2 * scale
	}

	winner, winnerWeight, tied := topVote(votes)
	if tied {
		return Uncertain, 0.0
	}

	// Confidence: the winning share of the weighted vote, damped while
	// the window is still filling (halved penalty per extra step).
	agree := winnerWeight / total
	return winner, agree * scale
}

// contradictory reports whether the step votes flip between Expanding and
// Converging on at least three quarters of their transitions.
func contradictory(stepVotes []Direction) bool {
	if len(stepVotes) < 3 {
		return false
	}
	flips := 0
	for i := 1; i < len(stepVotes); i++ {
		a, b := stepVotes[i-1], stepVotes[i]
		if (a == Expanding && b == Converging) || (a == Converging && b == Expanding) {
			flips++
		}
	}
	return float64(flips) >= 0.75*float64(len(stepVotes)-1)
}

// classifyStep votes on a single observation. priorChurn/priorSteps
// describe the earlier part of the window and feed the pivot baseline.
func (c *DeltaClassifier) classifyStep(fp, prev event.Fingerprint, priorChurn, priorSteps int64) Direction {
	net := fp.NetDelta()
	churn := fp.Churn()

	// Pivot: simultaneous heavy insertion and deletion well above the
	// window's baseline churn, or a structural jump with real churn.
	if priorSteps > 0 && priorChurn > 0 {
		baseline := float64(priorChurn) / float64(priorSteps)
		spike := float64(churn) >= c.pivotFactor*baseline
		structJump := fp.StructureHash != 0 && prev.StructureHash != 0 &&
			fp.StructureHash != prev.StructureHash
		if spike && fp.Insertions > 0 && fp.Deletions > 0 {
			return Pivoting
		}
		if spike && structJump {
			return Pivoting
		}
	}

	if abs64(net) <= c.stableBand && churn <= c.stableBand {
		return Stable
	}
	if net > 0 {
		return Expanding
	}
	if net < 0 {
		return Converging
	}

	// Balanced churn with no baseline spike: contradictory signal.
	return Uncertain
}

// topVote returns the direction with the largest weighted vote, flagging
// an effective tie between two distinct directions.
func topVote(votes map[Direction]float64) (Direction, float64, bool) {
	winner, winnerWeight := Uncertain, 0.0
	tied := false

	// Iterate in declared order for determinism.
	for _, d := range AllDirections() {
		w, ok := votes[d]
		if !ok {
			continue
		}
		switch {
		case w > winnerWeight+voteEpsilon:
			winner, winnerWeight = d, w
			tied = false
		case math.Abs(w-winnerWeight) <= voteEpsilon && winnerWeight > 0 && d != winner:
			tied = true
		}
	}

	return winner, winnerWeight, tied
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
