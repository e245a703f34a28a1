package trajectory

import (
	"testing"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
)

var testBase = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

// eventsAt builds a stream with one event per second from fingerprints.
func eventsAt(fps []event.Fingerprint) []event.StateEvent {
	out := make([]event.StateEvent, len(fps))
	for i, fp := range fps {
		out[i] = event.StateEvent{
			Timestamp:   testBase.Add(time.Duration(i) * time.Second),
			Fingerprint: fp,
		}
	}
	return out
}

// growthEvents is a pure-insertion stream: size grows by step each event.
func growthEvents(n int, start, step int64) []event.StateEvent {
	fps := make([]event.Fingerprint, n)
	size := start
	for i := range fps {
		fps[i] = event.Fingerprint{Size: size, Insertions: step}
		size += step
	}
	// First observation has nothing before it to insert against.
	fps[0].Insertions = 0
	return eventsAt(fps)
}

// shrinkEvents is a pure-deletion stream: size shrinks by step each event.
func shrinkEvents(n int, start, step int64) []event.StateEvent {
	fps := make([]event.Fingerprint, n)
	size := start
	for i := range fps {
		fps[i] = event.Fingerprint{Size: size, Deletions: step}
		size -= step
	}
	fps[0].Deletions = 0
	return eventsAt(fps)
}

// flatEvents is a no-change stream.
func flatEvents(n int, size int64) []event.StateEvent {
	fps := make([]event.Fingerprint, n)
	for i := range fps {
		fps[i] = event.Fingerprint{Size: size}
	}
	return eventsAt(fps)
}

// alternatingEvents flips between insertion and deletion every event.
func alternatingEvents(n int, start, step int64) []event.StateEvent {
	fps := make([]event.Fingerprint, n)
	size := start
	for i := range fps {
		fp := event.Fingerprint{Size: size}
		if i > 0 {
			if i%2 == 1 {
				fp.Insertions = step
				size += step
			} else {
				fp.Deletions = step
				size -= step
			}
			fp.Size = size
		}
		fps[i] = fp
	}
	return eventsAt(fps)
}

func TestClassifyInsufficientWindow(t *testing.T) {
	c := NewDeltaClassifier(0, 0)

	tests := []struct {
		name   string
		window []event.StateEvent
	}{
		{"empty", nil},
		{"single event", growthEvents(1, 100, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, conf := c.Classify(tt.window)
			if dir != Uncertain {
				t.Errorf("Expected Uncertain, got %s", dir)
			}
			if conf != 0.0 {
				t.Errorf("Expected confidence 0.0, got %f", conf)
			}
		})
	}
}

func TestClassifyTrends(t *testing.T) {
	c := NewDeltaClassifier(0, 0)

	tests := []struct {
		name    string
		window  []event.StateEvent
		want    Direction
		minConf float64
	}{
		{"pure insertion", growthEvents(5, 100, 20), Expanding, 0.9},
		{"pure deletion", shrinkEvents(5, 500, 15), Converging, 0.9},
		{"no change", flatEvents(5, 300), Stable, 0.9},
		{"three growing events", growthEvents(3, 100, 20), Expanding, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, conf := c.Classify(tt.window)
			if dir != tt.want {
				t.Errorf("Expected %s, got %s (conf %f)", tt.want, dir, conf)
			}
			if conf <= tt.minConf {
				t.Errorf("Expected confidence > %f, got %f", tt.minConf, conf)
			}
		})
	}
}

func TestClassifyContradictorySignals(t *testing.T) {
	c := NewDeltaClassifier(0, 0)

	// Expand/converge flapping every step has no trend to project.
	dir, conf := c.Classify(alternatingEvents(5, 200, 30))
	if dir != Uncertain {
		t.Errorf("Expected Uncertain for alternating deltas, got %s", dir)
	}
	if conf >= 0.5 {
		t.Errorf("Expected low confidence for contradiction, got %f", conf)
	}
}

func TestClassifyPivot(t *testing.T) {
	c := NewDeltaClassifier(0, 0)

	// Small steady growth, then a churn spike with simultaneous heavy
	// insertion and deletion.
	window := []event.StateEvent{
		{Timestamp: testBase, Fingerprint: event.Fingerprint{Size: 100}},
		{Timestamp: testBase.Add(time.Second), Fingerprint: event.Fingerprint{Size: 105, Insertions: 5}},
		{Timestamp: testBase.Add(2 * time.Second), Fingerprint: event.Fingerprint{Size: 110, Insertions: 5}},
		{Timestamp: testBase.Add(3 * time.Second), Fingerprint: event.Fingerprint{Size: 110, Insertions: 60, Deletions: 60}},
	}

	dir, conf := c.Classify(window)
	if dir != Pivoting {
		t.Errorf("Expected Pivoting, got %s (conf %f)", dir, conf)
	}
	if conf <= 0.0 {
		t.Error("Expected non-zero confidence for pivot")
	}
}

func TestClassifyStructureJumpPivot(t *testing.T) {
	c := NewDeltaClassifier(0, 0)

	// Same net growth, but the structural outline jumps with a churn
	// spike: a reorganization, not plain expansion.
	window := []event.StateEvent{
		{Timestamp: testBase, Fingerprint: event.Fingerprint{Size: 100, StructureHash: 7}},
		{Timestamp: testBase.Add(time.Second), Fingerprint: event.Fingerprint{Size: 104, Insertions: 4, StructureHash: 7}},
		{Timestamp: testBase.Add(2 * time.Second), Fingerprint: event.Fingerprint{Size: 108, Insertions: 4, StructureHash: 7}},
		{Timestamp: testBase.Add(3 * time.Second), Fingerprint: event.Fingerprint{Size: 148, Insertions: 40, StructureHash: 99}},
	}

	dir, _ := c.Classify(window)
	if dir != Pivoting {
		t.Errorf("Expected Pivoting on structure jump, got %s", dir)
	}
}

func TestClassifyDeterminism(t *testing.T) {
	c := NewDeltaClassifier(0, 0)
	window := alternatingEvents(8, 400, 25)

	dir1, conf1 := c.Classify(window)
	for range 10 {
		dir2, conf2 := c.Classify(window)
		if dir2 != dir1 || conf2 != conf1 {
			t.Fatalf("Classification not deterministic: (%s, %f) vs (%s, %f)",
				dir1, conf1, dir2, conf2)
		}
	}
}

func TestClassifyStableBand(t *testing.T) {
	c := NewDeltaClassifier(5, 0)

	// Jitter within the band is stable, not a trend.
	fps := []event.Fingerprint{
		{Size: 100},
		{Size: 102, Insertions: 2},
		{Size: 101, Deletions: 1},
		{Size: 103, Insertions: 2},
	}
	dir, _ := c.Classify(eventsAt(fps))
	if dir != Stable {
		t.Errorf("Expected Stable within band, got %s", dir)
	}
}
