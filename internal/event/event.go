// Package event defines the state-event contract between input adapters
// and the trajectory engine. Adapters observe an evolving artifact (a
// document, a codebase, a buffer) and emit one StateEvent per observed
// change; the engine consumes them in timestamp order.
package event

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// Fingerprint is a semantic-neutral summary of the artifact's shape at a
// point in time. The classifier only ever looks at these numbers, never at
// raw content.
type Fingerprint struct {
	// Size is the total size of the artifact (bytes, lines, nodes - the
	// unit is the adapter's choice, it only has to be consistent).
	Size int64 `json:"size"`

	// Insertions is the amount added since the previous observation.
	Insertions int64 `json:"insertions"`

	// Deletions is the amount removed since the previous observation.
	Deletions int64 `json:"deletions"`

	// StructureHash is a hash of the artifact's structural outline
	// (headings, function names, file list). Zero means not provided.
	StructureHash uint64 `json:"structure_hash,omitempty"`
}

// NetDelta returns the net growth of this observation.
func (f Fingerprint) NetDelta() int64 {
	return f.Insertions - f.Deletions
}

// Churn returns the total edit volume of this observation.
func (f Fingerprint) Churn() int64 {
	return f.Insertions + f.Deletions
}

// StateEvent is one observed change to the artifact. Events are immutable
// once created and must carry non-decreasing timestamps within a session.
type StateEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	Fingerprint Fingerprint       `json:"fingerprint"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the event is well-formed.
func (e *StateEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event has zero timestamp")
	}
	if e.Fingerprint.Size < 0 {
		return fmt.Errorf("fingerprint size must be non-negative, got %d", e.Fingerprint.Size)
	}
	if e.Fingerprint.Insertions < 0 || e.Fingerprint.Deletions < 0 {
		return fmt.Errorf("fingerprint insertions/deletions must be non-negative")
	}
	return nil
}

// ChangeRecord is the wire format adapters send, one JSON object per line.
// Insertions and deletions may be omitted when only a size is known; the
// ingest layer derives them from the previous size.
type ChangeRecord struct {
	SessionID  string            `json:"session_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Size       int64             `json:"size"`
	Insertions *int64            `json:"insertions,omitempty"`
	Deletions  *int64            `json:"deletions,omitempty"`
	Structure  string            `json:"structure,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ParseChangeRecord decodes a single NDJSON line.
func ParseChangeRecord(line []byte) (*ChangeRecord, error) {
	var rec ChangeRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse change record: %w", err)
	}
	if rec.Timestamp.IsZero() {
		return nil, fmt.Errorf("change record missing timestamp")
	}
	if rec.Size < 0 {
		return nil, fmt.Errorf("change record has negative size")
	}
	return &rec, nil
}

// ToEvent converts a change record into a StateEvent. prevSize is the size
// reported by the previous record in the same session (0 at session start);
// it is used to derive insertions/deletions when the record omits them.
func (r *ChangeRecord) ToEvent(prevSize int64) StateEvent {
	fp := Fingerprint{Size: r.Size}

	if r.Insertions != nil {
		fp.Insertions = *r.Insertions
	}
	if r.Deletions != nil {
		fp.Deletions = *r.Deletions
	}

	// Derive edit volume from the size delta when the adapter only
	// reports sizes.
	if r.Insertions == nil && r.Deletions == nil {
		delta := r.Size - prevSize
		if delta >= 0 {
			fp.Insertions = delta
		} else {
			fp.Deletions = -delta
		}
	}

	if r.Structure != "" {
		fp.StructureHash = HashStructure(r.Structure)
	}

	return StateEvent{
		Timestamp:   r.Timestamp,
		Fingerprint: fp,
		Metadata:    r.Metadata,
	}
}

// HashStructure hashes a structural outline into a fingerprint component.
func HashStructure(outline string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(outline))
	return h.Sum64()
}
