// Package ingest turns change-record streams into per-session trajectory
// engines. It owns the session registry: one engine per session, fed in
// arrival order, with optional persistence behind it.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/ihavespoons/driftline/internal/event"
	"github.com/ihavespoons/driftline/internal/logger"
	"github.com/ihavespoons/driftline/internal/store"
	"github.com/ihavespoons/driftline/internal/trajectory"
)

// Manager routes change records to per-session engines
type Manager struct {
	mu         sync.Mutex
	engineOpts []trajectory.Option
	st         store.SessionStore
	maxEvents  int
	sessions   map[string]*managedSession
	onUpdate   func(sessionID string, snap trajectory.Snapshot)
}

type managedSession struct {
	engine         *trajectory.Engine
	prevSize       int64
	storedSegments int
}

// NewManager creates a session manager. st may be nil for in-memory-only
// operation; maxEvents caps persisted events per session (0 = unlimited).
func NewManager(engineOpts []trajectory.Option, st store.SessionStore, maxEvents int) *Manager {
	return &Manager{
		engineOpts: engineOpts,
		st:         st,
		maxEvents:  maxEvents,
		sessions:   make(map[string]*managedSession),
	}
}

// SetOnUpdate registers a callback invoked after every accepted event with
// the session's fresh snapshot. Must be set before ingestion starts.
func (m *Manager) SetOnUpdate(fn func(sessionID string, snap trajectory.Snapshot)) {
	m.onUpdate = fn
}

// Accept feeds one change record to its session's engine. Records without
// a session_id are rejected; the reader fills in a default before calling.
// Out-of-order records return the engine's typed error so callers can
// count drops.
func (m *Manager) Accept(rec *event.ChangeRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("change record missing session_id")
	}

	m.mu.Lock()
	ms, err := m.sessionLocked(rec.SessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	ev := rec.ToEvent(ms.prevSize)
	if err := ms.engine.Accept(ev); err != nil {
		m.mu.Unlock()
		return err
	}
	ms.prevSize = rec.Size

	if m.st != nil {
		m.persistLocked(rec.SessionID, ms, ev)
	}
	m.mu.Unlock()

	if m.onUpdate != nil {
		m.onUpdate(rec.SessionID, ms.engine.Snapshot())
	}
	return nil
}

func (m *Manager) sessionLocked(sessionID string) (*managedSession, error) {
	if ms, ok := m.sessions[sessionID]; ok {
		return ms, nil
	}

	if m.st != nil {
		if _, err := m.st.GetOrCreateSession(sessionID, ""); err != nil {
			return nil, fmt.Errorf("failed to register session: %w", err)
		}
	}

	opts := append([]trajectory.Option{trajectory.WithSessionID(sessionID)}, m.engineOpts...)
	ms := &managedSession{engine: trajectory.NewEngine(opts...)}
	m.sessions[sessionID] = ms

	logger.Debug().
		Str("session", sessionID).
		Msg("Started tracking session")

	return ms, nil
}

func (m *Manager) persistLocked(sessionID string, ms *managedSession, ev event.StateEvent) {
	if err := m.st.StoreEvent(sessionID, ev); err != nil {
		logger.Warn().Err(err).Str("session", sessionID).Msg("Failed to persist event")
	}

	closed := ms.engine.ClosedSegments()
	for i := ms.storedSegments; i < len(closed); i++ {
		if err := m.st.StoreSegment(sessionID, closed[i]); err != nil {
			logger.Warn().Err(err).Str("session", sessionID).Msg("Failed to persist segment")
			return
		}
		ms.storedSegments++
	}

	if m.maxEvents > 0 {
		if _, err := m.st.CleanupExcessEvents(sessionID, m.maxEvents); err != nil {
			logger.Warn().Err(err).Str("session", sessionID).Msg("Event trim failed")
		}
	}
}

// Snapshot returns the current snapshot for a session
func (m *Manager) Snapshot(sessionID string) (trajectory.Snapshot, error) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return trajectory.Snapshot{}, fmt.Errorf("unknown session: %s", sessionID)
	}
	return ms.engine.Snapshot(), nil
}

// Predict returns ranked next-state hypotheses for a session
func (m *Manager) Predict(sessionID string, horizon int) ([]trajectory.PredictedState, error) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return ms.engine.Predict(horizon), nil
}

// CloseSession ends a session; its snapshot stays queryable
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	ms.engine.Close()
	if m.st != nil {
		if err := m.st.MarkSessionClosed(sessionID); err != nil {
			logger.Warn().Err(err).Str("session", sessionID).Msg("Failed to mark session closed")
		}
	}
	return nil
}

// SessionIDs lists the sessions this manager is tracking
func (m *Manager) SessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Replay rebuilds a session's engine from persisted events. Used to
// inspect sessions after a restart without re-ingesting the original
// stream.
func Replay(st store.SessionStore, sessionID string, engineOpts []trajectory.Option) (*trajectory.Engine, error) {
	events, err := st.GetSessionEvents(sessionID, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events stored for session: %s", sessionID)
	}

	opts := append([]trajectory.Option{trajectory.WithSessionID(sessionID)}, engineOpts...)
	eng := trajectory.NewEngine(opts...)
	for _, ev := range events {
		if err := eng.Accept(ev); err != nil {
			// Stored streams were accepted once already; a failure here
			// means the store was edited out from under us.
			logger.Warn().Err(err).Str("session", sessionID).Msg("Skipping stored event during replay")
		}
	}
	return eng, nil
}
