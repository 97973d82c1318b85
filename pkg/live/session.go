// Package live implements the live session (C5): a process-wide singleton that drives one
// position at a time through the reserved pool capacity, broadcasting every engine event to
// registered subscribers in per-session causal order.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/herohde/stockpool/pkg/chessadapter"
	"github.com/herohde/stockpool/pkg/pool"
	"github.com/herohde/stockpool/pkg/uci"
	"github.com/seekerror/logw"
)

// Settings are the per-session analysis defaults, mergeable via UpdateSettings (§4.4
// "Defaults"/"updateSettings").
type Settings struct {
	Depth     int
	TimeLimit time.Duration
	MultiPV   int
}

func defaultSettings() Settings {
	return Settings{Depth: 18, TimeLimit: 10 * time.Second, MultiPV: 3}
}

// merge overlays non-zero fields of patch onto s and returns the result.
func (s Settings) merge(patch Settings) Settings {
	if patch.Depth != 0 {
		s.Depth = patch.Depth
	}
	if patch.TimeLimit != 0 {
		s.TimeLimit = patch.TimeLimit
	}
	if patch.MultiPV != 0 {
		s.MultiPV = patch.MultiPV
	}
	return s
}

// Manager owns the process-wide singleton live session. At most one session exists at a time;
// creating a new one closes whatever session preceded it (§4.4 "Singleton").
type Manager struct {
	pool *pool.Pool

	idleTimeout time.Duration
	gcInterval  time.Duration

	mu      sync.Mutex
	current *session
}

// NewManager constructs a live session manager over p. idleTimeout/gcInterval default to 30
// min / 5 min per §4.4 if zero.
func NewManager(p *pool.Pool, idleTimeout, gcInterval time.Duration) *Manager {
	if idleTimeout == 0 {
		idleTimeout = 30 * time.Minute
	}
	if gcInterval == 0 {
		gcInterval = 5 * time.Minute
	}
	m := &Manager{pool: p, idleTimeout: idleTimeout, gcInterval: gcInterval}
	go m.gcLoop()
	return m
}

type session struct {
	id       string
	bus      *bus
	settings Settings

	mu              sync.Mutex
	currentPosition string
	generation      int // bumped on every analyzePosition call, to detect staleness
	lastActivity    time.Time
	closed          bool
}

// CreateSession replaces any existing session with a new one (§4.4 "createSession"). Fails with
// ErrNoWorkers if the pool currently has zero workers configured.
func (m *Manager) CreateSession(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	if m.pool.Stats().Total == 0 {
		return nil, nil, ErrNoWorkers
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.closeLocked("superseded_by_new_session")
	}

	s := &session{
		id:           sessionID,
		bus:          newBus(),
		settings:     defaultSettings(),
		lastActivity: time.Now(),
	}
	m.current = s

	ch, unsub := s.bus.subscribe()

	s.bus.publish(Event{
		Type: EventEngineStatus, SessionID: sessionID, Timestamp: time.Now(),
		Status: "session_created", Settings: s.settings,
	})

	return ch, unsub, nil
}

// Subscribe registers a listener on the active session's event stream without creating or
// replacing a session (§4.4 "Subscribers": subscribe/unsubscribe is independent of
// createSession).
func (m *Manager) Subscribe(sessionID string) (<-chan Event, func(), error) {
	s, err := m.sessionFor(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsub := s.bus.subscribe()
	return ch, unsub, nil
}

// AnalyzePosition validates and submits fen for live analysis (§4.4 "analyzePosition"). Returns
// ErrNoSession if no session is active, or ErrSessionClosed if sessionID's session was closed
// (by another call racing in between) after this call already resolved it.
func (m *Manager) AnalyzePosition(ctx context.Context, sessionID, fen string, opt Settings) error {
	s, err := m.sessionFor(sessionID)
	if err != nil {
		return err
	}

	if err := chessadapter.ValidateFEN(fen); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.currentPosition = fen
	s.generation++
	gen := s.generation
	s.lastActivity = time.Now()
	merged := s.settings.merge(opt)
	s.mu.Unlock()

	m.pool.StopLiveTask(ctx) // best-effort: interrupt whatever the reserved worker was doing

	s.bus.publish(Event{Type: EventAnalysisStarted, SessionID: sessionID, Timestamp: time.Now(), FEN: fen, Settings: merged})

	progress := make(chan []uci.PVLine, 8)
	go m.drainProgress(s, fen, gen, progress)

	go func() {
		defer close(progress)

		result, err := m.pool.Analyze(ctx, pool.Request{
			FEN:       fen,
			Depth:     merged.Depth,
			MultiPV:   merged.MultiPV,
			TimeLimit: merged.TimeLimit,
			Priority:  pool.PriorityLive,
			Progress:  progress,
		})

		if s.stale(gen) {
			return // §4.4: "Stale results ... MUST be discarded silently"
		}

		if err != nil {
			s.bus.publish(Event{Type: EventAnalysisError, SessionID: sessionID, Timestamp: time.Now(), FEN: fen, Err: err.Error()})
			return
		}

		s.bus.publish(Event{Type: EventAnalysisComplete, SessionID: sessionID, Timestamp: time.Now(), FEN: fen, Lines: result.Lines, Depth: result.Depth})
	}()

	return nil
}

func (m *Manager) drainProgress(s *session, fen string, gen int, progress <-chan []uci.PVLine) {
	for lines := range progress {
		if s.stale(gen) {
			continue
		}
		s.bus.publish(Event{Type: EventAnalysisProgress, SessionID: s.id, Timestamp: time.Now(), FEN: fen, Lines: lines})
	}
}

func (s *session) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.generation != gen
}

// UpdateSettings merges patch into the active session's settings (§4.4 "updateSettings").
func (m *Manager) UpdateSettings(sessionID string, patch Settings) error {
	s, err := m.sessionFor(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.settings = s.settings.merge(patch)
	s.lastActivity = time.Now()
	merged := s.settings
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventEngineStatus, SessionID: sessionID, Timestamp: time.Now(), Status: "settings_updated", Settings: merged})
	return nil
}

// CloseSession closes the active session if it matches sessionID (§4.4 "closeSession").
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.id != sessionID {
		return ErrNoSession
	}
	m.closeLocked("closed_by_client")
	return nil
}

// closeLocked publishes session_closed and tears down the bus. Caller must hold m.mu.
func (m *Manager) closeLocked(reason string) {
	s := m.current
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventSessionClosed, SessionID: s.id, Timestamp: time.Now(), Reason: reason})
	s.bus.closeAll()
	m.current = nil
}

func (m *Manager) sessionFor(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoSession
	}
	if m.current.id != sessionID {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, sessionID)
	}
	return m.current, nil
}

// gcLoop auto-closes the active session after idleTimeout of inactivity, checked every
// gcInterval (§4.4 "Idle GC").
func (m *Manager) gcLoop() {
	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if m.current != nil {
			m.current.mu.Lock()
			idle := time.Since(m.current.lastActivity)
			m.current.mu.Unlock()

			if idle > m.idleTimeout {
				logw.Infof(context.Background(), "Live session %v idle for %v, closing", m.current.id, idle.Truncate(time.Second))
				m.closeLocked("idle_timeout")
			}
		}
		m.mu.Unlock()
	}
}
