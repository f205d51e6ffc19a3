package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beeler-devs/Mimir-sub001/internal/coach"
	"github.com/beeler-devs/Mimir-sub001/internal/intent"
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
	"github.com/beeler-devs/Mimir-sub001/internal/listen"
	"github.com/beeler-devs/Mimir-sub001/internal/speak"
)

const (
	defaultInactivityTimeout = 5 * time.Minute
	defaultCleanupInterval   = time.Minute
)

// disabledProvider stands in when no intervention endpoint is configured.
type disabledProvider struct{}

func (disabledProvider) Request(context.Context, *intervention.Request) (json.RawMessage, error) {
	return nil, errors.New("intervention provider not configured")
}

// Deps are the provider wiring shared by every session. NewRecognizer and
// NewSynthesizer may be nil when the corresponding API is unconfigured; the
// affected modality disables itself and the rest keeps working.
type Deps struct {
	NewRecognizer  func() listen.Recognizer
	NewSynthesizer func(sink speak.Sink) speak.Synthesizer
	Scorer         intent.SemanticScorer
	Provider       intervention.Provider
	Coach          coach.Config
	Speak          speak.Config

	InactivityTimeout time.Duration
	CleanupInterval   time.Duration
	Log               *zap.Logger
}

// Manager owns all live sessions and reaps inactive ones.
type Manager struct {
	deps Deps
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
}

// NewManager builds a manager and starts its cleanup loop.
func NewManager(deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.InactivityTimeout <= 0 {
		deps.InactivityTimeout = defaultInactivityTimeout
	}
	if deps.CleanupInterval <= 0 {
		deps.CleanupInterval = defaultCleanupInterval
	}
	if deps.Provider == nil {
		deps.Provider = disabledProvider{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:     deps,
		log:      deps.Log,
		sessions: make(map[string]*Session),
		cancel:   cancel,
	}
	go m.cleanupLoop(ctx)
	return m
}

// Create builds a fully wired session on an upgraded connection and starts
// its loops. The session removes itself from the manager on close.
func (m *Manager) Create(conn *websocket.Conn) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		conn:         conn,
		pending:      make(map[string]chan string),
		lastActivity: time.Now(),
	}
	s.log = m.log.With(zap.String("session", s.ID))
	s.onClose = m.remove
	s.wire(m.deps)

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	m.log.Info("session created", zap.String("session", s.ID), zap.Int("active", count))

	if err := s.listener.Start(context.Background()); err != nil {
		s.log.Warn("speech input unavailable", zap.Error(err))
	}
	go s.readLoop()
	return s
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	m.log.Info("session removed", zap.String("session", id), zap.Int("active", count))
}

// cleanupLoop reaps sessions whose client has gone quiet.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.deps.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapInactive()
		}
	}
}

func (m *Manager) reapInactive() {
	cutoff := time.Now().Add(-m.deps.InactivityTimeout)
	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.log.Info("reaping inactive session", zap.String("session", s.ID))
		s.Close()
	}
}

// Close stops the cleanup loop and tears down every session.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
