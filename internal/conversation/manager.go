package conversation

import (
	"sort"
	"sync"
	"time"
)

const (
	// maxTurns bounds memory: older turns are discarded FIFO past this.
	maxTurns = 50
	// summaryTurns is how much history the intervention provider sees.
	summaryTurns = 5
	// defaultInterruptProgress is assumed when an interruption is detected
	// without an independent progress estimate.
	defaultInterruptProgress = 0.5
)

// Manager is the single conversation ledger for a coaching session. It owns
// the turn history, the in-flight AI utterance, and the canvas context, and
// exposes them only through copying getters so callers never hold a live
// reference. All methods are safe for concurrent use.
type Manager struct {
	mu               sync.Mutex
	history          []Turn
	current          *Utterance
	canvas           CanvasContext
	concepts         map[string]struct{}
	lastIntervention time.Time

	now func() time.Time
}

// NewManager returns an empty ledger.
func NewManager() *Manager {
	return &Manager{
		concepts: make(map[string]struct{}),
		now:      time.Now,
	}
}

// AddUserSpeech appends a user turn. When interruption is set and an AI
// utterance is open and not yet marked interrupted, the utterance is marked
// interrupted with the default progress estimate.
func (m *Manager) AddUserSpeech(text string, interruption bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if interruption && m.current != nil && m.current.Open() && !m.current.WasInterrupted {
		m.current.WasInterrupted = true
		m.current.ProgressWhenInterrupted = defaultInterruptProgress
	}
	m.appendLocked(Turn{
		Speaker:        SpeakerUser,
		Text:           text,
		Timestamp:      m.now(),
		IsInterruption: interruption,
	})
}

// StartAIUtterance opens a new in-flight utterance. A still-open previous
// utterance is completed first, so at most one utterance is ever open.
func (m *Manager) StartAIUtterance(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completeLocked()
	m.current = &Utterance{Text: text, StartedAt: m.now()}
}

// CompleteAIUtterance folds the open utterance into the history. No-op when
// none is open. The resulting turn is stamped with the utterance start time
// so ordering reflects when speech began.
func (m *Manager) CompleteAIUtterance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeLocked()
}

func (m *Manager) completeLocked() {
	if m.current == nil || !m.current.Open() {
		m.current = nil
		return
	}
	m.current.CompletedAt = m.now()
	m.appendLocked(Turn{
		Speaker:   SpeakerAI,
		Text:      m.current.Text,
		Timestamp: m.current.StartedAt,
	})
	m.current = nil
}

// MarkAIUtteranceInterrupted records that the open utterance was cut off at
// the given progress, clamped to [0,1]. Only the first call takes effect.
func (m *Manager) MarkAIUtteranceInterrupted(progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Open() || m.current.WasInterrupted {
		return
	}
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	m.current.WasInterrupted = true
	m.current.ProgressWhenInterrupted = progress
}

// UpdateCanvasContext applies a partial update; only provided fields overwrite.
func (m *Manager) UpdateCanvasContext(upd CanvasUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if upd.Snapshot != nil {
		m.canvas.LastSnapshot = *upd.Snapshot
	}
	if upd.Topic != nil {
		m.canvas.CurrentTopic = *upd.Topic
	}
	if upd.Concepts != nil {
		m.concepts = make(map[string]struct{}, len(upd.Concepts))
		for _, c := range upd.Concepts {
			m.concepts[c] = struct{}{}
		}
	}
}

// RecordIntervention stamps the time of the latest intervention.
func (m *Manager) RecordIntervention() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIntervention = m.now()
}

// LastInterventionTime returns the stamp of the most recent intervention, or
// the zero time when none has happened.
func (m *Manager) LastInterventionTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIntervention
}

// RecentHistory returns a copy of the last min(n, len) turns.
func (m *Manager) RecentHistory(n int) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentLocked(n)
}

func (m *Manager) recentLocked(n int) []Turn {
	if n > len(m.history) {
		n = len(m.history)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Turn, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// SummaryForAPI assembles the context payload for the intervention provider:
// the last few turns, the open utterance text (if any), whether it was
// interrupted, and the canvas context.
func (m *Manager) SummaryForAPI() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		RecentHistory: m.recentLocked(summaryTurns),
		CanvasContext: m.canvasLocked(),
	}
	if m.current != nil && m.current.Open() {
		text := m.current.Text
		s.CurrentAIUtterance = &text
		s.WasInterrupted = m.current.WasInterrupted
	}
	return s
}

func (m *Manager) canvasLocked() CanvasContext {
	cc := CanvasContext{
		LastSnapshot:     m.canvas.LastSnapshot,
		CurrentTopic:     m.canvas.CurrentTopic,
		DetectedConcepts: make([]string, 0, len(m.concepts)),
	}
	for c := range m.concepts {
		cc.DetectedConcepts = append(cc.DetectedConcepts, c)
	}
	sort.Strings(cc.DetectedConcepts)
	return cc
}

// Reset returns every field to its initial empty state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.current = nil
	m.canvas = CanvasContext{}
	m.concepts = make(map[string]struct{})
	m.lastIntervention = time.Time{}
}

func (m *Manager) appendLocked(t Turn) {
	m.history = append(m.history, t)
	if len(m.history) > maxTurns {
		m.history = m.history[len(m.history)-maxTurns:]
	}
}
