package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager() (*Manager, *fakeClock) {
	m := NewManager()
	clk := newFakeClock()
	m.now = clk.now
	return m, clk
}

func TestManager_SingleOpenUtterance(t *testing.T) {
	m, _ := newTestManager()

	m.StartAIUtterance("first")
	m.StartAIUtterance("second")

	// Starting the second must have folded the first into history.
	hist := m.RecentHistory(10)
	require.Len(t, hist, 1)
	assert.Equal(t, SpeakerAI, hist[0].Speaker)
	assert.Equal(t, "first", hist[0].Text)

	s := m.SummaryForAPI()
	require.NotNil(t, s.CurrentAIUtterance)
	assert.Equal(t, "second", *s.CurrentAIUtterance)
}

func TestManager_CompleteStampsStartTime(t *testing.T) {
	m, _ := newTestManager()

	m.StartAIUtterance("hello there")
	started := m.SummaryForAPI()
	require.NotNil(t, started.CurrentAIUtterance)

	m.AddUserSpeech("mm", false)
	m.CompleteAIUtterance()

	hist := m.RecentHistory(10)
	require.Len(t, hist, 2)
	// The AI turn is stamped with when speech began, so it sorts before the
	// user turn that arrived mid-utterance.
	assert.Equal(t, SpeakerAI, hist[1].Speaker)
	assert.True(t, hist[1].Timestamp.Before(hist[0].Timestamp))
}

func TestManager_CompleteWithoutOpenIsNoop(t *testing.T) {
	m, _ := newTestManager()
	m.CompleteAIUtterance()
	assert.Empty(t, m.RecentHistory(10))
}

func TestManager_HistoryCappedFIFO(t *testing.T) {
	m, _ := newTestManager()

	for i := 0; i < 60; i++ {
		m.AddUserSpeech(fmt.Sprintf("turn %d", i), false)
	}
	hist := m.RecentHistory(100)
	require.Len(t, hist, 50)
	assert.Equal(t, "turn 10", hist[0].Text)
	assert.Equal(t, "turn 59", hist[49].Text)
}

func TestManager_InterruptMarksOpenUtterance(t *testing.T) {
	m, _ := newTestManager()

	m.StartAIUtterance("let me explain")
	m.AddUserSpeech("wait", true)

	s := m.SummaryForAPI()
	assert.True(t, s.WasInterrupted)
	require.Len(t, s.RecentHistory, 1)
	assert.True(t, s.RecentHistory[0].IsInterruption)
}

func TestManager_MarkInterruptedIdempotent(t *testing.T) {
	m, _ := newTestManager()

	m.StartAIUtterance("a long explanation")
	m.MarkAIUtteranceInterrupted(0.3)
	m.MarkAIUtteranceInterrupted(0.9)

	m.mu.Lock()
	got := m.current.ProgressWhenInterrupted
	m.mu.Unlock()
	assert.Equal(t, 0.3, got)
}

func TestManager_MarkInterruptedClamps(t *testing.T) {
	m, _ := newTestManager()

	m.StartAIUtterance("x")
	m.MarkAIUtteranceInterrupted(3.5)

	m.mu.Lock()
	got := m.current.ProgressWhenInterrupted
	m.mu.Unlock()
	assert.Equal(t, 1.0, got)
}

func TestManager_SummaryRoundTrip(t *testing.T) {
	m, _ := newTestManager()

	m.AddUserSpeech("X", false)
	s := m.SummaryForAPI()
	require.NotEmpty(t, s.RecentHistory)
	assert.Equal(t, "X", s.RecentHistory[len(s.RecentHistory)-1].Text)
}

func TestManager_SummaryIsDefensiveCopy(t *testing.T) {
	m, _ := newTestManager()

	m.AddUserSpeech("original", false)
	s := m.SummaryForAPI()
	s.RecentHistory[0].Text = "mutated"
	s.CanvasContext.DetectedConcepts = append(s.CanvasContext.DetectedConcepts, "rogue")

	again := m.SummaryForAPI()
	assert.Equal(t, "original", again.RecentHistory[0].Text)
	assert.Empty(t, again.CanvasContext.DetectedConcepts)
}

func TestManager_CanvasContextPartialUpdate(t *testing.T) {
	m, _ := newTestManager()

	topic := "derivatives"
	m.UpdateCanvasContext(CanvasUpdate{Topic: &topic, Concepts: []string{"chain rule", "slope"}})

	snap := "data:image/png;base64,AAAA"
	m.UpdateCanvasContext(CanvasUpdate{Snapshot: &snap})

	cc := m.SummaryForAPI().CanvasContext
	assert.Equal(t, "derivatives", cc.CurrentTopic)
	assert.Equal(t, snap, cc.LastSnapshot)
	assert.Equal(t, []string{"chain rule", "slope"}, cc.DetectedConcepts)
}

func TestManager_RecordIntervention(t *testing.T) {
	m, _ := newTestManager()

	assert.True(t, m.LastInterventionTime().IsZero())
	m.RecordIntervention()
	assert.False(t, m.LastInterventionTime().IsZero())
}

func TestManager_Reset(t *testing.T) {
	m, _ := newTestManager()

	m.AddUserSpeech("hi", false)
	m.StartAIUtterance("hello")
	m.RecordIntervention()
	m.Reset()

	assert.Empty(t, m.RecentHistory(10))
	assert.Nil(t, m.SummaryForAPI().CurrentAIUtterance)
	assert.True(t, m.LastInterventionTime().IsZero())
}
