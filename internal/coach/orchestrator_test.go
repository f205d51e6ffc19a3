package coach

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeler-devs/Mimir-sub001/internal/conversation"
	"github.com/beeler-devs/Mimir-sub001/internal/intent"
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
)

type fakeSpeech struct {
	mu       sync.Mutex
	speaking bool
	paused   bool
	progress float64
	spoken   []string
	pauses   int
	resumes  int
	cancels  int
}

func (f *fakeSpeech) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	f.speaking = true
	f.paused = false
	return nil
}

func (f *fakeSpeech) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	f.paused = true
}

func (f *fakeSpeech) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	f.paused = false
}

func (f *fakeSpeech) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.speaking = false
	f.paused = false
}

func (f *fakeSpeech) IsSpeaking() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.speaking }
func (f *fakeSpeech) IsPaused() bool   { f.mu.Lock(); defer f.mu.Unlock(); return f.paused }
func (f *fakeSpeech) Progress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *fakeSpeech) set(speaking, paused bool, progress float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking, f.paused, f.progress = speaking, paused, progress
}

type fakeCanvas struct {
	mu            sync.Mutex
	screenshot    string
	screenshotErr error
	elements      []intervention.CanvasElement
}

func (f *fakeCanvas) Screenshot(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenshot, f.screenshotErr
}

func (f *fakeCanvas) Elements() []intervention.CanvasElement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elements
}

type fakeProvider struct {
	mu       sync.Mutex
	requests []*intervention.Request
	response json.RawMessage
	err      error
	block    chan struct{} // if non-nil, Request waits on it
}

func (f *fakeProvider) Request(ctx context.Context, req *intervention.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	resp, err := f.response, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProvider) last() *intervention.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type harness struct {
	orc      *Orchestrator
	conv     *conversation.Manager
	speech   *fakeSpeech
	canvas   *fakeCanvas
	provider *fakeProvider

	mu          sync.Mutex
	laserSets   []*intervention.LaserPosition
	annotations []intervention.Annotation
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		conv:   conversation.NewManager(),
		speech: &fakeSpeech{},
		canvas: &fakeCanvas{
			screenshot: "data:image/png;base64,abc",
			elements:   []intervention.CanvasElement{{ID: "e1", Type: "path", Text: "y = x^2"}},
		},
		provider: &fakeProvider{response: json.RawMessage(`{"type":"voice","voiceText":"Try the power rule."}`)},
	}
	h.orc = New(cfg, Deps{
		Conversation: h.conv,
		Classifier:   intent.NewClassifier(nil, nil),
		Speech:       h.speech,
		Canvas:       h.canvas,
		Provider:     h.provider,
		Pointer: func(pos *intervention.LaserPosition) {
			h.mu.Lock()
			h.laserSets = append(h.laserSets, pos)
			h.mu.Unlock()
		},
		Annotator: func(a intervention.Annotation) {
			h.mu.Lock()
			h.annotations = append(h.annotations, a)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.orc.Close)
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAffirmationResumesPausedSpeech(t *testing.T) {
	h := newHarness(t, Config{})
	h.conv.StartAIUtterance("The derivative of x squared is two x because...")
	h.speech.set(true, true, 0.4)

	h.orc.HandleTranscript(context.Background(), "ok got it")

	assert.Equal(t, 1, h.speech.resumes)
	assert.Zero(t, h.provider.count())

	// The paused utterance folded into history.
	sum := h.conv.SummaryForAPI()
	assert.Nil(t, sum.CurrentAIUtterance)
	history := h.conv.RecentHistory(10)
	require.NotEmpty(t, history)
	ai := history[len(history)-1]
	assert.Equal(t, conversation.SpeakerAI, ai.Speaker)
}

func TestAffirmationWhileSilentJustRecords(t *testing.T) {
	h := newHarness(t, Config{})

	h.orc.HandleTranscript(context.Background(), "makes sense")

	assert.Zero(t, h.speech.resumes)
	assert.Zero(t, h.provider.count())
	history := h.conv.RecentHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "makes sense", history[0].Text)
	assert.False(t, history[0].IsInterruption)
}

func TestInterruptWhileSpeaking(t *testing.T) {
	h := newHarness(t, Config{})
	h.conv.StartAIUtterance("Let me walk through the chain rule...")
	h.speech.set(true, false, 0.42)

	h.orc.HandleTranscript(context.Background(), "wait why does that work")

	assert.Equal(t, 1, h.speech.pauses)

	waitFor(t, func() bool { return h.provider.count() == 1 }, "no intervention request sent")
	req := h.provider.last()
	assert.Equal(t, intervention.TriggerInterrupt, req.ConversationContext.Trigger)
	assert.Equal(t, "wait why does that work", req.ConversationContext.UserSpeech)
	assert.True(t, req.ConversationContext.WasInterrupted)

	// Response executed: new utterance opened and spoken.
	waitFor(t, func() bool {
		h.speech.mu.Lock()
		defer h.speech.mu.Unlock()
		return len(h.speech.spoken) == 1
	}, "voice text never spoken")
	sum := h.conv.SummaryForAPI()
	require.NotNil(t, sum.CurrentAIUtterance)
	assert.Equal(t, "Try the power rule.", *sum.CurrentAIUtterance)
}

func TestHelpRequestWhileSilent(t *testing.T) {
	h := newHarness(t, Config{})

	h.orc.HandleTranscript(context.Background(), "I'm stuck on this derivative")

	waitFor(t, func() bool { return h.provider.count() == 1 }, "no intervention request sent")
	assert.Equal(t, intervention.TriggerHelpRequest, h.provider.last().ConversationContext.Trigger)
	assert.Zero(t, h.speech.pauses)
}

func TestStatementRecordsOnly(t *testing.T) {
	h := newHarness(t, Config{})

	h.orc.HandleTranscript(context.Background(), "drawing the graph now")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.provider.count())
	history := h.conv.RecentHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "drawing the graph now", history[0].Text)
}

func TestInFlightGuardDropsSecondTrigger(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.block = make(chan struct{})

	h.orc.HandleTranscript(context.Background(), "help me with this integral")
	waitFor(t, func() bool { return h.provider.count() == 1 }, "first request never sent")

	// Second trigger while the first is still on the wire: dropped.
	h.orc.HandleTranscript(context.Background(), "I'm so confused")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.provider.count())

	close(h.provider.block)
	waitFor(t, func() bool {
		h.orc.mu.Lock()
		defer h.orc.mu.Unlock()
		return !h.orc.inFlight
	}, "guard never cleared")

	// Guard released: the next trigger goes through.
	h.orc.HandleTranscript(context.Background(), "still stuck here")
	waitFor(t, func() bool { return h.provider.count() == 2 }, "post-release request never sent")
}

func TestVoiceStartPreemptivelyPauses(t *testing.T) {
	h := newHarness(t, Config{})
	h.speech.set(true, false, 0.2)

	h.orc.HandleVoiceStart()
	assert.Equal(t, 1, h.speech.pauses)

	// Already paused: no double pause.
	h.orc.HandleVoiceStart()
	assert.Equal(t, 1, h.speech.pauses)
}

func TestIdleTimerTriggersCheckIn(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 30 * time.Millisecond, CanvasDebounce: 10 * time.Millisecond})

	h.orc.CanvasChanged()

	waitFor(t, func() bool { return h.provider.count() == 1 }, "idle intervention never requested")
	assert.Equal(t, intervention.TriggerIdle, h.provider.last().ConversationContext.Trigger)
}

func TestIdleSkippedWhileUserSpeaking(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 20 * time.Millisecond})

	h.orc.HandleVoiceStart()
	h.orc.CanvasChanged()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, h.provider.count())
}

func TestIdleSkippedOnEmptyCanvas(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 20 * time.Millisecond})
	h.canvas.mu.Lock()
	h.canvas.elements = nil
	h.canvas.mu.Unlock()

	h.orc.CanvasChanged()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, h.provider.count())
}

func TestIdleRespectsMinimumInterval(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 20 * time.Millisecond, MinInterventionInterval: time.Hour})
	h.conv.RecordIntervention()

	h.orc.CanvasChanged()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, h.provider.count())
}

func TestCanvasChangeResetsIdleTimer(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 60 * time.Millisecond})

	h.orc.CanvasChanged()
	time.Sleep(30 * time.Millisecond)
	h.orc.CanvasChanged()
	time.Sleep(40 * time.Millisecond)
	// 70ms since the first change but only 40ms since the reset.
	assert.Zero(t, h.provider.count())
}

func TestScreenshotFailureAbortsCycleAndClearsGuard(t *testing.T) {
	h := newHarness(t, Config{})
	h.canvas.mu.Lock()
	h.canvas.screenshotErr = errors.New("canvas hidden")
	h.canvas.mu.Unlock()

	h.orc.HandleTranscript(context.Background(), "help with this equation")

	waitFor(t, func() bool {
		h.orc.mu.Lock()
		defer h.orc.mu.Unlock()
		return !h.orc.inFlight
	}, "guard never cleared")
	assert.Zero(t, h.provider.count())

	// Capability restored: the next trigger succeeds.
	h.canvas.mu.Lock()
	h.canvas.screenshotErr = nil
	h.canvas.mu.Unlock()
	h.orc.HandleTranscript(context.Background(), "still need a hint")
	waitFor(t, func() bool { return h.provider.count() == 1 }, "recovery request never sent")
}

func TestProviderFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.mu.Lock()
	h.provider.err = errors.New("upstream 503")
	h.provider.mu.Unlock()

	h.orc.HandleTranscript(context.Background(), "can you help me")

	waitFor(t, func() bool {
		h.orc.mu.Lock()
		defer h.orc.mu.Unlock()
		return !h.orc.inFlight
	}, "guard never cleared")
	assert.Empty(t, h.speech.spoken)
}

func TestMalformedResponseExecutesFallback(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.mu.Lock()
	h.provider.response = json.RawMessage(`{"type":"voice"}`)
	h.provider.mu.Unlock()

	h.orc.HandleTranscript(context.Background(), "I need help here")

	waitFor(t, func() bool {
		h.speech.mu.Lock()
		defer h.speech.mu.Unlock()
		return len(h.speech.spoken) == 1
	}, "fallback never spoken")
	h.speech.mu.Lock()
	defer h.speech.mu.Unlock()
	assert.NotEmpty(t, h.speech.spoken[0])
}

func TestExecuteLaserAndAnnotation(t *testing.T) {
	h := newHarness(t, Config{})
	h.provider.mu.Lock()
	h.provider.response = json.RawMessage(`{
		"type":"both",
		"voiceText":"Look at the exponent here.",
		"laserPosition":{"x":120,"y":80,"style":"circle"},
		"annotation":{"text":"power rule","position":{"x":10,"y":20},"type":"hint"}
	}`)
	h.provider.mu.Unlock()

	h.orc.HandleTranscript(context.Background(), "where did I go wrong?")

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.laserSets) == 1 && len(h.annotations) == 1
	}, "laser or annotation never executed")

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotNil(t, h.laserSets[0])
	assert.Equal(t, intervention.LaserCircle, h.laserSets[0].Style)
	assert.Equal(t, "power rule", h.annotations[0].Text)
}

func TestDebounceFoldsCanvasConcepts(t *testing.T) {
	h := newHarness(t, Config{CanvasDebounce: 15 * time.Millisecond, IdleTimeout: time.Hour})

	h.orc.CanvasChanged()

	waitFor(t, func() bool {
		return len(h.conv.SummaryForAPI().CanvasContext.DetectedConcepts) > 0
	}, "concepts never folded")
	assert.Contains(t, h.conv.SummaryForAPI().CanvasContext.DetectedConcepts, "y = x^2")
}

func TestSpeechCompletedIgnoredWhilePaused(t *testing.T) {
	h := newHarness(t, Config{})
	h.conv.StartAIUtterance("half-done explanation")
	h.speech.set(true, true, 0.5)

	h.orc.SpeechCompleted("half-done explanation")

	sum := h.conv.SummaryForAPI()
	require.NotNil(t, sum.CurrentAIUtterance, "paused utterance must stay open")

	h.speech.set(true, false, 0.9)
	h.orc.SpeechCompleted("half-done explanation")
	assert.Nil(t, h.conv.SummaryForAPI().CurrentAIUtterance)
}

func TestLaserHold(t *testing.T) {
	assert.Equal(t, 5*time.Second, laserHold(""))
	assert.Equal(t, 3*time.Second, laserHold("one clause no punctuation"))
	assert.Equal(t, 6*time.Second, laserHold("First sentence. Second sentence."))
	assert.Equal(t, 9*time.Second, laserHold("Look here. See that? Good!"))
}
