package coach

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beeler-devs/Mimir-sub001/internal/conversation"
	"github.com/beeler-devs/Mimir-sub001/internal/intent"
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
)

// Deps are the collaborators one orchestrator drives.
type Deps struct {
	Conversation *conversation.Manager
	Classifier   *intent.Classifier
	Speech       Speech
	Canvas       Canvas
	Pointer      Pointer
	Annotator    Annotator
	Provider     intervention.Provider
	Log          *zap.Logger
}

// Orchestrator is the interrupt-arbitration state machine at the center of
// the coaching loop. It owns the canvas debounce and idle timers, decides
// when to ask the provider for an intervention, and arbitrates interrupts
// between the student's voice and the AI's speech.
//
// At most one intervention request is in flight at a time; concurrent
// triggers are dropped, never queued. Better to miss a redundant check-in
// than to pile up stale responses.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu           sync.Mutex
	debounce     *time.Timer
	idle         *time.Timer
	laserClear   *time.Timer
	inFlight     bool
	userSpeaking bool
	closed       bool

	bg     context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New builds an orchestrator. Pointer and Annotator may be nil when the
// session has no overlay surface.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.fill()
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log,
		bg:     bg,
		cancel: cancel,
		now:    time.Now,
	}
}

// CanvasChanged resets both the debounce and idle timers. Called on every
// canvas-element-set change.
func (o *Orchestrator) CanvasChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	resetTimer(&o.debounce, o.cfg.CanvasDebounce, o.debounceFired)
	resetTimer(&o.idle, o.cfg.IdleTimeout, o.idleFired)
}

// resetTimer replaces *t with a fresh AfterFunc. Caller holds o.mu.
func resetTimer(t **time.Timer, d time.Duration, fn func()) {
	if *t != nil {
		(*t).Stop()
	}
	*t = time.AfterFunc(d, fn)
}

// debounceFired folds the settled canvas into the conversation context so
// the next provider request sees what the student has been drawing.
func (o *Orchestrator) debounceFired() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	elements := o.deps.Canvas.Elements()
	concepts := conceptsFromElements(elements)
	if len(concepts) == 0 {
		return
	}
	o.deps.Conversation.UpdateCanvasContext(conversation.CanvasUpdate{Concepts: concepts})
	o.log.Debug("canvas settled", zap.Int("elements", len(elements)), zap.Strings("concepts", concepts))
}

// conceptsFromElements flattens visible element text into a deduplicated
// concept list.
func conceptsFromElements(elements []intervention.CanvasElement) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, el := range elements {
		text := strings.ToLower(strings.TrimSpace(el.Text))
		if text == "" {
			continue
		}
		if len(text) > 60 {
			text = text[:60]
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// idleFired triggers a proactive check-in when the student has gone quiet on
// a non-empty canvas and the minimum interval since the last intervention has
// passed.
func (o *Orchestrator) idleFired() {
	o.mu.Lock()
	if o.closed || o.userSpeaking {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	last := o.deps.Conversation.LastInterventionTime()
	if !last.IsZero() && o.now().Sub(last) < o.cfg.MinInterventionInterval {
		return
	}
	if len(o.deps.Canvas.Elements()) == 0 {
		return
	}
	o.triggerIntervention(intervention.TriggerIdle, "")
}

// HandleVoiceStart is the low-latency pre-emption path: the student has
// started making sound, so pause AI speech before the words are even known.
// An over-eager pause is reversed quickly by an affirmation resume.
func (o *Orchestrator) HandleVoiceStart() {
	o.mu.Lock()
	o.userSpeaking = true
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	if o.deps.Speech.IsSpeaking() && !o.deps.Speech.IsPaused() {
		o.log.Debug("voice activity while AI speaking, pausing")
		o.deps.Speech.Pause()
	}
}

// HandleVoiceEnd marks the student as quiet again.
func (o *Orchestrator) HandleVoiceEnd() {
	o.mu.Lock()
	o.userSpeaking = false
	o.mu.Unlock()
}

// HandleTranscript runs the voice-driven path for one finalized transcript.
func (o *Orchestrator) HandleTranscript(ctx context.Context, text string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	wasSpeaking := o.deps.Speech.IsSpeaking()
	o.deps.Conversation.AddUserSpeech(text, wasSpeaking)

	det := o.deps.Classifier.DetectHelpRequest(ctx, text)
	in := o.deps.Classifier.ExtractIntent(text)
	o.log.Debug("transcript classified",
		zap.String("text", text),
		zap.Bool("needsHelp", det.NeedsHelp),
		zap.String("reason", string(det.Reason)),
		zap.String("intent", string(in.Kind)))

	switch {
	case det.NeedsHelp || in.Kind == intent.KindHelp || in.Kind == intent.KindQuestion:
		if wasSpeaking {
			if !o.deps.Speech.IsPaused() {
				o.deps.Speech.Pause()
			}
			o.deps.Conversation.MarkAIUtteranceInterrupted(o.deps.Speech.Progress())
			o.triggerIntervention(intervention.TriggerInterrupt, text)
		} else {
			o.triggerIntervention(intervention.TriggerHelpRequest, text)
		}
	case in.Kind == intent.KindAffirmation:
		// The resume half of the interrupt protocol: the student said
		// "go on", so fold the paused utterance and continue.
		o.deps.Conversation.CompleteAIUtterance()
		if o.deps.Speech.IsPaused() {
			o.deps.Speech.Resume()
		}
	default:
		// Plain statement: recorded above, nothing else to do.
	}
}

// SpeechCompleted folds the AI's just-finished utterance into history. Wired
// to the speech agent's completion callback. A paused utterance is not a
// valid completion source; pausing holds the turn open.
func (o *Orchestrator) SpeechCompleted(string) {
	if o.deps.Speech.IsPaused() {
		return
	}
	o.deps.Conversation.CompleteAIUtterance()
}

// triggerIntervention takes the in-flight guard synchronously, so the
// drop/proceed decision is made at trigger time, then runs the cycle off the
// caller's goroutine. Recognizer callbacks and timer callbacks never block on
// the network.
func (o *Orchestrator) triggerIntervention(trigger intervention.Trigger, userSpeech string) {
	o.mu.Lock()
	if o.inFlight || o.closed {
		o.mu.Unlock()
		o.log.Debug("intervention already in flight, dropping", zap.String("trigger", string(trigger)))
		return
	}
	o.inFlight = true
	o.mu.Unlock()
	go o.runIntervention(trigger, userSpeech)
}

// runIntervention performs one request/execute cycle. The guard is already
// held; the timestamp and guard release happen on every path.
func (o *Orchestrator) runIntervention(trigger intervention.Trigger, userSpeech string) {
	defer func() {
		o.deps.Conversation.RecordIntervention()
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	reqCtx, cancel := context.WithTimeout(o.bg, o.cfg.RequestTimeout)
	defer cancel()

	screenshot, err := o.deps.Canvas.Screenshot(reqCtx)
	if err != nil || screenshot == "" {
		o.log.Warn("screenshot unavailable, skipping intervention", zap.Error(err))
		return
	}

	sum := o.deps.Conversation.SummaryForAPI()
	req := &intervention.Request{
		Screenshot: screenshot,
		Elements:   o.deps.Canvas.Elements(),
		ConversationContext: intervention.Context{
			RecentHistory:      sum.RecentHistory,
			CurrentAIUtterance: sum.CurrentAIUtterance,
			WasInterrupted:     sum.WasInterrupted,
			CanvasContext:      sum.CanvasContext,
			Trigger:            trigger,
			UserSpeech:         userSpeech,
		},
	}

	raw, err := o.deps.Provider.Request(reqCtx, req)
	if err != nil {
		o.log.Warn("intervention request failed", zap.String("trigger", string(trigger)), zap.Error(err))
		return
	}

	iv := intervention.SafeParse(raw, o.log)
	o.execute(iv)
}

// execute acts on a sanitized intervention: speak, point, annotate. Speech
// runs on the orchestrator's own context so it outlives the request cycle.
func (o *Orchestrator) execute(iv *intervention.Intervention) {
	if iv.VoiceText != "" {
		o.deps.Conversation.StartAIUtterance(iv.VoiceText)
		if err := o.deps.Speech.Speak(o.bg, iv.VoiceText); err != nil {
			o.log.Warn("speech synthesis failed", zap.Error(err))
		}
	}
	if iv.Laser != nil && o.deps.Pointer != nil {
		o.deps.Pointer(iv.Laser)
		hold := laserHold(iv.VoiceText)
		o.mu.Lock()
		if !o.closed {
			resetTimer(&o.laserClear, hold, func() { o.deps.Pointer(nil) })
		}
		o.mu.Unlock()
	}
	if iv.Annotation != nil && o.deps.Annotator != nil {
		o.deps.Annotator(*iv.Annotation)
	}
}

// laserHold estimates how long the pointer stays visible.
func laserHold(voiceText string) time.Duration {
	if strings.TrimSpace(voiceText) == "" {
		return laserHoldDefault
	}
	sentences := 0
	for _, r := range voiceText {
		if r == '.' || r == '?' || r == '!' {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	return time.Duration(sentences) * laserHoldPerSentence
}

// Close tears the orchestrator down: timers stopped, outstanding request
// contexts cancelled, speech cancelled.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, t := range []*time.Timer{o.debounce, o.idle, o.laserClear} {
		if t != nil {
			t.Stop()
		}
	}
	o.mu.Unlock()
	o.cancel()
	o.deps.Speech.Cancel()
}
