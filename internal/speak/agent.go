package speak

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultWordsPerMinute drives the duration estimate. Speech progress is
	// always an estimate here: elapsed wall clock over estimated duration,
	// never a measurement.
	defaultWordsPerMinute = 150
	// defaultPollInterval is how often the progress estimate refreshes.
	defaultPollInterval = 100 * time.Millisecond
)

// Config tunes the output agent.
type Config struct {
	WordsPerMinute int
	PollInterval   time.Duration
}

func (c *Config) fill() {
	if c.WordsPerMinute <= 0 {
		c.WordsPerMinute = defaultWordsPerMinute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Agent drives a Synthesizer with an imperative controller surface: pause,
// resume, cancel, and an estimated progress readout. Repeating the exact text
// last spoken is a no-op until Cancel clears the memo, so re-renders upstream
// cannot restart an utterance by accident.
type Agent struct {
	synth Synthesizer
	cfg   Config
	cb    Callbacks
	log   *zap.Logger

	mu       sync.Mutex
	lastText string
	cur      *Utterance
	closed   bool

	now func() time.Time
}

// NewAgent wraps a synthesizer.
func NewAgent(synth Synthesizer, cfg Config, cb Callbacks, log *zap.Logger) *Agent {
	cfg.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{synth: synth, cfg: cfg, cb: cb, log: log, now: time.Now}
}

// Utterance is the handle for one in-flight spoken text.
type Utterance struct {
	agent *Agent
	text  string

	mu        sync.Mutex
	startedAt time.Time
	estimated time.Duration
	paused    bool
	pausedAt  time.Time
	progress  float64
	cancelled bool
	finished  bool
	stop      chan struct{}
	done      chan struct{}
}

// Speak starts speaking text. Identical consecutive text is suppressed and
// returns the current handle; different text cancels any in-flight utterance
// first.
func (a *Agent) Speak(ctx context.Context, text string) (*Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if a.synth == nil {
		return nil, ErrUnavailable
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, nil
	}
	if text == a.lastText {
		cur := a.cur
		a.mu.Unlock()
		a.log.Debug("duplicate text suppressed", zap.String("text", text))
		return cur, nil
	}
	prev := a.cur
	a.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	synthDone, err := a.synth.Speak(ctx, text)
	if err != nil {
		return nil, err
	}

	u := &Utterance{
		agent:     a,
		text:      text,
		startedAt: a.now(),
		estimated: EstimateDuration(text, a.cfg.WordsPerMinute),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	a.mu.Lock()
	if a.closed {
		// Closed while the synthesizer was starting up. Never publish the
		// handle; its done channel has to close here since poll never runs.
		a.mu.Unlock()
		u.cancelled = true
		close(u.stop)
		close(u.done)
		a.synth.Cancel()
		return nil, nil
	}
	a.lastText = text
	a.cur = u
	a.mu.Unlock()

	if a.cb.OnStart != nil {
		a.cb.OnStart(text)
	}
	go u.poll(synthDone, a.cfg.PollInterval)
	return u, nil
}

// Cancel stops the in-flight utterance and clears the duplicate-text memo, so
// the same text may be spoken again later. That distinguishes a deliberate
// interrupt-and-restart from the de-dup guard.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cur := a.cur
	a.lastText = ""
	a.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
	if a.synth != nil {
		a.synth.Cancel()
	}
}

// Close tears the agent down: synthesis is cancelled, polling stops, and no
// further callbacks fire.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cur := a.cur
	a.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
	if a.synth != nil {
		a.synth.Cancel()
	}
}

// Pause pauses the current utterance, if any.
func (a *Agent) Pause() {
	if u := a.current(); u != nil {
		u.Pause()
	}
}

// Resume resumes the current utterance, if paused.
func (a *Agent) Resume() {
	if u := a.current(); u != nil {
		u.Resume()
	}
}

// IsSpeaking reports whether an utterance is in flight (paused counts: the
// turn is still the AI's).
func (a *Agent) IsSpeaking() bool {
	u := a.current()
	return u != nil && u.Active()
}

// IsPaused reports whether the current utterance is paused.
func (a *Agent) IsPaused() bool {
	u := a.current()
	return u != nil && u.IsPaused()
}

// Progress returns the current utterance's progress estimate in [0,1].
func (a *Agent) Progress() float64 {
	if u := a.current(); u != nil {
		return u.Progress()
	}
	return 0
}

func (a *Agent) current() *Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur
}

// EstimateDuration converts text length to expected speech time at the given
// rate.
func EstimateDuration(text string, wordsPerMinute int) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	ms := float64(words) / float64(wordsPerMinute) * 60000
	return time.Duration(ms) * time.Millisecond
}

// poll refreshes the progress estimate until the synthesizer reports done or
// the utterance is cancelled. A paused utterance never completes naturally;
// completion waits for the resume.
func (u *Utterance) poll(synthDone <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(u.done)

	synthFinished := false
	for {
		select {
		case <-u.stop:
			return
		case <-synthDone:
			synthFinished = true
			synthDone = nil
			if !u.IsPaused() {
				u.finish()
				return
			}
		case <-ticker.C:
			if synthFinished && !u.IsPaused() {
				u.finish()
				return
			}
			u.refreshProgress()
		}
	}
}

func (u *Utterance) refreshProgress() {
	u.mu.Lock()
	u.refreshLocked()
	u.mu.Unlock()
}

func (u *Utterance) finish() {
	u.refreshProgress()
	u.mu.Lock()
	if u.finished || u.cancelled {
		u.mu.Unlock()
		return
	}
	u.finished = true
	u.progress = 1
	u.mu.Unlock()

	a := u.agent
	a.mu.Lock()
	if a.cur == u {
		a.cur = nil
	}
	suppressed := a.closed
	a.mu.Unlock()

	if !suppressed && a.cb.OnComplete != nil {
		a.cb.OnComplete(u.text)
	}
}

func (u *Utterance) cancel() {
	u.mu.Lock()
	if u.finished || u.cancelled {
		u.mu.Unlock()
		return
	}
	u.cancelled = true
	close(u.stop)
	u.mu.Unlock()

	a := u.agent
	a.mu.Lock()
	if a.cur == u {
		a.cur = nil
	}
	a.mu.Unlock()
}

// Pause acts only while speaking and not already paused.
func (u *Utterance) Pause() {
	u.mu.Lock()
	if u.paused || u.finished || u.cancelled {
		u.mu.Unlock()
		return
	}
	u.refreshLocked()
	u.paused = true
	u.pausedAt = u.agent.now()
	u.mu.Unlock()
	u.agent.synth.Pause()
}

// Resume shifts the elapsed-time baseline forward by the pause duration so
// progress stays continuous across the pause.
func (u *Utterance) Resume() {
	u.mu.Lock()
	if !u.paused || u.finished || u.cancelled {
		u.mu.Unlock()
		return
	}
	u.startedAt = u.startedAt.Add(u.agent.now().Sub(u.pausedAt))
	u.paused = false
	u.mu.Unlock()
	u.agent.synth.Resume()
}

// Cancel aborts this utterance without touching the agent's de-dup memo.
func (u *Utterance) Cancel() {
	u.cancel()
	u.agent.synth.Cancel()
}

// IsPaused reports the pause flag.
func (u *Utterance) IsPaused() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.paused
}

// Active reports whether the utterance is still in flight.
func (u *Utterance) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.finished && !u.cancelled
}

// Progress returns the estimate in [0,1].
func (u *Utterance) Progress() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress
}

// Done closes when the utterance finishes or is cancelled.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// refreshLocked is refreshProgress for callers already holding u.mu.
func (u *Utterance) refreshLocked() {
	if u.paused || u.finished || u.cancelled || u.estimated <= 0 {
		return
	}
	elapsed := u.agent.now().Sub(u.startedAt)
	p := float64(elapsed) / float64(u.estimated)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	u.progress = p
}
