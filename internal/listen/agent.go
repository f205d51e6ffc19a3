package listen

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// silenceThreshold is the gap in recognizer results after which a
	// speech episode is considered over. Voice activity is derived purely
	// from result cadence; there is no audio-energy detector here.
	silenceThreshold = 1500 * time.Millisecond
	// restartDelay is the pause before reopening a session that ended
	// normally (recognizers stop on their own periodically).
	restartDelay = 250 * time.Millisecond
	// networkRetryDelay is the longer pause after a network failure.
	networkRetryDelay = time.Second
)

// Agent turns a session-scoped Recognizer into continuous listening with
// voice-activity semantics. It owns a restart supervisor
// (listening -> ended -> restarting -> listening) and a silence timer that
// models start/end of speech from result cadence.
type Agent struct {
	rec Recognizer
	cb  Callbacks
	log *zap.Logger

	silence      time.Duration
	restartDelay time.Duration
	retryDelay   time.Duration

	mu           sync.Mutex
	state        State
	speaking     bool
	enabled      bool
	silenceTimer *time.Timer
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewAgent wires callbacks around a recognizer. A nil recognizer means the
// capability is absent: Start reports ErrUnavailable once and the agent stays
// idle.
func NewAgent(rec Recognizer, cb Callbacks, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		rec:          rec,
		cb:           cb,
		log:          log,
		silence:      silenceThreshold,
		restartDelay: restartDelay,
		retryDelay:   networkRetryDelay,
		state:        StateIdle,
	}
}

// State reports the supervisor state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Speaking reports whether a speech episode is in progress.
func (a *Agent) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// Start begins continuous listening. It returns ErrUnavailable when no
// recognizer capability exists.
func (a *Agent) Start(ctx context.Context) error {
	if a.rec == nil {
		if a.cb.OnError != nil {
			a.cb.OnError(ErrUnavailable)
		}
		return ErrUnavailable
	}

	a.mu.Lock()
	if a.enabled {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.enabled = true
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.supervise(runCtx)
	return nil
}

// Stop disables listening, tears down the recognizer, and clears any
// in-progress speech episode immediately without waiting for the silence
// timer.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = false
	cancel := a.cancel
	a.cancel = nil
	if a.silenceTimer != nil {
		a.silenceTimer.Stop()
		a.silenceTimer = nil
	}
	a.speaking = false
	a.state = StateIdle
	done := a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = a.rec.Stop()
	if done != nil {
		<-done
	}
}

// supervise is the restart loop: run one session, wait out the restart
// delay, run the next, until disabled.
func (a *Agent) supervise(ctx context.Context) {
	defer close(a.doneCh())
	for {
		if !a.setState(StateListening) {
			return
		}
		delay := a.runSession(ctx)
		if ctx.Err() != nil || !a.setState(StateRestarting) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *Agent) doneCh() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// setState moves the supervisor, refusing once disabled.
func (a *Agent) setState(s State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		a.state = StateIdle
		return false
	}
	a.state = s
	return true
}

// runSession drives one recognizer session to completion and returns the
// delay before the next restart.
func (a *Agent) runSession(ctx context.Context) time.Duration {
	if err := a.rec.Start(ctx); err != nil {
		return a.handleError(err)
	}

	delay := a.restartDelay
	results := a.rec.Results()
	errs := a.rec.Errors()
	for {
		select {
		case <-ctx.Done():
			return delay
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			delay = a.handleError(err)
		case r, ok := <-results:
			if !ok {
				// Session ended; supervisor restarts after the delay.
				return delay
			}
			a.handleResult(r)
		}
	}
}

// handleError applies the error taxonomy: network failures reschedule a
// slower restart, no-speech and aborted are benign, anything else surfaces.
func (a *Agent) handleError(err error) time.Duration {
	switch errCode(err) {
	case CodeNetwork:
		a.log.Warn("recognizer network error, will retry", zap.Error(err))
		return a.retryDelay
	case CodeNoSpeech, CodeAborted:
		a.log.Debug("benign recognizer error ignored", zap.Error(err))
	default:
		a.log.Warn("recognizer error", zap.Error(err))
		if a.cb.OnError != nil {
			a.cb.OnError(err)
		}
	}
	return a.restartDelay
}

func (a *Agent) handleResult(r Result) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	startedSpeaking := false
	if !a.speaking {
		a.speaking = true
		startedSpeaking = true
	}
	if a.silenceTimer == nil {
		a.silenceTimer = time.AfterFunc(a.silence, a.silenceElapsed)
	} else {
		a.silenceTimer.Stop()
		a.silenceTimer.Reset(a.silence)
	}
	a.mu.Unlock()

	if startedSpeaking && a.cb.OnVoiceStart != nil {
		a.cb.OnVoiceStart()
	}
	if r.Final {
		if text := strings.TrimSpace(r.Text); text != "" && a.cb.OnTranscription != nil {
			a.cb.OnTranscription(text)
		}
	} else if text := strings.TrimSpace(r.Text); text != "" && a.cb.OnPartial != nil {
		a.cb.OnPartial(text)
	}
}

// silenceElapsed fires when no result arrived for the silence threshold.
func (a *Agent) silenceElapsed() {
	a.mu.Lock()
	if !a.enabled || !a.speaking {
		a.mu.Unlock()
		return
	}
	a.speaking = false
	a.mu.Unlock()

	if a.cb.OnVoiceEnd != nil {
		a.cb.OnVoiceEnd()
	}
}
