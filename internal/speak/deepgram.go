package speak

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	speakclient "github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"go.uber.org/zap"
)

// DeepgramSynthesizer streams TTS audio from Deepgram's Speak websocket into
// a Sink. Pause holds delivery (audio queues internally) rather than tearing
// the stream down, so Resume is instant.
type DeepgramSynthesizer struct {
	apiKey     string
	model      string
	sampleRate int
	sink       Sink
	log        *zap.Logger

	mu       sync.Mutex
	paused   bool
	pending  [][]byte
	speaking bool
	stop     func()
}

// NewDeepgramSynthesizer builds a synthesizer writing to sink. Model defaults
// to aura-2-thalia-en.
func NewDeepgramSynthesizer(apiKey, model string, sink Sink, log *zap.Logger) *DeepgramSynthesizer {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeepgramSynthesizer{apiKey: apiKey, model: model, sampleRate: 48000, sink: sink, log: log}
}

// Speak implements Synthesizer.
func (d *DeepgramSynthesizer) Speak(ctx context.Context, text string) (<-chan struct{}, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram speak: api key missing")
	}
	if text == "" {
		done := make(chan struct{})
		close(done)
		return done, nil
	}

	d.Cancel()

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		b := make([]byte, len(data))
		copy(b, data)
		d.deliver(b)
		return nil
	}}

	dg, err := speakclient.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak: create ws client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram speak: connect failed")
	}

	done := make(chan struct{})
	cancelCh := make(chan struct{})
	var stopOnce sync.Once
	stopClient := func() {
		stopOnce.Do(func() {
			dg.Stop()
			close(cancelCh)
		})
	}

	d.mu.Lock()
	d.speaking = true
	d.paused = false
	d.pending = nil
	d.stop = stopClient
	d.mu.Unlock()

	if err := dg.SpeakWithText(text); err != nil {
		stopClient()
		d.clearSpeaking()
		return nil, fmt.Errorf("deepgram speak: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.log.Warn("deepgram speak: flush error", zap.Error(err))
	}

	go func() {
		defer close(done)
		defer d.clearSpeaking()
		// The stream is considered complete after a short idle window with
		// no more audio, or a hard deadline.
		idleWindow := 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(30 * time.Second)
		for {
			select {
			case <-ctx.Done():
				stopClient()
				return
			case <-cancelCh:
				return
			case <-ticker.C:
				if d.isPaused() {
					// Don't let a long pause look like stream completion.
					deadline = time.Now().Add(30 * time.Second)
					continue
				}
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > idleWindow && !d.hasPending() {
						stopClient()
						return
					}
				}
				if time.Now().After(deadline) {
					stopClient()
					return
				}
			}
		}
	}()

	return done, nil
}

// Pause holds audio delivery; chunks arriving while paused are queued.
func (d *DeepgramSynthesizer) Pause() {
	d.mu.Lock()
	if d.speaking {
		d.paused = true
	}
	d.mu.Unlock()
}

// Resume flushes queued audio and continues delivery.
func (d *DeepgramSynthesizer) Resume() {
	d.mu.Lock()
	if !d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = false
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, b := range pending {
		d.sink.WritePCM(b)
	}
}

// Cancel aborts the in-flight stream and drops queued audio.
func (d *DeepgramSynthesizer) Cancel() {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.speaking = false
	d.paused = false
	d.pending = nil
	d.mu.Unlock()
	if stop != nil {
		stop()
	}
	d.sink.Reset()
}

// Speaking implements Synthesizer.
func (d *DeepgramSynthesizer) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *DeepgramSynthesizer) deliver(b []byte) {
	d.mu.Lock()
	if !d.speaking {
		d.mu.Unlock()
		return
	}
	if d.paused {
		d.pending = append(d.pending, b)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.sink.WritePCM(b)
}

func (d *DeepgramSynthesizer) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *DeepgramSynthesizer) hasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

func (d *DeepgramSynthesizer) clearSpeaking() {
	d.mu.Lock()
	d.speaking = false
	d.mu.Unlock()
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
