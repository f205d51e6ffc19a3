package speak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ElevenLabsSynthesizer streams TTS audio from the ElevenLabs HTTP streaming
// endpoint into a Sink. Same pause/queue semantics as the Deepgram
// synthesizer: Pause buffers chunks, Resume flushes them.
type ElevenLabsSynthesizer struct {
	apiKey  string
	voiceID string
	sink    Sink
	log     *zap.Logger

	mu       sync.Mutex
	paused   bool
	pending  [][]byte
	speaking bool
	cancel   context.CancelFunc

	catalogOnce sync.Once
	catalog     []Voice
}

func NewElevenLabsSynthesizer(apiKey, voiceID string, sink Sink, log *zap.Logger) *ElevenLabsSynthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ElevenLabsSynthesizer{apiKey: apiKey, voiceID: voiceID, sink: sink, log: log}
}

// Speak implements Synthesizer.
func (e *ElevenLabsSynthesizer) Speak(ctx context.Context, text string) (<-chan struct{}, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: api key missing")
	}
	if text == "" {
		done := make(chan struct{})
		close(done)
		return done, nil
	}

	e.Cancel()

	voice := e.voiceID
	if voice == "" {
		if v := PickVoice(e.Voices()); v.ID != "" {
			voice = v.ID
		}
	}
	if voice == "" {
		return nil, fmt.Errorf("elevenlabs: no voice available")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.speaking = true
	e.paused = false
	e.pending = nil
	e.cancel = cancel
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer e.clearSpeaking()
		if err := e.stream(streamCtx, voice, text); err != nil {
			if streamCtx.Err() == nil {
				e.log.Warn("elevenlabs stream failed", zap.Error(err))
			}
			return
		}
		// Body EOF while paused is not the end of the utterance; queued
		// chunks still have to be resumed into the sink.
		e.waitDrained(streamCtx)
	}()
	return done, nil
}

func (e *ElevenLabsSynthesizer) waitDrained(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			blocked := e.paused || len(e.pending) > 0
			e.mu.Unlock()
			if !blocked {
				return
			}
		}
	}
}

func (e *ElevenLabsSynthesizer) Pause() {
	e.mu.Lock()
	if e.speaking {
		e.paused = true
	}
	e.mu.Unlock()
}

func (e *ElevenLabsSynthesizer) Resume() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, b := range pending {
		e.sink.WritePCM(b)
	}
}

func (e *ElevenLabsSynthesizer) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.speaking = false
	e.paused = false
	e.pending = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.sink.Reset()
}

// Speaking implements Synthesizer.
func (e *ElevenLabsSynthesizer) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *ElevenLabsSynthesizer) stream(ctx context.Context, voiceID, text string) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + voiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs http stream error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			e.deliver(out)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs http read error: %w", rerr)
		}
	}
}

func (e *ElevenLabsSynthesizer) deliver(b []byte) {
	e.mu.Lock()
	if !e.speaking {
		e.mu.Unlock()
		return
	}
	if e.paused {
		e.pending = append(e.pending, b)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.sink.WritePCM(b)
}

func (e *ElevenLabsSynthesizer) clearSpeaking() {
	e.mu.Lock()
	e.speaking = false
	e.mu.Unlock()
}

// Voices fetches and caches the account voice catalog, making the
// synthesizer a Catalog. Fetch happens once; failures leave the catalog
// empty.
func (e *ElevenLabsSynthesizer) Voices() []Voice {
	e.catalogOnce.Do(func() {
		cat, err := e.fetchVoices()
		if err != nil {
			e.log.Warn("elevenlabs voice list failed", zap.Error(err))
			return
		}
		e.catalog = cat
	})
	return e.catalog
}

func (e *ElevenLabsSynthesizer) fetchVoices() ([]Voice, error) {
	req, err := http.NewRequest(http.MethodGet, "https://api.elevenlabs.io/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs voices status=%d", resp.StatusCode)
	}
	var payload struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
			Labels  struct {
				Language string `json:"language"`
			} `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	cat := make([]Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		lang := v.Labels.Language
		if lang == "" {
			lang = "en"
		}
		cat = append(cat, Voice{ID: v.VoiceID, Name: v.Name, Lang: lang})
	}
	return cat, nil
}
