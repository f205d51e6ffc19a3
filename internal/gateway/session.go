package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beeler-devs/Mimir-sub001/internal/coach"
	"github.com/beeler-devs/Mimir-sub001/internal/conversation"
	"github.com/beeler-devs/Mimir-sub001/internal/intent"
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
	"github.com/beeler-devs/Mimir-sub001/internal/listen"
	"github.com/beeler-devs/Mimir-sub001/internal/speak"
)

// screenshotTimeout bounds the round trip to the browser renderer.
const screenshotTimeout = 10 * time.Second

// AudioIngest receives the student's microphone audio.
type AudioIngest interface {
	SendPCM16(pcm []byte) error
}

// metrics are per-session counters, logged at close.
type metrics struct {
	mu             sync.Mutex
	userTurns      int
	assistantTurns int
	bargeIns       int
}

func (m *metrics) inc(field *int) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Session is one connected student: the WebSocket transport plus the full
// coaching loop wired behind it. It implements coach.Canvas (screenshot and
// element listing are round trips to the browser) and speak.Sink (synthesized
// audio goes out as hex audio_chunk messages).
type Session struct {
	ID         string
	userID     string
	instanceID string

	conn    *websocket.Conn
	writeMu sync.Mutex
	log     *zap.Logger

	conv     *conversation.Manager
	listener *listen.Agent
	speaker  *speak.Agent
	orch     *coach.Orchestrator
	ingest   AudioIngest

	mu           sync.Mutex
	elements     []intervention.CanvasElement
	pending      map[string]chan string
	streamID     string
	lastActivity time.Time
	closed       bool

	metrics metrics
	onClose func(id string)
}

// touch refreshes the inactivity clock.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity reports when the client last sent anything.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// send writes one JSON message, stamping the session ID.
func (s *Session) send(msg serverMessage) {
	msg.SessionID = s.ID
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Debug("client write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// WritePCM implements speak.Sink: synthesized audio streams to the browser
// as hex chunks.
func (s *Session) WritePCM(pcm []byte) {
	s.mu.Lock()
	stream := s.streamID
	s.mu.Unlock()
	s.send(serverMessage{Type: msgAudioChunk, Audio: hex.EncodeToString(pcm), StreamID: stream})
}

// Reset implements speak.Sink: tell the browser to flush queued playback.
func (s *Session) Reset() {
	s.send(serverMessage{Type: msgBargeIn})
}

// Screenshot implements coach.Canvas as a request/response round trip.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	id := uuid.NewString()
	ch := make(chan string, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("session closed")
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	s.send(serverMessage{Type: msgScreenshotRequest, RequestID: id})

	ctx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()
	select {
	case data := <-ch:
		if data == "" {
			return "", errors.New("empty screenshot from client")
		}
		return data, nil
	case <-ctx.Done():
		return "", fmt.Errorf("screenshot: %w", ctx.Err())
	}
}

// Elements implements coach.Canvas.
func (s *Session) Elements() []intervention.CanvasElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]intervention.CanvasElement, len(s.elements))
	copy(out, s.elements)
	return out
}

// readLoop pumps client frames until the connection drops. Binary frames are
// microphone PCM16; text frames are JSON control messages.
func (s *Session) readLoop() {
	defer s.Close()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("client connection lost", zap.Error(err))
			}
			return
		}
		s.touch()

		switch mt {
		case websocket.BinaryMessage:
			if s.ingest != nil {
				if err := s.ingest.SendPCM16(data); err != nil {
					s.log.Debug("audio forward failed", zap.Error(err))
				}
			}
		case websocket.TextMessage:
			s.handleText(data)
		}
	}
}

func (s *Session) handleText(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("malformed client message", zap.Error(err))
		return
	}

	switch msg.Type {
	case msgHello:
		s.mu.Lock()
		s.userID = msg.UserID
		s.instanceID = msg.InstanceID
		s.mu.Unlock()
		s.log.Info("session hello",
			zap.String("userId", msg.UserID),
			zap.String("instanceId", msg.InstanceID))

	case msgCanvasElements:
		s.mu.Lock()
		s.elements = msg.Elements
		s.mu.Unlock()
		s.orch.CanvasChanged()

	case msgScreenshotResult:
		s.mu.Lock()
		ch, ok := s.pending[msg.RequestID]
		s.mu.Unlock()
		if !ok {
			s.log.Debug("screenshot result for unknown request", zap.String("requestId", msg.RequestID))
			return
		}
		select {
		case ch <- msg.Data:
		default:
		}

	default:
		s.log.Debug("unknown client message type", zap.String("type", msg.Type))
	}
}

// Close tears the whole session down: coaching loop, speech, listening, then
// the socket. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ch := range s.pending {
		close(ch)
	}
	s.pending = map[string]chan string{}
	s.mu.Unlock()

	s.orch.Close()
	s.speaker.Close()
	if s.listener != nil {
		s.listener.Stop()
	}
	_ = s.conn.Close()

	s.metrics.mu.Lock()
	s.log.Info("session closed",
		zap.Int("userTurns", s.metrics.userTurns),
		zap.Int("assistantTurns", s.metrics.assistantTurns),
		zap.Int("bargeIns", s.metrics.bargeIns))
	s.metrics.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s.ID)
	}
}

// speechAdapter narrows *speak.Agent to the controller surface the
// orchestrator needs, dropping the utterance handle.
type speechAdapter struct {
	*speak.Agent
}

func (s speechAdapter) Speak(ctx context.Context, text string) error {
	_, err := s.Agent.Speak(ctx, text)
	return err
}

// wire builds the coaching loop around a session. Called by the manager once
// the socket is up.
func (s *Session) wire(d Deps) {
	s.conv = conversation.NewManager()
	classifier := intent.NewClassifier(d.Scorer, s.log)

	var synth speak.Synthesizer
	if d.NewSynthesizer != nil {
		synth = d.NewSynthesizer(s)
	}
	s.speaker = speak.NewAgent(synth, d.Speak, speak.Callbacks{
		OnStart: func(text string) {
			s.mu.Lock()
			s.streamID = uuid.NewString()
			s.mu.Unlock()
			s.metrics.inc(&s.metrics.assistantTurns)
		},
		OnComplete: func(text string) {
			s.orch.SpeechCompleted(text)
		},
	}, s.log)

	s.orch = coach.New(d.Coach, coach.Deps{
		Conversation: s.conv,
		Classifier:   classifier,
		Speech:       speechAdapter{s.speaker},
		Canvas:       s,
		Provider:     d.Provider,
		Log:          s.log,
		Pointer: func(pos *intervention.LaserPosition) {
			s.send(serverMessage{Type: msgLaser, Position: pos})
		},
		Annotator: func(a intervention.Annotation) {
			ann := a
			s.send(serverMessage{Type: msgAnnotation, Annotation: &ann})
		},
	})

	var rec listen.Recognizer
	if d.NewRecognizer != nil {
		rec = d.NewRecognizer()
	}
	if ingest, ok := rec.(AudioIngest); ok {
		s.ingest = ingest
	}
	s.listener = listen.NewAgent(rec, listen.Callbacks{
		OnTranscription: func(text string) {
			s.metrics.inc(&s.metrics.userTurns)
			s.send(serverMessage{Type: msgFinalTranscript, Transcript: text})
			s.orch.HandleTranscript(context.Background(), text)
		},
		OnPartial: func(text string) {
			s.send(serverMessage{Type: msgPartialTranscript, Transcript: text})
		},
		OnVoiceStart: func() {
			if s.speaker.IsSpeaking() && !s.speaker.IsPaused() {
				s.metrics.inc(&s.metrics.bargeIns)
			}
			s.orch.HandleVoiceStart()
		},
		OnVoiceEnd: func() {
			s.orch.HandleVoiceEnd()
		},
		OnError: func(err error) {
			s.log.Warn("speech input error", zap.Error(err))
			s.send(serverMessage{Type: msgError, Message: err.Error()})
		},
	}, s.log)
}
