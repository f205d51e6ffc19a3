package listen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DeepgramRecognizer streams PCM16LE 16kHz mono audio to Deepgram's realtime
// listen API and emits interim and final transcripts. One websocket
// connection per session; the Agent above supervises reconnects.
type DeepgramRecognizer struct {
	apiKey string
	model  string
	log    *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	results   chan Result
	errs      chan error
	audio     chan []byte
	stopCh    chan struct{}
}

// NewDeepgramRecognizer builds a recognizer. Model defaults to nova-2.
func NewDeepgramRecognizer(apiKey, model string, log *zap.Logger) *DeepgramRecognizer {
	if model == "" {
		model = "nova-2"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeepgramRecognizer{apiKey: apiKey, model: model, log: log}
}

// deepgram /v1/listen result payload, trimmed to what we read.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Start opens one streaming session.
func (d *DeepgramRecognizer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}
	if d.apiKey == "" {
		return &RecognizerError{Code: CodeAborted, Err: fmt.Errorf("deepgram api key missing")}
	}

	params := url.Values{}
	params.Set("model", d.model)
	params.Set("language", "en-US")
	params.Set("encoding", "linear16")
	params.Set("sample_rate", "16000")
	params.Set("channels", "1")
	params.Set("interim_results", "true")
	params.Set("punctuate", "true")
	params.Set("endpointing", "800")
	params.Set("vad_events", "true")

	wsURL := "wss://api.deepgram.com/v1/listen?" + params.Encode()
	headers := map[string][]string{"Authorization": {"Token " + d.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			d.log.Warn("deepgram connect failed", zap.Int("status", resp.StatusCode))
		}
		return &RecognizerError{Code: CodeNetwork, Err: fmt.Errorf("connect deepgram: %w", err)}
	}

	d.conn = conn
	d.connected = true
	d.results = make(chan Result, 100)
	d.errs = make(chan error, 10)
	d.audio = make(chan []byte, 1000)
	d.stopCh = make(chan struct{})

	go d.readLoop(d.conn, d.results, d.errs, d.stopCh)
	go d.writeLoop(d.conn, d.audio, d.stopCh)

	d.log.Info("deepgram listen session opened", zap.String("model", d.model))
	return nil
}

// Results implements Recognizer.
func (d *DeepgramRecognizer) Results() <-chan Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.results
}

// Errors implements Recognizer.
func (d *DeepgramRecognizer) Errors() <-chan error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.errs
}

// SendPCM16 queues one audio chunk for the current session. Chunks are
// dropped when no session is open or the buffer is full; audio is a lossy
// stream by nature.
func (d *DeepgramRecognizer) SendPCM16(pcm []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.connected {
		return fmt.Errorf("deepgram: not connected")
	}
	select {
	case d.audio <- pcm:
	default:
		d.log.Debug("deepgram audio buffer full, dropping chunk")
	}
	return nil
}

// Stop closes the current session.
func (d *DeepgramRecognizer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	close(d.stopCh)
	if d.conn != nil {
		_ = d.conn.WriteJSON(map[string]string{"type": "CloseStream"})
		_ = d.conn.Close()
	}
	d.connected = false
	d.conn = nil
	return nil
}

func (d *DeepgramRecognizer) readLoop(conn *websocket.Conn, results chan Result, errs chan error, stop <-chan struct{}) {
	defer close(results)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Deliberate shutdown, not an error.
			default:
				if isNetworkErr(err) {
					d.deliverErr(errs, &RecognizerError{Code: CodeNetwork, Err: err})
				} else {
					d.deliverErr(errs, &RecognizerError{Code: CodeAborted, Err: err})
				}
				d.markDisconnected()
			}
			return
		}
		d.processMessage(message, results)
	}
}

func (d *DeepgramRecognizer) processMessage(message []byte, results chan Result) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		d.log.Warn("deepgram: unparseable message", zap.Error(err))
		return
	}
	switch base.Type {
	case "Results":
		var res deepgramResult
		if err := json.Unmarshal(message, &res); err != nil {
			d.log.Warn("deepgram: bad results payload", zap.Error(err))
			return
		}
		if len(res.Channel.Alternatives) == 0 {
			return
		}
		text := res.Channel.Alternatives[0].Transcript
		if text == "" {
			return
		}
		select {
		case results <- Result{Text: text, Final: res.IsFinal}:
		default:
			d.log.Debug("deepgram result buffer full, dropping")
		}
	case "SpeechStarted", "UtteranceEnd", "Metadata":
		// Voice-activity state is derived from result cadence by the agent;
		// these are informational here.
		d.log.Debug("deepgram event", zap.String("type", base.Type))
	default:
		d.log.Debug("deepgram: unknown message type", zap.String("type", base.Type))
	}
}

func (d *DeepgramRecognizer) writeLoop(conn *websocket.Conn, audio <-chan []byte, stop <-chan struct{}) {
	keepalive := time.NewTicker(5 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-stop:
			return
		case <-keepalive.C:
			_ = conn.WriteJSON(map[string]string{"type": "KeepAlive"})
		case chunk, ok := <-audio:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				d.log.Warn("deepgram: audio write failed", zap.Error(err))
				return
			}
		}
	}
}

func (d *DeepgramRecognizer) deliverErr(errs chan error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func (d *DeepgramRecognizer) markDisconnected() {
	d.mu.Lock()
	if d.connected {
		d.connected = false
		d.conn = nil
	}
	d.mu.Unlock()
}

func isNetworkErr(err error) bool {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
