package gateway

import (
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
)

// serverMessage is the envelope for everything the gateway sends to the
// browser. SessionID is stamped on every message.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`

	// partial_transcript / final_transcript
	Transcript string `json:"transcript,omitempty"`

	// audio_chunk: PCM bytes as hex, tagged with the utterance stream.
	Audio    string `json:"audio,omitempty"`
	StreamID string `json:"streamId,omitempty"`

	// laser: null position clears the overlay.
	Position *intervention.LaserPosition `json:"position,omitempty"`

	// annotation
	Annotation *intervention.Annotation `json:"annotation,omitempty"`

	// screenshot_request
	RequestID string `json:"requestId,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Server message types.
const (
	msgPartialTranscript = "partial_transcript"
	msgFinalTranscript   = "final_transcript"
	msgAudioChunk        = "audio_chunk"
	msgBargeIn           = "barge_in"
	msgLaser             = "laser"
	msgAnnotation        = "annotation"
	msgScreenshotRequest = "screenshot_request"
	msgError             = "error"
)

// clientMessage is any JSON text frame from the browser. Binary frames are
// microphone PCM16 and bypass this envelope entirely.
type clientMessage struct {
	Type string `json:"type"`

	// hello
	UserID     string `json:"userId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`

	// canvas_elements
	Elements []intervention.CanvasElement `json:"elements,omitempty"`

	// screenshot_result
	RequestID string `json:"requestId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Client message types.
const (
	msgHello            = "hello"
	msgCanvasElements   = "canvas_elements"
	msgScreenshotResult = "screenshot_result"
)
