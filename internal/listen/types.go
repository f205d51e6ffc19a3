package listen

import (
	"context"
	"errors"
	"fmt"
)

// Result is one recognizer emission. Interim results carry the running
// transcript; final results mark a segment the recognizer will not revise.
type Result struct {
	Text  string
	Final bool
}

// Recognizer is the platform speech-recognition capability. A session emits
// results until it ends (Results closes); recognizers stop on their own
// periodically, and the Agent supervises restarts.
type Recognizer interface {
	// Start opens one recognition session. It returns once the session is
	// established; results then flow until the session ends.
	Start(ctx context.Context) error
	// Results delivers interim and final transcripts for the current
	// session. The channel closes when the session ends.
	Results() <-chan Result
	// Errors delivers recognition errors for the current session.
	Errors() <-chan error
	// Stop tears down the current session.
	Stop() error
}

// ErrUnavailable means no speech-recognition capability exists at all. This
// is fatal to the listening agent only; the rest of the system keeps running
// without voice input.
var ErrUnavailable = errors.New("listen: speech recognition unavailable")

// Error codes the agent treats specially, mirroring recognizer platforms.
const (
	CodeNetwork  = "network"
	CodeNoSpeech = "no-speech"
	CodeAborted  = "aborted"
)

// RecognizerError tags a recognition failure with a platform code.
type RecognizerError struct {
	Code string
	Err  error
}

func (e *RecognizerError) Error() string {
	return fmt.Sprintf("recognizer error (%s): %v", e.Code, e.Err)
}

func (e *RecognizerError) Unwrap() error { return e.Err }

// errCode extracts the platform code, empty when untagged.
func errCode(err error) string {
	var re *RecognizerError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Callbacks is the surface the agent exposes to its consumer.
type Callbacks struct {
	// OnTranscription fires for every finalized non-empty transcript,
	// independent of the voice-activity silence timer.
	OnTranscription func(text string)
	// OnPartial fires for interim results, for live display only.
	OnPartial func(text string)
	// OnVoiceStart fires once per speech episode, on the first result after
	// a silence period.
	OnVoiceStart func()
	// OnVoiceEnd fires when the silence timer elapses with no new results.
	OnVoiceEnd func()
	// OnError receives non-benign recognition failures, at most once per
	// distinct failure.
	OnError func(error)
}

// State of the restart supervisor.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateRestarting State = "restarting"
)
