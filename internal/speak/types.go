package speak

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable means no speech-synthesis capability is configured. Fatal
// to the output agent only; the rest of the system keeps running silently.
var ErrUnavailable = errors.New("speak: speech synthesis unavailable")

// Synthesizer is the platform speech-synthesis capability. Speak returns a
// channel that closes when the platform finishes delivering audio for the
// text (or the utterance is cancelled); progress toward that point is the
// agent's estimate, not the platform's.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (<-chan struct{}, error)
	Pause()
	Resume()
	Cancel()
	Speaking() bool
}

// Sink consumes synthesized audio bytes and delivers them to the student.
// Reset drops anything queued, for instant interruption.
type Sink interface {
	WritePCM(pcm []byte)
	Reset()
}

// Voice describes one synthesis voice. Catalogs may populate asynchronously
// after startup, so early callers can see an empty list.
type Voice struct {
	ID      string
	Name    string
	Lang    string
	Default bool
}

// Catalog lists the voices currently known to the platform.
type Catalog interface {
	Voices() []Voice
}

// qualityHints are name substrings that mark higher-grade voices across
// vendors.
var qualityHints = []string{"aura", "nova", "premium", "enhanced", "natural"}

// PickVoice selects a voice best-effort: a quality English voice first, then
// any English voice, then the platform default, else the zero Voice.
func PickVoice(voices []Voice) Voice {
	for _, v := range voices {
		if !isEnglish(v) {
			continue
		}
		name := strings.ToLower(v.Name)
		for _, hint := range qualityHints {
			if strings.Contains(name, hint) {
				return v
			}
		}
	}
	for _, v := range voices {
		if isEnglish(v) {
			return v
		}
	}
	for _, v := range voices {
		if v.Default {
			return v
		}
	}
	return Voice{}
}

func isEnglish(v Voice) bool {
	return strings.HasPrefix(strings.ToLower(v.Lang), "en")
}

// Callbacks observe utterance lifecycle. They are suppressed after Close so
// a torn-down session never receives stale notifications.
type Callbacks struct {
	OnStart    func(text string)
	OnComplete func(text string)
}
