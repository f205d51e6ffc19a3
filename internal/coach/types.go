package coach

import (
	"context"
	"time"

	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
)

// Canvas is the drawing-surface collaborator the orchestrator watches. The
// renderer lives on the other side of the session transport; Screenshot is a
// round trip and may fail or time out.
type Canvas interface {
	Screenshot(ctx context.Context) (string, error)
	Elements() []intervention.CanvasElement
}

// Speech is the output-side controller surface the orchestrator drives.
type Speech interface {
	Speak(ctx context.Context, text string) error
	Pause()
	Resume()
	Cancel()
	IsSpeaking() bool
	IsPaused() bool
	Progress() float64
}

// Pointer moves the laser overlay; nil clears it.
type Pointer func(pos *intervention.LaserPosition)

// Annotator writes a note onto the canvas.
type Annotator func(a intervention.Annotation)

const (
	defaultCanvasDebounce          = 3 * time.Second
	defaultIdleTimeout             = 15 * time.Second
	defaultMinInterventionInterval = 30 * time.Second
	defaultRequestTimeout          = 30 * time.Second

	// Laser hold: per sentence of accompanying voice text, or a flat default
	// when the intervention is silent.
	laserHoldPerSentence = 3 * time.Second
	laserHoldDefault     = 5 * time.Second
)

// Config tunes the orchestrator timers.
type Config struct {
	CanvasDebounce          time.Duration
	IdleTimeout             time.Duration
	MinInterventionInterval time.Duration
	RequestTimeout          time.Duration
}

func (c *Config) fill() {
	if c.CanvasDebounce <= 0 {
		c.CanvasDebounce = defaultCanvasDebounce
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MinInterventionInterval <= 0 {
		c.MinInterventionInterval = defaultMinInterventionInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}
