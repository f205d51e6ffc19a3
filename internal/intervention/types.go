package intervention

import (
	"github.com/beeler-devs/Mimir-sub001/internal/conversation"
)

// Type says which channels an intervention uses.
type Type string

const (
	TypeVoice      Type = "voice"
	TypeAnnotation Type = "annotation"
	TypeBoth       Type = "both"
)

// LaserStyle is how the pointer overlay renders.
type LaserStyle string

const (
	LaserPoint  LaserStyle = "point"
	LaserCircle LaserStyle = "circle"
	LaserArrow  LaserStyle = "arrow"
)

// AnnotationType is the flavor of an on-canvas note.
type AnnotationType string

const (
	AnnotationHint          AnnotationType = "hint"
	AnnotationExplanation   AnnotationType = "explanation"
	AnnotationEncouragement AnnotationType = "encouragement"
)

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LaserPosition places the pointer overlay.
type LaserPosition struct {
	X     float64    `json:"x"`
	Y     float64    `json:"y"`
	Style LaserStyle `json:"style"`
}

// Annotation is a note the coach writes onto the canvas.
type Annotation struct {
	Text     string         `json:"text"`
	Position Point          `json:"position"`
	Type     AnnotationType `json:"type"`
}

// Intervention is the sanitized shape of one provider response. It is built
// per request/response cycle and consumed immediately.
type Intervention struct {
	Type       Type           `json:"type"`
	VoiceText  string         `json:"voiceText,omitempty"`
	Laser      *LaserPosition `json:"laserPosition,omitempty"`
	Annotation *Annotation    `json:"annotation,omitempty"`
}

// Trigger labels why an intervention was requested.
type Trigger string

const (
	TriggerIdle        Trigger = "idle"
	TriggerHelpRequest Trigger = "help_request"
	TriggerInterrupt   Trigger = "interrupt"
)

// CanvasElement is the flattened description of one visible canvas item.
type CanvasElement struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Text   string  `json:"text,omitempty"`
}

// Context is the conversation side of a provider request.
type Context struct {
	RecentHistory      []conversation.Turn        `json:"recentHistory"`
	CurrentAIUtterance *string                    `json:"currentAIUtterance"`
	WasInterrupted     bool                       `json:"wasInterrupted"`
	CanvasContext      conversation.CanvasContext `json:"canvasContext"`
	Trigger            Trigger                    `json:"trigger"`
	UserSpeech         string                     `json:"userSpeech,omitempty"`
}

// Request is the full payload POSTed to the intervention provider.
type Request struct {
	Screenshot          string          `json:"screenshot"`
	Elements            []CanvasElement `json:"elements"`
	ConversationContext Context         `json:"conversationContext"`
}
