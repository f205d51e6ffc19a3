package conversation

import "time"

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// Turn is one completed dialogue turn. Immutable once appended to history.
type Turn struct {
	Speaker        Speaker   `json:"speaker"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsInterruption bool      `json:"isInterruption,omitempty"`
}

// Utterance tracks the AI's currently in-flight spoken turn. At most one
// utterance is open (CompletedAt zero) at any time; completing it folds it
// into the turn history.
type Utterance struct {
	Text                    string
	StartedAt               time.Time
	CompletedAt             time.Time
	WasInterrupted          bool
	ProgressWhenInterrupted float64
}

// Open reports whether the utterance has not yet completed.
func (u *Utterance) Open() bool { return u.CompletedAt.IsZero() }

// CanvasContext is the informational snapshot of what the student is working
// on. It is attached to the conversation, not owned by any single turn.
type CanvasContext struct {
	LastSnapshot     string   `json:"lastSnapshot,omitempty"`
	CurrentTopic     string   `json:"currentTopic,omitempty"`
	DetectedConcepts []string `json:"detectedConcepts"`
}

// CanvasUpdate is a partial update to the canvas context; nil fields are left
// untouched.
type CanvasUpdate struct {
	Snapshot *string
	Topic    *string
	Concepts []string
}

// Summary is the exact context payload handed to the intervention provider.
type Summary struct {
	RecentHistory      []Turn        `json:"recentHistory"`
	CurrentAIUtterance *string       `json:"currentAIUtterance"`
	WasInterrupted     bool          `json:"wasInterrupted"`
	CanvasContext      CanvasContext `json:"canvasContext"`
}
