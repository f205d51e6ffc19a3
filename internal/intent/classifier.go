package intent

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Reason records which stage of classification produced a help decision.
type Reason string

const (
	ReasonKeyword  Reason = "keyword"
	ReasonSemantic Reason = "semantic"
	ReasonNone     Reason = "none"
)

// Detection is the outcome of one help-request classification.
type Detection struct {
	NeedsHelp       bool
	Confidence      float64
	Reason          Reason
	MatchedKeywords []string
}

// Kind is the coarse intent of an utterance.
type Kind string

const (
	KindHelp        Kind = "help"
	KindQuestion    Kind = "question"
	KindStatement   Kind = "statement"
	KindAffirmation Kind = "affirmation"
)

// Intent is the result of ExtractIntent: the kind plus a best-effort subject.
type Intent struct {
	Kind    Kind
	Subject string
}

// SemanticScorer is the external embedding-similarity capability used as the
// slow path when keyword classification is inconclusive.
type SemanticScorer interface {
	Score(ctx context.Context, text string) (needsHelp bool, confidence float64, err error)
}

// Stage-1 confidences and decision thresholds.
const (
	keywordConfidence  = 0.95
	questionConfidence = 0.7
	struggleConfidence = 0.8

	// fastPathThreshold short-circuits stage 2: anything this confident is
	// good enough and not worth a network round trip.
	fastPathThreshold = 0.6
	// semanticThreshold is the acceptance bar for the similarity capability.
	semanticThreshold = 0.7
)

var helpKeywords = []string{
	"help", "stuck", "confused", "don't understand", "dont understand",
	"don't get it", "dont get it", "hint", "lost", "explain", "clarify",
	"what is", "what does", "how do i", "how does", "why does", "why is",
}

var strugglePhrases = []string{
	"i can't", "i cant", "doesn't work", "doesnt work", "not working",
	"error", "mistake", "wrong", "frustrat", "no idea", "makes no sense",
}

var questionStart = regexp.MustCompile(`^(what|how|why|when|where|who|which|can you|could you|would you|is it|do i|does)\b`)

var affirmations = []string{
	"ok", "okay", "got it", "yes", "yeah", "yep", "yup", "right", "sure",
	"i see", "makes sense", "that makes sense", "understood", "gotcha",
	"mhm", "uh huh", "continue", "go on", "keep going", "thanks", "thank you",
}

// stemTopics is the fixed subject vocabulary used for best-effort subject
// extraction.
var stemTopics = []string{
	"derivative", "integral", "limit", "tangent", "slope", "calculus",
	"algebra", "equation", "matrix", "vector", "fraction", "polynomial",
	"function", "geometry", "triangle", "angle", "probability", "statistics",
	"velocity", "acceleration", "force", "energy", "momentum", "circuit",
	"molecule", "atom", "reaction", "recursion", "algorithm", "loop",
	"variable", "pointer", "graph",
}

var subjectPattern = regexp.MustCompile(`^(?:what is|what's|what are|how do(?:es)? (?:a |an |the )?|why is|why does)\s+(?:a |an |the )?([a-z][a-z0-9' -]{1,40})`)

// Classifier decides whether an utterance asks for help and what the student
// means by it. Stage 1 is pure keyword/pattern matching; stage 2 delegates to
// a semantic scorer and fails closed.
type Classifier struct {
	scorer SemanticScorer
	log    *zap.Logger
}

// NewClassifier builds a classifier. The scorer may be nil, in which case
// stage 2 is skipped and inconclusive utterances are treated as not needing
// help.
func NewClassifier(scorer SemanticScorer, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{scorer: scorer, log: log}
}

// DetectHelpRequest classifies one utterance. It never returns an error: a
// failing semantic scorer is treated as "no help needed".
func (c *Classifier) DetectHelpRequest(ctx context.Context, text string) Detection {
	d := classifyKeyword(text)
	if d.Confidence >= fastPathThreshold {
		return d
	}

	if c.scorer == nil {
		return Detection{Reason: ReasonNone}
	}
	needsHelp, conf, err := c.scorer.Score(ctx, text)
	if err != nil {
		c.log.Debug("semantic help scoring failed, failing closed", zap.Error(err))
		return Detection{Reason: ReasonNone}
	}
	if needsHelp && conf >= semanticThreshold {
		return Detection{NeedsHelp: true, Confidence: conf, Reason: ReasonSemantic}
	}
	return Detection{Confidence: conf, Reason: ReasonNone}
}

// classifyKeyword is the synchronous fast path.
func classifyKeyword(text string) Detection {
	norm := normalize(text)
	if norm == "" {
		return Detection{Reason: ReasonNone}
	}

	var matched []string
	for _, kw := range helpKeywords {
		if strings.Contains(norm, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 {
		return Detection{NeedsHelp: true, Confidence: keywordConfidence, Reason: ReasonKeyword, MatchedKeywords: matched}
	}

	if questionStart.MatchString(norm) || strings.HasSuffix(strings.TrimSpace(text), "?") {
		return Detection{NeedsHelp: true, Confidence: questionConfidence, Reason: ReasonKeyword}
	}

	for _, p := range strugglePhrases {
		if strings.Contains(norm, p) {
			matched = append(matched, p)
		}
	}
	if len(matched) > 0 {
		return Detection{NeedsHelp: true, Confidence: struggleConfidence, Reason: ReasonKeyword, MatchedKeywords: matched}
	}

	return Detection{Reason: ReasonNone}
}

// ExtractIntent is the always-synchronous coarse classifier. Affirmations are
// checked first so "ok got it" resumes paused speech instead of reading as a
// statement.
func (c *Classifier) ExtractIntent(text string) Intent {
	norm := normalize(text)
	if norm == "" {
		return Intent{Kind: KindStatement}
	}

	for _, a := range affirmations {
		if norm == a || strings.HasPrefix(norm, a+" ") {
			return Intent{Kind: KindAffirmation}
		}
	}

	subject := extractSubject(norm)

	d := classifyKeyword(text)
	if d.Reason == ReasonKeyword && d.Confidence >= struggleConfidence {
		return Intent{Kind: KindHelp, Subject: subject}
	}
	if questionStart.MatchString(norm) || strings.HasSuffix(strings.TrimSpace(text), "?") {
		return Intent{Kind: KindQuestion, Subject: subject}
	}
	return Intent{Kind: KindStatement, Subject: subject}
}

// extractSubject is best-effort: a known STEM topic word wins, else the
// object of a question-word phrase, else empty.
func extractSubject(norm string) string {
	for _, topic := range stemTopics {
		if containsWord(norm, topic) {
			return topic
		}
	}
	if m := subjectPattern.FindStringSubmatch(norm); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), "?.!")
	}
	return ""
}

func containsWord(norm, word string) bool {
	idx := strings.Index(norm, word)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(norm[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(norm) || !isWordChar(norm[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(norm[idx+1:], word)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
