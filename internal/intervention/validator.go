package intervention

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Validation of untrusted provider output. Hard errors invalidate the whole
// response; soft problems drop or default the offending field and are
// reported as warnings.

// fallbackVoiceText is spoken when the provider returns something unusable,
// so a triggered request never silently vanishes on the student.
const fallbackVoiceText = "Sorry, I'm having trouble putting that together. " +
	"Could you tell me again what you're working on?"

// Fallback returns the safe intervention used when validation hard-fails.
func Fallback() *Intervention {
	return &Intervention{Type: TypeVoice, VoiceText: fallbackVoiceText}
}

type rawIntervention struct {
	Type       string          `json:"type"`
	VoiceText  *string         `json:"voiceText"`
	Laser      json.RawMessage `json:"laserPosition"`
	Annotation json.RawMessage `json:"annotation"`
}

// Parse validates and sanitizes a raw provider response. The returned
// warnings describe soft fixes (dropped laser, defaulted enums); a non-nil
// error means the response is unusable.
func Parse(raw []byte) (*Intervention, []string, error) {
	var r rawIntervention
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, nil, fmt.Errorf("intervention: malformed json: %w", err)
	}

	typ := Type(r.Type)
	switch typ {
	case TypeVoice, TypeAnnotation, TypeBoth:
	default:
		return nil, nil, fmt.Errorf("intervention: invalid type %q", r.Type)
	}

	var warnings []string
	out := &Intervention{Type: typ}

	needsVoice := typ == TypeVoice || typ == TypeBoth
	if needsVoice {
		if r.VoiceText == nil || strings.TrimSpace(*r.VoiceText) == "" {
			return nil, warnings, fmt.Errorf("intervention: type %q requires non-empty voiceText", typ)
		}
		out.VoiceText = strings.TrimSpace(*r.VoiceText)
	} else if r.VoiceText != nil && strings.TrimSpace(*r.VoiceText) != "" {
		// Extraneous but harmless; keep it so the coach can still narrate.
		out.VoiceText = strings.TrimSpace(*r.VoiceText)
	}

	if len(r.Laser) > 0 && string(r.Laser) != "null" {
		laser, warns := parseLaser(r.Laser)
		warnings = append(warnings, warns...)
		out.Laser = laser
	}

	needsAnnotation := typ == TypeAnnotation || typ == TypeBoth
	if len(r.Annotation) > 0 && string(r.Annotation) != "null" {
		ann, warns, err := parseAnnotation(r.Annotation, needsAnnotation)
		warnings = append(warnings, warns...)
		if err != nil {
			return nil, warnings, err
		}
		out.Annotation = ann
	} else if needsAnnotation {
		return nil, warnings, fmt.Errorf("intervention: type %q requires an annotation", typ)
	}

	return out, warnings, nil
}

// parseLaser never hard-fails: an unusable laser position is dropped and the
// rest of the intervention proceeds.
func parseLaser(raw json.RawMessage) (*LaserPosition, []string) {
	var obj struct {
		X     *float64 `json:"x"`
		Y     *float64 `json:"y"`
		Style string   `json:"style"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, []string{fmt.Sprintf("laserPosition dropped: %v", err)}
	}
	if obj.X == nil || obj.Y == nil || !finite(*obj.X) || !finite(*obj.Y) {
		return nil, []string{"laserPosition dropped: x/y missing or not finite"}
	}

	var warnings []string
	style := LaserStyle(obj.Style)
	switch style {
	case LaserPoint, LaserCircle, LaserArrow:
	default:
		if obj.Style != "" {
			warnings = append(warnings, fmt.Sprintf("unknown laser style %q, defaulting to point", obj.Style))
		}
		style = LaserPoint
	}
	return &LaserPosition{X: *obj.X, Y: *obj.Y, Style: style}, warnings
}

// parseAnnotation hard-fails only when the intervention type requires the
// annotation; otherwise problems downgrade to a drop.
func parseAnnotation(raw json.RawMessage, required bool) (*Annotation, []string, error) {
	var obj struct {
		Text     string `json:"text"`
		Position struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		} `json:"position"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		if required {
			return nil, nil, fmt.Errorf("intervention: malformed annotation: %w", err)
		}
		return nil, []string{fmt.Sprintf("annotation dropped: %v", err)}, nil
	}

	text := strings.TrimSpace(obj.Text)
	bad := ""
	if text == "" {
		bad = "empty text"
	} else if obj.Position.X == nil || obj.Position.Y == nil || !finite(*obj.Position.X) || !finite(*obj.Position.Y) {
		bad = "position x/y missing or not finite"
	}
	if bad != "" {
		if required {
			return nil, nil, fmt.Errorf("intervention: invalid annotation: %s", bad)
		}
		return nil, []string{"annotation dropped: " + bad}, nil
	}

	var warnings []string
	typ := AnnotationType(obj.Type)
	switch typ {
	case AnnotationHint, AnnotationExplanation, AnnotationEncouragement:
	default:
		if obj.Type != "" {
			warnings = append(warnings, fmt.Sprintf("unknown annotation type %q, defaulting to hint", obj.Type))
		}
		typ = AnnotationHint
	}
	return &Annotation{
		Text:     text,
		Position: Point{X: *obj.Position.X, Y: *obj.Position.Y},
		Type:     typ,
	}, warnings, nil
}

// SafeParse never fails: hard validation errors are logged and replaced with
// the fallback so the caller always has something actionable.
func SafeParse(raw []byte, log *zap.Logger) *Intervention {
	if log == nil {
		log = zap.NewNop()
	}
	iv, warnings, err := Parse(raw)
	for _, w := range warnings {
		log.Warn("intervention validation", zap.String("warning", w))
	}
	if err != nil {
		log.Warn("intervention rejected, using fallback", zap.Error(err))
		return Fallback()
	}
	return iv
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
