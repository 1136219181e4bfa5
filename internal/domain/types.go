package domain

import (
	"sort"
	"strings"
)

// State is the interaction state shown to onlookers.
type State string

const (
	StateIdle         State = "Idle"
	StateListening    State = "Listening"
	StateProcessing   State = "Processing"
	StateTranscribing State = "Transcribing"
	StateThinking     State = "Thinking"
	StateTalking      State = "Talking"
	StateOffline      State = "Offline"
)

// Label returns the display text for the state. Stages that run a model call
// carry a trailing ellipsis.
func (s State) Label() string {
	switch s {
	case StateTranscribing, StateThinking:
		return string(s) + "..."
	default:
		return string(s)
	}
}

// ImageLabel returns the character image key used while in this state, or ""
// when the state has no dedicated image.
func (s State) ImageLabel() string {
	switch s {
	case StateListening, StateThinking, StateTalking:
		return strings.ToLower(string(s))
	default:
		return ""
	}
}

// NeutralEmotion is the emotion every character starts with.
const NeutralEmotion = "neutral"

var transientLabels = map[string]struct{}{
	"talking":   {},
	"listening": {},
	"thinking":  {},
}

// IsTransientLabel reports whether key names a state image rather than an emotion.
func IsTransientLabel(key string) bool {
	_, ok := transientLabels[key]
	return ok
}

// Character is an immutable character definition.
type Character struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Voice        string            `json:"voice" yaml:"voice"`
	Images       map[string]string `json:"images" yaml:"images"`
	Instructions string            `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// HasImage reports whether the character defines an image for key.
func (c Character) HasImage(key string) bool {
	_, ok := c.Images[key]
	return ok
}

// Emotions returns the sorted emotion vocabulary: image keys minus the
// transient state labels.
func (c Character) Emotions() []string {
	out := make([]string, 0, len(c.Images))
	for k := range c.Images {
		if IsTransientLabel(k) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Segment is one transcript fragment delivered by the live feed.
type Segment struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Completed bool    `json:"completed"`
}

// Transcription is the result of transcribing one audio artifact.
type Transcription struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// Reply is the structured character response.
type Reply struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion,omitempty"`
}

// Exchange is one completed user/character turn kept as conversation context.
type Exchange struct {
	User      string
	Assistant string
}

// Prompt is one request to the language model collaborator.
type Prompt struct {
	System     string
	User       string
	History    []Exchange
	StrictJSON bool
}
