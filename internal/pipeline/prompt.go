package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/interaction"
)

// FallbackReply is spoken when the model call fails or its reply cannot be parsed.
const FallbackReply = "I'm sorry, something went wrong."

const fallbackSystemPrompt = "You are a helpful AI."

var ErrMalformedReply = errors.New("malformed model reply")

// SystemPrompt builds the character prompt: its name, the emotions it can show
// and any extra instructions from its definition.
func SystemPrompt(p interaction.Persona, ok bool) string {
	if !ok {
		return fallbackSystemPrompt
	}
	name := p.Character.Name
	if name == "" {
		name = "AI"
	}
	emotions := p.Character.Emotions()
	quoted := make([]string, len(emotions))
	for i, e := range emotions {
		quoted[i] = "'" + e + "'"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful, expressive AI character named %s. ", name)
	b.WriteString("Always answer with a single JSON object with the keys 'text' (what you say out loud) and, optionally, 'emotion'. ")
	fmt.Fprintf(&b, "Valid emotions are: [%s].\n", strings.Join(quoted, ", "))
	b.WriteString("Example response:\n")
	b.WriteString(`{"text": "Hello! How can I help you today?", "emotion": "happy"}`)
	if instr := strings.TrimSpace(p.Character.Instructions); instr != "" {
		b.WriteString("\n\nIMPORTANT INSTRUCTIONS:\n")
		b.WriteString(instr)
	}
	return b.String()
}

// ParseReply decodes a strict JSON reply. Markdown code fences around the
// object are tolerated. A reply without text is malformed.
func ParseReply(raw string) (domain.Reply, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var body struct {
		Text    string `json:"text"`
		Emotion any    `json:"emotion"`
	}
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return domain.Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return domain.Reply{}, fmt.Errorf("%w: empty text", ErrMalformedReply)
	}
	r := domain.Reply{Text: text}
	if e, ok := body.Emotion.(string); ok {
		r.Emotion = strings.ToLower(strings.TrimSpace(e))
	}
	return r, nil
}
