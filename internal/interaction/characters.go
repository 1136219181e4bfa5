package interaction

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

// Persona is a consistent view of the active character taken under the state lock.
type Persona struct {
	Character domain.Character
	Emotion   string
}

// Active returns the active character and its current emotion. ok is false
// when no characters are loaded.
func (m *Machine) Active() (Persona, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.characters[m.active]
	if !ok {
		return Persona{}, false
	}
	return Persona{Character: c, Emotion: m.emotions[c.ID]}, true
}

// ApplyEmotion sets the active character's emotion when the character has an
// image for it. It reports whether the emotion changed.
func (m *Machine) ApplyEmotion(emotion string) bool {
	if emotion == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.characters[m.active]
	if !ok || !c.HasImage(emotion) {
		return false
	}
	if m.emotions[c.ID] == emotion {
		return false
	}
	m.emotions[c.ID] = emotion
	return true
}

// Roster returns the public character list and the active id.
func (m *Machine) Roster() domain.Roster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked()
}

func (m *Machine) rosterLocked() domain.Roster {
	r := domain.Roster{
		Available: make(map[string]domain.PublicCharacter, len(m.characters)),
		Current:   m.active,
	}
	for id, c := range m.characters {
		r.Available[id] = domain.PublicCharacter{Name: c.Name, Voice: c.Voice}
	}
	return r
}

// SwitchCharacter makes id the active character. Unknown or already active ids
// are rejected without any state change or broadcast. The previous emotion
// carries over when the new character has an image for it; otherwise the new
// character shows neutral. The state resets to Idle and the new roster is
// published.
func (m *Machine) SwitchCharacter(id string) error {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	next, ok := m.characters[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownCharacter, id)
	}
	if id == m.active {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyActive, id)
	}
	if m.state == domain.StateOffline {
		m.mu.Unlock()
		return fmt.Errorf("%w: offline", ErrInvalidTransition)
	}

	prev := m.active
	emotion := m.emotions[prev]
	if emotion == "" || (emotion != domain.NeutralEmotion && !next.HasImage(emotion)) {
		emotion = domain.NeutralEmotion
	}
	m.emotions[id] = emotion
	m.active = id

	fx, err := m.transitionLocked(domain.StateIdle)
	if m.publisher != nil {
		m.publisher.Publish(domain.CharacterEvent(m.rosterLocked()))
	}
	m.mu.Unlock()

	m.logger.Info("character switched",
		zap.String("from", prev),
		zap.String("to", id),
		zap.String("emotion", emotion),
	)
	if err == nil {
		m.apply(fx)
	}
	return nil
}
