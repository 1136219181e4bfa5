package domain

// EventType identifies a server to client message.
type EventType string

const (
	EventStateUpdate     EventType = "state_update"
	EventCharacterUpdate EventType = "character_update"
)

// Event is a message fanned out to every connected client.
type Event struct {
	Type      EventType `json:"type"`
	State     string    `json:"state,omitempty"`
	Character *Roster   `json:"character,omitempty"`
}

// StateEvent builds a state_update event.
func StateEvent(s State) Event {
	return Event{Type: EventStateUpdate, State: s.Label()}
}

// CharacterEvent builds a character_update event.
func CharacterEvent(r Roster) Event {
	return Event{Type: EventCharacterUpdate, Character: &r}
}

// PublicCharacter is the client-facing subset of a character definition.
type PublicCharacter struct {
	Name  string `json:"name"`
	Voice string `json:"voice"`
}

// Roster lists the loaded characters and the active one.
type Roster struct {
	Available map[string]PublicCharacter `json:"available"`
	Current   string                     `json:"current"`
}

// Control actions accepted on the network channel.
const (
	ActionStartRecording  = "start_recording"
	ActionStopRecording   = "stop_recording"
	ActionSwitchCharacter = "switch_character"
)

// ControlMessage is a client to server message.
type ControlMessage struct {
	Action    string `json:"action"`
	Character string `json:"character,omitempty"`
}
