// Package interaction owns the shared interaction state: the current state,
// the push-to-talk recording session and the character registry. Every other
// component reads and mutates it through the synchronized methods below.
package interaction

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownCharacter  = errors.New("unknown character")
	ErrAlreadyActive     = errors.New("character already active")
)

// Publisher receives every event produced by a state change. Publish must not block.
type Publisher interface {
	Publish(e domain.Event)
}

// Display mirrors state to the polling renderer.
type Display interface {
	WriteState(label string) error
	ShowImage(path string) error
}

// Observer is notified of every applied transition.
type Observer interface {
	ObserveTransition(to domain.State)
}

// allowed lists the forward edges of the state graph. Any state except
// Offline may also return to Idle.
var allowed = map[domain.State][]domain.State{
	domain.StateIdle:         {domain.StateListening, domain.StateTranscribing, domain.StateThinking, domain.StateOffline},
	domain.StateListening:    {domain.StateProcessing},
	domain.StateProcessing:   {domain.StateTranscribing},
	domain.StateTranscribing: {domain.StateThinking},
	domain.StateThinking:     {domain.StateTalking},
}

func canTransition(from, to domain.State) bool {
	if from == domain.StateOffline {
		return false
	}
	if to == domain.StateIdle {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine is the single authoritative owner of interaction state.
type Machine struct {
	// fx serializes the post-lock side effects so they land in transition order.
	fx sync.Mutex

	mu        sync.Mutex
	state     domain.State
	recording bool
	frames    [][]byte

	characters map[string]domain.Character
	emotions   map[string]string
	active     string

	publisher Publisher
	display   Display
	observer  Observer
	logger    *zap.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// New builds a Machine in the Idle state. The first character id in sorted
// order becomes active.
func New(characters []domain.Character, publisher Publisher, display Display, logger *zap.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		state:      domain.StateIdle,
		characters: make(map[string]domain.Character, len(characters)),
		emotions:   make(map[string]string, len(characters)),
		publisher:  publisher,
		display:    display,
		logger:     logger.With(zap.String("component", "interaction")),
	}
	ids := make([]string, 0, len(characters))
	for _, c := range characters {
		m.characters[c.ID] = c
		m.emotions[c.ID] = domain.NeutralEmotion
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		m.active = ids[0]
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// effects is the I/O a transition performs after the state lock is released.
type effects struct {
	from, to  domain.State
	image     string
	imageKey  string
	character string
}

// State returns the current state.
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state. A transition the state graph does not
// allow is a no-op reported as ErrInvalidTransition.
func (m *Machine) Transition(to domain.State) error {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	fx, err := m.transitionLocked(to)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.apply(fx)
	return nil
}

// transitionLocked validates and sets the state, publishes the change and
// resolves the image to display. Callers hold m.mu and m.fx.
func (m *Machine) transitionLocked(to domain.State) (effects, error) {
	from := m.state
	if !canTransition(from, to) {
		return effects{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	if m.publisher != nil {
		m.publisher.Publish(domain.StateEvent(to))
	}

	fx := effects{from: from, to: to}
	c, ok := m.characters[m.active]
	if !ok {
		return fx, nil
	}
	fx.character = c.ID
	switch {
	case to.ImageLabel() != "":
		fx.imageKey = to.ImageLabel()
	case to == domain.StateIdle:
		fx.imageKey = m.emotions[c.ID]
	}
	if fx.imageKey != "" {
		fx.image = c.Images[fx.imageKey]
	}
	return fx, nil
}

func (m *Machine) apply(fx effects) {
	m.logger.Info("state change",
		zap.String("from", string(fx.from)),
		zap.String("to", string(fx.to)),
	)
	if m.observer != nil {
		m.observer.ObserveTransition(fx.to)
	}
	if m.display == nil {
		return
	}
	if err := m.display.WriteState(fx.to.Label()); err != nil {
		m.logger.Warn("write state label failed", zap.Error(err))
	}
	if fx.imageKey == "" {
		return
	}
	if fx.image == "" {
		m.logger.Warn("no image for state",
			zap.String("character", fx.character),
			zap.String("key", fx.imageKey),
		)
		return
	}
	if err := m.display.ShowImage(fx.image); err != nil {
		m.logger.Warn("show image failed",
			zap.String("key", fx.imageKey),
			zap.String("path", fx.image),
			zap.Error(err),
		)
	}
}

// Snapshot returns the event pair a newly connected client receives: the
// current state followed by the character roster.
func (m *Machine) Snapshot() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() []domain.Event {
	return []domain.Event{
		domain.StateEvent(m.state),
		domain.CharacterEvent(m.rosterLocked()),
	}
}

// Subscribe calls fn with the current snapshot while holding the state lock,
// so no concurrently published event can be ordered before the snapshot. fn
// must not block.
func (m *Machine) Subscribe(fn func(snapshot []domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.snapshotLocked())
}

// Shutdown discards any in-progress recording and moves to Offline through Idle.
func (m *Machine) Shutdown() {
	m.AbortRecording()
	if err := m.Transition(domain.StateIdle); err != nil {
		m.logger.Debug("shutdown idle transition skipped", zap.Error(err))
	}
	if err := m.Transition(domain.StateOffline); err != nil {
		m.logger.Warn("offline transition failed", zap.Error(err))
	}
}
