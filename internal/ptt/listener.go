// Package ptt turns terminal key presses into push-to-talk toggles.
package ptt

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/eiannone/keyboard"
	"go.uber.org/zap"
)

// KeySource delivers key presses until closed.
type KeySource interface {
	Keys() (<-chan keyboard.KeyEvent, error)
	Close() error
}

// Recorder is toggled by the push-to-talk key.
type Recorder interface {
	StartRecording() bool
	StopRecording() bool
	IsRecording() bool
}

// Terminal reads keys from the controlling terminal in raw mode.
type Terminal struct{}

func (Terminal) Keys() (<-chan keyboard.KeyEvent, error) { return keyboard.GetKeys(10) }
func (Terminal) Close() error                            { return keyboard.Close() }

// Trigger identifies the push-to-talk key: either a special key or a rune.
type Trigger struct {
	Key  keyboard.Key
	Rune rune
}

// ParseTrigger maps a config name such as "space", "enter" or "r" to a
// Trigger. Unknown names fall back to space.
func ParseTrigger(name string) Trigger {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "space":
		return Trigger{Key: keyboard.KeySpace}
	case "enter", "return":
		return Trigger{Key: keyboard.KeyEnter}
	case "tab":
		return Trigger{Key: keyboard.KeyTab}
	}
	r, size := utf8.DecodeRuneInString(name)
	if size == len(name) && r != utf8.RuneError {
		return Trigger{Rune: r}
	}
	return Trigger{Key: keyboard.KeySpace}
}

func (t Trigger) matches(ev keyboard.KeyEvent) bool {
	if t.Rune != 0 {
		return ev.Key == 0 && ev.Rune == t.Rune
	}
	return ev.Key == t.Key
}

// Listener toggles recording on every press of its trigger. Terminals report
// no key releases, so a second press stops the recording.
type Listener struct {
	keys     KeySource
	trigger  Trigger
	recorder Recorder
	onQuit   func()
	logger   *zap.Logger
}

func NewListener(keys KeySource, trigger Trigger, recorder Recorder, onQuit func(), logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onQuit == nil {
		onQuit = func() {}
	}
	return &Listener{
		keys:     keys,
		trigger:  trigger,
		recorder: recorder,
		onQuit:   onQuit,
		logger:   logger.With(zap.String("component", "ptt")),
	}
}

// Run reads keys until ctx is done, the source closes or a quit key is pressed.
func (l *Listener) Run(ctx context.Context) error {
	events, err := l.keys.Keys()
	if err != nil {
		return err
	}
	defer func() {
		if err := l.keys.Close(); err != nil {
			l.logger.Warn("closing key source failed", zap.Error(err))
		}
	}()
	l.logger.Info("push-to-talk ready")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				l.logger.Warn("key read failed", zap.Error(ev.Err))
				continue
			}
			switch {
			case ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC:
				l.logger.Info("quit requested")
				l.onQuit()
				return nil
			case l.trigger.matches(ev):
				l.toggle()
			}
		}
	}
}

func (l *Listener) toggle() {
	if l.recorder.IsRecording() {
		l.recorder.StopRecording()
		return
	}
	l.recorder.StartRecording()
}
