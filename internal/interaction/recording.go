package interaction

import "github.com/chadiek/improv/internal/domain"

// BeginRecording starts a push-to-talk session. It only succeeds from Idle
// with no session already open; otherwise it returns false and changes nothing.
func (m *Machine) BeginRecording() bool {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	if m.recording || m.state != domain.StateIdle {
		m.mu.Unlock()
		return false
	}
	fx, err := m.transitionLocked(domain.StateListening)
	if err != nil {
		m.mu.Unlock()
		return false
	}
	m.recording = true
	m.frames = nil
	m.mu.Unlock()

	m.apply(fx)
	return true
}

// AppendFrame adds one PCM block to the open session. It is safe to call from
// the audio device callback: it copies the block and only holds the state lock
// for the append. Frames arriving outside a session are dropped.
func (m *Machine) AppendFrame(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	m.mu.Lock()
	if m.recording {
		m.frames = append(m.frames, buf)
	}
	m.mu.Unlock()
}

// IsRecording reports whether a session is open.
func (m *Machine) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// EndRecording closes the open session and hands its frames to the caller.
// ok is false when no session was open. An empty session returns the state
// to Idle and yields no frames.
func (m *Machine) EndRecording() (frames [][]byte, ok bool) {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return nil, false
	}
	m.recording = false
	frames, m.frames = m.frames, nil

	var pending []effects
	// A character switch during the session may already have reset to Idle.
	if m.state == domain.StateListening {
		if fx, err := m.transitionLocked(domain.StateProcessing); err == nil {
			pending = append(pending, fx)
		}
	}
	if len(frames) == 0 {
		if fx, err := m.transitionLocked(domain.StateIdle); err == nil {
			pending = append(pending, fx)
		}
	}
	m.mu.Unlock()

	for _, fx := range pending {
		m.apply(fx)
	}
	return frames, true
}

// AbortRecording discards an open session without producing an artifact.
func (m *Machine) AbortRecording() {
	m.fx.Lock()
	defer m.fx.Unlock()

	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	m.recording = false
	m.frames = nil
	var fx effects
	var err error = ErrInvalidTransition
	if m.state == domain.StateListening {
		fx, err = m.transitionLocked(domain.StateIdle)
	}
	m.mu.Unlock()

	if err == nil {
		m.apply(fx)
	}
}
