package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chadiek/improv/internal/domain"
)

type fakeMic struct {
	mu      sync.Mutex
	onFrame func([]byte)
}

func (m *fakeMic) Start(fn func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
	return nil
}

func (m *fakeMic) Stop() error { return nil }

func (m *fakeMic) push(pcm []byte) {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()
	fn(pcm)
}

// gatedEngines holds /stt and /llm until their gates open and records every
// prompt the model receives.
type gatedEngines struct {
	sttGate chan struct{}
	llmGate chan struct{}

	mu      sync.Mutex
	prompts []string
}

func newGatedEngines(t *testing.T) (*gatedEngines, *httptest.Server) {
	t.Helper()
	g := &gatedEngines{sttGate: make(chan struct{}), llmGate: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/stt", func(w http.ResponseWriter, r *http.Request) {
		<-g.sttGate
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	})
	mux.HandleFunc("/llm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		g.prompts = append(g.prompts, req.Prompt)
		g.mu.Unlock()
		<-g.llmGate
		_ = json.NewEncoder(w).Encode(domain.Reply{Text: "hi there!", Emotion: "happy"})
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Cleanup(g.openAll)
	return g, srv
}

func (g *gatedEngines) openAll() {
	select {
	case <-g.sttGate:
	default:
		close(g.sttGate)
	}
	select {
	case <-g.llmGate:
	default:
		close(g.llmGate)
	}
}

func (g *gatedEngines) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func TestPushToTalkUtteranceAnsweredOnceWithLiveFeed(t *testing.T) {
	engines, srv := newGatedEngines(t)
	cfg := testConfig(t, srv.URL)
	cfg.PauseThreshold = 30 * time.Millisecond
	mic := &fakeMic{}

	a, err := New(context.Background(), cfg, Devices{Microphone: mic}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, a.capture)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		engines.openAll()
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("app did not shut down")
		}
	})

	heard := []domain.Segment{{Text: "hello", Start: 0, End: 1, Completed: true}}
	pause := func() {
		time.Sleep(3 * cfg.PauseThreshold)
		a.detector.Check()
	}

	// The live feed hears the words while push-to-talk is recording them.
	require.True(t, a.capture.StartRecording())
	mic.push(make([]byte, 640))
	a.detector.Apply(heard)
	require.True(t, a.capture.StopRecording())

	require.Eventually(t, func() bool {
		return a.Machine().State() == domain.StateTranscribing
	}, 5*time.Second, 5*time.Millisecond)
	a.detector.Apply(heard)
	pause()
	assert.Zero(t, a.Pipeline().Pending())

	close(engines.sttGate)
	require.Eventually(t, func() bool {
		return a.Machine().State() == domain.StateThinking
	}, 5*time.Second, 5*time.Millisecond)
	a.detector.Apply(heard)
	pause()
	assert.Zero(t, a.Pipeline().Pending())

	close(engines.llmGate)
	require.Eventually(t, func() bool {
		return a.Machine().State() == domain.StateIdle && a.Pipeline().Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, engines.seen())

	// Speech after the turn is a new live turn.
	a.detector.Apply([]domain.Segment{{Text: "how are you", Start: 5, End: 6, Completed: true}})
	pause()
	require.Eventually(t, func() bool {
		return len(engines.seen()) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello", "how are you"}, engines.seen())
}
