package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chadiek/improv/internal/config"
	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/sidechannel"
)

// engineServer stands in for the local engine server.
func engineServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/stt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	})
	mux.HandleFunc("/llm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(domain.Reply{Text: "you said " + req.Prompt, Emotion: "happy"})
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeCharacter(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfg := `{"name":"Robo","voice":"af_heart","images":{"neutral":"n.png","happy":"h.png"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644))
	for _, img := range []string{"n.png", "h.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, img), []byte("png"), 0o644))
	}
}

func testConfig(t *testing.T, engineURL string) config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg := config.Load()
	data := t.TempDir()
	cfg.HTTPAddress = "127.0.0.1:0"
	cfg.DataDir = data
	cfg.CharactersDir = filepath.Join(data, "characters")
	cfg.AIAPIURL = engineURL
	cfg.STTBackend, cfg.LLMBackend, cfg.TTSBackend = config.BackendHTTP, config.BackendHTTP, config.BackendHTTP
	cfg.WhisperLiveURL = ""
	cfg.RedisURL = ""
	cfg.SupabaseURL = ""
	cfg.OTLPEndpoint = ""
	writeCharacter(t, cfg.CharactersDir, "robot")
	return cfg
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestAppTextTurnAndShutdown(t *testing.T) {
	engines := engineServer(t)
	cfg := testConfig(t, engines.URL)
	mr := miniredis.RunT(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, Devices{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "Idle", readFile(t, cfg.DataDir, sidechannel.StateFile))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	_, err = a.Pipeline().EnqueueText("good morning")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(cfg.DataDir, sidechannel.ReplyFile))
		return err == nil && string(b) == "you said good morning"
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return a.Machine().State() == domain.StateIdle
	}, 5*time.Second, 20*time.Millisecond)

	persona, ok := a.Machine().Active()
	require.True(t, ok)
	assert.Equal(t, "happy", persona.Emotion)
	assert.Equal(t, "good morning", readFile(t, cfg.DataDir, sidechannel.UserTextFile))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}
	assert.Equal(t, domain.StateOffline, a.Machine().State())
	assert.Equal(t, "Offline", readFile(t, cfg.DataDir, sidechannel.StateFile))
	assert.Empty(t, readFile(t, cfg.DataDir, sidechannel.TranscriptFile))
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.TTSBackend = "carrier-pigeon"
	_, err := New(context.Background(), cfg, Devices{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAppWithoutCharacters(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.CharactersDir = filepath.Join(cfg.DataDir, "missing")

	a, err := New(context.Background(), cfg, Devices{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, ok := a.Machine().Active()
	assert.False(t, ok)
}

func TestAppFeedNeedsMicrophone(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.WhisperLiveURL = "ws://127.0.0.1:1"

	a, err := New(context.Background(), cfg, Devices{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, a.feed)
	assert.Nil(t, a.capture)
	assert.Nil(t, a.listener)
}
