package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"HTTP_ADDRESS", "DATA_DIR", "CHARACTERS_DIR", "PAUSE_THRESHOLD", "ROLLING_MODE", "TTS_BACKEND", "HISTORY_TURNS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, ":8000", cfg.HTTPAddress)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "characters"), cfg.CharactersDir)
	assert.Equal(t, 2*time.Second, cfg.PauseThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.TurnPollInterval)
	assert.Equal(t, RollingLines, cfg.RollingMode)
	assert.Equal(t, 5, cfg.RollingLines)
	assert.Equal(t, 8, cfg.HistoryTurns)
	assert.Equal(t, BackendHTTP, cfg.TTSBackend)
	assert.Equal(t, "http://127.0.0.1:8001", cfg.AIAPIURL)
	assert.Equal(t, "improv:events", cfg.RedisChannel)
	assert.Equal(t, "space", cfg.PTTKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_DIR", "/srv/improv")
	t.Setenv("CHARACTERS_DIR", "")
	t.Setenv("PAUSE_THRESHOLD", "1.5")
	t.Setenv("ROLLING_MODE", "Seconds")
	t.Setenv("ROLLING_SECONDS", "45s")
	t.Setenv("TTS_BACKEND", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "")

	cfg := Load()
	assert.Equal(t, "/srv/improv/characters", cfg.CharactersDir)
	assert.Equal(t, 1500*time.Millisecond, cfg.PauseThreshold)
	assert.Equal(t, RollingSeconds, cfg.RollingMode)
	assert.Equal(t, 45*time.Second, cfg.RollingSeconds)
	assert.Equal(t, "/srv/improv/recordings", cfg.RecordingsDir())
	assert.Equal(t, "/srv/improv/speech", cfg.SpeechDir())
	assert.Contains(t, cfg.Warnings, "DEEPGRAM_API_KEY not set - speech synthesis will fail")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadValuesWarn(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PAUSE_THRESHOLD", "soon")
	t.Setenv("ROLLING_LINES", "many")

	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.PauseThreshold)
	assert.Equal(t, 5, cfg.RollingLines)
	assert.Len(t, cfg.Warnings, 2)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base := Load()

	bad := base
	bad.LLMBackend = "cerebras"
	assert.ErrorContains(t, bad.Validate(), "LLM_BACKEND")

	bad = base
	bad.RollingMode = "words"
	assert.Error(t, bad.Validate())

	bad = base
	bad.PauseThreshold = 0
	assert.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	l, err = NewLogger("", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
