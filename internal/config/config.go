package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine backends.
const (
	BackendHTTP     = "http"
	BackendOpenAI   = "openai"
	BackendDeepgram = "deepgram"
)

// Transcript rolling modes.
const (
	RollingLines   = "lines"
	RollingSeconds = "seconds"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	DataDir       string
	CharactersDir string

	PauseThreshold   time.Duration
	TurnPollInterval time.Duration
	RollingMode      string
	RollingLines     int
	RollingSeconds   time.Duration
	HistoryTurns     int

	STTBackend string
	LLMBackend string
	TTSBackend string
	AIAPIURL   string

	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
	OpenAISTTModel string
	OpenAITTSModel string
	DeepgramKey    string
	DeepgramModel  string

	WhisperLiveURL      string
	WhisperLiveLanguage string
	WhisperLiveModel    string

	RedisURL     string
	RedisChannel string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	OTLPEndpoint string

	PTTKey    string
	LogLevel  string
	LogFormat string

	// Set from the command line only.
	NoAudio bool
	NoFeed  bool

	// Warnings collects problems found while loading; none of them are fatal.
	Warnings []string
}

// Load reads .env (when present) and the environment and returns Config with
// sane defaults. Missing credentials and unparsable values become warnings.
func Load() Config {
	var cfg Config
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cfg.warn("loading .env file: %v", err)
	}

	cfg.HTTPAddress = getEnv("HTTP_ADDRESS", ":8000")
	cfg.DataDir = getEnv("DATA_DIR", "./data")
	cfg.CharactersDir = getEnv("CHARACTERS_DIR", filepath.Join(cfg.DataDir, "characters"))

	cfg.PauseThreshold = cfg.duration("PAUSE_THRESHOLD", 2*time.Second)
	cfg.TurnPollInterval = cfg.duration("TURN_POLL_INTERVAL", 100*time.Millisecond)
	cfg.RollingMode = strings.ToLower(getEnv("ROLLING_MODE", RollingLines))
	cfg.RollingLines = cfg.integer("ROLLING_LINES", 5)
	cfg.RollingSeconds = cfg.duration("ROLLING_SECONDS", 30*time.Second)
	cfg.HistoryTurns = cfg.integer("HISTORY_TURNS", 8)

	cfg.STTBackend = strings.ToLower(getEnv("STT_BACKEND", BackendHTTP))
	cfg.LLMBackend = strings.ToLower(getEnv("LLM_BACKEND", BackendHTTP))
	cfg.TTSBackend = strings.ToLower(getEnv("TTS_BACKEND", BackendHTTP))
	cfg.AIAPIURL = getEnv("AI_API_URL", "http://127.0.0.1:8001")

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	cfg.OpenAISTTModel = os.Getenv("OPENAI_STT_MODEL")
	cfg.OpenAITTSModel = os.Getenv("OPENAI_TTS_MODEL")
	cfg.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.DeepgramModel = os.Getenv("DEEPGRAM_MODEL")

	cfg.WhisperLiveURL = os.Getenv("WHISPERLIVE_URL")
	cfg.WhisperLiveLanguage = getEnv("WHISPERLIVE_LANGUAGE", "en")
	cfg.WhisperLiveModel = getEnv("WHISPERLIVE_MODEL", "small")

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisChannel = getEnv("REDIS_CHANNEL", "improv:events")

	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	cfg.SupabaseServiceRoleKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg.SupabaseBucket = getEnv("SUPABASE_BUCKET", "voice-recording")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.PTTKey = getEnv("PTT_KEY", "space")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")

	cfg.checkCredentials()
	return cfg
}

func (c *Config) checkCredentials() {
	usesOpenAI := c.STTBackend == BackendOpenAI || c.LLMBackend == BackendOpenAI || c.TTSBackend == BackendOpenAI
	if usesOpenAI && c.OpenAIKey == "" && c.OpenAIBaseURL == "" {
		c.warn("OPENAI_API_KEY not set - openai backends will fail")
	}
	if c.TTSBackend == BackendDeepgram && c.DeepgramKey == "" {
		c.warn("DEEPGRAM_API_KEY not set - speech synthesis will fail")
	}
	if c.SupabaseURL != "" && c.SupabaseServiceRoleKey == "" {
		c.warn("SUPABASE_SERVICE_ROLE_KEY not set - turn archive disabled")
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if err := oneOf("STT_BACKEND", c.STTBackend, BackendHTTP, BackendOpenAI); err != nil {
		return err
	}
	if err := oneOf("LLM_BACKEND", c.LLMBackend, BackendHTTP, BackendOpenAI); err != nil {
		return err
	}
	if err := oneOf("TTS_BACKEND", c.TTSBackend, BackendHTTP, BackendOpenAI, BackendDeepgram); err != nil {
		return err
	}
	if err := oneOf("ROLLING_MODE", c.RollingMode, RollingLines, RollingSeconds); err != nil {
		return err
	}
	if c.PauseThreshold <= 0 {
		return fmt.Errorf("PAUSE_THRESHOLD must be positive")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("HISTORY_TURNS must not be negative")
	}
	return nil
}

// RecordingsDir holds push-to-talk artifacts until the pipeline consumes them.
func (c Config) RecordingsDir() string { return filepath.Join(c.DataDir, "recordings") }

// SpeechDir holds synthesized replies until they have been played.
func (c Config) SpeechDir() string { return filepath.Join(c.DataDir, "speech") }

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s=%q: want one of %s", key, value, strings.Join(allowed, ", "))
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			c.warn("%s=%q is not a duration, using %s", key, v, def)
			return def
		}
		d = time.Duration(f * float64(time.Second))
	}
	return d
}

func (c *Config) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warn("%s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
