package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/config"
	"github.com/chadiek/improv/internal/llm"
	"github.com/chadiek/improv/internal/pipeline"
	"github.com/chadiek/improv/internal/stt"
	"github.com/chadiek/improv/internal/tts"
)

type engines struct {
	transcriber pipeline.Transcriber
	generator   pipeline.Generator
	synthesizer pipeline.Synthesizer
}

func newEngines(cfg config.Config, logger *zap.Logger) (engines, error) {
	var e engines
	switch cfg.STTBackend {
	case config.BackendHTTP:
		e.transcriber = stt.NewHTTPClient(cfg.AIAPIURL)
	case config.BackendOpenAI:
		e.transcriber = stt.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAISTTModel, cfg.WhisperLiveLanguage)
	default:
		return e, fmt.Errorf("unknown stt backend %q", cfg.STTBackend)
	}

	switch cfg.LLMBackend {
	case config.BackendHTTP:
		e.generator = llm.NewHTTPClient(cfg.AIAPIURL)
	case config.BackendOpenAI:
		e.generator = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	default:
		return e, fmt.Errorf("unknown llm backend %q", cfg.LLMBackend)
	}

	switch cfg.TTSBackend {
	case config.BackendHTTP:
		e.synthesizer = tts.NewHTTPClient(cfg.AIAPIURL)
	case config.BackendOpenAI:
		e.synthesizer = tts.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAITTSModel)
	case config.BackendDeepgram:
		e.synthesizer = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, logger)
	default:
		return e, fmt.Errorf("unknown tts backend %q", cfg.TTSBackend)
	}

	logger.Info("engines ready",
		zap.String("stt", cfg.STTBackend),
		zap.String("llm", cfg.LLMBackend),
		zap.String("tts", cfg.TTSBackend),
	)
	return e, nil
}

// mutePlayer stands in for the speaker when audio devices are disabled.
type mutePlayer struct{ logger *zap.Logger }

func (p mutePlayer) Play(_ context.Context, path string) error {
	p.logger.Debug("playback skipped", zap.String("path", path))
	return nil
}
