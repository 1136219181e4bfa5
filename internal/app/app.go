// Package app assembles the orchestrator from its parts and runs them until
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chadiek/improv/internal/broadcast"
	"github.com/chadiek/improv/internal/capture"
	"github.com/chadiek/improv/internal/characters"
	"github.com/chadiek/improv/internal/config"
	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/httpserver"
	"github.com/chadiek/improv/internal/infra/storage"
	"github.com/chadiek/improv/internal/interaction"
	"github.com/chadiek/improv/internal/metrics"
	"github.com/chadiek/improv/internal/pipeline"
	"github.com/chadiek/improv/internal/ptt"
	"github.com/chadiek/improv/internal/sidechannel"
	"github.com/chadiek/improv/internal/telemetry"
	"github.com/chadiek/improv/internal/transcript"
)

const shutdownTimeout = 10 * time.Second

// Devices are the host bindings. Any of them may be nil: no microphone
// disables recording, no speaker mutes playback, no keys disables
// push-to-talk.
type Devices struct {
	Microphone capture.Device
	Speaker    pipeline.Player
	Keys       ptt.KeySource
}

// App owns every long-lived component.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	files     *sidechannel.Files
	collector *metrics.Collector
	hub       *broadcast.Hub
	machine   *interaction.Machine
	pipe      *pipeline.Pipeline
	capture   *capture.Controller
	feed      *transcript.WhisperLiveFeed
	detector  *transcript.Detector
	listener  *ptt.Listener
	server    *httpserver.Server
	redis     *redis.Client
	tracing   *telemetry.Providers
}

// New builds the application. Optional integrations that are not configured
// are left out.
func New(ctx context.Context, cfg config.Config, dev Devices, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger}

	files, err := sidechannel.New(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	if err := files.Reset(domain.StateIdle.Label()); err != nil {
		return nil, fmt.Errorf("reset side channel: %w", err)
	}
	a.files = files

	chars, err := characters.Load(cfg.CharactersDir, logger)
	if err != nil {
		logger.Warn("no characters loaded", zap.Error(err))
	}

	a.tracing, err = telemetry.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, err
	}

	a.collector = metrics.NewCollector(logger)
	var sinks []broadcast.Sink
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		mirror := broadcast.NewRedisMirror(a.redis, cfg.RedisChannel)
		sinks = append(sinks, mirror)
		logger.Info("mirroring events to redis", zap.String("channel", mirror.Channel()))
	}
	a.hub = broadcast.NewHub(logger, a.collector, sinks...)
	a.machine = interaction.New(chars, a.hub, files, logger, interaction.WithObserver(a.collector))

	if err := a.buildPipeline(cfg, dev, logger); err != nil {
		return nil, err
	}
	a.buildInputs(cfg, dev, logger)

	deps := httpserver.Deps{
		Interaction: a.machine,
		Hub:         a.hub,
		Metrics:     a.collector.Handler(),
		Logger:      logger,
	}
	if a.capture != nil {
		deps.Recorder = a.capture
	}
	a.server = httpserver.New(deps)
	return a, nil
}

func (a *App) buildPipeline(cfg config.Config, dev Devices, logger *zap.Logger) error {
	eng, err := newEngines(cfg, logger)
	if err != nil {
		return err
	}
	player := dev.Speaker
	if player == nil {
		player = mutePlayer{logger: logger}
	}
	pcfg := pipeline.Config{
		State:        a.machine,
		Transcriber:  eng.transcriber,
		Generator:    eng.generator,
		Synthesizer:  eng.synthesizer,
		Player:       player,
		Notes:        a.files,
		Metrics:      a.collector,
		WorkDir:      cfg.SpeechDir(),
		HistoryTurns: cfg.HistoryTurns,
		Logger:       logger,
	}
	sb := storage.SupabaseConfig{URL: cfg.SupabaseURL, ServiceRoleKey: cfg.SupabaseServiceRoleKey, Bucket: cfg.SupabaseBucket}
	if sb.Enabled() {
		store, err := storage.NewSupabaseStorage(sb)
		if err != nil {
			logger.Warn("turn archive disabled", zap.Error(err))
		} else {
			pcfg.Archive = storage.NewTurnArchive(store, logger)
		}
	}
	a.pipe, err = pipeline.New(pcfg)
	return err
}

func (a *App) buildInputs(cfg config.Config, dev Devices, logger *zap.Logger) {
	if dev.Microphone != nil {
		a.capture = capture.NewController(a.machine, dev.Microphone, cfg.RecordingsDir(), func(path string) error {
			_, err := a.pipe.EnqueueAudio(path)
			return err
		}, logger)
	}

	if cfg.WhisperLiveURL != "" && !cfg.NoFeed {
		if a.capture == nil {
			logger.Warn("live feed needs a microphone, disabled")
		} else {
			a.feed = transcript.NewWhisperLiveFeed(transcript.WhisperLiveConfig{
				URL:      cfg.WhisperLiveURL,
				Language: cfg.WhisperLiveLanguage,
				Model:    cfg.WhisperLiveModel,
				UseVAD:   true,
			}, logger)
			feed := a.feed
			a.capture.AddTap(func(pcm []byte) {
				// Dropped until the feed is connected.
				_ = feed.SendPCM16(pcm)
			})
		}
	}

	agg := transcript.NewAggregator(transcript.AggregatorConfig{
		Mode:           cfg.RollingMode,
		Lines:          cfg.RollingLines,
		Window:         cfg.RollingSeconds,
		PauseThreshold: cfg.PauseThreshold,
		Suppressed:     a.liveInputSuppressed,
	})
	a.detector = transcript.NewDetector(agg, cfg.TurnPollInterval, func(text string) error {
		_, err := a.pipe.EnqueueText(text)
		return err
	}, a.files, a.collector, logger)

	if dev.Keys != nil && a.capture != nil {
		a.listener = ptt.NewListener(dev.Keys, ptt.ParseTrigger(cfg.PTTKey), a.capture, nil, logger)
	}
}

// liveInputSuppressed reports whether the live feed is hearing something the
// orchestrator already handles: the character's own speech, or an utterance
// that push-to-talk recorded and the pipeline is answering.
func (a *App) liveInputSuppressed() bool {
	switch a.machine.State() {
	case domain.StateListening, domain.StateProcessing, domain.StateTranscribing, domain.StateTalking:
		return true
	case domain.StateThinking:
		return a.pipe.AudioTurnInFlight()
	default:
		return false
	}
}

// Machine exposes the interaction state, mainly for tests and tooling.
func (a *App) Machine() *interaction.Machine { return a.machine }

// Pipeline exposes the turn queue.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Run starts every component and blocks until ctx is cancelled, a quit key
// is pressed or the HTTP server fails. It then shuts down in order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(context.WithoutCancel(ctx))
	}()
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		_ = a.pipe.Run(ctx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Start(a.cfg.HTTPAddress); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.feed != nil {
		g.Go(func() error { return a.runFeed(gctx) })
	}
	if a.listener != nil {
		g.Go(func() error {
			if err := a.listener.Run(gctx); err != nil {
				a.logger.Warn("push-to-talk unavailable", zap.Error(err))
				return nil
			}
			// Returning means quit was requested or the terminal went away.
			cancel()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(pipeDone, hubDone)
	})

	a.logger.Info("improv running", zap.String("addr", a.cfg.HTTPAddress))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *App) runFeed(ctx context.Context) error {
	if err := a.capture.OpenDevice(); err != nil {
		a.logger.Warn("microphone unavailable, live feed disabled", zap.Error(err))
		return nil
	}
	if err := a.feed.Connect(ctx); err != nil {
		a.logger.Warn("live feed unavailable", zap.Error(err))
		return nil
	}
	err := a.detector.Run(ctx, a.feed.Snapshots())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops control input, discards any recording, drains the pipeline,
// goes Offline, flushes the broadcast queue and finally closes the server.
func (a *App) shutdown(pipeDone, hubDone <-chan struct{}) error {
	a.logger.Info("shutting down")
	a.server.StopAccepting()

	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			a.logger.Warn("closing microphone failed", zap.Error(err))
		}
	}
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Debug("closing live feed", zap.Error(err))
		}
	}

	a.pipe.Close()
	<-pipeDone

	a.machine.Shutdown()
	if err := a.files.ClearTranscript(); err != nil {
		a.logger.Warn("clearing transcript failed", zap.Error(err))
	}

	a.hub.Close()
	<-hubDone

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
