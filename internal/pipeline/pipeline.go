// Package pipeline runs queued turns one at a time through
// transcribe, respond, synthesize and play, driving the interaction state at
// every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/interaction"
)

const instrumentationName = "github.com/chadiek/improv/internal/pipeline"

// Stage names used in logs, metrics and spans.
const (
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
	StageSynthesize = "synthesize"
	StagePlay       = "play"
	StagePanic      = "panic"
)

var ErrEmptyTranscript = errors.New("empty transcript")

// Transcriber turns a recorded artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (domain.Transcription, error)
}

// Generator produces the raw model reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, p domain.Prompt) (string, error)
}

// Synthesizer writes speech for text in the given voice to outPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// Player blocks until the artifact has been played.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Archiver keeps a copy of a recorded utterance before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, itemID, path string) error
}

// Notes receives the texts of a turn for the side channel.
type Notes interface {
	WriteUserText(text string) error
	WriteReply(text string) error
}

// StateOwner is the part of the interaction machine the pipeline drives.
type StateOwner interface {
	Transition(to domain.State) error
	Active() (interaction.Persona, bool)
	ApplyEmotion(emotion string) bool
}

// Metrics receives stage timings and failures.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	StageFailed(stage string)
	SetPipelineQueueDepth(n int)
}

// Item is one queued turn: a recorded artifact, or text gathered from the live feed.
type Item struct {
	ID        string
	AudioPath string
	Text      string
	Enqueued  time.Time
}

func (it Item) source() string {
	if it.AudioPath != "" {
		return "audio"
	}
	return "text"
}

// Config wires the collaborators. Archive, Notes and Metrics are optional.
type Config struct {
	State       StateOwner
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Player      Player
	Archive     Archiver
	Notes       Notes
	Metrics     Metrics

	// WorkDir holds synthesized speech artifacts.
	WorkDir      string
	HistoryTurns int
	Logger       *zap.Logger
}

// Pipeline is the single-worker turn processor.
type Pipeline struct {
	cfg    Config
	queue  *Queue[Item]
	tracer trace.Tracer
	logger *zap.Logger

	audioTurn atomic.Bool

	// history is only touched by the worker goroutine.
	history    []domain.Exchange
	historyFor string
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.State == nil:
		return nil, errors.New("pipeline: state owner is required")
	case cfg.Transcriber == nil, cfg.Generator == nil, cfg.Synthesizer == nil, cfg.Player == nil:
		return nil, errors.New("pipeline: all engines are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline work dir: %w", err)
	}
	return &Pipeline{
		cfg:    cfg,
		queue:  NewQueue[Item](),
		tracer: otel.Tracer(instrumentationName),
		logger: cfg.Logger.With(zap.String("component", "pipeline")),
	}, nil
}

// EnqueueAudio queues a recorded artifact. The pipeline owns the file from
// here on and deletes it after the turn.
func (p *Pipeline) EnqueueAudio(path string) (Item, error) {
	return p.enqueue(Item{AudioPath: path})
}

// EnqueueText queues gathered live-feed text. Blank text is ignored.
func (p *Pipeline) EnqueueText(text string) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, ErrEmptyTranscript
	}
	return p.enqueue(Item{Text: text})
}

func (p *Pipeline) enqueue(it Item) (Item, error) {
	it.ID = uuid.NewString()
	it.Enqueued = time.Now()
	n, err := p.queue.Push(it)
	if err != nil {
		return Item{}, err
	}
	p.setDepth(n)
	p.logger.Info("turn queued",
		zap.String("turn", it.ID),
		zap.String("source", it.source()),
		zap.Int("depth", n),
	)
	return it, nil
}

// Close pushes the shutdown sentinel. Items already queued still run.
func (p *Pipeline) Close() { p.queue.Close() }

// AudioTurnInFlight reports whether the worker is running a recorded turn.
func (p *Pipeline) AudioTurnInFlight() bool { return p.audioTurn.Load() }

// Pending returns the number of queued turns.
func (p *Pipeline) Pending() int { return p.queue.Len() }

// Run processes turns until Close has been called and the queue is drained.
// In-flight turns are never cancelled; ctx only carries values to them.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	p.logger.Info("pipeline worker started")
	for {
		it, ok := p.queue.Pop()
		if !ok {
			p.logger.Info("pipeline worker stopped")
			return nil
		}
		p.setDepth(p.queue.Len())
		p.process(ctx, it)
	}
}

func (p *Pipeline) process(ctx context.Context, it Item) {
	log := p.logger.With(zap.String("turn", it.ID), zap.String("source", it.source()))
	ctx, span := p.tracer.Start(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("turn.id", it.ID),
		attribute.String("turn.source", it.source()),
	))
	defer span.End()
	p.audioTurn.Store(it.AudioPath != "")
	defer p.audioTurn.Store(false)
	defer p.cleanup(ctx, it, log)
	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			p.failed(StagePanic)
			p.toIdle(log)
		}
	}()

	userText := it.Text
	if it.AudioPath != "" {
		if !p.enter(domain.StateTranscribing, log) {
			return
		}
		text, err := p.transcribe(ctx, it.AudioPath)
		if err != nil {
			log.Warn("transcription failed", zap.Error(err))
			span.RecordError(err)
			p.toIdle(log)
			return
		}
		userText = text
	}
	log.Info("user said", zap.String("text", userText))
	p.note(func(n Notes) error { return n.WriteUserText(userText) }, log)

	if !p.enter(domain.StateThinking, log) {
		return
	}
	persona, ok := p.cfg.State.Active()
	reply := p.respond(ctx, persona, ok, userText, log)
	p.note(func(n Notes) error { return n.WriteReply(reply.Text) }, log)
	if reply.Emotion != "" && p.cfg.State.ApplyEmotion(reply.Emotion) {
		log.Info("emotion changed", zap.String("emotion", reply.Emotion))
	}

	if !p.enter(domain.StateTalking, log) {
		return
	}
	out := filepath.Join(p.cfg.WorkDir, it.ID+".wav")
	defer func() { _ = os.Remove(out) }()
	if err := p.timed(ctx, StageSynthesize, func(ctx context.Context) error {
		return p.cfg.Synthesizer.Synthesize(ctx, reply.Text, persona.Character.Voice, out)
	}); err != nil {
		log.Warn("synthesis failed", zap.Error(err))
		span.RecordError(err)
		p.toIdle(log)
		return
	}
	if err := p.timed(ctx, StagePlay, func(ctx context.Context) error {
		return p.cfg.Player.Play(ctx, out)
	}); err != nil {
		log.Warn("playback failed", zap.Error(err))
		span.RecordError(err)
	}

	p.toIdle(log)
	log.Info("turn complete", zap.Duration("elapsed", time.Since(it.Enqueued)))
}

func (p *Pipeline) transcribe(ctx context.Context, path string) (string, error) {
	var text string
	err := p.timed(ctx, StageTranscribe, func(ctx context.Context) error {
		tr, err := p.cfg.Transcriber.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(tr.Text)
		if text == "" {
			return ErrEmptyTranscript
		}
		return nil
	})
	return text, err
}

// respond never fails: call or parse errors become the fallback reply with no
// emotion change.
func (p *Pipeline) respond(ctx context.Context, persona interaction.Persona, ok bool, userText string, log *zap.Logger) domain.Reply {
	if ok && persona.Character.ID != p.historyFor {
		p.history = nil
		p.historyFor = persona.Character.ID
	}
	prompt := domain.Prompt{
		System:     SystemPrompt(persona, ok),
		User:       userText,
		History:    append([]domain.Exchange(nil), p.history...),
		StrictJSON: true,
	}

	var reply domain.Reply
	err := p.timed(ctx, StageRespond, func(ctx context.Context) error {
		raw, err := p.cfg.Generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		reply, err = ParseReply(raw)
		return err
	})
	if err != nil {
		log.Warn("generation failed, using fallback reply", zap.Error(err))
		return domain.Reply{Text: FallbackReply}
	}
	log.Info("character replied", zap.String("text", reply.Text), zap.String("emotion", reply.Emotion))
	p.remember(userText, reply.Text)
	return reply
}

func (p *Pipeline) remember(user, assistant string) {
	if p.cfg.HistoryTurns == 0 {
		return
	}
	p.history = append(p.history, domain.Exchange{User: user, Assistant: assistant})
	if extra := len(p.history) - p.cfg.HistoryTurns; extra > 0 {
		p.history = append([]domain.Exchange(nil), p.history[extra:]...)
	}
}

// timed runs one stage inside a child span, recording its duration and failure.
func (p *Pipeline) timed(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+stage)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveStage(stage, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.failed(stage)
	}
	return err
}

// enter moves to the next stage. A refused transition means the turn has been
// overtaken (a character switch followed by a new recording, for instance) and
// the remaining stages are abandoned without touching the state.
func (p *Pipeline) enter(s domain.State, log *zap.Logger) bool {
	if err := p.cfg.State.Transition(s); err != nil {
		log.Info("turn abandoned", zap.String("stage", string(s)), zap.Error(err))
		return false
	}
	return true
}

func (p *Pipeline) toIdle(log *zap.Logger) {
	if err := p.cfg.State.Transition(domain.StateIdle); err != nil {
		log.Warn("return to idle failed", zap.Error(err))
	}
}

func (p *Pipeline) note(fn func(Notes) error, log *zap.Logger) {
	if p.cfg.Notes == nil {
		return
	}
	if err := fn(p.cfg.Notes); err != nil {
		log.Warn("side-channel write failed", zap.Error(err))
	}
}

func (p *Pipeline) cleanup(ctx context.Context, it Item, log *zap.Logger) {
	if it.AudioPath == "" {
		return
	}
	if p.cfg.Archive != nil {
		if err := p.cfg.Archive.Archive(ctx, it.ID, it.AudioPath); err != nil {
			log.Warn("archive failed", zap.Error(err))
		}
	}
	if err := os.Remove(it.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove recording failed", zap.String("path", it.AudioPath), zap.Error(err))
	}
}

func (p *Pipeline) failed(stage string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.StageFailed(stage)
	}
}

func (p *Pipeline) setDepth(n int) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetPipelineQueueDepth(n)
	}
}
