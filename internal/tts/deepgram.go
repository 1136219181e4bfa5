package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/audio"
)

const defaultDeepgramModel = "aura-2-thalia-en"

// ErrSynthesisTimeout means the stream was not finished before the deadline.
var ErrSynthesisTimeout = errors.New("deepgram: synthesis deadline reached")

// DeepgramClient streams linear16 audio from Deepgram's speak websocket and
// writes it out as a WAV artifact once Deepgram has flushed the reply.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	logger     *zap.Logger

	// idleWindow is how long the stream may stay silent after the first
	// audio before synthesis is considered finished.
	idleWindow time.Duration
	deadline   time.Duration
}

func NewDeepgramClient(apiKey, model string, logger *zap.Logger) *DeepgramClient {
	if model == "" {
		model = defaultDeepgramModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 24000,
		encoding:   "linear16",
		logger:     logger.With(zap.String("component", "deepgram")),
		idleWindow: 400 * time.Millisecond,
		deadline:   20 * time.Second,
	}
}

// modelFor uses the character voice when it names a Deepgram aura model.
func (d *DeepgramClient) modelFor(voice string) string {
	if strings.HasPrefix(voice, "aura") {
		return voice
	}
	return d.model
}

func (d *DeepgramClient) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if d.apiKey == "" {
		return fmt.Errorf("deepgram: API key missing")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("deepgram: empty text")
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.modelFor(voice),
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	stream := newSpeakStream()
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, stream)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.logger.Warn("flush failed", zap.Error(err))
	}

	if err := d.wait(ctx, stream); err != nil {
		return err
	}

	pcm := stream.audio()
	if len(pcm) == 0 {
		return fmt.Errorf("deepgram: no audio received")
	}
	return audio.WriteWAV(outPath, pcm, d.sampleRate)
}

// wait returns once Deepgram acknowledges the flush. A stream that went quiet
// for idleWindow after some audio also counts as finished. Deepgram errors and
// the overall deadline fail the synthesis.
func (d *DeepgramClient) wait(ctx context.Context, s *speakStream) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.deadline)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.errs:
			return err
		case <-s.flushed:
			return nil
		case now := <-ticker.C:
			if ts := s.last.Load(); ts != 0 && now.Sub(time.Unix(0, ts)) > d.idleWindow {
				d.logger.Debug("no flush acknowledgement, stream went quiet")
				return nil
			}
			if now.After(deadline) {
				return fmt.Errorf("%w after %s", ErrSynthesisTimeout, d.deadline)
			}
		}
	}
}

// speakStream receives the websocket callbacks of one synthesis.
type speakStream struct {
	mu   sync.Mutex
	pcm  []byte
	last atomic.Int64

	flushOnce sync.Once
	flushed   chan struct{}
	errs      chan error
}

func newSpeakStream() *speakStream {
	return &speakStream{
		flushed: make(chan struct{}),
		errs:    make(chan error, 1),
	}
}

func (s *speakStream) audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcm
}

func (s *speakStream) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakStream) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakStream) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakStream) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakStream) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakStream) UnhandledEvent([]byte) error                    { return nil }

func (s *speakStream) Flush(*msginterfaces.FlushedResponse) error {
	s.flushOnce.Do(func() { close(s.flushed) })
	return nil
}

// Error keeps the first error; later ones are dropped.
func (s *speakStream) Error(er *msginterfaces.ErrorResponse) error {
	err := errors.New("deepgram: speak error")
	if er != nil {
		err = fmt.Errorf("deepgram: speak error: %+v", *er)
	}
	select {
	case s.errs <- err:
	default:
	}
	return nil
}

func (s *speakStream) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	s.pcm = append(s.pcm, data...)
	s.mu.Unlock()
	s.last.Store(time.Now().UnixNano())
	return nil
}
