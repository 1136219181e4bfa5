package device

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

// outputRate is the rate the speaker runs at; artifacts at other rates are resampled.
const outputRate = beep.SampleRate(44100)

// Speaker plays WAV artifacts on the default output device.
type Speaker struct {
	logger *zap.Logger

	once    sync.Once
	initErr error
}

func NewSpeaker(logger *zap.Logger) *Speaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speaker{logger: logger.With(zap.String("component", "speaker"))}
}

func (s *Speaker) init() error {
	s.once.Do(func() {
		s.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
		if s.initErr == nil {
			s.logger.Info("speaker ready", zap.Int("sample_rate", int(outputRate)))
		}
	})
	return s.initErr
}

// Play blocks until the file has played or ctx is done.
func (s *Speaker) Play(ctx context.Context, path string) error {
	if err := s.init(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	streamer, format, err := wav.Decode(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("decode audio: %w", err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != outputRate {
		src = beep.Resample(4, format.SampleRate, outputRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(src, beep.Callback(func() { close(done) })))

	select {
	case <-done:
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
	if err := streamer.Err(); err != nil {
		return fmt.Errorf("stream audio: %w", err)
	}
	return nil
}

// Close stops any playback.
func (s *Speaker) Close() {
	speaker.Clear()
}
