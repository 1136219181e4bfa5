// Package device binds the orchestrator to the host's microphone and speakers.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/audio"
)

// Microphone captures mono s16le PCM at audio.SampleRate through miniaudio.
type Microphone struct {
	logger *zap.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
}

func NewMicrophone(logger *zap.Logger) *Microphone {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Microphone{logger: logger.With(zap.String("component", "microphone"))}
}

// Start opens the default capture device. onFrame runs on the audio thread
// and must not block.
func (m *Microphone) Start(onFrame func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		m.logger.Debug("miniaudio", zap.String("msg", msg))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = audio.Channels
	devCfg.SampleRate = audio.SampleRate
	devCfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				onFrame(input)
			}
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, devCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = dev
	m.running = true
	m.logger.Info("microphone started", zap.Int("sample_rate", audio.SampleRate))
	return nil
}

// Stop releases the device. It is safe to call when not started.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false

	var errs []error
	if err := m.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture device: %w", err))
	}
	m.device.Uninit()
	if err := m.ctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("uninit audio context: %w", err))
	}
	m.ctx.Free()
	m.device, m.ctx = nil, nil
	m.logger.Info("microphone stopped")
	return errors.Join(errs...)
}
