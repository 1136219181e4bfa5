// Package capture drives push-to-talk recording: it gates the microphone
// frames into the recording session and turns a finished session into a WAV
// artifact for the pipeline.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/audio"
	"github.com/chadiek/improv/internal/domain"
)

// Device is an audio input that calls onFrame from its own thread.
type Device interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
}

// Session is the recording half of the interaction machine.
type Session interface {
	BeginRecording() bool
	AppendFrame(pcm []byte)
	EndRecording() ([][]byte, bool)
	AbortRecording()
	IsRecording() bool
	Transition(to domain.State) error
}

// Enqueue hands a finished artifact to the pipeline, which then owns the file.
type Enqueue func(path string) error

// Controller implements start/stop recording on top of a Session and a Device.
type Controller struct {
	session Session
	device  Device
	dir     string
	enqueue Enqueue
	logger  *zap.Logger

	mu       sync.Mutex
	deviceOn bool
	taps     []func(pcm []byte)
}

func NewController(session Session, device Device, dir string, enqueue Enqueue, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		session: session,
		device:  device,
		dir:     dir,
		enqueue: enqueue,
		logger:  logger.With(zap.String("component", "capture")),
	}
}

// AddTap forwards every captured frame to fn as well, recording or not. Taps
// must be added before the device starts and must not block.
func (c *Controller) AddTap(fn func(pcm []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taps = append(c.taps, fn)
}

// OpenDevice starts the device now rather than on the first recording.
func (c *Controller) OpenDevice() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceOn {
		return nil
	}
	if c.device == nil {
		return errors.New("no capture device")
	}
	taps := append([]func([]byte){}, c.taps...)
	onFrame := func(pcm []byte) {
		c.session.AppendFrame(pcm)
		for _, tap := range taps {
			tap(pcm)
		}
	}
	if err := c.device.Start(onFrame); err != nil {
		return err
	}
	c.deviceOn = true
	return nil
}

// StartRecording opens a session when the interaction is Idle. It reports
// whether recording started. A device failure discards the session.
func (c *Controller) StartRecording() bool {
	if !c.session.BeginRecording() {
		c.logger.Debug("start ignored")
		return false
	}
	if err := c.OpenDevice(); err != nil {
		c.logger.Warn("capture device unavailable", zap.Error(err))
		c.session.AbortRecording()
		return false
	}
	c.logger.Info("recording started")
	return true
}

// StopRecording closes the session, writes its audio and queues it. It
// reports whether an artifact was queued.
func (c *Controller) StopRecording() bool {
	frames, ok := c.session.EndRecording()
	if !ok {
		c.logger.Debug("stop ignored")
		return false
	}
	if len(frames) == 0 {
		c.logger.Info("no audio captured")
		return false
	}

	pcm := audio.Concat(frames)
	path := filepath.Join(c.dir, uuid.NewString()+".wav")
	if err := c.persist(path, pcm); err != nil {
		c.logger.Error("saving recording failed", zap.Error(err))
		c.toIdle()
		return false
	}
	c.logger.Info("recording stopped",
		zap.String("path", path),
		zap.Float64("seconds", audio.Duration(pcm, audio.SampleRate)),
	)
	return true
}

func (c *Controller) persist(path string, pcm []byte) error {
	if err := audio.WriteWAV(path, pcm, audio.SampleRate); err != nil {
		return err
	}
	if c.enqueue == nil {
		return nil
	}
	if err := c.enqueue(path); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("enqueue recording: %w", err)
	}
	return nil
}

// IsRecording reports whether a session is open.
func (c *Controller) IsRecording() bool { return c.session.IsRecording() }

func (c *Controller) toIdle() {
	if err := c.session.Transition(domain.StateIdle); err != nil {
		c.logger.Warn("return to idle failed", zap.Error(err))
	}
}

// Close discards any open session and releases the device.
func (c *Controller) Close() error {
	c.session.AbortRecording()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deviceOn {
		return nil
	}
	c.deviceOn = false
	return c.device.Stop()
}
