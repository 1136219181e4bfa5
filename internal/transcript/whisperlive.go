package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

// endOfAudio tells the server no more audio follows.
const endOfAudio = "END_OF_AUDIO"

var ErrNotConnected = errors.New("live feed not connected")

// WhisperLiveConfig describes the streaming transcription server session.
type WhisperLiveConfig struct {
	URL      string
	Language string
	Model    string
	UseVAD   bool
}

// WhisperLiveFeed streams microphone PCM to a WhisperLive server and emits
// every segment snapshot it sends back. A nil snapshot marks a new session.
type WhisperLiveFeed struct {
	cfg    WhisperLiveConfig
	uid    string
	logger *zap.Logger

	snapshots chan []domain.Segment
	audio     chan []byte
	stopCh    chan struct{}
	done      chan struct{}

	// connected is read lock-free from the audio callback.
	connected atomic.Bool

	mu         sync.Mutex
	connecting bool
	closed     bool
	conn       *websocket.Conn
	writeMu    sync.Mutex
}

// liveOptions is the first message of a session.
type liveOptions struct {
	UID      string `json:"uid"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task"`
	Model    string `json:"model,omitempty"`
	UseVAD   bool   `json:"use_vad"`
}

// liveMessage covers every server message shape. Message is a string for
// readiness and errors and a number (minutes) for WAIT.
type liveMessage struct {
	UID      string          `json:"uid"`
	Status   string          `json:"status"`
	Message  json.RawMessage `json:"message"`
	Segments []liveSegment   `json:"segments"`
	Language string          `json:"language"`
	Backend  string          `json:"backend"`
}

type liveSegment struct {
	Start     flexFloat `json:"start"`
	End       flexFloat `json:"end"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

func NewWhisperLiveFeed(cfg WhisperLiveConfig, logger *zap.Logger) *WhisperLiveFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &WhisperLiveFeed{
		cfg:       cfg,
		uid:       uuid.NewString(),
		logger:    logger.With(zap.String("component", "whisperlive")),
		snapshots: make(chan []domain.Segment, 64),
		audio:     make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Snapshots delivers segment snapshots. It is closed when the feed stops.
func (w *WhisperLiveFeed) Snapshots() <-chan []domain.Segment { return w.snapshots }

// Connect opens the session and starts the read and write loops. The dial
// runs without holding any lock the audio path uses.
func (w *WhisperLiveFeed) Connect(ctx context.Context) error {
	if w.cfg.URL == "" {
		return errors.New("whisperlive url is empty")
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("whisperlive feed closed")
	}
	if w.connected.Load() || w.connecting {
		w.mu.Unlock()
		return nil
	}
	w.connecting = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.connecting = false
		w.mu.Unlock()
	}()

	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return errors.New("whisperlive feed closed")
	}
	w.conn = conn
	w.connected.Store(true)
	w.mu.Unlock()
	w.logger.Info("connected to whisperlive", zap.String("url", w.cfg.URL), zap.String("uid", w.uid))

	w.deliver(nil)
	go w.handleMessages(conn)
	go w.sendAudioData(conn)
	return nil
}

func (w *WhisperLiveFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			w.logger.Warn("whisperlive handshake failed", zap.Int("status", resp.StatusCode))
		}
		return nil, fmt.Errorf("connect to whisperlive: %w", err)
	}
	opts := liveOptions{
		UID:      w.uid,
		Language: w.cfg.Language,
		Task:     "transcribe",
		Model:    w.cfg.Model,
		UseVAD:   w.cfg.UseVAD,
	}
	if err := conn.WriteJSON(opts); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send whisperlive options: %w", err)
	}
	return conn, nil
}

// SendPCM16 queues 16 kHz mono signed 16-bit little-endian audio. The server
// takes float32 samples, so the block is converted here. Audio is dropped
// when the send buffer is full.
func (w *WhisperLiveFeed) SendPCM16(pcm []byte) error {
	if !w.connected.Load() {
		return ErrNotConnected
	}
	select {
	case w.audio <- PCM16ToFloat32(pcm):
	default:
		w.logger.Debug("audio buffer full, dropping block")
	}
	return nil
}

// PCM16ToFloat32 converts s16le samples to f32le in [-1, 1).
func PCM16ToFloat32(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)/32768.0))
	}
	return out
}

// Done is closed once the read loop exits.
func (w *WhisperLiveFeed) Done() <-chan struct{} { return w.done }

// Close ends the session and closes the snapshot channel.
func (w *WhisperLiveFeed) Close() error {
	w.mu.Lock()
	w.closed = true
	if !w.connected.Load() {
		w.mu.Unlock()
		return nil
	}
	w.connected.Store(false)
	close(w.stopCh)
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	w.writeMu.Lock()
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte(endOfAudio))
	w.writeMu.Unlock()
	err := conn.Close()
	<-w.done
	close(w.snapshots)
	w.logger.Info("whisperlive connection closed")
	return err
}

func (w *WhisperLiveFeed) handleMessages(conn *websocket.Conn) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered from panic in whisperlive reader", zap.Any("panic", r))
		}
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.stopCh:
			default:
				w.logger.Warn("whisperlive read failed", zap.Error(err))
			}
			return
		}
		if !w.processMessage(message) {
			return
		}
	}
}

// processMessage handles one server message. It returns false when the
// server ends the session.
func (w *WhisperLiveFeed) processMessage(raw []byte) bool {
	var msg liveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.Warn("bad whisperlive message", zap.Error(err))
		return true
	}
	if msg.UID != "" && msg.UID != w.uid {
		return true
	}

	var text string
	var minutes float64
	if len(msg.Message) > 0 {
		if err := json.Unmarshal(msg.Message, &text); err != nil {
			_ = json.Unmarshal(msg.Message, &minutes)
		}
	}

	switch {
	case msg.Status == "WAIT":
		w.logger.Info("whisperlive server busy", zap.Float64("wait_minutes", minutes))
	case msg.Status == "ERROR":
		w.logger.Error("whisperlive server error", zap.String("message", text))
	case msg.Status == "WARNING":
		w.logger.Warn("whisperlive server warning", zap.String("message", text))
	case text == "SERVER_READY":
		w.logger.Info("whisperlive server ready", zap.String("backend", msg.Backend))
	case text == "DISCONNECT":
		w.logger.Info("whisperlive server ended the session")
		return false
	case msg.Language != "":
		w.logger.Info("whisperlive detected language", zap.String("language", msg.Language))
	case msg.Segments != nil:
		segs := make([]domain.Segment, 0, len(msg.Segments))
		for _, s := range msg.Segments {
			segs = append(segs, domain.Segment{
				Text:      s.Text,
				Start:     float64(s.Start),
				End:       float64(s.End),
				Completed: s.Completed,
			})
		}
		w.deliver(segs)
	}
	return true
}

func (w *WhisperLiveFeed) deliver(segs []domain.Segment) {
	select {
	case w.snapshots <- segs:
	case <-w.stopCh:
	}
}

func (w *WhisperLiveFeed) sendAudioData(conn *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recovered from panic in whisperlive writer", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.done:
			return
		case block := <-w.audio:
			w.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, block)
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Warn("sending audio failed", zap.Error(err))
				return
			}
		}
	}
}
