package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/interaction"
)

const (
	writeTimeout    = 5 * time.Second
	maxControlBytes = 4096
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Renderers run on the local network and load from file:// or other ports.
		return true
	},
}

// wsClient is a broadcast.Client over one websocket. Send is only called by
// the hub consumer; Close may race with it.
type wsClient struct {
	id        string
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsClient) Send(e domain.Event) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(e)
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (s *Server) serveWS(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied.
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return nil
	}
	s.conns.Add(1)
	defer s.conns.Done()

	client := &wsClient{id: uuid.NewString(), conn: conn}
	logger := s.logger.With(zap.String("conn", client.id))
	logger.Info("client connected", zap.String("remote", c.RealIP()))

	s.deps.Interaction.Subscribe(func(snapshot []domain.Event) {
		s.deps.Hub.Register(client, snapshot...)
	})
	defer func() {
		s.deps.Hub.Unregister(client)
		_ = client.Close()
		logger.Info("client disconnected")
	}()

	s.readControl(conn, logger)
	return nil
}

func (s *Server) readControl(conn *websocket.Conn, logger *zap.Logger) {
	conn.SetReadLimit(maxControlBytes)
	limiter := rate.NewLimiter(s.deps.ControlRate, s.deps.ControlBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws read failed", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			logger.Warn("control message rate limited")
			continue
		}
		var msg domain.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid control message", zap.Error(err))
			continue
		}
		s.dispatch(msg, logger)
	}
}

func (s *Server) dispatch(msg domain.ControlMessage, logger *zap.Logger) {
	if !s.accepting.Load() {
		logger.Debug("shutting down, control message ignored", zap.String("action", msg.Action))
		return
	}
	switch msg.Action {
	case domain.ActionStartRecording, domain.ActionStopRecording:
		if s.deps.Recorder == nil {
			logger.Warn("recording unavailable", zap.String("action", msg.Action))
			return
		}
		if msg.Action == domain.ActionStartRecording {
			s.deps.Recorder.StartRecording()
		} else {
			s.deps.Recorder.StopRecording()
		}
	case domain.ActionSwitchCharacter:
		err := s.deps.Interaction.SwitchCharacter(msg.Character)
		switch {
		case err == nil:
		case errors.Is(err, interaction.ErrUnknownCharacter), errors.Is(err, interaction.ErrAlreadyActive):
			logger.Info("character switch ignored", zap.String("character", msg.Character), zap.Error(err))
		default:
			logger.Warn("character switch failed", zap.String("character", msg.Character), zap.Error(err))
		}
	default:
		logger.Warn("unknown control action", zap.String("action", msg.Action))
	}
}
