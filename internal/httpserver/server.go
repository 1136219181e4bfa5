// Package httpserver exposes health, roster and metrics endpoints and the
// websocket control channel clients use to drive and watch the interaction.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chadiek/improv/internal/broadcast"
	"github.com/chadiek/improv/internal/domain"
)

// Recorder starts and stops push-to-talk sessions.
type Recorder interface {
	StartRecording() bool
	StopRecording() bool
}

// Interaction is the part of the state machine the server reads and drives.
type Interaction interface {
	Roster() domain.Roster
	SwitchCharacter(id string) error
	Subscribe(fn func(snapshot []domain.Event))
}

// Broadcaster accepts and removes connected clients.
type Broadcaster interface {
	Register(c broadcast.Client, snapshot ...domain.Event)
	Unregister(c broadcast.Client)
}

// Deps wires the server to the rest of the process. Recorder and Metrics are
// optional.
type Deps struct {
	Interaction Interaction
	Recorder    Recorder
	Hub         Broadcaster
	Metrics     http.Handler
	Logger      *zap.Logger

	// ControlRate and ControlBurst bound control messages per connection.
	ControlRate  rate.Limit
	ControlBurst int
}

// Server bundles the Echo router and its dependencies.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger

	accepting atomic.Bool
	conns     sync.WaitGroup
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ControlRate == 0 {
		deps.ControlRate = rate.Every(100 * time.Millisecond)
	}
	if deps.ControlBurst == 0 {
		deps.ControlBurst = 5
	}
	logger := deps.Logger.With(zap.String("component", "http"))
	s := &Server{
		echo:   newEcho(logger),
		deps:   deps,
		logger: logger,
	}
	s.accepting.Store(true)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/api/characters", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.deps.Interaction.Roster())
	})
	s.echo.GET("/ws", s.serveWS)
	if deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.logger.Info("server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StopAccepting makes every connection ignore further control messages.
func (s *Server) StopAccepting() {
	s.accepting.Store(false)
}

// Shutdown closes the listener and waits for websocket handlers to return.
// Websocket connections are closed by the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.StopAccepting()
	err := s.echo.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
