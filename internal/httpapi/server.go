// Package httpapi exposes a small read-only status API next to the UDP
// voice protocol.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"roost/server/internal/voice"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo       *echo.Echo
	engine     *voice.Server
	serverName string
}

// New constructs an Echo app over the voice engine.
func New(engine *voice.Server, serverName string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, engine: engine, serverName: serverName}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/rooms", s.handleRooms)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	Users  int    `json:"users"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Name:   s.serverName,
		Users:  s.engine.UserCount(),
		Rooms:  s.engine.RoomCount(),
	})
}

func (s *Server) handleState(c echo.Context) error {
	snap := s.engine.Snapshot()
	if snap.Users == nil {
		snap.Users = []voice.UserInfo{}
	}
	if snap.Rooms == nil {
		snap.Rooms = []voice.RoomInfo{}
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRooms(c echo.Context) error {
	rooms := s.engine.Snapshot().Rooms
	if rooms == nil {
		rooms = []voice.RoomInfo{}
	}
	return c.JSON(http.StatusOK, rooms)
}
