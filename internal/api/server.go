// Package api exposes simulation control, bar queries and a live tick stream over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Server wraps the echo instance serving the API.
type Server struct {
	echo *echo.Echo
	addr string
	log  zerolog.Logger
}

// NewServer builds the echo router with recovery and request logging.
func NewServer(addr string, h *Handler, log zerolog.Logger) *Server {
	log = log.With().Str("component", "http").Logger()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Use(recoverMiddleware(log))
	e.Use(requestLogging(log))
	if h != nil {
		h.RegisterRoutes(e)
	}
	return &Server{echo: e, addr: addr, log: log}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }
