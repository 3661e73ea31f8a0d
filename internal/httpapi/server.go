// Package httpapi serves the operational HTTP surface: health, channel
// occupancy, the Prometheus scrape endpoint, and the websocket event
// feed. The chat protocol itself never touches HTTP; this listener is
// optional and stays off unless an address is configured.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"chatter/internal/core"
)

// Occupancy yields channel occupancy snapshots. *core.Store satisfies
// it.
type Occupancy interface {
	Counts() []core.ChannelCount
}

// Feed registers a websocket event feed route. *monitor.Hub satisfies
// it.
type Feed interface {
	Register(e *echo.Echo)
}

// Server is the Echo application.
type Server struct {
	echo   *echo.Echo
	counts Occupancy
	log    zerolog.Logger
}

// New constructs the Echo app and registers all routes. metrics and
// feed may be nil; their routes are skipped.
func New(counts Occupancy, metrics http.Handler, feed Feed, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("api request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{echo: e, counts: counts, log: log}
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/channels", s.handleChannels)
	if metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics))
	}
	if feed != nil {
		feed.Register(e)
	}
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
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
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Clients  int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	counts := s.counts.Counts()
	clients := 0
	for _, ch := range counts {
		clients += ch.Active + ch.Queued
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Channels: len(counts),
		Clients:  clients,
	})
}

func (s *Server) handleChannels(c echo.Context) error {
	counts := s.counts.Counts()
	if counts == nil {
		counts = []core.ChannelCount{}
	}
	return c.JSON(http.StatusOK, counts)
}
