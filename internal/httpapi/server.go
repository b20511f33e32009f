// Package httpapi implements the HTTP surface of spec §6/§12: the public
// MP3 stream, telemetry endpoints, and the optional source-override
// control, as an Echo application.
//
// Grounded directly on rustyguts-bken/server/internal/httpapi/server.go:
// same Echo construction (HideBanner/HidePort, Recover + a custom slog
// request-logging middleware that debug-logs high-frequency polling
// endpoints and info-logs everything else), same Run(ctx, addr) shutdown
// shape.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tower/internal/fallback"
	"tower/internal/fanout"
	"tower/internal/pcmformat"
	"tower/internal/ring"
	"tower/internal/station"
)

// StationView is the subset of station.Manager the HTTP surface depends on.
type StationView interface {
	Mode() station.Mode
	EncoderRunning() bool
}

// Server is the Echo application implementing Tower's HTTP surface.
type Server struct {
	echo *echo.Echo
	log  *slog.Logger

	station   StationView
	pcmRing   *ring.Ring
	fanout    *fanout.Fanout
	fallback  *fallback.Provider
	startedAt time.Time

	allowSourceOverride bool
}

// Config carries the values the HTTP surface needs but doesn't own.
type Config struct {
	AllowSourceOverride bool
}

// New constructs the Echo app and registers every route of spec §12.
func New(log *slog.Logger, cfg Config, station StationView, pcmRing *ring.Ring, bf *fanout.Fanout, fb *fallback.Provider) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:                e,
		log:                 log,
		station:             station,
		pcmRing:             pcmRing,
		fanout:              bf,
		fallback:            fb,
		startedAt:           time.Now(),
		allowSourceOverride: cfg.AllowSourceOverride,
	}
	s.echo.Use(s.requestLogger())
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			if path == "/tower/buffer" {
				s.log.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				s.log.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/stream", s.handleStream)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/tower/buffer", s.handleBuffer)
	s.echo.POST("/control/source", s.handleControlSource)
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// matching the teacher's Run(ctx, addr) shutdown shape exactly.
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
		s.log.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.log.Info("http server stopped")
		return nil
	}
}

// handleStream registers a listener sink with the fanout and streams MP3
// bytes until the client disconnects. No backfill: delivery starts from
// the current moment.
func (s *Server) handleStream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "audio/mpeg")
	res.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	// Send the headers now rather than with the first frame.
	res.Flush()

	id, done := s.fanout.Register(res)
	s.log.Info("stream: listener connected", "listener_id", id)

	select {
	case <-c.Request().Context().Done():
	case <-done:
	}
	s.fanout.Unregister(id)
	s.log.Info("stream: listener disconnected", "listener_id", id)
	return nil
}

type statusResponse struct {
	Mode           string `json:"mode"`
	ListenerCount  int    `json:"listener_count"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	BufferedBytes  string `json:"buffered_bytes_human"`
	FallbackTier   string `json:"fallback_tier,omitempty"`
	EncoderRunning bool   `json:"encoder_running"`
}

func (s *Server) handleStatus(c echo.Context) error {
	mode := s.station.Mode().String()
	stats := s.pcmRing.Stats()

	resp := statusResponse{
		Mode:           mode,
		ListenerCount:  s.fanout.ListenerCount(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		BufferedBytes:  humanize.Bytes(uint64(stats.Count) * pcmformat.FrameBytes),
		EncoderRunning: s.station.EncoderRunning(),
	}
	if mode == "fallback" && s.fallback != nil {
		resp.FallbackTier = s.fallback.ActiveTier().String()
	}
	return c.JSON(http.StatusOK, resp)
}

type bufferResponse struct {
	Capacity      int     `json:"capacity"`
	Count         int     `json:"count"`
	OverflowCount int64   `json:"overflow_count"`
	Ratio         float64 `json:"ratio"`
}

func (s *Server) handleBuffer(c echo.Context) error {
	stats := s.pcmRing.Stats()
	return c.JSON(http.StatusOK, bufferResponse{
		Capacity:      stats.Capacity,
		Count:         stats.Count,
		OverflowCount: stats.OverflowCount,
		Ratio:         stats.Ratio(),
	})
}

type controlSourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleControlSource(c echo.Context) error {
	if !s.allowSourceOverride {
		return echo.NewHTTPError(http.StatusForbidden, "source override is disabled")
	}
	var req controlSourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var tier fallback.Tier
	switch req.Source {
	case "tone":
		tier = fallback.TierTone
	case "silence":
		tier = fallback.TierSilence
	case "file":
		tier = fallback.TierFile
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "source must be one of tone, silence, file")
	}

	s.fallback.SetOverride(tier)
	s.log.Info("control: source override set", "source", req.Source)
	return c.JSON(http.StatusOK, map[string]string{"source": req.Source})
}
