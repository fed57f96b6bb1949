// Package api exposes the HTTP surface: job creation, sequence
// pre-registration, the SSE stream, cancellation, event replay, state
// reads, and health/metrics.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proteinops/foldy/pkg/archive"
	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/reasoner"
	"github.com/proteinops/foldy/pkg/store"
)

// Interrupter fires best-effort interrupts at a reasoner backend.
type Interrupter interface {
	Interrupt(ctx context.Context, session models.ReasonerSession) error
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg *config.Config

	kvClient *kv.Client
	state    *store.StateStore
	meta     *store.MetaStore
	queue    *store.EventQueue
	sessions *store.ReasonerStore

	// streamer drives live jobs; mockStreamer serves the ?mock=true
	// escape hatch regardless of the configured default.
	streamer     reasoner.Streamer
	mockStreamer reasoner.Streamer
	interrupter  Interrupter

	// arch is nil when no archive database is configured.
	arch *archive.Client

	logger *slog.Logger

	echo    *echo.Echo
	httpSrv *http.Server
}

// Deps bundles the constructor inputs for NewServer.
type Deps struct {
	Config       *config.Config
	KV           *kv.Client
	State        *store.StateStore
	Meta         *store.MetaStore
	Queue        *store.EventQueue
	Sessions     *store.ReasonerStore
	Streamer     reasoner.Streamer
	MockStreamer reasoner.Streamer
	Interrupter  Interrupter
	Archive      *archive.Client
	Logger       *slog.Logger
}

// NewServer wires the routes and middleware.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:          d.Config,
		kvClient:     d.KV,
		state:        d.State,
		meta:         d.Meta,
		queue:        d.Queue,
		sessions:     d.Sessions,
		streamer:     d.Streamer,
		mockStreamer: d.MockStreamer,
		interrupter:  d.Interrupter,
		arch:         d.Archive,
		logger:       d.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	e := echo.New()
	e.Use(securityHeaders())
	if len(d.Config.HTTP.CORSOrigins) > 0 {
		e.Use(corsMiddleware(d.Config.HTTP.CORSOrigins))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/jobs", s.createJobHandler)
	v1.POST("/jobs/:id/sequence", s.registerSequenceHandler)
	v1.GET("/jobs/:id/stream", s.streamJobHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
	v1.GET("/jobs/:id/events", s.getEventsHandler)
	v1.GET("/jobs/:id/state", s.getStateHandler)

	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	s.echo = e
	return s
}

// Start serves HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE streams are long-lived.
	}

	s.logger.Info("HTTP server listening", slog.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, including open SSE streams, until
// the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
