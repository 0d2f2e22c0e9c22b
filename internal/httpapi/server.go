// Package httpapi exposes the runtime's debug HTTP surface: health,
// per-minion usage, Prometheus metrics, and a typed event websocket feed
//. It mirrors the structure of a thin
// Gin server with one handler per concern and a broadcast hub for the
// websocket feed, not a full public API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/observability"
	"github.com/latticehq/minionrt/internal/stream"
	"github.com/latticehq/minionrt/internal/usage"
)

// Server is the runtime's debug HTTP/WebSocket server.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server

	ledger  *usage.Ledger
	streams *stream.Manager
	metrics *observability.Metrics
	hub     *Hub
	logger  logging.Logger
}

// Option customizes Server construction.
type Option func(*Server)

// WithMetrics wires a Prometheus registry, exposing it at /metrics and
// subscribing it to the stream Manager's active-stream gauge.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger overrides the server's diagnostic logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// New builds a Server around a usage ledger and the process-wide stream
// Manager. ledger must be non-nil; streams may be nil, in which case no
// events reach /events and every minion reports active=false. The server is
// read/debug-only and never mutates minion state itself.
func New(ledger *usage.Ledger, streams *stream.Manager, addr string, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ledger:  ledger,
		streams: streams,
		hub:     newHub(),
		logger:  logging.OrNop(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	if streams != nil {
		streams.Subscribe(s.hub)
		if s.metrics != nil {
			streams.Subscribe(s.metrics)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	s.router = router
	s.registerRoutes()

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/minions/:id/usage", s.handleMinionUsage)
	s.router.GET("/events", s.handleEvents)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Serve starts the hub's broadcast loop and blocks serving HTTP until ctx
// is canceled or an unrecoverable listener error occurs.
func (s *Server) Serve(ctx context.Context) error {
	go s.hub.run()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		s.hub.close()
		return ctx.Err()
	case err := <-errCh:
		s.hub.close()
		return err
	}
}

// Handler returns the underlying http.Handler, primarily for tests that
// want to drive the server with httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.router }
