// Package api implements the Query Surface: a chi-routed HTTP server
// exposing historical transaction lookups, aggregates, health, metrics,
// and the WebSocket upgrade point served by the hub package.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/chainrelay/mempool-gateway/api/middleware"
	"github.com/chainrelay/mempool-gateway/hub"
	"github.com/chainrelay/mempool-gateway/store"
	"github.com/chainrelay/mempool-gateway/supervisor"
)

// LivenessReporter reports per-chain upstream session state for the
// health endpoint. *supervisor.Supervisor satisfies this.
type LivenessReporter interface {
	Liveness() []supervisor.ChainLiveness
}

// Server is the Query Surface's HTTP server.
type Server struct {
	config   *Config
	logger   *zap.Logger
	storage  store.Storage
	hub      *hub.Hub
	liveness LivenessReporter
	router   *chi.Mux
	server   *http.Server

	upgrader websocket.Upgrader
}

// NewServer builds a Server. h may be nil if the WebSocket surface is
// not needed (e.g. in tests exercising only the REST routes). sv may
// be nil, in which case GET /health reports no per-chain liveness.
func NewServer(config *Config, logger *zap.Logger, storage store.Storage, h *hub.Hub, sv LivenessReporter) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config:   config,
		logger:   logger,
		storage:  storage,
		liveness: sv,
		hub:      h,
		router:   chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	var subscriberCount func() int
	if s.hub != nil {
		subscriberCount = s.hub.SubscriberCount
	}
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger, subscriberCount))
	s.router.Use(middleware.Recoverer)

	if s.config.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/txs", s.handleListTransactions)
	s.router.Get("/txs/{hash}", s.handleGetTransaction)
	s.router.Get("/stats", s.handleStats)

	if s.hub != nil {
		s.router.Get(s.config.WebSocketPath, s.handleWebSocket)
	}
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("starting query surface", zap.String("address", s.config.Address()))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down within the configured
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping query surface")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := hub.NewClient(s.hub, conn, s.logger)
	s.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

func healthTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
