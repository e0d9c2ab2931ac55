// Package api is the HTTP serving surface: a lifecycle-managed server, the
// middleware chain, the run coordinator, and the websocket log stream. REST
// handlers live in api/handlers.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/api/handlers"
	"github.com/hypatia-sci/hypatia/config"
	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/internal/metrics"
	"github.com/hypatia-sci/hypatia/llm"
)

// Deps are the assembled components the routes serve.
type Deps struct {
	Store     experiment.Store
	Runner    *Runner
	Collector *metrics.Collector
	Gateway   *llm.Gateway
	Version   string
}

// NewHandler builds the full route table behind the middleware chain.
func NewHandler(cfg config.ServerConfig, deps Deps, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()

	handlers.NewExperimentHandler(deps.Store, logger).Register(mux)
	handlers.NewRunHandler(deps.Runner, logger).Register(mux)

	health := handlers.NewHealthHandler(deps.Version, logger)
	health.RegisterCheck("store", deps.Store.Ping)
	if deps.Gateway != nil {
		health.RegisterCheck("llm", func(ctx context.Context) error {
			status, err := deps.Gateway.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !status.Healthy {
				return fmt.Errorf("provider %s reports unhealthy", deps.Gateway.Provider())
			}
			return nil
		})
	}
	health.Register(mux)

	mux.Handle("GET /api/v1/run/logs/ws", NewLogStream(deps.Runner, cfg.AllowedOrigins, logger))

	if deps.Collector != nil {
		mux.Handle("GET /metrics", deps.Collector.Handler())
	}

	mws := []Middleware{
		RequestID(),
		Recovery(logger),
		RequestLogger(logger),
	}
	if deps.Collector != nil {
		mws = append(mws, Metrics(deps.Collector))
	}
	mws = append(mws, Tracing(), CORS(cfg.AllowedOrigins))
	if cfg.RateLimitRPS > 0 {
		mws = append(mws, RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	mws = append(mws, Auth(cfg.APIKey, cfg.JWTSecret))

	return Chain(mux, mws...)
}

// Server runs the HTTP listener with graceful shutdown.
type Server struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	cfg      config.ServerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewServer wraps handler in a lifecycle-managed http.Server.
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		errCh:  make(chan error, 1),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Addr reports the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Errors surfaces asynchronous serve failures.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.listener = nil
	s.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a serve failure, then shuts
// down gracefully.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		if err != nil {
			s.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}
