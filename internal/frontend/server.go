// Package frontend serves the HTTP API: run submission and inspection,
// the live progress event stream, Prometheus metrics and health.
package frontend

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/policity/policity/internal/build"
	"github.com/policity/policity/internal/config"
	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/notify"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/pipeline"
)

// Server is the HTTP frontend. It owns the router, the API handlers and
// the lifecycle of the underlying http.Server.
type Server struct {
	config     *config.Config
	api        *API
	registry   *prometheus.Registry
	httpServer *http.Server
	listener   net.Listener // optional pre-bound listener (for tests)
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithListener sets a pre-bound listener for the server. When set, the
// server serves on it instead of binding the configured address. This is
// useful for tests to avoid race conditions with port allocation.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// NewServer wires the API over the given store, orchestrator, graph and
// event broadcaster. The registry backs the /metrics endpoint; a nil
// registry disables it.
func NewServer(cfg *config.Config, store persistence.Store, orch *pipeline.Orchestrator, graph *pipeline.DependencyGraph, events *notify.Broadcaster, registry *prometheus.Registry, opts ...ServerOption) *Server {
	srv := &Server{
		config:   cfg,
		api:      newAPI(store, orch, graph, events),
		registry: registry,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Serve starts the HTTP server and blocks until ctx is cancelled or a
// termination signal arrives, then shuts down gracefully.
func (srv *Server) Serve(ctx context.Context) error {
	// Background runs submitted through the API outlive their request;
	// they stop with the server context and resume on resubmission.
	srv.api.baseCtx = ctx

	addr := srv.config.Server.Addr()
	srv.httpServer = &http.Server{
		Handler:           srv.routes(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	logger.Info(ctx, "Server is starting", "addr", addr)

	go srv.startServer(ctx)

	srv.waitForShutdown(ctx)
	return nil
}

// routes assembles the full router: middleware chain, API routes,
// metrics and health.
func (srv *Server) routes() *chi.Mux {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.config.Logging.Format == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	allowedOrigins := srv.config.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Content-Encoding", "Accept"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RedirectSlashes)

	srv.api.Routes(r)

	if srv.registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	r.Get("/healthz", srv.handleHealth)

	return r
}

func (srv *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": build.Version,
	})
}

func (srv *Server) startServer(ctx context.Context) {
	var err error
	if srv.listener != nil {
		err = srv.httpServer.Serve(srv.listener)
	} else {
		err = srv.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "Server failed to start or unexpected shutdown", "err", err)
	}
}

// Shutdown gracefully shuts down the server.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	logger.Info(ctx, "Server is shutting down", "addr", srv.httpServer.Addr)

	shutdownCtx, cancel := context.WithTimeout(ctx, srv.shutdownTimeout())
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	return srv.httpServer.Shutdown(shutdownCtx)
}

// waitForShutdown blocks until the context is done or a termination
// signal is received, then drains the server.
func (srv *Server) waitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case sig := <-quit:
		logger.Info(ctx, "Received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.shutdownTimeout())
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown server gracefully", "err", err)
	}
}

func (srv *Server) shutdownTimeout() time.Duration {
	if t := srv.config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 10 * time.Second
}
