// Package server is the composition root of the HTTP API: it wires the
// database, service, handlers and middleware into a chi router and runs
// the http.Server with graceful shutdown.
//
// DEPENDENCY CHAIN:
//
//	cmd/blitz creates:   Executor (dispatcher), Metrics
//	server.New creates:  sqlite.DB → RunService → handlers → router
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/blitz/internal/auth"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/handler"
	"github.com/sakif/blitz/internal/metrics"
	"github.com/sakif/blitz/internal/middleware"
	sqliteRepo "github.com/sakif/blitz/internal/repository/sqlite"
	"github.com/sakif/blitz/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

// Config holds server configuration.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string // empty disables API authentication
	MaxCodeSize int
	Mode        string // reported by /healthz

	// WriteTimeout must cover the longest execution, installs included.
	WriteTimeout time.Duration

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig
}

// Server represents the HTTP server and all its dependencies. It owns the
// database connection and closes it when Start returns.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	limiter *middleware.RateLimiter
}

// New opens the database and builds the router.
func New(cfg Config, exec executor.Executor, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(exec, m); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the router. Tests serve it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start does this itself on return.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /healthz               → liveness + database ping
//	GET    /metrics               → Prometheus exposition
//	POST   /api/execute           → run a script            (rate limited)
//	GET    /api/execute/ws        → run scripts, streaming  (rate limited)
//	GET    /api/imports           → list a script's imports
//	GET    /api/runs              → run history
//	GET    /api/runs/{id}         → one run
//	DELETE /api/runs/{id}         → delete a run
//
// Everything under /api requires a bearer token when a JWT secret is set.
//
// MIDDLEWARE ORDER MATTERS: RequestID must run before Logger so every log
// line carries the ID, and Recoverer must wrap the handlers it protects.
func (s *Server) setupRoutes(exec executor.Executor, m *metrics.Metrics) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	if m != nil {
		s.router.Use(middleware.Metrics(m))
	}

	runs := service.NewRunService(exec, s.db, s.config.MaxCodeSize, s.logger)
	executeHandler := handler.NewExecuteHandler(runs, s.config.MaxCodeSize, s.logger)
	runHandler := handler.NewRunHandler(runs, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.config.Mode, s.logger)

	s.router.Get("/healthz", healthHandler.HandleHealth)
	if m != nil {
		executeHandler.TrackConnections(m.WSConnections)
		s.router.Handle("/metrics", m.Handler())
	}

	var tokens *auth.TokenService
	if s.config.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	} else {
		s.logger.Warn("BLITZ_JWT_SECRET not set, API authentication is disabled")
	}

	if s.config.RateLimitEnabled {
		rl := s.config.RateLimit
		if m != nil && rl.OnReject == nil {
			rl.OnReject = m.RateLimited.Inc
		}
		s.limiter = middleware.NewRateLimiter(rl)
	}

	s.router.Route("/api", func(r chi.Router) {
		if tokens != nil {
			r.Use(auth.RequireAuth(tokens))
		}

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/execute", executeHandler.HandleExecute)
			r.Get("/execute/ws", executeHandler.HandleStream)
		})

		r.Get("/imports", handler.HandleImports)
		r.Get("/runs", runHandler.HandleList)
		r.Get("/runs/{id}", runHandler.HandleGet)
		r.Delete("/runs/{id}", runHandler.HandleDelete)
	})

	return nil
}

// Start serves until ctx is cancelled, then shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait up to 30s for in-flight requests
//  3. Close the database
func (s *Server) Start(ctx context.Context) error {
	defer s.db.Close()

	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if s.limiter != nil {
		go s.sweep(sweepCtx)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("mode", s.config.Mode),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}
