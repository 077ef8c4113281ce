package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/blitz/internal/metrics"
	"github.com/sakif/blitz/internal/middleware"
	"github.com/sakif/blitz/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the blitz HTTP API",
	Long: `Start the blitz HTTP server.

Endpoints:
  POST /api/execute      run a script
  GET  /api/execute/ws   run scripts over a websocket, with lifecycle events
  GET  /api/runs         run history
  GET  /api/imports      list the modules a script imports
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics

Examples:
  blitz serve
  BLITZ_EXEC_MODE=process blitz serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides BLITZ_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}

	logger := newLogger(cfg.LogConfig, os.Stdout)
	m := metrics.New()

	eng, err := buildEngine(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	defer eng.close()

	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		DBPath:       cfg.DBPath,
		JWTSecret:    cfg.JWTSecret,
		MaxCodeSize:  cfg.MaxCodeSize,
		Mode:         cfg.Mode,
		WriteTimeout: cfg.Timeout + cfg.InstallTimeout + 30*time.Second,

		RateLimitEnabled: cfg.RateLimitEnabled,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		},
	}, eng.dispatcher, m, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
