package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/blitz/internal/cdn"
	"github.com/sakif/blitz/internal/config"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/executor/docker"
	"github.com/sakif/blitz/internal/executor/jsvm"
	"github.com/sakif/blitz/internal/executor/process"
	"github.com/sakif/blitz/internal/metrics"
	"github.com/sakif/blitz/internal/sourcecache"
)

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if modeFlag != "" {
		cfg.Mode = modeFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// engine is the assembled execution stack. close releases the docker pool
// when one was started.
type engine struct {
	dispatcher *executor.Dispatcher
	close      func()
}

// buildEngine wires the strategies selected by cfg into a Dispatcher. m may
// be nil.
//
//	cache → resolver → fetcher → jsvm.Modules ┐
//	                             jsvm.Simple  ├→ Dispatcher
//	workspace → [docker.Runner] → process.Sandbox ┘
func buildEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*engine, error) {
	mode, err := executor.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	cache := sourcecache.New()
	resolver, err := cdn.NewResolver(cfg.CDNOrigin)
	if err != nil {
		return nil, fmt.Errorf("configuring CDN origin: %w", err)
	}
	fetcher := cdn.NewFetcher(resolver, cache, cdn.FetcherConfig{
		Timeout:  cfg.Timeout,
		CacheTTL: cfg.CacheTTL,
	}, logger)

	jsCfg := jsvm.Config{Timeout: cfg.Timeout}
	e := &engine{close: func() {}}

	var dependent executor.Strategy
	switch mode {
	case executor.ModeEmbedded:
		dependent = jsvm.NewModules(jsCfg, resolver, fetcher, logger)

	case executor.ModeProcess:
		var opts []process.Option
		if m != nil {
			opts = append(opts, process.WithInstallRecorder(m))
		}
		if cfg.Runner == "docker" {
			dcfg := docker.DefaultConfig()
			dcfg.Image = cfg.DockerImage
			dcfg.WorkspaceDir = cfg.WorkspaceDir
			dcfg.PoolSize = cfg.DockerPoolSize
			dcfg.MemoryLimit = cfg.DockerMemoryMB * 1024 * 1024
			dcfg.CPULimit = cfg.DockerCPUs

			runner, err := docker.New(dcfg, logger)
			if err != nil {
				return nil, fmt.Errorf("starting docker runner: %w", err)
			}
			e.close = func() {
				if err := runner.Close(); err != nil {
					logger.Warn("closing docker runner", slog.String("error", err.Error()))
				}
			}
			opts = append(opts, process.WithRunner(runner))
		}

		dependent = process.NewSandbox(process.Config{
			WorkspaceDir:   cfg.WorkspaceDir,
			EntryFile:      cfg.EntryFile,
			NodeBinary:     cfg.NodeBinary,
			NpmBinary:      cfg.NpmBinary,
			Timeout:        cfg.Timeout,
			InstallTimeout: cfg.InstallTimeout,
		}, logger, opts...)
	}

	dcfg := executor.DispatcherConfig{
		Simple:    jsvm.NewSimple(jsCfg, logger),
		Dependent: dependent,
		Mode:      mode,
	}
	if m != nil {
		dcfg.Recorder = m
		m.WatchCache(cache)
		m.WatchFetcher(fetcher)
		m.WatchLiveRealms(jsvm.LiveRealms)
	}

	e.dispatcher, err = executor.NewDispatcher(dcfg, logger)
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}
