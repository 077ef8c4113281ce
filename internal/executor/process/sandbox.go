package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/imports"
)

// Config holds the settings for the process sandbox.
type Config struct {
	WorkspaceDir   string
	EntryFile      string
	NodeBinary     string
	NpmBinary      string
	Timeout        time.Duration
	InstallTimeout time.Duration
}

// DefaultConfig mirrors the defaults used by the serve command.
func DefaultConfig() Config {
	return Config{
		WorkspaceDir:   "./data/workspace",
		EntryFile:      "index.js",
		NodeBinary:     "node",
		NpmBinary:      "npm",
		Timeout:        10 * time.Second,
		InstallTimeout: 2 * time.Minute,
	}
}

// InstallRecorder observes dependency installs.
type InstallRecorder interface {
	ObserveInstall(packages int, ok bool, d time.Duration)
}

// Sandbox is the process execution strategy. Packages are installed into the
// workspace on the host; the entry file runs through the configured Runner.
type Sandbox struct {
	cfg       Config
	workspace *Workspace
	runner    Runner
	installer Runner
	recorder  InstallRecorder
	logger    *slog.Logger
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithRunner runs the entry file through r instead of on the host.
func WithRunner(r Runner) Option {
	return func(s *Sandbox) { s.runner = r }
}

// WithInstaller replaces the runner used for package installs.
func WithInstaller(r Runner) Option {
	return func(s *Sandbox) { s.installer = r }
}

func WithInstallRecorder(rec InstallRecorder) Option {
	return func(s *Sandbox) { s.recorder = rec }
}

func NewSandbox(cfg Config, logger *slog.Logger, opts ...Option) *Sandbox {
	def := DefaultConfig()
	if cfg.EntryFile == "" {
		cfg.EntryFile = def.EntryFile
	}
	if cfg.NodeBinary == "" {
		cfg.NodeBinary = def.NodeBinary
	}
	if cfg.NpmBinary == "" {
		cfg.NpmBinary = def.NpmBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = def.InstallTimeout
	}

	s := &Sandbox{
		cfg:       cfg,
		workspace: NewWorkspace(cfg.WorkspaceDir, cfg.EntryFile),
		runner:    LocalRunner{},
		installer: LocalRunner{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) Name() string { return "process" }

// Workspace returns the sandbox's workspace.
func (s *Sandbox) Workspace() *Workspace { return s.workspace }

// Run walks the workspace state machine: prepare the manifest, install
// missing packages, write the entry file, run it. The timeout budget covers
// waiting for the workspace and running the script; installs have their own.
func (s *Sandbox) Run(ctx context.Context, req executor.ExecutionRequest, notify executor.Notify) ([]executor.OutputEvent, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	waitCtx, cancelWait := context.WithDeadline(ctx, deadline)
	defer cancelWait()

	release, err := s.workspace.Acquire(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperror.TimedOut(s.cfg.Timeout)
		}
		return nil, apperror.ProcessFailed("waiting for workspace: " + err.Error())
	}
	defer release()

	moduleType := TypeCommonJS
	if imports.HasModuleSyntax(req.Code) {
		moduleType = TypeModule
	}
	if err := s.workspace.Prepare(moduleType); err != nil {
		return nil, apperror.ProcessFailed(err.Error())
	}

	if len(req.Packages) > 0 {
		remaining := time.Until(deadline)
		notify(executor.StatusInstallStarted)
		err := s.install(ctx, req.Packages)
		notify(executor.StatusInstallFinished)
		if err != nil {
			return nil, err
		}
		deadline = time.Now().Add(remaining)
	}

	if err := s.workspace.WriteEntry(req.Code); err != nil {
		return nil, apperror.ProcessFailed(err.Error())
	}

	runCtx, cancelRun := context.WithDeadline(ctx, deadline)
	defer cancelRun()

	notify(executor.StatusExecutionStarted)
	out, err := s.runner.Run(runCtx, Command{
		Path: s.cfg.NodeBinary,
		Args: []string{s.cfg.EntryFile},
		Dir:  s.workspace.Dir(),
		Env:  scriptEnv(s.workspace.Dir()),
	})
	notify(executor.StatusExecutionFinished)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apperror.TimedOut(s.cfg.Timeout)
	case err != nil:
		return nil, apperror.ProcessFailed(err.Error())
	case out.Stderr != "":
		return nil, apperror.ProcessFailed(strings.TrimSpace(out.Stderr))
	case out.ExitCode != 0:
		return nil, apperror.ProcessFailed(fmt.Sprintf("process exited with code %d", out.ExitCode))
	}

	return []executor.OutputEvent{{
		Channel: executor.ChannelLog,
		Value:   strings.TrimRight(out.Stdout, " \t\r\n"),
	}}, nil
}

// scriptEnv is the complete environment of a script run. None of the
// server's variables reach untrusted code.
func scriptEnv(dir string) []string {
	env := []string{"HOME=" + dir, "NODE_ENV=production"}
	if p := os.Getenv("PATH"); p != "" {
		env = append(env, "PATH="+p)
	}
	return env
}

// install validates every package and installs the ones not yet present.
func (s *Sandbox) install(ctx context.Context, packages []string) error {
	for _, p := range packages {
		if err := ValidatePackage(p); err != nil {
			return apperror.InstallFailed(err.Error())
		}
	}

	missing := s.workspace.Missing(packages)
	if len(missing) == 0 {
		s.logger.Debug("packages already installed", slog.Int("count", len(packages)))
		return nil
	}

	installCtx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	defer cancel()

	start := time.Now()
	s.logger.Info("installing packages", slog.String("packages", strings.Join(missing, " ")))

	args := append([]string{"install", "--no-audit", "--no-fund", "--save"}, missing...)
	out, err := s.installer.Run(installCtx, Command{
		Path:       s.cfg.NpmBinary,
		Args:       args,
		Dir:        s.workspace.Dir(),
		InheritEnv: true,
	})
	ok := err == nil && out.ExitCode == 0
	if s.recorder != nil {
		s.recorder.ObserveInstall(len(missing), ok, time.Since(start))
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperror.InstallFailed(fmt.Sprintf("timed out after %s", s.cfg.InstallTimeout))
	case err != nil:
		return apperror.InstallFailed(err.Error())
	case out.ExitCode != 0:
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("%s exited with code %d", s.cfg.NpmBinary, out.ExitCode)
		}
		s.logger.Warn("package install failed", slog.String("error", msg))
		return apperror.InstallFailed(msg)
	}

	s.logger.Info("packages installed",
		slog.Int("count", len(missing)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
