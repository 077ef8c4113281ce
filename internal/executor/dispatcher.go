package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sakif/blitz/internal/apperror"
)

// Mode is the deployment-wide choice of strategy for requests that declare
// packages. It is fixed when the Dispatcher is built and never inferred from
// a request.
type Mode string

const (
	// ModeEmbedded runs dependent code in the embedded interpreter with a
	// module loader restricted to the trusted CDN origin.
	ModeEmbedded Mode = "embedded"
	// ModeProcess installs packages into a workspace and runs a real
	// interpreter process.
	ModeProcess Mode = "process"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEmbedded, ModeProcess:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("executor: unknown dependency mode %q (want %q or %q)", s, ModeEmbedded, ModeProcess)
	}
}

// Dispatcher is the single entry point for running code. It picks a
// strategy, converts every failure (panics included) into a failed
// ExecutionResult and balances lifecycle events.
type Dispatcher struct {
	simple   Strategy
	deps     Strategy
	mode     Mode
	logger   *slog.Logger
	recorder Recorder
}

// DispatcherConfig wires the strategies. Simple handles requests without
// packages; Dependent handles the rest according to Mode.
type DispatcherConfig struct {
	Simple    Strategy
	Dependent Strategy
	Mode      Mode
	Recorder  Recorder
}

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.Simple == nil || cfg.Dependent == nil {
		return nil, errors.New("executor: both strategies are required")
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	return &Dispatcher{
		simple:   cfg.Simple,
		deps:     cfg.Dependent,
		mode:     cfg.Mode,
		logger:   logger,
		recorder: cfg.Recorder,
	}, nil
}

// Mode returns the configured dependency mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// Select is the strategy policy: no packages means the no-dependency path,
// anything else goes to the configured dependent strategy.
func (d *Dispatcher) Select(req ExecutionRequest) Strategy {
	if len(req.Packages) == 0 {
		return d.simple
	}
	return d.deps
}

// Execute runs req and always returns a result. observer may be nil.
func (d *Dispatcher) Execute(ctx context.Context, req ExecutionRequest, observer Observer) (result *ExecutionResult) {
	start := time.Now()
	strategy := d.Select(req)

	events := newNotifier(observer, d.logger)
	phases := newTracker(events)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("strategy panicked",
				slog.String("strategy", strategy.Name()),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			result = failed(fmt.Errorf("internal error: %v", r))
		}

		phases.closeAll()
		events.close()

		result.Strategy = strategy.Name()
		result.Duration = time.Since(start)
		if d.recorder != nil {
			d.recorder.ObserveExecution(result.Strategy, result.ErrorKind, result.Duration)
		}

		logAttrs := []any{
			slog.String("strategy", result.Strategy),
			slog.Int("packages", len(req.Packages)),
			slog.Bool("success", result.Success),
			slog.Duration("duration", result.Duration),
		}
		if !result.Success {
			logAttrs = append(logAttrs, slog.String("errorKind", result.ErrorKind))
		}
		d.logger.Debug("execution finished", logAttrs...)
	}()

	output, err := strategy.Run(ctx, req, phases.report)
	if err != nil {
		return failed(err)
	}
	if output == nil {
		output = []OutputEvent{}
	}
	return &ExecutionResult{Success: true, Output: output}
}

func failed(err error) *ExecutionResult {
	return &ExecutionResult{
		Success:   false,
		Output:    []OutputEvent{},
		Error:     err.Error(),
		ErrorKind: apperror.Kind(err),
	}
}
