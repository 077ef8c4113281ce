package jsvm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/imports"
)

// Simple runs scripts that declare no packages. The runtime exposes nothing
// beyond the language built-ins and console; require throws.
type Simple struct {
	cfg    Config
	logger *slog.Logger
}

func NewSimple(cfg Config, logger *slog.Logger) *Simple {
	return &Simple{cfg: cfg.withDefaults(), logger: logger}
}

func (s *Simple) Name() string { return "embedded" }

func (s *Simple) Run(ctx context.Context, req executor.ExecutionRequest, notify executor.Notify) ([]executor.OutputEvent, error) {
	if imports.HasModuleSyntax(req.Code) {
		return nil, apperror.EvaluationFailed("import/export statements are not supported when no packages are declared")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	r := newRealm(runCtx, s.cfg)
	defer r.close()

	r.installConsole()
	_ = r.vm.Set("require", func(call goja.FunctionCall) goja.Value {
		panic(r.vm.NewTypeError("require(%q) is not supported when no packages are declared", call.Argument(0).String()))
	})

	notify(executor.StatusExecutionStarted)
	err := r.guard(func() (goja.Value, error) {
		return r.vm.RunScript("index.js", req.Code)
	})
	notify(executor.StatusExecutionFinished)

	if err != nil && imports.HasDynamicImport(req.Code) && strings.HasPrefix(err.Error(), "SyntaxError") {
		err = apperror.EvaluationFailed("import() is not supported when no packages are declared")
	}
	if err != nil {
		s.logger.Debug("script failed", slog.String("error", err.Error()))
		return nil, err
	}
	return r.output, nil
}
