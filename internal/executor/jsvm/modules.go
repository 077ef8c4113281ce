package jsvm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/cdn"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/policy"
)

const entryFile = "index.js"

// Fetcher returns module source for a resolved URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (cdn.Source, error)
}

// Modules runs scripts that declare packages. Imports are served from the
// trusted CDN origin through a loader that enforces the restricted-module
// policy before any lookup.
type Modules struct {
	cfg      Config
	resolver *cdn.Resolver
	fetcher  Fetcher
	logger   *slog.Logger
}

func NewModules(cfg Config, resolver *cdn.Resolver, fetcher Fetcher, logger *slog.Logger) *Modules {
	return &Modules{
		cfg:      cfg.withDefaults(),
		resolver: resolver,
		fetcher:  fetcher,
		logger:   logger,
	}
}

func (m *Modules) Name() string { return "embedded-modules" }

func (m *Modules) Run(ctx context.Context, req executor.ExecutionRequest, notify executor.Notify) ([]executor.OutputEvent, error) {
	code, err := toCommonJS(req.Code, entryFile)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	r := newRealm(runCtx, m.cfg)
	defer r.close()
	r.installConsole()

	l := &loader{realm: r, resolver: m.resolver, fetcher: m.fetcher, logger: m.logger}

	notify(executor.StatusExecutionStarted)
	err = r.guard(func() (goja.Value, error) {
		_, err := l.evaluate(entryFile, code, "")
		return nil, err
	})
	notify(executor.StatusExecutionFinished)

	if err != nil {
		m.logger.Debug("module script failed", slog.String("error", err.Error()))
		return nil, err
	}
	return r.output, nil
}

// loader implements require for one realm. Modules are memoised by URL for
// the life of the realm.
type loader struct {
	realm    *realm
	resolver *cdn.Resolver
	fetcher  Fetcher
	logger   *slog.Logger
}

// requireFrom returns the require function for a module located at referrer.
func (l *loader) requireFrom(referrer string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		exports, err := l.load(call.Argument(0).String(), referrer)
		if err == nil {
			return exports
		}

		var interrupted *goja.InterruptedError
		var thrown *goja.Exception
		switch {
		case errors.As(err, &interrupted):
			panic(interrupted)
		case errors.As(err, &thrown):
			// The module itself threw; the importer may catch it.
			panic(thrown)
		default:
			l.realm.throw(err)
		}
		return nil
	}
}

func (l *loader) load(specifier, referrer string) (goja.Value, error) {
	if !policy.IsAllowed(specifier) {
		return nil, apperror.PolicyViolation(policy.Normalize(specifier))
	}

	url, err := l.resolver.Resolve(specifier, referrer)
	if err != nil {
		return nil, err
	}
	// "/fs", "https://esm.sh/crypto" and "/node/os.mjs" name restricted
	// modules too.
	if !policy.IsAllowed(url) {
		return nil, apperror.PolicyViolation(policy.Normalize(url))
	}
	if mod, ok := l.realm.modules[url]; ok {
		return mod.Get("exports"), nil
	}

	src, err := l.fetcher.Fetch(l.realm.ctx, url)
	if err != nil {
		if ctxErr := l.realm.ctx.Err(); ctxErr != nil {
			return nil, apperror.TimedOut(l.realm.timeout)
		}
		return nil, err
	}
	if !policy.IsAllowed(src.URL) {
		return nil, apperror.PolicyViolation(policy.Normalize(src.URL))
	}
	if mod, ok := l.realm.modules[src.URL]; ok {
		l.realm.modules[url] = mod
		return mod.Get("exports"), nil
	}

	code, err := toCommonJS(src.Text, src.URL)
	if err != nil {
		return nil, apperror.ResolutionFailed(specifier, "invalid module source: "+err.Error())
	}

	l.logger.Debug("loading module", slog.String("specifier", specifier), slog.String("url", src.URL))
	exports, err := l.evaluate(src.URL, code, url)
	if err != nil {
		var interrupted *goja.InterruptedError
		var thrown *goja.Exception
		if errors.As(err, &interrupted) || errors.As(err, &thrown) {
			return nil, err
		}
		return nil, apperror.ResolutionFailed(specifier, describeError(err))
	}
	return exports, nil
}

// evaluate runs CommonJS code as a module at location. The module is
// registered before it runs so that import cycles see partial exports.
func (l *loader) evaluate(location, code, alias string) (goja.Value, error) {
	vm := l.realm.vm

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", location)

	if location != entryFile {
		l.realm.modules[location] = module
		if alias != "" {
			l.realm.modules[alias] = module
		}
	}

	prog, err := goja.Compile(location, "(function (exports, require, module) {"+code+"\n})", false)
	if err != nil {
		return nil, err
	}
	wrapper, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, apperror.EvaluationFailed("module wrapper is not callable")
	}

	referrer := location
	if location == entryFile {
		referrer = ""
	}
	if _, err := fn(goja.Undefined(), exports, vm.ToValue(l.requireFrom(referrer)), module); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}
