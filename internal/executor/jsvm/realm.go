// Package jsvm runs scripts inside a fresh goja runtime per execution.
//
// WHAT IS A REALM?
// A realm is one goja.Runtime plus everything attached to it for a single
// execution: the captured console output, the timeout wiring and, for the
// module-aware strategy, the module table. Nothing is shared between realms
// except the process-wide source cache behind the Fetcher. Every exit path
// releases the realm through realm.close.
//
// TIMEOUTS:
// goja runs on the calling goroutine and cannot be preempted. The only way
// to stop a script is vm.Interrupt, which takes effect at the next
// instruction the interpreter executes. newRealm arms it with
// context.AfterFunc, so the deadline and caller cancellation both land as an
// *goja.InterruptedError that classify turns into a timeout.
//
// Work done in Go on the script's behalf is invisible to Interrupt. That is
// why exporting console values is bounded by item and node budgets and
// checks the context itself (see exporter).
//
// TWO STRATEGIES:
//   - Simple   no packages; require and import() throw.
//   - Modules  ES modules are converted to CommonJS with esbuild and loaded
//     from the trusted CDN through a require that enforces the
//     restricted-module policy on both the specifier and the resolved URL.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/executor"
)

// DefaultTimeout bounds one evaluation, module fetches included.
const DefaultTimeout = 10 * time.Second

// Config holds the limits applied to every realm.
type Config struct {
	Timeout          time.Duration
	MaxCallStackSize int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = 1024
	}
	return c
}

var liveRealms atomic.Int64

// LiveRealms returns how many realms are currently open.
func LiveRealms() int64 {
	return liveRealms.Load()
}

var errInterrupted = errors.New("jsvm: execution interrupted")

type realm struct {
	vm      *goja.Runtime
	ctx     context.Context
	timeout time.Duration
	stop    func() bool

	output     []executor.OutputEvent
	modules    map[string]*goja.Object
	loaderErr  error
	rejections []*goja.Promise
	closed     bool
}

// newRealm creates a runtime that is interrupted when ctx is done.
func newRealm(ctx context.Context, cfg Config) *realm {
	vm := goja.New()
	vm.SetMaxCallStackSize(cfg.MaxCallStackSize)

	r := &realm{
		vm:      vm,
		ctx:     ctx,
		timeout: cfg.Timeout,
		modules: make(map[string]*goja.Object),
	}
	vm.SetPromiseRejectionTracker(r.trackRejection)
	r.stop = context.AfterFunc(ctx, func() {
		vm.Interrupt(errInterrupted)
	})

	liveRealms.Add(1)
	return r
}

// close releases the realm. It is safe to call more than once.
func (r *realm) close() {
	if r.closed {
		return
	}
	r.closed = true

	r.stop()
	r.vm.ClearInterrupt()
	r.vm.SetPromiseRejectionTracker(nil)
	r.modules = nil
	r.rejections = nil
	r.vm = nil

	liveRealms.Add(-1)
}

func (r *realm) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejections = append(r.rejections, p)
	case goja.PromiseRejectionHandle:
		for i, pending := range r.rejections {
			if pending == p {
				r.rejections = append(r.rejections[:i], r.rejections[i+1:]...)
				break
			}
		}
	}
}

// fail records the first loader failure. It fails the execution even when
// the script catches the thrown error.
func (r *realm) fail(err error) {
	if r.loaderErr == nil {
		r.loaderErr = err
	}
}

func (r *realm) throw(err error) {
	r.fail(err)
	panic(r.vm.NewGoError(err))
}

// guard runs fn and folds its outcome with the realm's state into one
// classified error. Panics escaping goja are converted too.
func (r *realm) guard(fn func() (goja.Value, error)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperror.EvaluationFailed(fmt.Sprintf("interpreter panic: %v", p))
		}
	}()

	value, runErr := fn()
	return r.classify(value, runErr)
}

func (r *realm) classify(value goja.Value, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(r.ctx.Err(), context.DeadlineExceeded) {
			return apperror.TimedOut(r.timeout)
		}
		return apperror.EvaluationFailed("execution cancelled")
	}
	if r.loaderErr != nil {
		return r.loaderErr
	}
	if err != nil {
		return apperror.EvaluationFailed(describeError(err))
	}

	if p, ok := exportedPromise(value); ok && p.State() == goja.PromiseStateRejected {
		return apperror.EvaluationFailed("Uncaught (in promise) " + describeThrown(p.Result()))
	}
	if len(r.rejections) > 0 {
		return apperror.EvaluationFailed("Uncaught (in promise) " + describeThrown(r.rejections[0].Result()))
	}
	return nil
}

func exportedPromise(v goja.Value) (*goja.Promise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	p, ok := obj.Export().(*goja.Promise)
	return p, ok
}

func describeError(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return describeThrown(ex.Value())
	}
	return err.Error()
}

// describeThrown renders a thrown value as "Name: message" for errors and
// its string form otherwise.
func describeThrown(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		name := valueString(obj.Get("name"), "Error")
		msg := valueString(obj.Get("message"), "")
		switch {
		case msg == "":
			return name
		case strings.HasPrefix(msg, name+": "):
			return msg
		}
		return name + ": " + msg
	}
	return v.String()
}

func valueString(v goja.Value, fallback string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fallback
	}
	return v.String()
}

// installConsole binds console.log/info/warn/error to the realm's output.
func (r *realm) installConsole() {
	console := r.vm.NewObject()
	for _, ch := range []executor.Channel{
		executor.ChannelLog,
		executor.ChannelInfo,
		executor.ChannelWarn,
		executor.ChannelError,
	} {
		_ = console.Set(string(ch), r.consoleMethod(ch))
	}
	// debug and trace are aliases Node also prints to stdout/stderr.
	_ = console.Set("debug", r.consoleMethod(executor.ChannelLog))
	_ = console.Set("trace", r.consoleMethod(executor.ChannelError))
	_ = r.vm.Set("console", console)
}

func (r *realm) consoleMethod(ch executor.Channel) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		r.output = append(r.output, executor.OutputEvent{
			Channel: ch,
			Value:   eventValue(r.ctx, call.Arguments),
		})
		return goja.Undefined()
	}
}

// eventValue exports one console call. All arguments share one exporter
// budget.
func eventValue(ctx context.Context, args []goja.Value) any {
	switch len(args) {
	case 0:
		return ""
	case 1:
		return exportValue(ctx, args[0])
	default:
		e := newExporter(ctx)
		n := min(len(args), maxItems)
		values := make([]any, 0, n+1)
		for _, a := range args[:n] {
			values = append(values, e.export(a, 0))
		}
		if rest := len(args) - n; rest > 0 {
			values = append(values, moreItems(int64(rest)))
		}
		return values
	}
}
