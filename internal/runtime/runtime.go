// Package runtime executes embedded-target artifacts in an in-process
// JavaScript VM, exposing the small Node-style surface the bundles rely on.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// Runner owns one VM for one artifact. It is not safe for concurrent use;
// every callback runs on the goroutine that called Run.
type Runner struct {
	vm        *goja.Runtime
	script    string
	opts      Options
	timers    *timerQueue
	process   *goja.Object
	stringify goja.Callable
	rejected  map[*goja.Promise]struct{}

	// exited is set by process.exit. An interrupt raised by the last
	// instruction of a script never fires, so it is checked explicitly.
	exited   bool
	exitWith int
}

// Run executes the artifact at path and waits for its timers to drain. A
// script error is reported on stderr and turned into a nonzero exit code;
// only failures to read the artifact are returned as errors, plus ErrTimeout
// or the context error when execution was interrupted.
func Run(ctx context.Context, path string, opts Options) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact: %w", err)
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	r := newRunner(abs, opts)
	start := time.Now()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	code, runErr := r.execute(ctx, string(src))
	log.Debug().
		Str("artifact", abs).
		Int("exit_code", code).
		Dur("duration", time.Since(start)).
		Msg("Artifact finished")

	return &Result{ExitCode: code, Duration: time.Since(start)}, runErr
}

func newRunner(script string, opts Options) *Runner {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	r := &Runner{
		vm:       vm,
		script:   script,
		opts:     opts,
		timers:   newTimerQueue(),
		rejected: make(map[*goja.Promise]struct{}),
	}
	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			r.rejected[p] = struct{}{}
		case goja.PromiseRejectionHandle:
			delete(r.rejected, p)
		}
	})
	if fn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify")); ok {
		r.stringify = fn
	}
	r.installGlobals()
	return r
}

func (r *Runner) execute(ctx context.Context, src string) (int, error) {
	prg, err := goja.Compile(r.script, src, false)
	if err != nil {
		_, _ = fmt.Fprintln(r.opts.Stderr, err.Error())
		return 1, nil
	}
	if _, err := r.vm.RunProgram(prg); err != nil {
		return r.handle(err)
	}
	if r.exited {
		return r.exitWith, nil
	}
	if code, failed := r.checkRejections(); failed {
		return code, nil
	}

	for {
		t, ok := r.timers.next()
		if !ok {
			break
		}
		if wait := time.Until(t.due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return r.interruptCode(ctx.Err())
			case <-timer.C:
			}
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			return r.handle(err)
		}
		if r.exited {
			return r.exitWith, nil
		}
		if code, failed := r.checkRejections(); failed {
			return code, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return r.interruptCode(err)
	}
	return r.exitCode(), nil
}

// handle maps a VM error to an exit code.
func (r *Runner) handle(err error) (int, error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case exitRequest:
			return v.code, nil
		case error:
			return r.interruptCode(v)
		default:
			return r.interruptCode(nil)
		}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		_, _ = fmt.Fprintln(r.opts.Stderr, r.inspect(exception.Value()))
		return 1, nil
	}

	_, _ = fmt.Fprintln(r.opts.Stderr, err.Error())
	return 1, nil
}

func (r *Runner) interruptCode(cause error) (int, error) {
	if cause == nil || errors.Is(cause, context.DeadlineExceeded) {
		_, _ = fmt.Fprintln(r.opts.Stderr, "Execution timed out.")
		return ExitCodeTimeout, ErrTimeout
	}
	return 1, cause
}

// checkRejections fails the run on an unhandled promise rejection, as Node
// does.
func (r *Runner) checkRejections() (int, bool) {
	for p := range r.rejected {
		_, _ = fmt.Fprintln(r.opts.Stderr, "Uncaught (in promise)", r.inspect(p.Result()))
		return 1, true
	}
	return 0, false
}

func (r *Runner) exitCode() int {
	v := r.process.Get("exitCode")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

// inspect renders a value the way console output shows it: errors by their
// stack, objects as JSON.
func (r *Runner) inspect(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if obj.ClassName() == "Error" {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return stack.String()
		}
		return obj.String()
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return "[Function]"
	}
	if r.stringify != nil {
		if s, err := r.stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
			return s.String()
		}
	}
	return obj.String()
}

func (r *Runner) format(args []goja.Value) string {
	out := make([]byte, 0, 64)
	for i, a := range args {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, r.inspect(a)...)
	}
	return string(out)
}

func (r *Runner) consoleFunc(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		_, _ = fmt.Fprintln(w, r.format(call.Arguments))
		return goja.Undefined()
	}
}

// throw raises err as a JavaScript Error in the calling script.
func (r *Runner) throw(err error) {
	panic(r.vm.NewGoError(err))
}
