package runtime

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/dop251/goja"
)

func (r *Runner) installGlobals() {
	vm := r.vm

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)
	_ = vm.Set("__filename", r.script)
	_ = vm.Set("__dirname", filepath.Dir(r.script))

	console := vm.NewObject()
	_ = console.Set("log", r.consoleFunc(r.opts.Stdout))
	_ = console.Set("info", r.consoleFunc(r.opts.Stdout))
	_ = console.Set("debug", r.consoleFunc(r.opts.Stdout))
	_ = console.Set("warn", r.consoleFunc(r.opts.Stderr))
	_ = console.Set("error", r.consoleFunc(r.opts.Stderr))
	_ = vm.Set("console", console)

	r.process = r.newProcess()
	_ = vm.Set("process", r.process)
	_ = vm.Set("require", r.require)

	_ = vm.Set("setTimeout", r.setTimer(false))
	_ = vm.Set("setInterval", r.setTimer(true))
	_ = vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			r.throw(fmt.Errorf("callback must be a function"))
		}
		return vm.ToValue(r.timers.add(fn, 0, false, restArgs(call, 1)))
	})
	clear := func(call goja.FunctionCall) goja.Value {
		r.timers.remove(call.Argument(0).ToInteger())
		return goja.Undefined()
	}
	_ = vm.Set("clearTimeout", clear)
	_ = vm.Set("clearInterval", clear)
	_ = vm.Set("clearImmediate", clear)

	// Same names as the browser harness bridge, so a test body can run
	// under either target.
	_ = vm.Set("readFile", r.readFilePromise)
	_ = vm.Set("deleteFile", r.deleteFilePromise)
	_ = vm.Set("exit", func(call goja.FunctionCall) goja.Value {
		r.exit(0)
		return goja.Undefined()
	})
}

func (r *Runner) newProcess() *goja.Object {
	vm := r.vm
	process := vm.NewObject()

	argv := []interface{}{"bundage", r.script}
	for _, a := range r.opts.Args {
		argv = append(argv, a)
	}
	_ = process.Set("argv", vm.NewArray(argv...))
	_ = process.Set("platform", goruntime.GOOS)
	_ = process.Set("exitCode", goja.Undefined())

	env := vm.NewObject()
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			_ = env.Set(k, v)
		}
	}
	_ = process.Set("env", env)

	_ = process.Set("cwd", func() string {
		wd, err := os.Getwd()
		if err != nil {
			r.throw(err)
		}
		return wd
	})
	_ = process.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := r.exitCode()
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			code = int(arg.ToInteger())
		}
		r.exit(code)
		return goja.Undefined()
	})
	return process
}

// exit stops the VM at the next instruction; the code reaches Run through
// the interrupt value.
func (r *Runner) exit(code int) {
	r.exited, r.exitWith = true, code
	r.vm.Interrupt(exitRequest{code: code})
}

func (r *Runner) require(call goja.FunctionCall) goja.Value {
	name := strings.TrimPrefix(call.Argument(0).String(), "node:")
	switch name {
	case "fs":
		return r.fsModule()
	case "path":
		return r.pathModule()
	}
	r.throw(fmt.Errorf("Cannot find module '%s'", name))
	return nil
}

func (r *Runner) fsModule() *goja.Object {
	vm := r.vm
	fs := vm.NewObject()

	_ = fs.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		data, err := os.ReadFile(call.Argument(0).String())
		if err != nil {
			r.throw(err)
		}
		if encoding(call.Argument(1)) != "" {
			return vm.ToValue(string(data))
		}
		return vm.ToValue(vm.NewArrayBuffer(data))
	})
	_ = fs.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		if err := os.WriteFile(call.Argument(0).String(), toBytes(call.Argument(1)), 0644); err != nil {
			r.throw(err)
		}
		return goja.Undefined()
	})
	_ = fs.Set("existsSync", func(name string) bool {
		_, err := os.Stat(name)
		return err == nil
	})
	_ = fs.Set("unlinkSync", func(name string) {
		if err := os.Remove(name); err != nil {
			r.throw(err)
		}
	})
	_ = fs.Set("mkdirSync", func(name string) {
		if err := os.MkdirAll(name, 0755); err != nil {
			r.throw(err)
		}
	})
	_ = fs.Set("readdirSync", func(name string) *goja.Object {
		entries, err := os.ReadDir(name)
		if err != nil {
			r.throw(err)
		}
		names := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return vm.NewArray(names...)
	})
	return fs
}

func (r *Runner) pathModule() *goja.Object {
	vm := r.vm
	p := vm.NewObject()

	_ = p.Set("sep", string(filepath.Separator))
	_ = p.Set("join", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Join(stringArgs(call)...))
	})
	_ = p.Set("resolve", func(call goja.FunctionCall) goja.Value {
		joined := ""
		for _, s := range stringArgs(call) {
			if filepath.IsAbs(s) {
				joined = s
			} else {
				joined = filepath.Join(joined, s)
			}
		}
		abs, err := filepath.Abs(joined)
		if err != nil {
			r.throw(err)
		}
		return vm.ToValue(abs)
	})
	_ = p.Set("relative", func(from, to string) string {
		fromAbs, err := filepath.Abs(from)
		if err != nil {
			r.throw(err)
		}
		toAbs, err := filepath.Abs(to)
		if err != nil {
			r.throw(err)
		}
		rel, err := filepath.Rel(fromAbs, toAbs)
		if err != nil {
			r.throw(err)
		}
		if rel == "." {
			return ""
		}
		return rel
	})
	_ = p.Set("dirname", filepath.Dir)
	_ = p.Set("extname", filepath.Ext)
	_ = p.Set("isAbsolute", filepath.IsAbs)
	_ = p.Set("normalize", filepath.Clean)
	_ = p.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := filepath.Base(call.Argument(0).String())
		if ext := call.Argument(1); !goja.IsUndefined(ext) {
			base = strings.TrimSuffix(base, ext.String())
		}
		return vm.ToValue(base)
	})
	return p
}

// readFilePromise mirrors the browser bridge: contents resolve as base64
// unless an encoding is requested.
func (r *Runner) readFilePromise(call goja.FunctionCall) goja.Value {
	p, resolve, reject := r.vm.NewPromise()
	data, err := os.ReadFile(call.Argument(0).String())
	switch {
	case err != nil:
		_ = reject(r.vm.NewGoError(err))
	case encoding(call.Argument(1)) != "":
		_ = resolve(string(data))
	default:
		_ = resolve(base64.StdEncoding.EncodeToString(data))
	}
	return r.vm.ToValue(p)
}

func (r *Runner) deleteFilePromise(call goja.FunctionCall) goja.Value {
	p, resolve, reject := r.vm.NewPromise()
	if err := os.Remove(call.Argument(0).String()); err != nil {
		_ = reject(r.vm.NewGoError(err))
	} else {
		_ = resolve(goja.Undefined())
	}
	return r.vm.ToValue(p)
}

func (r *Runner) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			r.throw(fmt.Errorf("callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		return r.vm.ToValue(r.timers.add(fn, delay, repeat, restArgs(call, 2)))
	}
}

// encoding extracts the encoding from either "utf8" or {encoding: "utf8"}.
func encoding(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		enc := obj.Get("encoding")
		if enc == nil || goja.IsUndefined(enc) || goja.IsNull(enc) {
			return ""
		}
		return enc.String()
	}
	return v.String()
}

func toBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	switch data := v.Export().(type) {
	case goja.ArrayBuffer:
		return data.Bytes()
	case []byte:
		return data
	}
	return []byte(v.String())
}

func stringArgs(call goja.FunctionCall) []string {
	out := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		out = append(out, a.String())
	}
	return out
}

func restArgs(call goja.FunctionCall, from int) []goja.Value {
	if len(call.Arguments) <= from {
		return nil
	}
	return append([]goja.Value(nil), call.Arguments[from:]...)
}
