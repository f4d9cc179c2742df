// Package browser drives Chrome over the DevTools protocol for the harness.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/selfage/bundler-cli/internal/harness"
)

const bindingPrefix = "__bundage_"

// resolverScript installs the promise table bindings reply into.
const resolverScript = `(() => {
  if (globalThis.__bundage_pending) return;
  const pending = new Map();
  let next = 0;
  globalThis.__bundage_pending = pending;
  globalThis.__bundage_call = (binding, args) => new Promise((resolve, reject) => {
    const id = ++next;
    pending.set(id, { resolve, reject });
    globalThis[binding](JSON.stringify({ id, args }));
  });
  globalThis.__bundage_settle = (id, ok, value) => {
    const p = pending.get(id);
    if (!p) return;
    pending.delete(id);
    if (ok) p.resolve(value); else p.reject(new Error(value));
  };
})();`

// Engine launches local Chrome instances.
type Engine struct{}

// NewEngine creates an Engine
func NewEngine() *Engine {
	return &Engine{}
}

// Launch starts Chrome. The browser lives until Close, independent of ctx.
func (e *Engine) Launch(ctx context.Context, opts harness.LaunchOptions) (harness.Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("failed to start chrome: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, ctx.Err()
	}

	return &Browser{ctx: browserCtx, cancelBrowser: cancelBrowser, cancelAlloc: cancelAlloc}, nil
}

// Browser is a running Chrome.
type Browser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	mu    sync.Mutex
	pages []*Page
}

// NewPage opens a tab.
func (b *Browser) NewPage(ctx context.Context) (harness.Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := &Page{ctx: tabCtx, cancel: cancel, bindings: make(map[string]harness.ExposedFunc)}
	chromedp.ListenTarget(tabCtx, p.dispatch)
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(resolverScript).Do(ctx)
		return err
	})); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to install bridge: %w", err)
	}

	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

// Close closes every tab and the browser process.
func (b *Browser) Close() error {
	b.mu.Lock()
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()
	for _, p := range pages {
		p.cancel()
	}

	err := chromedp.Cancel(b.ctx)
	b.cancelBrowser()
	b.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}

// Page is one Chrome tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	onConsole func(harness.ConsoleMessage)
	onError   func(error)
	bindings  map[string]harness.ExposedFunc
}

// OnConsole registers the console handler.
func (p *Page) OnConsole(fn func(harness.ConsoleMessage)) {
	p.mu.Lock()
	p.onConsole = fn
	p.mu.Unlock()
}

// OnPageError registers the uncaught exception handler.
func (p *Page) OnPageError(fn func(error)) {
	p.mu.Lock()
	p.onError = fn
	p.mu.Unlock()
}

// ExposeFunction makes name callable from the page as a function returning
// a promise. It must be called before Goto.
func (p *Page) ExposeFunction(name string, fn harness.ExposedFunc) error {
	p.mu.Lock()
	p.bindings[bindingPrefix+name] = fn
	p.mu.Unlock()

	install := fmt.Sprintf(`globalThis[%q] = (...args) => globalThis.__bundage_call(%q, args);`, name, bindingPrefix+name)
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := cdpruntime.AddBinding(bindingPrefix + name).Do(ctx); err != nil {
			return err
		}
		_, err := page.AddScriptToEvaluateOnNewDocument(install).Do(ctx)
		return err
	}))
}

// Goto navigates and waits for the load event.
func (p *Page) Goto(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// Screenshot captures the viewport, or the whole document with FullPage,
// over a transparent background.
func (p *Page) Screenshot(ctx context.Context, opts harness.ScreenshotOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx,
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{A: 0}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			params := page.CaptureScreenshot().WithFromSurface(true).WithFormat(page.CaptureScreenshotFormatPng)
			if opts.Format == "jpeg" {
				params = params.WithFormat(page.CaptureScreenshotFormatJpeg)
				if opts.Quality > 0 {
					params = params.WithQuality(int64(opts.Quality))
				}
			}
			if opts.FullPage {
				_, _, _, _, _, size, err := page.GetLayoutMetrics().Do(ctx)
				if err != nil {
					return err
				}
				params = params.WithCaptureBeyondViewport(true).WithClip(&page.Viewport{
					Width:  size.Width,
					Height: size.Height,
					Scale:  1,
				})
			}
			var err error
			buf, err = params.Do(ctx)
			return err
		}),
		emulation.SetDefaultBackgroundColorOverride(),
	)
	return buf, err
}

// SetViewport resizes the emulated viewport.
func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

// run executes actions on the tab, abandoning them when ctx ends.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// dispatch receives target events. It must not block, so rendering and
// binding calls happen later on other goroutines.
func (p *Page) dispatch(ev interface{}) {
	switch ev := ev.(type) {
	case *cdpruntime.EventConsoleAPICalled:
		p.mu.RLock()
		fn := p.onConsole
		p.mu.RUnlock()
		if fn == nil {
			return
		}
		args := ev.Args
		fn(harness.ConsoleMessage{
			Type: string(ev.Type),
			Render: func(ctx context.Context) (string, error) {
				return p.render(ctx, args)
			},
		})

	case *cdpruntime.EventExceptionThrown:
		p.mu.RLock()
		fn := p.onError
		p.mu.RUnlock()
		if fn != nil {
			fn(errors.New(exceptionText(ev.ExceptionDetails)))
		}

	case *cdpruntime.EventBindingCalled:
		p.mu.RLock()
		fn, ok := p.bindings[ev.Name]
		p.mu.RUnlock()
		if ok {
			go p.invoke(fn, ev.Payload)
		}
	}
}

type bindingPayload struct {
	ID   int64             `json:"id"`
	Args []json.RawMessage `json:"args"`
}

func (p *Page) invoke(fn harness.ExposedFunc, payload string) {
	var call bindingPayload
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		log.Warn().Err(err).Msg("Malformed binding payload")
		return
	}

	ok, value := true, any(nil)
	res, err := fn(p.ctx, call.Args)
	if err != nil {
		ok, value = false, err.Error()
	} else {
		value = res
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		ok, encoded = false, []byte(fmt.Sprintf("%q", err.Error()))
	}

	settle := fmt.Sprintf("globalThis.__bundage_settle(%d, %t, %s)", call.ID, ok, encoded)
	if err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, err := cdpruntime.Evaluate(settle).Do(ctx)
		return err
	})); err != nil && p.ctx.Err() == nil {
		log.Debug().Err(err).Msg("Failed to settle binding call")
	}
}

const (
	stackFunc     = `function() { return this.stack || String(this); }`
	stringifyFunc = `function() { try { return JSON.stringify(this); } catch (e) { return String(this); } }`
)

func (p *Page) render(ctx context.Context, args []*cdpruntime.RemoteObject) (string, error) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		s, err := p.renderArg(ctx, arg)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " "), nil
}

func (p *Page) renderArg(ctx context.Context, obj *cdpruntime.RemoteObject) (string, error) {
	switch obj.Type {
	case cdpruntime.TypeString:
		var s string
		if err := json.Unmarshal([]byte(obj.Value), &s); err != nil {
			return obj.Description, nil
		}
		return s, nil
	case cdpruntime.TypeUndefined:
		return "undefined", nil
	case cdpruntime.TypeNumber, cdpruntime.TypeBoolean, cdpruntime.TypeBigint:
		if obj.UnserializableValue != "" {
			return string(obj.UnserializableValue), nil
		}
		return string(obj.Value), nil
	case cdpruntime.TypeObject:
		switch {
		case obj.Subtype == cdpruntime.SubtypeNull:
			return "null", nil
		case obj.ObjectID == "":
			return obj.Description, nil
		case obj.Subtype == cdpruntime.SubtypeError:
			return p.callOn(ctx, obj.ObjectID, stackFunc)
		default:
			return p.callOn(ctx, obj.ObjectID, stringifyFunc)
		}
	default:
		return obj.Description, nil
	}
}

func (p *Page) callOn(ctx context.Context, id cdpruntime.RemoteObjectID, fn string) (string, error) {
	var out string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exc, err := cdpruntime.CallFunctionOn(fn).WithObjectID(id).WithReturnByValue(true).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if err := json.Unmarshal([]byte(res.Value), &out); err != nil {
			out = string(res.Value)
		}
		return nil
	}))
	return out, err
}

func exceptionText(details *cdpruntime.ExceptionDetails) string {
	if details == nil {
		return "Uncaught error"
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
