// Package harness runs browser-target artifacts inside a browser engine,
// collecting console output in order and exposing a small set of privileged
// functions to the page.
package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
)

// Harness owns an engine and runs artifacts one at a time per Run call.
// Concurrent runs need distinct ports.
type Harness struct {
	engine  Engine
	metrics *observability.Metrics
}

// Option configures a Harness
type Option func(*Harness)

// WithMetrics records harness metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// New creates a Harness driving engine
func New(engine Engine, opts ...Option) *Harness {
	h := &Harness{engine: engine}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type release struct {
	name string
	fn   func() error
}

// Run serves opts.RootDir, opens a page that loads artifact and waits for
// exit(), an uncaught page error or the timeout. A page error yields exit
// code 1 and no error. Setup failures are returned as errors after
// everything acquired so far has been released.
func (h *Harness) Run(ctx context.Context, artifact string, opts Options) (res *Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "harness.run", attribute.String("artifact", artifact))

	var releases []release
	defer func() {
		if terr := teardown(releases); terr != nil {
			log.Warn().Err(terr).Msg("Harness teardown incomplete")
		}
		if res != nil {
			res.Duration = time.Since(start)
			h.metrics.RecordHarnessRun(res.ExitCode)
			span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
		}
		observability.EndSpan(span, err)
	}()

	root, err := paths.NewRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}
	if err := root.Check(); err != nil {
		return nil, err
	}
	artifactAbs, err := filepath.Abs(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact: %w", err)
	}
	if !root.Contains(artifactAbs) {
		return nil, fmt.Errorf("%w: artifact %s is outside %s", paths.ErrEscapesRoot, artifactAbs, root)
	}
	artifactRel, err := root.Rel(artifactAbs)
	if err != nil {
		return nil, err
	}

	seq := newSequencer(func(category, text string) {
		h.metrics.RecordHarnessMessage(category)
		if opts.OnOutput != nil {
			opts.OnOutput(category, text)
		}
	})

	hostFile, releaseHost, err := writeHostPage(root.Dir(), "/"+artifactRel, opts.Args)
	if err != nil {
		return nil, err
	}
	releases = append(releases, release{"host page", releaseHost})
	hostRel, err := root.Rel(hostFile)
	if err != nil {
		return nil, err
	}

	server := NewStaticServer(root, opts.ContentTypes, WithTraceParent(ctx))
	baseURL, err := server.Start(opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}
	releases = append(releases, release{"static server", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	}})

	browser, err := h.engine.Launch(ctx, LaunchOptions{Headless: opts.Headless, ExecPath: opts.ExecPath})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	releases = append(releases, release{"browser", browser.Close})
	log.Debug().Bool("headless", opts.Headless).Msg("Browser launched")

	page, err := browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	renderCtx, stopRendering := context.WithCancel(ctx)
	defer stopRendering()

	page.OnConsole(seq.push)
	page.OnPageError(func(perr error) {
		seq.terminate(termination{
			code:  ExitCodeFailure,
			text:  perr.Error(),
			cause: fmt.Errorf("%w: %v", ErrSandboxRuntime, perr),
		})
	})

	b := &bridge{root: root, page: page, seq: seq, metrics: h.metrics}
	for _, name := range CommandNames {
		if err := page.ExposeFunction(name, b.handler(name)); err != nil {
			return nil, fmt.Errorf("failed to expose %s: %w", name, err)
		}
	}

	go seq.run(renderCtx)
	// stop the sequencer on every path; a no-op once a termination is queued
	defer seq.terminate(termination{})

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	// Goto returns on the load event, which a page busy in a synchronous
	// loop never fires, so it must not hold up the timeout.
	url := baseURL + "/" + hostRel
	log.Debug().Str("url", url).Str("artifact", artifactRel).Msg("Opening host page")
	navCtx, cancelNav := context.WithCancel(ctx)
	navigating := make(chan error, 1)
	go func() { navigating <- page.Goto(navCtx, url) }()
	defer func() {
		cancelNav()
		if navigating != nil {
			<-navigating
		}
	}()

	var (
		term     termination
		fatalErr error
	)
wait:
	for {
		select {
		case nerr := <-navigating:
			navigating = nil
			if nerr != nil {
				return nil, fmt.Errorf("failed to open host page: %w", nerr)
			}
		case term = <-seq.done:
			break wait
		case fatalErr = <-server.Fatal():
			term = h.forceStop(seq, stopRendering, termination{code: ExitCodeFailure, err: fatalErr})
			break wait
		case <-timeout:
			term = h.forceStop(seq, stopRendering, termination{code: ExitCodeTimeout, err: ErrTimeout})
			break wait
		case <-ctx.Done():
			term = h.forceStop(seq, stopRendering, termination{code: ExitCodeFailure, err: ctx.Err()})
			break wait
		}
	}

	res = &Result{Output: seq.output, ExitCode: term.code, Cause: term.cause}
	if res.Cause == nil {
		res.Cause = term.err
	}
	log.Debug().Int("exit_code", term.code).Msg("Harness finished")
	if fatalErr != nil {
		return res, fatalErr
	}
	return res, term.err
}

// forceStop queues t and waits for the sequencer to reach it. Pending
// renders are cancelled so a stuck page cannot hold the run open. When an
// earlier termination is already queued, that one wins.
func (h *Harness) forceStop(seq *sequencer, stopRendering context.CancelFunc, t termination) termination {
	seq.terminate(t)
	stopRendering()
	return <-seq.done
}

// teardown releases everything in reverse order. A failing release does not
// stop the remaining ones.
func teardown(releases []release) error {
	var errs []error
	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		if err := r.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		log.Debug().Str("resource", r.name).Msg("Released")
	}
	return errors.Join(errs...)
}
