package harness

import (
	"context"
	"encoding/json"
	"time"
)

// Exit codes reported by Run.
const (
	ExitCodeSuccess = 0
	ExitCodeFailure = 1
	ExitCodeTimeout = 124
)

// Categories of captured console output.
const (
	CategoryLog   = "log"
	CategoryWarn  = "warn"
	CategoryError = "error"
	CategoryOther = "other"
)

// OutputCollection is everything the page printed, per category, in
// emission order.
type OutputCollection struct {
	Log   []string `json:"log" yaml:"log"`
	Warn  []string `json:"warn" yaml:"warn"`
	Error []string `json:"error" yaml:"error"`
	Other []string `json:"other" yaml:"other"`
}

func (o *OutputCollection) append(category, text string) {
	switch category {
	case CategoryLog:
		o.Log = append(o.Log, text)
	case CategoryWarn:
		o.Warn = append(o.Warn, text)
	case CategoryError:
		o.Error = append(o.Error, text)
	default:
		o.Other = append(o.Other, text)
	}
}

// Category maps a console message type to its output category.
func Category(msgType string) string {
	switch msgType {
	case "log", "info":
		return CategoryLog
	case "warning", "warn":
		return CategoryWarn
	case "error":
		return CategoryError
	default:
		return CategoryOther
	}
}

// ConsoleMessage is one console call observed in the page. Render produces
// the printed text and may block, e.g. to fetch an error's stack from the
// engine.
type ConsoleMessage struct {
	Type   string
	Render func(ctx context.Context) (string, error)
}

// ExposedFunc handles a call from the page. Its result resolves the page's
// promise and an error rejects it.
type ExposedFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// ScreenshotOptions control page capture.
type ScreenshotOptions struct {
	FullPage bool
	// Format is "png" or "jpeg".
	Format string
	// Quality applies to jpeg only, 0..100.
	Quality int
}

// LaunchOptions configure the browser engine.
type LaunchOptions struct {
	Headless bool
	ExecPath string
}

// Engine starts browsers.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running engine instance.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab. Event handlers may be invoked from any goroutine.
type Page interface {
	OnConsole(func(ConsoleMessage))
	OnPageError(func(error))
	ExposeFunction(name string, fn ExposedFunc) error
	Goto(ctx context.Context, url string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	SetViewport(ctx context.Context, width, height int) error
}

// Options configure one harness run.
type Options struct {
	// RootDir is the serve root. The artifact must live inside it.
	RootDir string

	// Host and Port the static server binds to. Port 0 picks a free port.
	Host string
	Port int

	Args     []string
	Headless bool
	ExecPath string

	// Timeout forces teardown. Zero waits for exit() or an error.
	Timeout time.Duration

	// ContentTypes maps dot-prefixed extensions to MIME types. nil uses
	// DefaultContentTypes.
	ContentTypes map[string]string

	// OnOutput, when set, sees every appended message in order, e.g. to
	// mirror output to a terminal while the run is in progress.
	OnOutput func(category, text string)
}

// Result is the outcome of a run.
type Result struct {
	Output   OutputCollection `json:"output" yaml:"output"`
	ExitCode int              `json:"exit_code" yaml:"exit_code"`
	Duration time.Duration    `json:"duration" yaml:"duration"`

	// Cause says why a run stopped without exit(): ErrSandboxRuntime for an
	// uncaught page error, ErrTimeout, or the infrastructure failure.
	Cause error `json:"-" yaml:"-"`
}
