package harness

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
)

// Names of the functions exposed to the page.
const (
	CommandScreenshot  = "screenshot"
	CommandReadFile    = "readFile"
	CommandDeleteFile  = "deleteFile"
	CommandSetViewport = "setViewport"
	CommandExit        = "exit"
)

// CommandNames lists every exposed function in installation order.
var CommandNames = []string{
	CommandScreenshot,
	CommandReadFile,
	CommandDeleteFile,
	CommandSetViewport,
	CommandExit,
}

type screenshotArgs struct {
	DelayMs  int  `json:"delayMs"`
	FullPage bool `json:"fullPage"`
	Quality  int  `json:"quality"`
}

type readFileArgs struct {
	Encoding string `json:"encoding"`
}

// bridge executes privileged calls on behalf of the page. Failures are
// returned to the caller in the page and never end the run.
type bridge struct {
	root    paths.Root
	page    Page
	seq     *sequencer
	metrics *observability.Metrics
}

func (b *bridge) handler(name string) ExposedFunc {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		res, err := b.call(ctx, name, args)
		b.metrics.RecordHarnessCommand(name, err)
		if err != nil {
			log.Debug().Err(err).Str("command", name).Msg("Command failed")
		}
		return res, err
	}
}

func (b *bridge) call(ctx context.Context, name string, args []json.RawMessage) (any, error) {
	switch name {
	case CommandScreenshot:
		return b.screenshot(ctx, args)
	case CommandReadFile:
		return b.readFile(args)
	case CommandDeleteFile:
		return nil, b.deleteFile(args)
	case CommandSetViewport:
		return nil, b.setViewport(ctx, args)
	case CommandExit:
		b.seq.terminate(termination{code: ExitCodeSuccess})
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func (b *bridge) screenshot(ctx context.Context, args []json.RawMessage) (any, error) {
	rel, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}
	var opts screenshotArgs
	if err := optionalArg(args, 1, &opts); err != nil {
		return nil, err
	}
	file, err := b.root.Resolve(rel)
	if err != nil {
		return nil, err
	}

	if opts.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	shot := ScreenshotOptions{FullPage: opts.FullPage, Format: "png"}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".jpg", ".jpeg":
		shot.Format = "jpeg"
		shot.Quality = opts.Quality
	}
	data, err := b.page.Screenshot(ctx, shot)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (b *bridge) readFile(args []json.RawMessage) (any, error) {
	rel, err := stringArg(args, 0, "path")
	if err != nil {
		return nil, err
	}
	var opts readFileArgs
	if err := optionalArg(args, 1, &opts); err != nil {
		return nil, err
	}
	file, err := b.root.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(opts.Encoding) {
	case "utf8", "utf-8":
		return string(data), nil
	case "", "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidArgument, opts.Encoding)
	}
}

func (b *bridge) deleteFile(args []json.RawMessage) error {
	rel, err := stringArg(args, 0, "path")
	if err != nil {
		return err
	}
	file, err := b.root.Resolve(rel)
	if err != nil {
		return err
	}
	return os.Remove(file)
}

func (b *bridge) setViewport(ctx context.Context, args []json.RawMessage) error {
	width, err := intArg(args, 0, "width")
	if err != nil {
		return err
	}
	height, err := intArg(args, 1, "height")
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d must be positive", ErrInvalidArgument, width, height)
	}
	return b.page.SetViewport(ctx, width, height)
}

func stringArg(args []json.RawMessage, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidArgument, name)
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, name)
	}
	return s, nil
}

func intArg(args []json.RawMessage, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidArgument, name)
	}
	var f float64
	if err := json.Unmarshal(args[i], &f); err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
	}
	return int(f), nil
}

// optionalArg decodes an options object. Missing, null and undefined leave
// v untouched.
func optionalArg(args []json.RawMessage, i int, v any) error {
	if i >= len(args) {
		return nil
	}
	raw := strings.TrimSpace(string(args[i]))
	if raw == "" || raw == "null" || raw == "undefined" {
		return nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return fmt.Errorf("%w: options: %v", ErrInvalidArgument, err)
	}
	return nil
}
