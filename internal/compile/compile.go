// Package compile runs the TypeScript compiler over an entry before it is
// bundled, optionally with a generated declaration shim so that imports of
// asset files type-check.
package compile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrCompileFailure is returned when the compiler reports a type or syntax error
var ErrCompileFailure = errors.New("compile failed")

// ErrCompilerNotFound is returned when no tsc executable can be located
var ErrCompilerNotFound = errors.New("tsc not found")

// Compiler is the external compiler collaborator.
type Compiler interface {
	Compile(ctx context.Context, entryFile, configFile string, extraDeclarationFiles []string) error
}

// Mode selects whether type checking runs before bundling.
type Mode string

const (
	// ModeAuto type-checks when a compiler is available and skips otherwise
	ModeAuto Mode = "auto"
	// ModeAlways fails when no compiler is available
	ModeAlways Mode = "always"
	// ModeNever skips type checking entirely
	ModeNever Mode = "never"
)

// ParseMode validates a mode string. An empty string means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeAlways:
		return ModeAlways, nil
	case ModeNever:
		return ModeNever, nil
	default:
		return "", fmt.Errorf("invalid type check mode %q (must be one of: auto, always, never)", s)
	}
}

// runFunc executes the compiler binary and returns its combined output.
type runFunc func(ctx context.Context, dir, bin string, args ...string) ([]byte, error)

// TSC type-checks with the TypeScript compiler. It never emits output files;
// emission is left to the bundler.
type TSC struct {
	tscPath    string
	scratchDir string
	run        runFunc
}

// NewTSC locates tsc. tscPath may be empty to search PATH and the local
// node_modules/.bin.
func NewTSC(tscPath, scratchDir string) (*TSC, error) {
	if tscPath == "" {
		found, err := findTSC()
		if err != nil {
			return nil, err
		}
		tscPath = found
	}
	return &TSC{
		tscPath:    tscPath,
		scratchDir: scratchDir,
		run:        runCommand,
	}, nil
}

func findTSC() (string, error) {
	if p, err := exec.LookPath("tsc"); err == nil {
		return p, nil
	}

	candidates := []string{
		filepath.Join("node_modules", ".bin", "tsc"),
		"/usr/local/bin/tsc",
		"/usr/bin/tsc",
		"/opt/homebrew/bin/tsc",
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("%w: install typescript or set bundle.tsc_path", ErrCompilerNotFound)
}

func runCommand(ctx context.Context, dir, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // bin comes from LookPath or explicit config
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// tsconfigOverlay extends the project tsconfig and narrows the program to
// the entry plus the declaration files.
type tsconfigOverlay struct {
	Extends         string         `json:"extends,omitempty"`
	CompilerOptions map[string]any `json:"compilerOptions"`
	Files           []string       `json:"files"`
	Include         []string       `json:"include"`
}

// Compile type-checks entryFile under configFile. The overlay tsconfig is
// written to a per-invocation directory so concurrent compiles never share
// files.
func (t *TSC) Compile(ctx context.Context, entryFile, configFile string, extraDeclarationFiles []string) error {
	dir, err := os.MkdirTemp(t.scratchDir, "bundage-tsc-*")
	if err != nil {
		return fmt.Errorf("failed to create compile scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	overlay := tsconfigOverlay{
		CompilerOptions: map[string]any{"noEmit": true},
		Include:         []string{},
	}
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return fmt.Errorf("failed to resolve tsconfig: %w", err)
		}
		overlay.Extends = abs
	}
	for _, f := range append([]string{entryFile}, extraDeclarationFiles...) {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		overlay.Files = append(overlay.Files, abs)
	}

	data, err := json.MarshalIndent(overlay, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tsconfig overlay: %w", err)
	}
	project := filepath.Join(dir, "tsconfig.json")
	if err := os.WriteFile(project, data, 0600); err != nil {
		return fmt.Errorf("failed to write tsconfig overlay: %w", err)
	}

	log.Debug().
		Str("entry", entryFile).
		Str("tsconfig", configFile).
		Int("declarations", len(extraDeclarationFiles)).
		Msg("Type checking")

	out, err := t.run(ctx, dir, t.tscPath, "--project", project, "--pretty", "false")
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCompileFailure, ctx.Err())
		}
		msg := cleanCompilerOutput(string(out), dir)
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrCompileFailure, msg)
	}
	return nil
}

var tscDiagnostic = regexp.MustCompile(`error TS\d+:`)

// cleanCompilerOutput keeps the diagnostic lines and drops scratch paths.
func cleanCompilerOutput(out, scratchDir string) string {
	out = strings.ReplaceAll(out, scratchDir+string(filepath.Separator), "")
	var relevant []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if tscDiagnostic.MatchString(line) {
			relevant = append(relevant, line)
		}
	}
	if len(relevant) > 0 {
		return strings.Join(relevant, "\n")
	}
	return strings.TrimSpace(out)
}
