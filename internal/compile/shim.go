package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ShimContent returns an ambient module declaration per asset extension so
// that `import p = require("./a.png")` type-checks as a string export.
func ShimContent(assetExts []string) string {
	var b strings.Builder
	for _, ext := range assetExts {
		fmt.Fprintf(&b, "declare module \"*%s\" {\n  const path: string;\n  export = path;\n}\n", ext)
	}
	return b.String()
}

// WriteShim writes a uniquely named declaration shim into dir and returns its
// path together with a release function that removes it. release is safe to
// call more than once.
func WriteShim(dir string, assetExts []string) (string, func() error, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	name := filepath.Join(dir, fmt.Sprintf("bundage_assets_%s.d.ts", uuid.NewString()))
	if err := os.WriteFile(name, []byte(ShimContent(assetExts)), 0600); err != nil {
		return "", func() error { return nil }, fmt.Errorf("failed to write declaration shim: %w", err)
	}
	log.Debug().Str("file", name).Strs("exts", assetExts).Msg("Declaration shim written")

	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove declaration shim: %w", err)
		}
		log.Debug().Str("file", name).Msg("Declaration shim removed")
		return nil
	}
	return name, release, nil
}

// Orchestrator decides whether to type-check and injects the declaration
// shim when asset extensions are configured.
type Orchestrator struct {
	compiler Compiler
}

// NewOrchestrator builds an orchestrator for the given mode. In ModeAuto a
// missing compiler only disables type checking.
func NewOrchestrator(mode Mode, tscPath, scratchDir string) (*Orchestrator, error) {
	if mode == ModeNever {
		return &Orchestrator{}, nil
	}
	tsc, err := NewTSC(tscPath, scratchDir)
	if err != nil {
		if mode == ModeAuto && errors.Is(err, ErrCompilerNotFound) {
			log.Debug().Msg("tsc not found, skipping type check")
			return &Orchestrator{}, nil
		}
		return nil, err
	}
	return &Orchestrator{compiler: tsc}, nil
}

// NewOrchestratorWith wraps an existing compiler.
func NewOrchestratorWith(c Compiler) *Orchestrator {
	return &Orchestrator{compiler: c}
}

// Enabled reports whether a compiler will run.
func (o *Orchestrator) Enabled() bool {
	return o != nil && o.compiler != nil
}

// Compile type-checks every entry under tsconfigFile. The shim lives in
// scratchDir for the duration of the call and is removed whether or not the
// compiler succeeds.
func (o *Orchestrator) Compile(ctx context.Context, entries []string, tsconfigFile string, assetExts []string, scratchDir string) (err error) {
	if !o.Enabled() {
		return nil
	}

	var declarations []string
	if len(assetExts) > 0 {
		shim, release, werr := WriteShim(scratchDir, assetExts)
		if werr != nil {
			return werr
		}
		defer func() {
			if rerr := release(); rerr != nil {
				log.Warn().Err(rerr).Msg("Declaration shim cleanup failed")
			}
		}()
		declarations = append(declarations, shim)
	}

	for _, entry := range entries {
		if err := o.compiler.Compile(ctx, entry, tsconfigFile, declarations); err != nil {
			return err
		}
	}
	return nil
}
