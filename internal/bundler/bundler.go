// Package bundler packages TypeScript/JavaScript entries into a single
// artifact with esbuild, replacing asset imports with path stubs.
package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/selfage/bundler-cli/internal/compile"
	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
)

// Bundler runs compile, assemble and minify for bundle requests. It holds no
// per-request state and may be shared by concurrent callers.
type Bundler struct {
	compiler *compile.Orchestrator
	metrics  *observability.Metrics
	workDir  string
}

// Option configures a Bundler
type Option func(*Bundler)

// WithCompiler installs a compile orchestrator. Without one no type check
// runs.
func WithCompiler(c *compile.Orchestrator) Option {
	return func(b *Bundler) { b.compiler = c }
}

// WithMetrics records bundle metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bundler) { b.metrics = m }
}

// WithWorkDir sets the directory relative paths are resolved against.
func WithWorkDir(dir string) Option {
	return func(b *Bundler) { b.workDir = dir }
}

// New creates a Bundler
func New(opts ...Option) *Bundler {
	b := &Bundler{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bundler) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if b.workDir != "" {
		return filepath.Join(b.workDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// Bundle produces the artifact for req and returns the assets it
// references. On failure nothing is written to the output path.
func (b *Bundler) Bundle(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "bundle",
		attribute.String("target", string(req.Target)),
		attribute.String("source", req.SourceFile),
	)
	defer func() {
		assets, size := 0, 0
		if res != nil {
			assets, size = len(res.Assets), res.Bytes
		}
		b.metrics.RecordBundle(string(req.Target), time.Since(start), assets, size, err)
		observability.EndSpan(span, err)
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	sourceFile := b.abs(paths.DefaultExt(req.SourceFile, ".ts"))
	outputFile := b.abs(paths.ForceExt(req.OutputFile, ".js"))
	extraFiles := make([]string, 0, len(req.Options.ExtraFiles))
	for _, f := range req.Options.ExtraFiles {
		extraFiles = append(extraFiles, b.abs(paths.DefaultExt(f, ".ts")))
	}

	assetExts, err := resolveAssetExts(req.Options)
	if err != nil {
		return nil, err
	}

	assetRoot := paths.MustRoot(filepath.Dir(outputFile))
	if req.Target == TargetBrowser {
		assetRoot = paths.MustRoot(b.abs(orDot(req.RootDir)))
		if err := assetRoot.Check(); err != nil {
			return nil, err
		}
	}

	scratchDir, cleanup, err := b.scratch(req.Options.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	log.Debug().
		Str("source", sourceFile).
		Str("output", outputFile).
		Str("target", string(req.Target)).
		Strs("asset_exts", assetExts).
		Msg("Bundling")

	if b.compiler.Enabled() {
		cctx, cspan := observability.StartSpan(ctx, "compile")
		entries := append(append([]string{}, extraFiles...), sourceFile)
		var tsconfig string
		if req.Options.TsconfigFile != "" {
			tsconfig = b.abs(req.Options.TsconfigFile)
		}
		cerr := b.compiler.Compile(cctx, entries, tsconfig, assetExts, scratchDir)
		observability.EndSpan(cspan, cerr)
		if cerr != nil {
			return nil, cerr
		}
	}

	transform := NewAssetTransform(req.Target, assetExts, assetRoot, req.Options.MountPrefix)

	_, aspan := observability.StartSpan(ctx, "assemble")
	assembled, err := Assemble(EntryUnits{
		Inline: req.Options.InlineJS,
		Extra:  extraFiles,
		Main:   sourceFile,
	}, AssembleOptions{
		Target:     req.Target,
		WorkDir:    b.abs("."),
		OutputFile: outputFile,
		SourceMap:  req.Options.Debug,
		Metafile:   req.Metafile,
		Plugins:    []api.Plugin{transform.Plugin()},
	})
	observability.EndSpan(aspan, err)
	if err != nil {
		return nil, err
	}
	for _, w := range assembled.Warnings {
		log.Debug().Str("source", sourceFile).Msg(w)
	}

	code := assembled.Code
	if !req.Options.SkipMinify {
		_, mspan := observability.StartSpan(ctx, "minify")
		code, err = Minify(code, MinifyOptions{SourceMap: req.Options.Debug, OutputFile: outputFile})
		observability.EndSpan(mspan, err)
		if err != nil {
			return nil, err
		}
	}

	if err := writeAtomic(outputFile, []byte(code)); err != nil {
		return nil, err
	}

	res = &Result{
		OutputFile: outputFile,
		Target:     req.Target,
		Bytes:      len(code),
		Assets:     transform.Records(),
		Metafile:   assembled.Metafile,
	}
	observability.AddSpanEvent(ctx, "written",
		attribute.Int("bytes", res.Bytes),
		attribute.Int("assets", len(res.Assets)),
	)
	log.Debug().
		Str("output", outputFile).
		Int("bytes", res.Bytes).
		Int("assets", len(res.Assets)).
		Dur("duration", time.Since(start)).
		Msg("Bundle written")
	return res, nil
}

func (b *Bundler) scratch(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
		}
		return dir, func() {}, nil
	}
	tmp, err := os.MkdirTemp("", "bundage-bundle-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

// writeAtomic writes through a sibling temp file and renames it into place
// so readers never observe a partial artifact.
func writeAtomic(file string, data []byte) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := filepath.Join(dir, ".bundage_"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

func orDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
