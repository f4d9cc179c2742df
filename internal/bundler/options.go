package bundler

import (
	"fmt"
	"strings"

	"github.com/selfage/bundler-cli/internal/compile"
)

// Target selects how the artifact is packaged and what asset stubs export.
type Target string

const (
	// TargetEmbedded produces a CommonJS artifact for an in-process runtime.
	// npm packages stay external and asset stubs export absolute paths.
	TargetEmbedded Target = "embedded"

	// TargetBrowser produces a self-contained IIFE artifact. Asset stubs
	// export server-relative URLs under the serve root.
	TargetBrowser Target = "browser"
)

// ParseTarget validates a target name. "node" is accepted for the embedded
// target.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(s) {
	case "embedded", "node":
		return TargetEmbedded, nil
	case "browser", "web":
		return TargetBrowser, nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", ErrInvalidOptions, s)
	}
}

// Options are the knobs shared by every bundle request. Every field has a
// usable zero value.
type Options struct {
	// TsconfigFile is passed to the compiler. Empty lets tsc search from the
	// working directory.
	TsconfigFile string

	// PackageJSONFile is read for `assetExts` when AssetExts is nil.
	// Defaults to ./package.json and may be missing.
	PackageJSONFile string

	// AssetExts lists dot-prefixed, case-sensitive extensions treated as
	// assets. nil means load from PackageJSONFile.
	AssetExts []string

	// ExtraFiles are bundled before the main file, in order.
	ExtraFiles []string

	// InlineJS fragments are bundled before everything else, in order.
	InlineJS []string

	SkipMinify bool

	// Debug keeps an inline source map with inline sources.
	Debug bool

	// TypeCheck controls whether the compiler runs before bundling.
	TypeCheck compile.Mode

	// TscPath overrides tsc discovery.
	TscPath string

	// MountPrefix is prepended to browser asset URLs: "/<prefix>/<rel>".
	MountPrefix string

	// ScratchDir holds per-invocation temporary files. Empty creates a fresh
	// temporary directory per request.
	ScratchDir string
}

// Request is one packaging operation. It is not modified while bundling.
type Request struct {
	// SourceFile is the main entry. A missing extension defaults to .ts.
	SourceFile string

	// OutputFile is the artifact path. Its extension is always forced to .js.
	OutputFile string

	Target Target

	// RootDir is the serve root for the browser target. Ignored for the
	// embedded target, whose asset root is the output file's directory.
	RootDir string

	// Metafile asks esbuild for its metafile, returned in Result.
	Metafile bool

	Options Options
}

// AssetRecord is one discovered asset import.
type AssetRecord struct {
	// SourcePath is the absolute location of the asset file.
	SourcePath string `json:"source_path" yaml:"source_path"`

	// RelPath is relative to the operation's asset root, with forward slashes.
	RelPath string `json:"path" yaml:"path"`

	// Stub is the generated module text that replaced the asset.
	Stub string `json:"-" yaml:"-"`
}

// Result describes a finished bundle.
type Result struct {
	OutputFile string        `json:"output_file" yaml:"output_file"`
	Target     Target        `json:"target" yaml:"target"`
	Bytes      int           `json:"bytes" yaml:"bytes"`
	Assets     []AssetRecord `json:"assets" yaml:"assets"`
	Metafile   string        `json:"-" yaml:"-"`
}

// AssetPaths returns the asset paths relative to the asset root.
func (r *Result) AssetPaths() []string {
	out := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		out = append(out, a.RelPath)
	}
	return out
}

// ValidateAssetExts enforces the dot-prefixed extension form.
func ValidateAssetExts(exts []string) error {
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("%w: asset extension %q must start with '.'", ErrInvalidOptions, ext)
		}
		if strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("%w: asset extension %q contains a path separator", ErrInvalidOptions, ext)
		}
	}
	return nil
}

func (r Request) validate() error {
	if r.SourceFile == "" {
		return fmt.Errorf("%w: source file is required", ErrInvalidOptions)
	}
	if r.OutputFile == "" {
		return fmt.Errorf("%w: output file is required", ErrInvalidOptions)
	}
	if r.Target != TargetEmbedded && r.Target != TargetBrowser {
		return fmt.Errorf("%w: unknown target %q", ErrInvalidOptions, r.Target)
	}
	if r.Options.AssetExts != nil {
		if err := ValidateAssetExts(r.Options.AssetExts); err != nil {
			return err
		}
	}
	return nil
}
