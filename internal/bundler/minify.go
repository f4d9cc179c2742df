package bundler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
)

// MinifyOptions configure the minifier.
type MinifyOptions struct {
	// SourceMap chains the artifact's inline source map into the minified
	// output, keeping original sources inline.
	SourceMap bool

	// OutputFile is where the artifact will live. With SourceMap set the
	// input is staged next to it so source paths stay relative to the same
	// directory.
	OutputFile string
}

// Minify reduces the artifact. Any minifier error is fatal and no output is
// returned.
func Minify(code string, opts MinifyOptions) (string, error) {
	if !opts.SourceMap {
		result := api.Transform(code, api.TransformOptions{
			Loader:            api.LoaderJS,
			MinifyWhitespace:  true,
			MinifyIdentifiers: true,
			MinifySyntax:      true,
			Charset:           api.CharsetUTF8,
			LogLevel:          api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			return "", fmt.Errorf("%w: %s", ErrMinifyFailure, formatMessages(result.Errors, api.ErrorMessage))
		}
		return string(result.Code), nil
	}
	return minifyWithSourceMap(code, opts.OutputFile)
}

// minifyWithSourceMap runs a non-bundling build over a staged copy so
// esbuild picks up the input's inline source map and composes it with the
// minification map.
func minifyWithSourceMap(code, outputFile string) (string, error) {
	outAbs, err := filepath.Abs(outputFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output file: %w", err)
	}
	staged := filepath.Join(filepath.Dir(outAbs), ".bundage_minify_"+uuid.NewString()+".js")
	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(staged, []byte(code), 0600); err != nil {
		return "", fmt.Errorf("failed to stage artifact for minification: %w", err)
	}
	defer func() { _ = os.Remove(staged) }()

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{staged},
		Outfile:           outAbs,
		Write:             false,
		Bundle:            false,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Sourcemap:         api.SourceMapInline,
		SourcesContent:    api.SourcesContentInclude,
		Charset:           api.CharsetUTF8,
		LogLevel:          api.LogLevelSilent,
		AbsWorkingDir:     filepath.Dir(outAbs),
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMinifyFailure, formatMessages(result.Errors, api.ErrorMessage))
	}
	for _, f := range result.OutputFiles {
		if filepath.Ext(f.Path) == ".js" {
			return string(f.Contents), nil
		}
	}
	return "", fmt.Errorf("%w: minifier produced no output", ErrMinifyFailure)
}
