package bundler

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/selfage/bundler-cli/internal/paths"
)

const inlineNamespace = "bundage-inline"

// EntryUnits are bundled strictly in order: inline fragments, then extra
// pre-files, then the main file.
type EntryUnits struct {
	Inline []string
	Extra  []string
	Main   string
}

// entrySource is the synthetic entry importing every unit in order. ES
// module evaluation follows import order, which gives top-to-bottom
// execution across units.
func (u EntryUnits) entrySource() (string, error) {
	var b strings.Builder
	for i := range u.Inline {
		fmt.Fprintf(&b, "import %q;\n", inlineNamespace+":"+strconv.Itoa(i))
	}
	for _, f := range append(append([]string{}, u.Extra...), u.Main) {
		abs, err := filepath.Abs(f)
		if err != nil {
			return "", fmt.Errorf("failed to resolve entry %s: %w", f, err)
		}
		fmt.Fprintf(&b, "import %q;\n", paths.ToUnix(abs))
	}
	return b.String(), nil
}

// inlinePlugin serves inline fragments from a virtual namespace.
func inlinePlugin(fragments []string, resolveDir string) api.Plugin {
	return api.Plugin{
		Name: "bundage-inline",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^` + inlineNamespace + `:\d+$`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, Namespace: inlineNamespace}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: inlineNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					idx, err := strconv.Atoi(strings.TrimPrefix(args.Path, inlineNamespace+":"))
					if err != nil || idx < 0 || idx >= len(fragments) {
						return api.OnLoadResult{}, fmt.Errorf("unknown inline fragment %s", args.Path)
					}
					contents := fragments[idx]
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     api.LoaderJS,
						ResolveDir: resolveDir,
					}, nil
				})
		},
	}
}

// AssembleOptions configure one esbuild invocation.
type AssembleOptions struct {
	Target Target

	// WorkDir anchors relative paths in diagnostics and source maps.
	WorkDir string

	// OutputFile names the artifact so source map paths are relative to it.
	// Nothing is written to it.
	OutputFile string

	SourceMap bool
	Metafile  bool
	Plugins   []api.Plugin
}

// Assembled is the unminified artifact.
type Assembled struct {
	Code     string
	Metafile string
	Warnings []string
}

// Assemble links the entry units into one artifact. esbuild diagnostics are
// returned verbatim wrapped in ErrBundleResolution.
func Assemble(units EntryUnits, opts AssembleOptions) (*Assembled, error) {
	source, err := units.entrySource()
	if err != nil {
		return nil, err
	}

	buildOpts := api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   source,
			ResolveDir: opts.WorkDir,
			Sourcefile: "<entry>",
			Loader:     api.LoaderJS,
		},
		Bundle:        true,
		Write:         false,
		Metafile:      opts.Metafile,
		AbsWorkingDir: opts.WorkDir,
		Outfile:       opts.OutputFile,
		LogLevel:      api.LogLevelSilent,
		Charset:       api.CharsetUTF8,
		Plugins:       append([]api.Plugin{inlinePlugin(units.Inline, opts.WorkDir)}, opts.Plugins...),
	}

	switch opts.Target {
	case TargetEmbedded:
		buildOpts.Platform = api.PlatformNode
		buildOpts.Format = api.FormatCommonJS
		buildOpts.Packages = api.PackagesExternal
		buildOpts.Target = api.ES2020
	case TargetBrowser:
		buildOpts.Platform = api.PlatformBrowser
		buildOpts.Format = api.FormatIIFE
		buildOpts.Target = api.ES2020
	default:
		return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidOptions, opts.Target)
	}

	if opts.SourceMap {
		buildOpts.Sourcemap = api.SourceMapInline
		buildOpts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Build(buildOpts)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBundleResolution, formatMessages(result.Errors, api.ErrorMessage))
	}

	var code string
	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".js") {
			code = string(f.Contents)
			break
		}
	}
	if code == "" && len(result.OutputFiles) > 0 {
		code = string(result.OutputFiles[0].Contents)
	}

	assembled := &Assembled{Code: code, Metafile: result.Metafile}
	for _, w := range result.Warnings {
		assembled.Warnings = append(assembled.Warnings, w.Text)
	}
	return assembled, nil
}
