package cmd

import (
	"github.com/spf13/cobra"

	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/compile"
	"github.com/selfage/bundler-cli/internal/config"
)

// bundleFlags are the bundle options every bundling command accepts. Each
// command owns its own instance.
type bundleFlags struct {
	extraFiles   []string
	inlineJS     []string
	assetExts    []string
	skipMinify   bool
	debug        bool
	tsconfigFile string
	typeCheck    string
	packageJSON  string
	tscPath      string
	mountPrefix  string
}

func addBundleFlags(cmd *cobra.Command, f *bundleFlags) {
	flags := cmd.Flags()
	flags.StringSliceVarP(&f.extraFiles, "extra-files", "e", nil,
		"files bundled before the main file, in order")
	flags.StringSliceVarP(&f.inlineJS, "inline-js", "i", nil,
		"JavaScript fragments bundled before everything else")
	flags.StringSliceVarP(&f.assetExts, "asset-exts", "a", nil,
		"asset extensions including the dot, e.g. .png,.txt (default: assetExts of package.json)")
	flags.BoolVarP(&f.skipMinify, "skip-minify", "s", false,
		"keep the artifact unminified")
	flags.BoolVarP(&f.debug, "debug", "d", false,
		"embed an inline source map")
	flags.StringVarP(&f.tsconfigFile, "tsconfig-file", "c", "",
		"tsconfig used for type checking")
	flags.StringVar(&f.typeCheck, "type-check", "",
		"type check before bundling: auto, always, never")
	flags.StringVar(&f.packageJSON, "package-json", "",
		"package.json to read assetExts from")
	flags.StringVar(&f.tscPath, "tsc", "",
		"path of the TypeScript compiler")
	flags.StringVar(&f.mountPrefix, "mount-prefix", "",
		"prefix of browser asset URLs")
}

// bundleOptions overlays the flags the user set on the configured defaults.
func bundleOptions(cmd *cobra.Command, f *bundleFlags, bc config.BundleConfig) (bundler.Options, error) {
	flags := cmd.Flags()
	if flags.Changed("extra-files") {
		bc.ExtraFiles = f.extraFiles
	}
	if flags.Changed("inline-js") {
		bc.InlineJS = f.inlineJS
	}
	if flags.Changed("asset-exts") {
		bc.AssetExts = f.assetExts
		if bc.AssetExts == nil {
			bc.AssetExts = []string{}
		}
	}
	if flags.Changed("skip-minify") {
		bc.SkipMinify = f.skipMinify
	}
	if flags.Changed("debug") {
		bc.Debug = f.debug
	}
	if flags.Changed("tsconfig-file") {
		bc.TsconfigFile = f.tsconfigFile
	}
	if flags.Changed("type-check") {
		bc.TypeCheck = f.typeCheck
	}
	if flags.Changed("package-json") {
		bc.PackageJSONFile = f.packageJSON
	}
	if flags.Changed("tsc") {
		bc.TscPath = f.tscPath
	}
	if flags.Changed("mount-prefix") {
		bc.MountPrefix = f.mountPrefix
	}

	mode, err := compile.ParseMode(bc.TypeCheck)
	if err != nil {
		return bundler.Options{}, err
	}
	if bc.AssetExts != nil {
		if err := bundler.ValidateAssetExts(bc.AssetExts); err != nil {
			return bundler.Options{}, err
		}
	}
	return bundler.Options{
		TsconfigFile:    bc.TsconfigFile,
		PackageJSONFile: bc.PackageJSONFile,
		AssetExts:       bc.AssetExts,
		ExtraFiles:      bc.ExtraFiles,
		InlineJS:        bc.InlineJS,
		SkipMinify:      bc.SkipMinify,
		Debug:           bc.Debug,
		TypeCheck:       mode,
		TscPath:         bc.TscPath,
		MountPrefix:     bc.MountPrefix,
	}, nil
}

// newBundler builds a bundler whose type checking follows opts.
func newBundler(opts bundler.Options) (*bundler.Bundler, error) {
	orchestrator, err := compile.NewOrchestrator(opts.TypeCheck, opts.TscPath, "")
	if err != nil {
		return nil, err
	}
	return bundler.New(
		bundler.WithCompiler(orchestrator),
		bundler.WithMetrics(metrics),
	), nil
}
