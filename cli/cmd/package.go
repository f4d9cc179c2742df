package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selfage/bundler-cli/cli/output"
	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/packaging"
)

var (
	bwaFlags bundleFlags
	bnsFlags bundleFlags
	bwsFlags bundleFlags

	bwaEntriesFile   string
	bwaResourcesFile string
	bwaOutDir        string

	bnsFromDir string
	bnsToDir   string

	bwsEntriesFile   string
	bwsWebAppBaseDir string
	bwsFromDir       string
	bwsToDir         string
)

var bwaCmd = &cobra.Command{
	Use:     "bundleWebApps",
	Aliases: []string{"bwa"},
	Short:   "Bundle the web apps listed in an entries file",
	Long: `Bundle every web app of a YAML entries file for the browser target. Each
app gets a gzipped artifact and an HTML page loading it. Every produced file is
listed in a resources file and optionally copied to an output directory, which
may be an s3://bucket/prefix location.

Entries file:
  entries:
    - source: ./app/main
      output: ./app/main_bin
  extraAssets:
    - favicon.ico
    - img/**/*.png

Examples:
  bundage bwa
  bundage bwa --entries-config-file ./web/web_app_entries.yaml --out-dir ./dist
  bundage bwa --out-dir s3://assets/web -o json`,
	Args: cobra.NoArgs,
	RunE: runBundleWebApps,
}

var bnsCmd = &cobra.Command{
	Use:     "bundleNodeServer <source> <output>",
	Aliases: []string{"bns"},
	Short:   "Bundle a server for the embedded target",
	Long: `Bundle a server entry for the embedded target, leaving npm packages
external. When --to-dir differs from --from-dir, the artifact is moved and its
assets are copied there, keeping their layout relative to --from-dir.

Examples:
  bundage bns ./server/main ./bin/server
  bundage bns ./server/main ./bin/server -f . -t ./deploy`,
	Args: cobra.ExactArgs(2),
	RunE: runBundleNodeServer,
}

var bwsCmd = &cobra.Command{
	Use:     "bundleWebServer <source> <output>",
	Aliases: []string{"bws"},
	Short:   "Bundle a server together with the web apps it serves",
	Long: `Bundle a server entry for the embedded target and the web apps of an
entries file for the browser target. The server finds the web app directory at
runtime through globalThis.WEB_APP_BASE_DIR.

Examples:
  bundage bws ./server/main ./bin/server --entries-config-file ./web/web_app_entries.yaml --web-app-base-dir ./web
  bundage bws ./server/main ./bin/server -t ./deploy`,
	Args: cobra.ExactArgs(2),
	RunE: runBundleWebServer,
}

func init() {
	addBundleFlags(bwaCmd, &bwaFlags)
	bwaCmd.Flags().StringVar(&bwaEntriesFile, "entries-config-file", packaging.DefaultEntriesFile, "web app entries file")
	bwaCmd.Flags().StringVar(&bwaResourcesFile, "resources-file", packaging.DefaultResourcesFile, "resources file to write")
	bwaCmd.Flags().StringVar(&bwaOutDir, "out-dir", "", "copy every file here (local directory or s3://bucket/prefix)")

	addBundleFlags(bnsCmd, &bnsFlags)
	bnsCmd.Flags().StringVarP(&bnsFromDir, "from-dir", "f", ".", "directory the copied layout is relative to")
	bnsCmd.Flags().StringVarP(&bnsToDir, "to-dir", "t", ".", "destination directory or s3://bucket/prefix")

	addBundleFlags(bwsCmd, &bwsFlags)
	bwsCmd.Flags().StringVar(&bwsEntriesFile, "entries-config-file", packaging.DefaultEntriesFile, "web app entries file")
	bwsCmd.Flags().StringVar(&bwsWebAppBaseDir, "web-app-base-dir", ".", "serve root of the web apps")
	bwsCmd.Flags().StringVarP(&bwsFromDir, "from-dir", "f", ".", "directory the copied layout is relative to")
	bwsCmd.Flags().StringVarP(&bwsToDir, "to-dir", "t", ".", "destination directory or s3://bucket/prefix")
}

func newPackager(opts bundler.Options) (*packaging.Packager, error) {
	b, err := newBundler(opts)
	if err != nil {
		return nil, err
	}
	return packaging.New(b,
		packaging.WithPublishConfig(&cfg.Publish),
		packaging.WithMetrics(metrics),
	), nil
}

func runBundleWebApps(cmd *cobra.Command, args []string) error {
	opts, err := bundleOptions(cmd, &bwaFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	p, err := newPackager(opts)
	if err != nil {
		return err
	}

	res, err := p.BundleWebApps(cmd.Context(), packaging.WebAppsRequest{
		EntriesFile:   bwaEntriesFile,
		ResourcesFile: bwaResourcesFile,
		OutDir:        bwaOutDir,
		Options:       opts,
	})
	if err != nil {
		return err
	}

	f := GetFormatter()
	if f.Format.Structured() {
		return f.Print(res)
	}
	rows := make([]output.FileRow, 0, len(res.Files))
	for _, file := range res.Files {
		rows = append(rows, output.FileRow{Path: file})
	}
	if err := f.PrintFiles(rows); err != nil {
		return err
	}
	printPlacement(f, res.Placement)
	return nil
}

func runBundleNodeServer(cmd *cobra.Command, args []string) error {
	opts, err := bundleOptions(cmd, &bnsFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	p, err := newPackager(opts)
	if err != nil {
		return err
	}

	res, err := p.BundleNodeServer(cmd.Context(), packaging.NodeServerRequest{
		SourceFile: args[0],
		OutputFile: args[1],
		FromDir:    bnsFromDir,
		ToDir:      bnsToDir,
		Options:    opts,
	})
	if err != nil {
		return err
	}
	return printServerResult(res)
}

func runBundleWebServer(cmd *cobra.Command, args []string) error {
	opts, err := bundleOptions(cmd, &bwsFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	p, err := newPackager(opts)
	if err != nil {
		return err
	}

	res, err := p.BundleWebServer(cmd.Context(), packaging.WebServerRequest{
		SourceFile:    args[0],
		OutputFile:    args[1],
		EntriesFile:   bwsEntriesFile,
		WebAppBaseDir: bwsWebAppBaseDir,
		FromDir:       bwsFromDir,
		ToDir:         bwsToDir,
		Options:       opts,
	})
	if err != nil {
		return err
	}
	return printServerResult(res)
}

func printServerResult(res *packaging.ServerResult) error {
	f := GetFormatter()
	if f.Format.Structured() {
		return f.Print(res)
	}

	f.PrintKeyValue("Artifact", res.Bundle.OutputFile)
	f.PrintKeyValue("Size", bundler.FormatBytes(res.Bundle.Bytes))
	var rows []output.FileRow
	if f.Format == output.FormatPaths {
		rows = append(rows, output.FileRow{Kind: "artifact", Path: res.Bundle.OutputFile})
	}
	for _, a := range res.Bundle.Assets {
		rows = append(rows, output.FileRow{Kind: "asset", Path: a.RelPath})
	}
	for _, file := range res.WebAppFiles {
		rows = append(rows, output.FileRow{Kind: "web", Path: file})
	}
	if err := f.PrintFiles(rows); err != nil {
		return err
	}
	printPlacement(f, res.Placement)
	return nil
}

func printPlacement(f *output.Formatter, p *packaging.Placement) {
	if p == nil || p.Destination == "" {
		return
	}
	f.PrintSuccess(fmt.Sprintf("Placed %d files in %s (%d moved)", p.Copied+p.Moved, p.Destination, p.Moved))
}
