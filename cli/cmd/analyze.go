package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/selfage/bundler-cli/cli/output"
	"github.com/selfage/bundler-cli/internal/bundler"
)

var (
	analyzeFlags   bundleFlags
	analyzeTarget  string
	analyzeDetails bool
	analyzeRootDir string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <source>...",
	Short: "Break a bundle down by input",
	Long: `Bundle one or more entries and report how much each input contributes, which
modules stay external and which assets are referenced. Artifacts are written
next to their sources and removed afterwards. With more than one source a
size summary follows the per-entry reports.

Examples:
  bundage analyze ./server/main
  bundage analyze ./app/main --target browser --details
  bundage analyze ./app/main ./app/admin -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	addBundleFlags(analyzeCmd, &analyzeFlags)
	analyzeCmd.Flags().StringVar(&analyzeTarget, "target", string(bundler.TargetEmbedded), "embedded or browser")
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "list every input")
	analyzeCmd.Flags().StringVarP(&analyzeRootDir, "base-dir", "b", ".", "serve root for the browser target")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	target, err := bundler.ParseTarget(analyzeTarget)
	if err != nil {
		return err
	}
	opts, err := bundleOptions(cmd, &analyzeFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	b, err := newBundler(opts)
	if err != nil {
		return err
	}

	analyses := make([]*bundler.Analysis, 0, len(args))
	for _, source := range args {
		analysis, err := analyzeSource(cmd, b, source, target, opts)
		if err != nil {
			return err
		}
		analyses = append(analyses, analysis)
	}

	f := GetFormatter()
	switch f.Format {
	case output.FormatJSON, output.FormatYAML:
		if len(analyses) == 1 {
			return f.Print(analyses[0])
		}
		return f.Print(analyses)
	case output.FormatPaths:
		var rows []output.FileRow
		for _, analysis := range analyses {
			for _, in := range analysis.Inputs {
				rows = append(rows, output.FileRow{Path: in.Path})
			}
		}
		return f.PrintFiles(rows)
	}
	if f.Quiet {
		return nil
	}
	for _, analysis := range analyses {
		bundler.WriteReport(f.Writer, analysis, analyzeDetails)
	}
	if len(analyses) > 1 {
		bundler.WriteSummary(f.Writer, analyses)
	}
	return nil
}

func analyzeSource(cmd *cobra.Command, b *bundler.Bundler, source string, target bundler.Target, opts bundler.Options) (*bundler.Analysis, error) {
	outputFile := filepath.Join(filepath.Dir(source), ".bundage_analyze_"+filepath.Base(binFile(source)))
	defer func() { _ = os.Remove(outputFile) }()

	res, err := b.Bundle(cmd.Context(), bundler.Request{
		SourceFile: source,
		OutputFile: outputFile,
		Target:     target,
		RootDir:    analyzeRootDir,
		Metafile:   true,
		Options:    opts,
	})
	if err != nil {
		return nil, err
	}

	analysis, err := bundler.Analyze(res)
	if err != nil {
		return nil, err
	}
	analysis.Name = source
	return analysis, nil
}
