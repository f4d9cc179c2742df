package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/selfage/bundler-cli/internal/browser"
	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/harness"
	"github.com/selfage/bundler-cli/internal/paths"
	"github.com/selfage/bundler-cli/internal/runtime"
)

var (
	nrunFlags bundleFlags
	prunFlags bundleFlags

	prunBaseDir    string
	prunHost       string
	prunPort       int
	prunNoHeadless bool
	prunTimeout    time.Duration
	prunChromePath string
)

var nrunCmd = &cobra.Command{
	Use:     "runInNode <source> [-- args...]",
	Aliases: []string{"nrun"},
	Short:   "Bundle an entry and run it in the embedded runtime",
	Long: `Bundle a TypeScript entry for the embedded target and run it in-process.
The artifact is written next to the source as <source>_bin.js. Arguments after
-- are passed to the program as process.argv.

Examples:
  bundage nrun ./main
  bundage nrun ./main -a .txt,.png -- --port 8080`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInNode,
}

var prunCmd = &cobra.Command{
	Use:     "runInBrowser <source> [-- args...]",
	Aliases: []string{"prun"},
	Short:   "Bundle an entry and run it in a browser",
	Long: `Bundle a TypeScript entry for the browser target and run it in Chrome.
Console output is mirrored to the terminal. The page may call screenshot,
readFile, deleteFile, setViewport and exit.

Examples:
  bundage prun ./test/main_test
  bundage prun ./test/main_test -b . -p 8080 --timeout 30s
  bundage prun ./test/main_test --no-headless -- --case 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInBrowser,
}

func init() {
	addBundleFlags(nrunCmd, &nrunFlags)

	addBundleFlags(prunCmd, &prunFlags)
	prunCmd.Flags().StringVarP(&prunBaseDir, "base-dir", "b", ".", "directory served to the browser")
	prunCmd.Flags().StringVar(&prunHost, "host", "", "host the static server binds to")
	prunCmd.Flags().IntVarP(&prunPort, "port", "p", 0, "port the static server binds to (0 picks a free port)")
	prunCmd.Flags().BoolVar(&prunNoHeadless, "no-headless", false, "show the browser window")
	prunCmd.Flags().DurationVar(&prunTimeout, "timeout", 0, "stop the run after this long (0 waits for exit())")
	prunCmd.Flags().StringVar(&prunChromePath, "chrome-path", "", "Chrome executable")
}

// binFile names the artifact written for a runnable entry.
func binFile(source string) string {
	return paths.StripExt(source) + "_bin.js"
}

func runInNode(cmd *cobra.Command, args []string) error {
	opts, err := bundleOptions(cmd, &nrunFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	b, err := newBundler(opts)
	if err != nil {
		return err
	}

	res, err := b.Bundle(cmd.Context(), bundler.Request{
		SourceFile: args[0],
		OutputFile: binFile(args[0]),
		Target:     bundler.TargetEmbedded,
		Options:    opts,
	})
	if err != nil {
		return err
	}

	run, err := runtime.Run(cmd.Context(), res.OutputFile, runtime.Options{
		Args:   args[1:],
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil && run == nil {
		return err
	}
	log.Debug().Int("exit_code", run.ExitCode).Dur("duration", run.Duration).Msg("Program finished")
	if run.ExitCode != 0 {
		return &ExitError{Code: run.ExitCode}
	}
	return nil
}

func runInBrowser(cmd *cobra.Command, args []string) error {
	opts, err := bundleOptions(cmd, &prunFlags, cfg.Bundle)
	if err != nil {
		return err
	}
	b, err := newBundler(opts)
	if err != nil {
		return err
	}

	res, err := b.Bundle(cmd.Context(), bundler.Request{
		SourceFile: args[0],
		OutputFile: binFile(args[0]),
		Target:     bundler.TargetBrowser,
		RootDir:    prunBaseDir,
		Options:    opts,
	})
	if err != nil {
		return err
	}

	hopts := harnessOptions(cmd)
	hopts.RootDir = prunBaseDir
	hopts.Args = args[1:]
	hopts.OnOutput = mirrorOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())

	h := harness.New(browser.NewEngine(), harness.WithMetrics(metrics))
	run, err := h.Run(cmd.Context(), res.OutputFile, hopts)
	if errors.Is(err, harness.ErrTimeout) && run != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Timed out after %s.\n", hopts.Timeout)
		err = nil
	}
	if err != nil {
		return err
	}
	if run.ExitCode != 0 {
		log.Debug().Err(run.Cause).Int("exit_code", run.ExitCode).Dur("duration", run.Duration).Msg("Browser run failed")
		return &ExitError{Code: run.ExitCode}
	}
	return nil
}

// harnessOptions overlays the flags the user set on the configured harness
// settings.
func harnessOptions(cmd *cobra.Command) harness.Options {
	hc := cfg.Harness
	flags := cmd.Flags()
	if flags.Changed("host") {
		hc.Host = prunHost
	}
	if flags.Changed("port") {
		hc.Port = prunPort
	}
	if flags.Changed("no-headless") {
		hc.Headless = !prunNoHeadless
	}
	if flags.Changed("timeout") {
		hc.Timeout = prunTimeout
	}
	if flags.Changed("chrome-path") {
		hc.ChromePath = prunChromePath
	}

	contentTypes := harness.DefaultContentTypes()
	for ext, ct := range hc.ContentTypeOverrides() {
		contentTypes[ext] = ct
	}
	return harness.Options{
		Host:         hc.Host,
		Port:         hc.Port,
		Headless:     hc.Headless,
		ExecPath:     hc.ChromePath,
		Timeout:      hc.Timeout,
		ContentTypes: contentTypes,
	}
}

// mirrorOutput prints sandbox console output as it is collected.
func mirrorOutput(stdout, stderr io.Writer) func(category, text string) {
	return func(category, text string) {
		switch category {
		case harness.CategoryLog:
			_, _ = fmt.Fprintln(stdout, text)
		case harness.CategoryWarn, harness.CategoryError:
			_, _ = fmt.Fprintln(stderr, text)
		default:
			_, _ = fmt.Fprintf(stdout, "[%s] %s\n", category, text)
		}
	}
}
