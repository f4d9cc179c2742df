// Package cmd provides the Cobra commands for the bundage CLI.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/selfage/bundler-cli/cli/output"
	"github.com/selfage/bundler-cli/internal/config"
	"github.com/selfage/bundler-cli/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile     string
	outputFmt   string
	noHeaders   bool
	quiet       bool
	verbose     bool
	metricsFile string

	// Shared across commands
	cfg       *config.Config
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	formatter *output.Formatter
)

// ExitError carries the exit code of a program run by nrun or prun. The
// program already reported its own failure, so main prints nothing more.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bundage",
	Short: "bundage - Bundle and run TypeScript with its assets",
	Long: `bundage bundles TypeScript and JavaScript entries into single artifacts
with esbuild, replacing imports of asset files with their paths.

Features:
  - Run: execute an entry in an embedded runtime (nrun) or a browser (prun)
  - Package: web apps with HTML pages, node servers, web servers
  - Analyze: break a bundle down by input

Get started:
  bundage nrun ./main        Bundle main.ts and run it
  bundage --help             Show available commands`,
	SilenceUsage: true,
	// main prints errors so ExitError stays silent
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initialize(cmd)
	},
}

// Execute runs the CLI
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./bundage.yaml or ./config/bundage.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml, paths")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"omit table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "",
		"write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(nrunCmd)
	rootCmd.AddCommand(prunCmd)
	rootCmd.AddCommand(bwaCmd)
	rootCmd.AddCommand(bnsCmd)
	rootCmd.AddCommand(bwsCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// initialize loads the configuration and sets up logging, metrics, tracing
// and the output formatter for the command about to run.
func initialize(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cmd.Flags().Changed("metrics-file") {
		cfg.MetricsFile = metricsFile
	}
	metrics = observability.NewMetrics()

	tracer, err = observability.NewTracer(cmd.Context(), cfg.Tracing, Version)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
		tracer = nil
	} else if tracer.IsEnabled() {
		log.Debug().Str("endpoint", cfg.Tracing.Endpoint).Msg("Exporting spans")
	}

	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders, quiet)
	return nil
}

// Shutdown flushes traces and writes the metrics file. It is safe to call
// when no command ran.
func Shutdown(ctx context.Context) {
	if tracer != nil {
		if err := tracer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if cfg != nil && cfg.MetricsFile != "" && metrics != nil {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn().Err(err).Str("file", cfg.MetricsFile).Msg("Failed to write metrics")
		}
	}
}

// GetFormatter returns the output formatter (for use by subcommands)
func GetFormatter() *output.Formatter {
	if formatter == nil {
		format, _ := output.ParseFormat(outputFmt)
		formatter = output.NewFormatter(format, noHeaders, quiet)
	}
	return formatter
}
