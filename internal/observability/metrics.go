package observability

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors for bundling and harness runs.
// A CLI process is short lived, so metrics are gathered from a private
// registry and written out once as a textfile-collector file.
type Metrics struct {
	registry *prometheus.Registry

	// Bundle metrics
	bundleDuration *prometheus.HistogramVec
	bundleAssets   *prometheus.CounterVec
	bundleBytes    *prometheus.HistogramVec

	// Harness metrics
	harnessRuns     *prometheus.CounterVec
	harnessMessages *prometheus.CounterVec
	harnessCommands *prometheus.CounterVec

	// Packaging metrics
	packagingFiles *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		bundleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundage_bundle_duration_seconds",
				Help:    "Time spent producing one artifact",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"target", "status"},
		),
		bundleAssets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundage_bundle_assets_total",
				Help: "Asset imports replaced by stubs",
			},
			[]string{"target"},
		),
		bundleBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundage_bundle_bytes",
				Help:    "Size of written artifacts in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"target"},
		),

		harnessRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundage_harness_runs_total",
				Help: "Completed harness runs by exit code",
			},
			[]string{"exit_code"},
		),
		harnessMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundage_harness_messages_total",
				Help: "Console messages collected from the sandbox",
			},
			[]string{"category"},
		),
		harnessCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundage_harness_commands_total",
				Help: "Privileged commands executed for the sandbox",
			},
			[]string{"command", "status"},
		),

		packagingFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundage_packaging_files_total",
				Help: "Files emitted or copied by packaging",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.bundleDuration,
		m.bundleAssets,
		m.bundleBytes,
		m.harnessRuns,
		m.harnessMessages,
		m.harnessCommands,
		m.packagingFiles,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordBundle records one bundle attempt
func (m *Metrics) RecordBundle(target string, duration time.Duration, assets, bytes int, err error) {
	if m == nil {
		return
	}
	m.bundleDuration.WithLabelValues(target, status(err)).Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.bundleAssets.WithLabelValues(target).Add(float64(assets))
	m.bundleBytes.WithLabelValues(target).Observe(float64(bytes))
}

// RecordHarnessRun records a finished harness run
func (m *Metrics) RecordHarnessRun(exitCode int) {
	if m == nil {
		return
	}
	m.harnessRuns.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// RecordHarnessMessage records one collected console message
func (m *Metrics) RecordHarnessMessage(category string) {
	if m == nil {
		return
	}
	m.harnessMessages.WithLabelValues(category).Inc()
}

// RecordHarnessCommand records one privileged command
func (m *Metrics) RecordHarnessCommand(command string, err error) {
	if m == nil {
		return
	}
	m.harnessCommands.WithLabelValues(command, status(err)).Inc()
}

// RecordPackagingFiles records files produced by packaging
func (m *Metrics) RecordPackagingFiles(kind string, n int) {
	if m == nil {
		return
	}
	m.packagingFiles.WithLabelValues(kind).Add(float64(n))
}

// WriteTextfile writes every metric in the Prometheus text format.
func (m *Metrics) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
