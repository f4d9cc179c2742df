package observability

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordBundle(t *testing.T) {
	m := NewMetrics()

	m.RecordBundle("browser", 120*time.Millisecond, 3, 4096, nil)
	m.RecordBundle("browser", 10*time.Millisecond, 1, 100, nil)
	m.RecordBundle("embedded", time.Second, 5, 0, errors.New("boom"))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.bundleAssets.WithLabelValues("browser")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bundleAssets.WithLabelValues("embedded")),
		"failed bundles do not count assets")
	assert.Equal(t, 2, testutil.CollectAndCount(m.bundleDuration))
}

func TestMetrics_Harness(t *testing.T) {
	m := NewMetrics()

	m.RecordHarnessRun(0)
	m.RecordHarnessRun(0)
	m.RecordHarnessRun(1)
	m.RecordHarnessMessage("log")
	m.RecordHarnessCommand("screenshot", nil)
	m.RecordHarnessCommand("readFile", errors.New("missing"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.harnessRuns.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.harnessRuns.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.harnessMessages.WithLabelValues("log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.harnessCommands.WithLabelValues("readFile", "error")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBundle("browser", time.Second, 1, 1, nil)
		m.RecordHarnessRun(0)
		m.RecordHarnessMessage("log")
		m.RecordHarnessCommand("exit", nil)
		m.RecordPackagingFiles("gzip", 2)
	})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordPackagingFiles("html", 2)

	file := filepath.Join(t.TempDir(), "bundage.prom")
	require.NoError(t, m.WriteTextfile(file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bundage_packaging_files_total{kind="html"} 2`)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
