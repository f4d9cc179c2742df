package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "bundage.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))
	return file
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./package.json", cfg.Bundle.PackageJSONFile)
	assert.Empty(t, cfg.Bundle.AssetExts)
	assert.Equal(t, "auto", cfg.Bundle.TypeCheck)
	assert.False(t, cfg.Bundle.SkipMinify)
	assert.Equal(t, "localhost", cfg.Harness.Host)
	assert.Equal(t, 8000, cfg.Harness.Port)
	assert.True(t, cfg.Harness.Headless)
	assert.Equal(t, time.Duration(0), cfg.Harness.Timeout)
	assert.Equal(t, "us-east-1", cfg.Publish.S3Region)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "bundage", cfg.Tracing.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_File(t *testing.T) {
	t.Chdir(t.TempDir())
	file := writeConfig(t, `
bundle:
  asset_exts: [".png", ".txt"]
  inline_js: ["globalThis.extra = 1"]
  skip_minify: true
  type_check: never
  mount_prefix: static
harness:
  port: 0
  headless: false
  timeout: 30s
  content_types:
    xyz: text/x-notes
publish:
  s3_endpoint: http://localhost:9000
log_level: debug
metrics_file: out/metrics.prom
`)

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, []string{".png", ".txt"}, cfg.Bundle.AssetExts)
	assert.Equal(t, []string{"globalThis.extra = 1"}, cfg.Bundle.InlineJS)
	assert.True(t, cfg.Bundle.SkipMinify)
	assert.Equal(t, "never", cfg.Bundle.TypeCheck)
	assert.Equal(t, "static", cfg.Bundle.MountPrefix)
	assert.Equal(t, 0, cfg.Harness.Port)
	assert.False(t, cfg.Harness.Headless)
	assert.Equal(t, 30*time.Second, cfg.Harness.Timeout)
	assert.Equal(t, map[string]string{".xyz": "text/x-notes"}, cfg.Harness.ContentTypeOverrides())
	assert.Equal(t, "http://localhost:9000", cfg.Publish.S3Endpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "out/metrics.prom", cfg.MetricsFile)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BUNDAGE_HARNESS_PORT", "9123")
	t.Setenv("BUNDAGE_BUNDLE_DEBUG", "true")
	t.Setenv("BUNDAGE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9123, cfg.Harness.Port)
	assert.True(t, cfg.Bundle.Debug)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BUNDAGE_HARNESS_HOST=127.0.0.1\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("BUNDAGE_HARNESS_HOST") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Harness.Host)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bundle:\n  asset_exts: [\"png\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with '.'")
}

func TestBundleConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  BundleConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: BundleConfig{AssetExts: []string{".png"}, TypeCheck: "auto"},
		},
		{
			name:   "type check is case insensitive",
			config: BundleConfig{TypeCheck: "ALWAYS"},
		},
		{
			name:    "extension without dot",
			config:  BundleConfig{AssetExts: []string{"txt"}, TypeCheck: "auto"},
			wantErr: true,
			errMsg:  "must start with '.'",
		},
		{
			name:    "bare dot",
			config:  BundleConfig{AssetExts: []string{"."}, TypeCheck: "auto"},
			wantErr: true,
			errMsg:  "must start with '.'",
		},
		{
			name:    "unknown type check",
			config:  BundleConfig{TypeCheck: "sometimes"},
			wantErr: true,
			errMsg:  "invalid type_check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHarnessConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  HarnessConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: HarnessConfig{Port: 8000, Timeout: time.Second, ContentTypes: map[string]string{"xyz": "text/plain"}},
		},
		{
			name:    "port out of range",
			config:  HarnessConfig{Port: 70000},
			wantErr: true,
			errMsg:  "port must be between 0 and 65535",
		},
		{
			name:    "negative timeout",
			config:  HarnessConfig{Timeout: -time.Second},
			wantErr: true,
			errMsg:  "timeout must not be negative",
		},
		{
			name:    "dotted content type key",
			config:  HarnessConfig{ContentTypes: map[string]string{"a.b": "text/plain"}},
			wantErr: true,
			errMsg:  "bare extension",
		},
		{
			name:    "empty content type",
			config:  HarnessConfig{ContentTypes: map[string]string{"xyz": ""}},
			wantErr: true,
			errMsg:  "is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublishConfig_Validate(t *testing.T) {
	assert.Error(t, (&PublishConfig{}).Validate())
	assert.Error(t, (&PublishConfig{S3Endpoint: "localhost:9000"}).Validate())
	assert.NoError(t, (&PublishConfig{S3Endpoint: "localhost:9000", S3AccessKey: "a", S3SecretKey: "b"}).Validate())
}

func TestConfig_ValidateLogLevel(t *testing.T) {
	cfg := &Config{
		Bundle:   BundleConfig{TypeCheck: "auto"},
		LogLevel: "loud",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_level")
}
