package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/selfage/bundler-cli/internal/observability"
)

// Config represents the application configuration
type Config struct {
	Bundle      BundleConfig               `mapstructure:"bundle"`
	Harness     HarnessConfig              `mapstructure:"harness"`
	Publish     PublishConfig              `mapstructure:"publish"`
	Tracing     observability.TracerConfig `mapstructure:"tracing"`
	LogLevel    string                     `mapstructure:"log_level"`
	MetricsFile string                     `mapstructure:"metrics_file"`
}

// BundleConfig contains the options shared by every bundle command
type BundleConfig struct {
	TsconfigFile    string   `mapstructure:"tsconfig_file"`
	PackageJSONFile string   `mapstructure:"package_json_file"`
	AssetExts       []string `mapstructure:"asset_exts"` // empty means read package.json
	ExtraFiles      []string `mapstructure:"extra_files"`
	InlineJS        []string `mapstructure:"inline_js"`
	SkipMinify      bool     `mapstructure:"skip_minify"`
	Debug           bool     `mapstructure:"debug"`
	TypeCheck       string   `mapstructure:"type_check"` // auto, always or never
	TscPath         string   `mapstructure:"tsc_path"`
	MountPrefix     string   `mapstructure:"mount_prefix"`
}

// HarnessConfig contains browser harness settings
type HarnessConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"` // 0 picks a free port
	Headless   bool          `mapstructure:"headless"`
	Timeout    time.Duration `mapstructure:"timeout"` // 0 waits forever
	ChromePath string        `mapstructure:"chrome_path"`

	// ContentTypes extends the static server's extension table. Keys are
	// extensions without the leading dot, because viper splits keys on '.'.
	ContentTypes map[string]string `mapstructure:"content_types"`
}

// PublishConfig contains S3-compatible destination settings, used when a
// copy destination is an s3:// location
type PublishConfig struct {
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

var typeCheckModes = []string{"auto", "always", "never"}

// Load loads configuration from file and environment variables. An empty
// configFile searches for bundage.yaml in . and ./config; a missing file is
// fine then. An explicit configFile must exist.
func Load(configFile string) (*Config, error) {
	viper.Reset()

	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("bundage")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("BUNDAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Bundle defaults
	viper.SetDefault("bundle.tsconfig_file", "")
	viper.SetDefault("bundle.package_json_file", "./package.json")
	viper.SetDefault("bundle.asset_exts", []string{})
	viper.SetDefault("bundle.extra_files", []string{})
	viper.SetDefault("bundle.inline_js", []string{})
	viper.SetDefault("bundle.skip_minify", false)
	viper.SetDefault("bundle.debug", false)
	viper.SetDefault("bundle.type_check", "auto")
	viper.SetDefault("bundle.tsc_path", "")
	viper.SetDefault("bundle.mount_prefix", "")

	// Harness defaults
	viper.SetDefault("harness.host", "localhost")
	viper.SetDefault("harness.port", 8000)
	viper.SetDefault("harness.headless", true)
	viper.SetDefault("harness.timeout", "0s")
	viper.SetDefault("harness.chrome_path", "")

	// Publish defaults
	viper.SetDefault("publish.s3_endpoint", "")
	viper.SetDefault("publish.s3_access_key", "")
	viper.SetDefault("publish.s3_secret_key", "")
	viper.SetDefault("publish.s3_region", "us-east-1")
	viper.SetDefault("publish.s3_use_ssl", true)

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	viper.SetDefault("tracing.enabled", tracing.Enabled)
	viper.SetDefault("tracing.endpoint", tracing.Endpoint)
	viper.SetDefault("tracing.service_name", tracing.ServiceName)
	viper.SetDefault("tracing.environment", tracing.Environment)
	viper.SetDefault("tracing.sample_rate", tracing.SampleRate)
	viper.SetDefault("tracing.insecure", tracing.Insecure)

	// General defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics_file", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Bundle.Validate(); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	if err := c.Harness.Validate(); err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing: sample_rate must be between 0 and 1")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// Validate validates bundle configuration
func (bc *BundleConfig) Validate() error {
	for _, ext := range bc.AssetExts {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("asset extension %q must start with '.'", ext)
		}
	}

	valid := false
	for _, mode := range typeCheckModes {
		if strings.ToLower(bc.TypeCheck) == mode {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid type_check: %s (must be one of: %v)", bc.TypeCheck, typeCheckModes)
	}
	return nil
}

// Validate validates harness configuration
func (hc *HarnessConfig) Validate() error {
	if hc.Port < 0 || hc.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if hc.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	for ext, contentType := range hc.ContentTypes {
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			return fmt.Errorf("content type key %q must be a bare extension such as \"xyz\"", ext)
		}
		if contentType == "" {
			return fmt.Errorf("content type for %q is empty", ext)
		}
	}
	return nil
}

// ContentTypeOverrides returns the configured table keyed by dot-prefixed
// extension.
func (hc *HarnessConfig) ContentTypeOverrides() map[string]string {
	out := make(map[string]string, len(hc.ContentTypes))
	for ext, contentType := range hc.ContentTypes {
		out["."+ext] = contentType
	}
	return out
}

// Validate checks that an S3 destination can be reached with credentials
func (pc *PublishConfig) Validate() error {
	if pc.S3Endpoint == "" || pc.S3AccessKey == "" || pc.S3SecretKey == "" {
		return fmt.Errorf("S3 configuration is incomplete: s3_endpoint, s3_access_key and s3_secret_key are required")
	}
	return nil
}
