package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selfage/bundler-cli/internal/compile"
	"github.com/selfage/bundler-cli/internal/config"
	"github.com/selfage/bundler-cli/internal/harness"
)

func newFlagCommand(f *bundleFlags) *cobra.Command {
	c := &cobra.Command{Use: "test"}
	addBundleFlags(c, f)
	return c
}

func TestBundleOptions_ConfigDefaults(t *testing.T) {
	var f bundleFlags
	c := newFlagCommand(&f)

	opts, err := bundleOptions(c, &f, config.BundleConfig{
		PackageJSONFile: "./package.json",
		AssetExts:       []string{".png"},
		SkipMinify:      true,
		TypeCheck:       "never",
		MountPrefix:     "static",
	})
	require.NoError(t, err)

	assert.Equal(t, "./package.json", opts.PackageJSONFile)
	assert.Equal(t, []string{".png"}, opts.AssetExts)
	assert.True(t, opts.SkipMinify)
	assert.Equal(t, compile.ModeNever, opts.TypeCheck)
	assert.Equal(t, "static", opts.MountPrefix)
}

func TestBundleOptions_FlagsOverrideConfig(t *testing.T) {
	var f bundleFlags
	c := newFlagCommand(&f)
	require.NoError(t, c.Flags().Set("asset-exts", ".txt,.svg"))
	require.NoError(t, c.Flags().Set("skip-minify", "false"))
	require.NoError(t, c.Flags().Set("type-check", "always"))
	require.NoError(t, c.Flags().Set("inline-js", "globalThis.A = 1;"))

	opts, err := bundleOptions(c, &f, config.BundleConfig{
		AssetExts:    []string{".png"},
		SkipMinify:   true,
		TsconfigFile: "./tsconfig.json",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{".txt", ".svg"}, opts.AssetExts)
	assert.False(t, opts.SkipMinify)
	assert.Equal(t, compile.ModeAlways, opts.TypeCheck)
	assert.Equal(t, []string{"globalThis.A = 1;"}, opts.InlineJS)
	assert.Equal(t, "./tsconfig.json", opts.TsconfigFile, "unset flags keep the configured value")
}

func TestBundleOptions_EmptyAssetExtsMeansNone(t *testing.T) {
	var f bundleFlags
	c := newFlagCommand(&f)
	require.NoError(t, c.Flags().Set("asset-exts", ""))

	opts, err := bundleOptions(c, &f, config.BundleConfig{AssetExts: []string{".png"}})
	require.NoError(t, err)

	assert.NotNil(t, opts.AssetExts)
	assert.Empty(t, opts.AssetExts)
}

func TestBundleOptions_Errors(t *testing.T) {
	var f bundleFlags
	c := newFlagCommand(&f)
	require.NoError(t, c.Flags().Set("asset-exts", "png"))
	_, err := bundleOptions(c, &f, config.BundleConfig{})
	assert.Error(t, err)

	var g bundleFlags
	c = newFlagCommand(&g)
	require.NoError(t, c.Flags().Set("type-check", "sometimes"))
	_, err = bundleOptions(c, &g, config.BundleConfig{})
	assert.Error(t, err)
}

func TestBinFile(t *testing.T) {
	assert.Equal(t, "test/main_bin.js", binFile("test/main"))
	assert.Equal(t, "test/main_bin.js", binFile("test/main.ts"))
	assert.Equal(t, "a.b/c_bin.js", binFile("a.b/c"))
}

func TestHarnessOptions(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = &config.Config{Harness: config.HarnessConfig{
		Host:         "localhost",
		Port:         8000,
		Headless:     true,
		ContentTypes: map[string]string{"glb": "model/gltf-binary", "js": "application/javascript"},
	}}

	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&prunHost, "host", "", "")
	c.Flags().IntVarP(&prunPort, "port", "p", 0, "")
	c.Flags().BoolVar(&prunNoHeadless, "no-headless", false, "")
	c.Flags().DurationVar(&prunTimeout, "timeout", 0, "")
	c.Flags().StringVar(&prunChromePath, "chrome-path", "", "")
	require.NoError(t, c.Flags().Set("port", "0"))
	require.NoError(t, c.Flags().Set("no-headless", "true"))
	require.NoError(t, c.Flags().Set("timeout", "30s"))

	opts := harnessOptions(c)

	assert.Equal(t, "localhost", opts.Host)
	assert.Equal(t, 0, opts.Port)
	assert.False(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, "model/gltf-binary", opts.ContentTypes[".glb"])
	assert.Equal(t, "application/javascript", opts.ContentTypes[".js"])
	assert.Equal(t, harness.DefaultContentTypes()[".png"], opts.ContentTypes[".png"])
}

func TestMirrorOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	mirror := mirrorOutput(&stdout, &stderr)

	mirror(harness.CategoryLog, "hello")
	mirror(harness.CategoryWarn, "careful")
	mirror(harness.CategoryError, "boom")
	mirror(harness.CategoryOther, "table")

	assert.Equal(t, "hello\n[other] table\n", stdout.String())
	assert.Equal(t, "careful\nboom\n", stderr.String())
}

func TestRunInNode(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.ts")
	require.NoError(t, os.WriteFile(source, []byte(
		"console.log(process.argv.slice(2).join(\",\"));\nif (process.argv[2] === \"fail\") { process.exit(3); }\n"), 0644))

	tests := []struct {
		name     string
		args     []string
		wantOut  string
		wantCode int
	}{
		{name: "passes arguments", args: []string{"a", "b"}, wantOut: "a,b\n"},
		{name: "propagates exit code", args: []string{"fail"}, wantOut: "fail\n", wantCode: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			rootCmd.SetOut(&stdout)
			rootCmd.SetErr(&bytes.Buffer{})
			rootCmd.SetArgs(append([]string{"nrun", filepath.Join(dir, "main"), "--asset-exts=", "--type-check", "never", "--"}, tt.args...))
			t.Cleanup(func() {
				rootCmd.SetOut(nil)
				rootCmd.SetErr(nil)
				rootCmd.SetArgs(nil)
			})

			err := rootCmd.Execute()

			if tt.wantCode == 0 {
				require.NoError(t, err)
			} else {
				var exitErr *ExitError
				require.True(t, errors.As(err, &exitErr), "got %v", err)
				assert.Equal(t, tt.wantCode, exitErr.Code)
			}
			assert.Equal(t, tt.wantOut, stdout.String())
			assert.FileExists(t, filepath.Join(dir, "main_bin.js"))
		})
	}
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, stdout.String(), "bundage dev")
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "exit status 124", (&ExitError{Code: 124}).Error())
}
