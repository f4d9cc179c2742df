package bundler

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/runtime"
)

// fixtureDir copies testdata into a fresh directory so artifacts never land
// next to the checked-in sources.
func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := filepath.WalkDir("testdata", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("testdata", path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
	require.NoError(t, err)
	return dir
}

func execute(t *testing.T, artifact string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	res, err := runtime.Run(context.Background(), artifact, runtime.Options{Stdout: &stdout, Stderr: &stderr})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, stderr.String())
	return stdout.String()
}

func TestBundle_InlineAndComputation(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "two_file",
		OutputFile: "two_file_bin.ts",
		Target:     TargetEmbedded,
		Options: Options{
			AssetExts: []string{},
			InlineJS:  []string{`globalThis.extra = "yes"`},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "two_file_bin.js"), res.OutputFile)
	assert.Empty(t, res.Assets)
	assert.Equal(t, "31yes\n", execute(t, res.OutputFile))
}

func TestBundle_TextAsset(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "use_text.ts",
		OutputFile: "use_text.js",
		Target:     TargetEmbedded,
		Options:    Options{AssetExts: []string{".txt"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"inside/some.txt"}, res.AssetPaths())
	assert.Equal(t, filepath.Join(dir, "inside", "some.txt"), res.Assets[0].SourcePath)
	assert.Equal(t, "some content that stays on disk\n", execute(t, res.OutputFile))

	artifact, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	assert.NotContains(t, string(artifact), "some content that stays on disk")
}

func TestBundle_AssetExtsFromPackageJSON(t *testing.T) {
	dir := fixtureDir(t)
	manifest := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"name": "x", "assetExts": [".txt"]}`), 0644))
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "use_text.ts",
		OutputFile: "out/use_text.js",
		Target:     TargetEmbedded,
		Options:    Options{PackageJSONFile: manifest},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"../inside/some.txt"}, res.AssetPaths())
	assert.Equal(t, "some content that stays on disk\n", execute(t, res.OutputFile))
}

func TestBundle_DedupesAssets(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "two_users.ts",
		OutputFile: "two_users.js",
		Target:     TargetEmbedded,
		Options:    Options{AssetExts: []string{".txt"}},
	})
	require.NoError(t, err)

	assert.Len(t, res.Assets, 1)
	assert.Equal(t, "true\n", execute(t, res.OutputFile))
}

func TestBundle_UnitOrder(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "order_main.ts",
		OutputFile: "order.js",
		Target:     TargetEmbedded,
		Options: Options{
			AssetExts:  []string{},
			InlineJS:   []string{`globalThis.order = ["inline1"]`, `globalThis.order.push("inline2")`},
			ExtraFiles: []string{"order_extra"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "inline1,inline2,extra,main\n", execute(t, res.OutputFile))
}

func TestBundle_BrowserStub(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "use_image.ts",
		OutputFile: "dist/use_image.js",
		Target:     TargetBrowser,
		RootDir:    ".",
		Options: Options{
			AssetExts:   []string{".png"},
			MountPrefix: "/static/",
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Assets, 1)
	assert.Equal(t, "inside/pic.png", res.Assets[0].RelPath)
	assert.Equal(t, `module.exports = "/static/inside/pic.png";`, res.Assets[0].Stub)

	// The IIFE needs nothing from the host, so the embedded runtime can
	// execute it too.
	assert.Equal(t, "/static/inside/pic.png\n", execute(t, res.OutputFile))
}

func TestBundle_BrowserAssetOutsideRoot(t *testing.T) {
	dir := fixtureDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "site"), 0755))
	b := New(WithWorkDir(dir))

	_, err := b.Bundle(context.Background(), Request{
		SourceFile: "use_image.ts",
		OutputFile: "site/use_image.js",
		Target:     TargetBrowser,
		RootDir:    "site",
		Options:    Options{AssetExts: []string{".png"}},
	})

	require.ErrorIs(t, err, ErrBundleResolution)
	assert.Contains(t, err.Error(), "outside serve root")
	assert.NoFileExists(t, filepath.Join(dir, "site", "use_image.js"))
}

func TestBundle_BrowserMissingRoot(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	_, err := b.Bundle(context.Background(), Request{
		SourceFile: "use_image.ts",
		OutputFile: "use_image.js",
		Target:     TargetBrowser,
		RootDir:    "nowhere",
		Options:    Options{AssetExts: []string{".png"}},
	})

	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "use_image.js"))
}

func TestBundle_UnresolvedImport(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	_, err := b.Bundle(context.Background(), Request{
		SourceFile: "missing_import.ts",
		OutputFile: "missing_import.js",
		Target:     TargetEmbedded,
		Options:    Options{AssetExts: []string{}},
	})

	require.ErrorIs(t, err, ErrBundleResolution)
	assert.Contains(t, err.Error(), "does_not_exist")
	assert.NoFileExists(t, filepath.Join(dir, "missing_import.js"))
}

func TestBundle_Deterministic(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))
	req := Request{
		SourceFile: "two_users.ts",
		OutputFile: "two_users.js",
		Target:     TargetEmbedded,
		Options:    Options{AssetExts: []string{".txt"}},
	}

	first, err := b.Bundle(context.Background(), req)
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(first.OutputFile)
	require.NoError(t, err)

	second, err := b.Bundle(context.Background(), req)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second.OutputFile)
	require.NoError(t, err)

	assert.Equal(t, firstBytes, secondBytes)
	assert.ElementsMatch(t, first.Assets, second.Assets)
}

func TestBundle_SkipMinify(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "two_file.ts",
		OutputFile: "two_file.js",
		Target:     TargetEmbedded,
		Options:    Options{AssetExts: []string{}, SkipMinify: true},
	})
	require.NoError(t, err)

	artifact, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "function sum(a, b)")
}

func TestBundle_DebugSourceMap(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "two_file.ts",
		OutputFile: "two_file.js",
		Target:     TargetEmbedded,
		Options: Options{
			AssetExts: []string{},
			InlineJS:  []string{`globalThis.extra = "yes"`},
			Debug:     true,
		},
	})
	require.NoError(t, err)

	artifact, err := os.ReadFile(res.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "//# sourceMappingURL=data:application/json;base64,")
	assert.Equal(t, "31yes\n", execute(t, res.OutputFile))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".bundage_"), "leftover %s", e.Name())
	}
}

func TestBundle_Metafile(t *testing.T) {
	dir := fixtureDir(t)
	b := New(WithWorkDir(dir), WithMetrics(observability.NewMetrics()))

	res, err := b.Bundle(context.Background(), Request{
		SourceFile: "two_file.ts",
		OutputFile: "two_file.js",
		Target:     TargetEmbedded,
		Metafile:   true,
		Options:    Options{AssetExts: []string{}},
	})
	require.NoError(t, err)

	assert.Contains(t, res.Metafile, "base.ts")
}

func TestBundle_InvalidRequest(t *testing.T) {
	b := New()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing source", Request{OutputFile: "a.js", Target: TargetEmbedded}},
		{"missing output", Request{SourceFile: "a.ts", Target: TargetEmbedded}},
		{"unknown target", Request{SourceFile: "a.ts", OutputFile: "a.js", Target: "deno"}},
		{"bad extension", Request{SourceFile: "a.ts", OutputFile: "a.js", Target: TargetEmbedded,
			Options: Options{AssetExts: []string{"png"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Bundle(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{
		"embedded": TargetEmbedded,
		"node":     TargetEmbedded,
		"Browser":  TargetBrowser,
		"web":      TargetBrowser,
	} {
		got, err := ParseTarget(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTarget("deno")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
