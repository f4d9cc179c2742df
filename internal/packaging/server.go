package packaging

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
)

// NodeServerRequest bundles a server for the embedded target.
type NodeServerRequest struct {
	SourceFile string
	OutputFile string

	// FromDir is the directory the layout at ToDir is relative to. Defaults
	// to ".".
	FromDir string

	// ToDir receives the artifact (moved) and its assets (copied) when it
	// differs from FromDir. It may be an s3:// location.
	ToDir string

	Options bundler.Options
}

// ServerResult describes a packaged server.
type ServerResult struct {
	Bundle *bundler.Result `json:"bundle" yaml:"bundle"`

	// WebAppFiles are the web app files bundled alongside a web server,
	// absolute.
	WebAppFiles []string   `json:"web_app_files,omitempty" yaml:"web_app_files,omitempty"`
	Placement   *Placement `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// BundleNodeServer bundles the server and moves it with its assets into
// ToDir.
func (p *Packager) BundleNodeServer(ctx context.Context, req NodeServerRequest) (res *ServerResult, err error) {
	ctx, span := observability.StartSpan(ctx, "packaging.nodeserver")
	defer func() { observability.EndSpan(span, err) }()

	bres, err := p.bundler.Bundle(ctx, bundler.Request{
		SourceFile: req.SourceFile,
		OutputFile: req.OutputFile,
		Target:     bundler.TargetEmbedded,
		Options:    req.Options,
	})
	if err != nil {
		return nil, err
	}

	placement, err := p.place(ctx, orDot(req.FromDir), req.ToDir, assetFiles(bres), []string{bres.OutputFile})
	if err != nil {
		return nil, err
	}
	return &ServerResult{Bundle: bres, Placement: placement}, nil
}

// WebServerRequest bundles a server together with the web apps it serves.
type WebServerRequest struct {
	SourceFile string
	OutputFile string

	// EntriesFile lists the web apps. Defaults to DefaultEntriesFile.
	EntriesFile string

	// WebAppBaseDir is the serve root of the web apps. The server finds it
	// at runtime through globalThis.WEB_APP_BASE_DIR. Defaults to ".".
	WebAppBaseDir string

	FromDir string
	ToDir   string

	Options bundler.Options
}

// BundleWebServer bundles the server and the web apps concurrently, then
// copies everything into ToDir.
func (p *Packager) BundleWebServer(ctx context.Context, req WebServerRequest) (res *ServerResult, err error) {
	ctx, span := observability.StartSpan(ctx, "packaging.webserver")
	defer func() { observability.EndSpan(span, err) }()

	entriesFile := req.EntriesFile
	if entriesFile == "" {
		entriesFile = DefaultEntriesFile
	}
	baseDir := orDot(req.WebAppBaseDir)

	inline, err := webAppBaseDirFragment(req.OutputFile, baseDir)
	if err != nil {
		return nil, err
	}
	serverOpts := req.Options
	serverOpts.InlineJS = append(append([]string{}, req.Options.InlineJS...), inline)

	var (
		bres     *bundler.Result
		webFiles []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bres, err = p.bundler.Bundle(gctx, bundler.Request{
			SourceFile: req.SourceFile,
			OutputFile: req.OutputFile,
			Target:     bundler.TargetEmbedded,
			Options:    serverOpts,
		})
		return err
	})
	g.Go(func() error {
		var err error
		webFiles, err = p.bundleWebApps(gctx, entriesFile, baseDir, req.Options)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := dedupe(append(append([]string{bres.OutputFile}, assetFiles(bres)...), webFiles...))
	placement, err := p.place(ctx, orDot(req.FromDir), req.ToDir, files, nil)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("server", bres.OutputFile).
		Int("web_app_files", len(webFiles)).
		Msg("Web server bundled")
	return &ServerResult{Bundle: bres, WebAppFiles: webFiles, Placement: placement}, nil
}

// webAppBaseDirFragment returns the inline code pointing
// globalThis.WEB_APP_BASE_DIR at baseDir, relative to the server artifact's
// directory.
func webAppBaseDirFragment(outputFile, baseDir string) (string, error) {
	outDir, err := filepath.Abs(filepath.Dir(outputFile))
	if err != nil {
		return "", err
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(outDir, base)
	if err != nil {
		return "", fmt.Errorf("failed to relativize web app base dir: %w", err)
	}
	quoted, err := json.Marshal(paths.ToUnix(rel))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("globalThis.WEB_APP_BASE_DIR = require(\"path\").join(__dirname, %s);", quoted), nil
}

func orDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
