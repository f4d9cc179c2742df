package packaging

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
)

const (
	// DefaultEntriesFile is read by BundleWebApps when none is given
	DefaultEntriesFile = "web_app_entries.yaml"

	// DefaultResourcesFile is written by BundleWebApps when none is given
	DefaultResourcesFile = "web_app_resources.yaml"
)

// WebAppEntry is one web app. Both paths are relative to the entries file's
// directory and may omit their extension.
type WebAppEntry struct {
	Source string `yaml:"source" json:"source"`
	Output string `yaml:"output" json:"output"`
}

// WebAppEntries is the entries file schema.
type WebAppEntries struct {
	Entries []WebAppEntry `yaml:"entries" json:"entries"`

	// ExtraAssets are files served alongside the apps that no entry imports,
	// such as favicon.ico. Each one is a glob relative to the entries file's
	// directory.
	ExtraAssets []string `yaml:"extraAssets" json:"extraAssets"`
}

// LoadEntries reads and validates an entries file.
func LoadEntries(file string) (*WebAppEntries, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read entries file: %w", err)
	}
	var entries WebAppEntries
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntries, file, err)
	}
	for i, e := range entries.Entries {
		if e.Source == "" || e.Output == "" {
			return nil, fmt.Errorf("%w: %s: entry %d needs both source and output", ErrInvalidEntries, file, i)
		}
	}
	return &entries, nil
}

var htmlPageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
  <head><meta charset="UTF-8"></head>
  <body>
    <script type="text/javascript" src="{{.}}"></script>
  </body>
</html>`))

// WebAppsRequest bundles every entry of an entries file.
type WebAppsRequest struct {
	// EntriesFile defaults to DefaultEntriesFile. Its directory is the serve
	// root of every app.
	EntriesFile string

	// ResourcesFile defaults to DefaultResourcesFile.
	ResourcesFile string

	// OutDir receives a copy of every produced file when it differs from the
	// entries file's directory. It may be an s3:// location.
	OutDir string

	Options bundler.Options
}

// WebAppsResult lists the files making up the web apps.
type WebAppsResult struct {
	BaseDir       string `json:"base_dir" yaml:"base_dir"`
	ResourcesFile string `json:"resources_file" yaml:"resources_file"`

	// Files are relative to BaseDir.
	Files     []string   `json:"files" yaml:"files"`
	Placement *Placement `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// BundleWebApps bundles every web app, writes the resources manifest and
// copies everything to OutDir.
func (p *Packager) BundleWebApps(ctx context.Context, req WebAppsRequest) (res *WebAppsResult, err error) {
	ctx, span := observability.StartSpan(ctx, "packaging.webapps")
	defer func() { observability.EndSpan(span, err) }()

	entriesFile := req.EntriesFile
	if entriesFile == "" {
		entriesFile = DefaultEntriesFile
	}
	resourcesFile := req.ResourcesFile
	if resourcesFile == "" {
		resourcesFile = DefaultResourcesFile
	}
	baseDir := filepath.Dir(entriesFile)

	files, err := p.bundleWebApps(ctx, entriesFile, baseDir, req.Options)
	if err != nil {
		return nil, err
	}
	if err := writeResources(resourcesFile, files); err != nil {
		return nil, err
	}
	p.metrics.RecordPackagingFiles("manifest", 1)

	placement, err := p.place(ctx, baseDir, req.OutDir, files, nil)
	if err != nil {
		return nil, err
	}

	base := paths.MustRoot(baseDir)
	rel := make([]string, 0, len(files))
	for _, f := range files {
		r, err := base.Rel(f)
		if err != nil {
			return nil, err
		}
		rel = append(rel, r)
	}
	span.SetAttributes(attribute.Int("files", len(files)))
	return &WebAppsResult{
		BaseDir:       base.Dir(),
		ResourcesFile: resourcesFile,
		Files:         rel,
		Placement:     placement,
	}, nil
}

// bundleWebApps bundles the entries of entriesFile concurrently with baseDir
// as serve root and returns every produced or required file, absolute, in
// entry order followed by the extra assets.
func (p *Packager) bundleWebApps(ctx context.Context, entriesFile, baseDir string, opts bundler.Options) ([]string, error) {
	entries, err := LoadEntries(entriesFile)
	if err != nil {
		return nil, err
	}
	configDir, err := filepath.Abs(filepath.Dir(entriesFile))
	if err != nil {
		return nil, err
	}
	base, err := paths.NewRoot(baseDir)
	if err != nil {
		return nil, err
	}
	if err := base.Check(); err != nil {
		return nil, err
	}

	start := time.Now()
	perEntry := make([][]string, len(entries.Entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries.Entries {
		g.Go(func() error {
			files, err := p.bundleWebApp(gctx, configDir, base, entry, opts)
			if err != nil {
				return fmt.Errorf("web app %s: %w", entry.Source, err)
			}
			perEntry[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var files []string
	for _, f := range perEntry {
		files = append(files, f...)
	}
	extra, err := expandExtraAssets(configDir, entries.ExtraAssets)
	if err != nil {
		return nil, err
	}
	files = dedupe(append(files, extra...))

	log.Debug().
		Str("entries", entriesFile).
		Int("apps", len(entries.Entries)).
		Int("files", len(files)).
		Dur("duration", time.Since(start)).
		Msg("Web apps bundled")
	return files, nil
}

// bundleWebApp bundles one entry and writes its gzip and HTML siblings.
func (p *Packager) bundleWebApp(ctx context.Context, configDir string, base paths.Root, entry WebAppEntry, opts bundler.Options) ([]string, error) {
	res, err := p.bundler.Bundle(ctx, bundler.Request{
		SourceFile: filepath.Join(configDir, filepath.FromSlash(entry.Source)),
		OutputFile: filepath.Join(configDir, filepath.FromSlash(entry.Output)),
		Target:     bundler.TargetBrowser,
		RootDir:    base.Dir(),
		Options:    opts,
	})
	if err != nil {
		return nil, err
	}

	jsGz, err := gzipFile(res.OutputFile)
	if err != nil {
		return nil, err
	}
	htmlFile, htmlGz, err := p.writeHTMLPage(res.OutputFile, base)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordPackagingFiles("gzip", 2)
	p.metrics.RecordPackagingFiles("html", 1)

	files := assetFiles(res)
	return append(files, res.OutputFile, jsGz, htmlFile, htmlGz), nil
}

// writeHTMLPage writes the page loading jsFile, served from base, and its
// gzip sibling.
func (p *Packager) writeHTMLPage(jsFile string, base paths.Root) (string, string, error) {
	if !base.Contains(jsFile) {
		return "", "", fmt.Errorf("%w: %s is outside %s", paths.ErrEscapesRoot, jsFile, base)
	}
	rel, err := base.Rel(jsFile)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := htmlPageTemplate.Execute(&buf, "/"+rel); err != nil {
		return "", "", fmt.Errorf("failed to render page: %w", err)
	}
	htmlFile := paths.StripExt(jsFile) + ".html"
	if err := os.WriteFile(htmlFile, buf.Bytes(), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write page: %w", err)
	}
	gz, err := gzipFile(htmlFile)
	if err != nil {
		return "", "", err
	}
	return htmlFile, gz, nil
}

// expandExtraAssets resolves globs against dir. A pattern without
// wildcards that matches nothing is kept as is, so the missing file fails
// loudly when copied.
func expandExtraAssets(dir string, patterns []string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		full := filepath.Join(dir, filepath.FromSlash(pattern))
		if !strings.ContainsAny(pattern, "*?[{") {
			out = append(out, full)
			continue
		}
		matches, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("%w: extraAssets pattern %q: %v", ErrInvalidEntries, pattern, err)
		}
		if len(matches) == 0 {
			log.Warn().Str("pattern", pattern).Msg("Extra asset pattern matched nothing")
		}
		out = append(out, matches...)
	}
	return out, nil
}

// writeResources writes files as a YAML list relative to the manifest's
// directory.
func writeResources(resourcesFile string, files []string) error {
	manifestDir, err := filepath.Abs(filepath.Dir(resourcesFile))
	if err != nil {
		return err
	}
	rel := make([]string, 0, len(files))
	for _, f := range files {
		r, err := filepath.Rel(manifestDir, f)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", f, err)
		}
		rel = append(rel, paths.ToUnix(r))
	}

	data, err := yaml.Marshal(rel)
	if err != nil {
		return fmt.Errorf("failed to encode resources: %w", err)
	}
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create resources directory: %w", err)
	}
	if err := os.WriteFile(resourcesFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write resources file: %w", err)
	}
	return nil
}
