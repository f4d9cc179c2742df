// Package packaging composes bundles into deployable layouts: web apps with
// their HTML pages and gzip siblings, node servers, and web servers that
// serve web apps, optionally copied to a destination.
package packaging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/selfage/bundler-cli/internal/bundler"
	"github.com/selfage/bundler-cli/internal/config"
	"github.com/selfage/bundler-cli/internal/observability"
	"github.com/selfage/bundler-cli/internal/paths"
	"github.com/selfage/bundler-cli/internal/storage"
)

// ErrInvalidEntries is returned when a web app entries file is malformed
var ErrInvalidEntries = errors.New("invalid web app entries")

// copyConcurrency bounds parallel uploads to a destination.
const copyConcurrency = 8

// Bundler is the part of bundler.Bundler packaging depends on.
type Bundler interface {
	Bundle(ctx context.Context, req bundler.Request) (*bundler.Result, error)
}

// Packager runs packaging operations. It is safe for concurrent use.
type Packager struct {
	bundler Bundler
	publish *config.PublishConfig
	metrics *observability.Metrics
}

// Option configures a Packager
type Option func(*Packager)

// WithPublishConfig sets the credentials used for s3:// destinations.
func WithPublishConfig(cfg *config.PublishConfig) Option {
	return func(p *Packager) { p.publish = cfg }
}

// WithMetrics records packaging metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Packager) { p.metrics = m }
}

// New creates a Packager
func New(b Bundler, opts ...Option) *Packager {
	p := &Packager{bundler: b}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Placement reports where files were copied.
type Placement struct {
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Copied      int    `json:"copied" yaml:"copied"`
	Moved       int    `json:"moved" yaml:"moved"`
}

// place copies files and moves moveFiles from fromDir to toDir, preserving
// their layout relative to fromDir. Nothing happens when toDir is empty or
// names fromDir.
func (p *Packager) place(ctx context.Context, fromDir, toDir string, files, moveFiles []string) (*Placement, error) {
	if toDir == "" {
		return &Placement{}, nil
	}
	dest, err := storage.Open(toDir, p.publish)
	if err != nil {
		return nil, err
	}
	if storage.SameLocation(fromDir, dest) {
		log.Debug().Str("dir", fromDir).Msg("Destination equals source, nothing to copy")
		return &Placement{}, nil
	}
	if s3, ok := dest.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}

	from, err := paths.NewRoot(fromDir)
	if err != nil {
		return nil, err
	}
	moveKeys, err := relKeys(from, moveFiles)
	if err != nil {
		return nil, err
	}
	copyKeys, err := relKeys(from, files)
	if err != nil {
		return nil, err
	}
	if err := copyFiles(ctx, dest, moveFiles, moveKeys, true); err != nil {
		return nil, err
	}
	if err := copyFiles(ctx, dest, files, copyKeys, false); err != nil {
		return nil, err
	}
	p.metrics.RecordPackagingFiles("copy", len(files))
	p.metrics.RecordPackagingFiles("move", len(moveFiles))

	log.Debug().
		Str("from", from.Dir()).
		Str("to", dest.String()).
		Int("copied", len(files)).
		Int("moved", len(moveFiles)).
		Msg("Files placed")
	return &Placement{Destination: dest.String(), Copied: len(files), Moved: len(moveFiles)}, nil
}

// relKeys maps files to their paths relative to from. Files outside from
// cannot keep their layout and are rejected.
func relKeys(from paths.Root, files []string) ([]string, error) {
	keys := make([]string, len(files))
	for i, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", file, err)
		}
		if !from.Contains(abs) {
			return nil, fmt.Errorf("%w: %s is outside %s", paths.ErrEscapesRoot, abs, from)
		}
		if keys[i], err = from.Rel(abs); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// copyFiles uploads files[i] under keys[i], removing the source when move
// is set.
func copyFiles(ctx context.Context, dest storage.Destination, files, keys []string, move bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(copyConcurrency)
	for i, file := range files {
		key := keys[i]
		g.Go(func() error {
			if move {
				_, err := storage.MoveFile(ctx, dest, file, key)
				return err
			}
			_, err := storage.PutFile(ctx, dest, file, key)
			return err
		})
	}
	return g.Wait()
}

// dedupe keeps the first occurrence of each file.
func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := files[:0]
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func assetFiles(res *bundler.Result) []string {
	out := make([]string, 0, len(res.Assets))
	for _, a := range res.Assets {
		out = append(out, a.SourcePath)
	}
	return out
}
