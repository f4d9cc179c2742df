package bundler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/selfage/bundler-cli/internal/paths"
)

// Decision is the outcome of the asset transform for one file. A zero
// Decision is a pass-through.
type Decision struct {
	Stub  string
	Asset bool
}

// AssetTransform replaces modules whose extension is a configured asset
// extension with a one-line stub exporting the asset's location, and
// records every distinct asset it replaces.
//
// esbuild invokes load callbacks from several goroutines, so the
// accumulator is guarded by a mutex.
type AssetTransform struct {
	target      Target
	exts        map[string]struct{}
	root        paths.Root
	mountPrefix string

	mu      sync.Mutex
	seen    map[string]struct{}
	records []AssetRecord
}

// NewAssetTransform builds a transform. root is the asset root: the output
// directory for the embedded target, the serve root for the browser target.
func NewAssetTransform(target Target, exts []string, root paths.Root, mountPrefix string) *AssetTransform {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[ext] = struct{}{}
	}
	return &AssetTransform{
		target:      target,
		exts:        set,
		root:        root,
		mountPrefix: normalizeMountPrefix(mountPrefix),
		seen:        make(map[string]struct{}),
	}
}

func normalizeMountPrefix(prefix string) string {
	prefix = strings.Trim(paths.ToUnix(prefix), "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Matches reports whether absPath carries one of the asset extensions.
// Matching is case-sensitive and includes the leading dot.
func (t *AssetTransform) Matches(absPath string) bool {
	_, ok := t.exts[filepath.Ext(absPath)]
	return ok
}

// Decide returns the replacement for absPath without reading it. Only
// matching files produce a stub, and each distinct path is recorded once.
func (t *AssetTransform) Decide(absPath string) (Decision, error) {
	if !t.Matches(absPath) {
		return Decision{}, nil
	}

	rel, err := t.root.Rel(absPath)
	if err != nil {
		return Decision{}, err
	}
	if t.target == TargetBrowser && !t.root.Contains(absPath) {
		return Decision{}, fmt.Errorf("%w: asset %s is outside serve root %s", paths.ErrEscapesRoot, absPath, t.root)
	}

	stub, err := t.stub(rel)
	if err != nil {
		return Decision{}, err
	}

	t.mu.Lock()
	if _, dup := t.seen[absPath]; !dup {
		t.seen[absPath] = struct{}{}
		t.records = append(t.records, AssetRecord{SourcePath: absPath, RelPath: rel, Stub: stub})
	}
	t.mu.Unlock()

	return Decision{Stub: stub, Asset: true}, nil
}

// stub renders the module body for an asset at rel.
func (t *AssetTransform) stub(rel string) (string, error) {
	switch t.target {
	case TargetEmbedded:
		lit, err := json.Marshal("/" + rel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("module.exports = __dirname + %s;", lit), nil
	case TargetBrowser:
		lit, err := json.Marshal("/" + t.mountPrefix + rel)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("module.exports = %s;", lit), nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", ErrInvalidOptions, t.target)
	}
}

// Records returns the recorded assets ordered by path.
func (t *AssetTransform) Records() []AssetRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AssetRecord, len(t.records))
	copy(out, t.records)
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// filter is the esbuild path filter preselecting candidate files.
func (t *AssetTransform) filter() string {
	exts := make([]string, 0, len(t.exts))
	for ext := range t.exts {
		exts = append(exts, regexp.QuoteMeta(ext))
	}
	sort.Strings(exts)
	return `(?:` + strings.Join(exts, "|") + `)$`
}

// Plugin adapts the transform to esbuild's load hook.
func (t *AssetTransform) Plugin() api.Plugin {
	return api.Plugin{
		Name: "bundage-assets",
		Setup: func(build api.PluginBuild) {
			if len(t.exts) == 0 {
				return
			}
			build.OnLoad(api.OnLoadOptions{Filter: t.filter(), Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					d, err := t.Decide(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					if !d.Asset {
						return api.OnLoadResult{}, nil
					}
					return api.OnLoadResult{
						Contents:   &d.Stub,
						Loader:     api.LoaderJS,
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}
}
