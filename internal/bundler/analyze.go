package bundler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/selfage/bundler-cli/internal/paths"
)

// Metafile is the subset of esbuild's metafile the analyzer reads.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput is one source file seen by esbuild.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
}

// MetafileImport is one import edge.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
}

// MetafileOutput is one emitted file.
type MetafileOutput struct {
	Bytes   int                      `json:"bytes"`
	Inputs  map[string]OutputContrib `json:"inputs"`
	Imports []MetafileImport         `json:"imports"`
}

// OutputContrib is how much of an input survived into an output.
type OutputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Analysis breaks a bundle down by contributing input.
type Analysis struct {
	Name            string        `json:"name" yaml:"name"`
	Target          Target        `json:"target" yaml:"target"`
	TotalBytes      int           `json:"total_bytes" yaml:"total_bytes"`
	ArtifactBytes   int           `json:"artifact_bytes" yaml:"artifact_bytes"`
	Inputs          []InputShare  `json:"inputs" yaml:"inputs"`
	ExternalImports []string      `json:"external_imports,omitempty" yaml:"external_imports,omitempty"`
	Assets          []AssetRecord `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// InputShare is one input's contribution to the unminified bundle.
type InputShare struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	Asset         bool    `json:"asset,omitempty" yaml:"asset,omitempty"`
}

// Analyze reads the metafile of a bundle produced with Request.Metafile set.
// Sizes are measured before minification; ArtifactBytes is the final size.
func Analyze(res *Result) (*Analysis, error) {
	if res == nil || res.Metafile == "" {
		return nil, fmt.Errorf("%w: bundle has no metafile", ErrInvalidOptions)
	}
	var meta Metafile
	if err := json.Unmarshal([]byte(res.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	a := &Analysis{
		Name:          strings.TrimSuffix(filepath.Base(res.OutputFile), ".js"),
		Target:        res.Target,
		ArtifactBytes: res.Bytes,
		Assets:        res.Assets,
	}

	externals := make(map[string]struct{})
	for _, out := range meta.Outputs {
		a.TotalBytes += out.Bytes
		for _, imp := range out.Imports {
			if imp.External {
				externals[imp.Path] = struct{}{}
			}
		}
		for path, contrib := range out.Inputs {
			if strings.HasPrefix(path, inlineNamespace+":") || path == "<entry>" || path == "<stdin>" {
				continue
			}
			in := meta.Inputs[path]
			a.Inputs = append(a.Inputs, InputShare{
				Path:          path,
				Bytes:         in.Bytes,
				BytesInOutput: contrib.BytesInOutput,
				Asset:         isAssetInput(path, res.Assets),
			})
		}
	}
	for i := range a.Inputs {
		if a.TotalBytes > 0 {
			a.Inputs[i].Percentage = float64(a.Inputs[i].BytesInOutput) / float64(a.TotalBytes) * 100
		}
	}

	sort.Slice(a.Inputs, func(i, j int) bool {
		if a.Inputs[i].BytesInOutput != a.Inputs[j].BytesInOutput {
			return a.Inputs[i].BytesInOutput > a.Inputs[j].BytesInOutput
		}
		return a.Inputs[i].Path < a.Inputs[j].Path
	})
	for imp := range externals {
		a.ExternalImports = append(a.ExternalImports, imp)
	}
	sort.Strings(a.ExternalImports)
	return a, nil
}

// isAssetInput matches a metafile input, relative to the working directory,
// against the absolute asset locations.
func isAssetInput(input string, assets []AssetRecord) bool {
	input = paths.ToUnix(input)
	for _, a := range assets {
		src := paths.ToUnix(a.SourcePath)
		if src == input || strings.HasSuffix(src, "/"+input) {
			return true
		}
	}
	return false
}
