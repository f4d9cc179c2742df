package bundler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// DefaultPackageJSONFile is read for asset extensions when none are configured.
const DefaultPackageJSONFile = "./package.json"

type packageManifest struct {
	AssetExts []string `json:"assetExts"`
}

// LoadAssetExts returns the `assetExts` field of a package.json. A missing
// default manifest yields no extensions; a missing explicitly configured one
// is an error.
func LoadAssetExts(packageJSONFile string) ([]string, error) {
	explicit := packageJSONFile != ""
	if !explicit {
		packageJSONFile = DefaultPackageJSONFile
	}

	data, err := os.ReadFile(packageJSONFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			log.Debug().Str("file", packageJSONFile).Msg("No package.json, no asset extensions")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, packageJSONFile, err)
	}
	if err := ValidateAssetExts(manifest.AssetExts); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifest, packageJSONFile, err)
	}
	return manifest.AssetExts, nil
}

// resolveAssetExts picks explicit extensions over the manifest.
func resolveAssetExts(opts Options) ([]string, error) {
	if opts.AssetExts != nil {
		return opts.AssetExts, nil
	}
	return LoadAssetExts(opts.PackageJSONFile)
}
