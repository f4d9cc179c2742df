package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/selfage/bundler-cli/internal/config"
)

// Open returns the destination for location. "s3://bucket/prefix" selects
// an S3-compatible bucket configured by cfg. Anything else is a local
// directory.
func Open(location string, cfg *config.PublishConfig) (Destination, error) {
	if !IsS3(location) {
		return NewLocalStorage(location)
	}

	bucket, prefix, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &config.PublishConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Determine if using SSL based on endpoint
	useSSL := cfg.S3UseSSL
	endpoint := cfg.S3Endpoint
	if strings.HasPrefix(endpoint, "http://") {
		useSSL = false
	} else if strings.HasPrefix(endpoint, "https://") {
		useSSL = true
	}
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	s3, err := NewS3Storage(endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, useSSL, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 destination: %w", err)
	}
	return s3, nil
}

// IsS3 reports whether location names an S3 destination
func IsS3(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// ParseS3Location splits "s3://bucket/some/prefix" into bucket and prefix.
func ParseS3Location(location string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(location, "s3://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 location %q: missing bucket", location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// SameLocation reports whether a local directory and a destination name the
// same place, in which case nothing needs copying.
func SameLocation(dir string, dest Destination) bool {
	local, ok := dest.(*LocalStorage)
	if !ok {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return filepath.Clean(abs) == local.Root().Dir()
}

// PutFile uploads the local file under key. The content type is derived from
// the extension, with .gz files marked as gzip encoded.
func PutFile(ctx context.Context, dest Destination, file, key string) (*Object, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", file, err)
	}
	return dest.Upload(ctx, key, f, info.Size(), uploadOptions(file))
}

// MoveFile uploads the local file under key and removes the original.
func MoveFile(ctx context.Context, dest Destination, file, key string) (*Object, error) {
	obj, err := PutFile(ctx, dest, file, key)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(file); err != nil {
		return nil, fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return obj, nil
}

func uploadOptions(file string) *UploadOptions {
	opts := &UploadOptions{}
	ext := filepath.Ext(file)
	if ext == ".gz" {
		opts.ContentEncoding = "gzip"
		ext = filepath.Ext(strings.TrimSuffix(file, ext))
	}
	opts.ContentType = mime.TypeByExtension(ext)
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	return opts
}
