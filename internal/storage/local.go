package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/selfage/bundler-cli/internal/paths"
)

// LocalStorage implements Destination on the local filesystem
type LocalStorage struct {
	root paths.Root
}

// NewLocalStorage creates a local destination rooted at basePath, creating
// the directory when needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	root, err := paths.NewRoot(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// String returns the destination directory
func (ls *LocalStorage) String() string {
	return ls.root.Dir()
}

// Root returns the destination root
func (ls *LocalStorage) Root() paths.Root {
	return ls.root
}

// Upload writes data to root/key. The file is written next to its final
// location and renamed into place, so readers never see a partial file.
func (ls *LocalStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	filePath, err := ls.root.Resolve(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundage_upload_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	// Calculate MD5 hash while writing
	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if size >= 0 && written != size {
		return nil, fmt.Errorf("failed to write file: wrote %d of %d bytes", written, size)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return nil, fmt.Errorf("failed to place file: %w", err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	log.Debug().
		Str("key", key).
		Int64("size", written).
		Msg("File placed in local destination")

	return &Object{
		Key:          key,
		Size:         info.Size(),
		ContentType:  opts.ContentType,
		LastModified: info.ModTime(),
		ETag:         hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Delete deletes a file from the destination
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath, err := ls.root.Resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Debug().Str("key", key).Msg("File deleted from local destination")
	return nil
}

// Exists checks if a file exists
func (ls *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := ls.root.Resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}
