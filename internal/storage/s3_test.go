package storage

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selfage/bundler-cli/internal/config"
)

func TestParseS3Location(t *testing.T) {
	tests := []struct {
		location   string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{location: "s3://site", wantBucket: "site"},
		{location: "s3://site/", wantBucket: "site"},
		{location: "s3://site/releases/v1/", wantBucket: "site", wantPrefix: "releases/v1"},
		{location: "s3://", wantErr: true},
		{location: "s3:///prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			bucket, prefix, err := ParseS3Location(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestOpen(t *testing.T) {
	t.Run("local directory", func(t *testing.T) {
		dir := t.TempDir()
		dest, err := Open(dir, nil)
		require.NoError(t, err)
		assert.Equal(t, "local", dest.Name())
		assert.True(t, SameLocation(dir, dest))
		assert.False(t, SameLocation(filepath.Join(dir, "sub"), dest))
	})

	t.Run("s3 without credentials", func(t *testing.T) {
		_, err := Open("s3://site/prefix", &config.PublishConfig{})
		assert.Error(t, err)
	})

	t.Run("s3 with credentials", func(t *testing.T) {
		dest, err := Open("s3://site/releases/", &config.PublishConfig{
			S3Endpoint:  "http://localhost:9000",
			S3AccessKey: "minioadmin",
			S3SecretKey: "minioadmin",
			S3Region:    "us-east-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "s3", dest.Name())
		assert.Equal(t, "s3://site/releases", dest.String())
		assert.False(t, SameLocation(".", dest))

		s3 := dest.(*S3Storage)
		assert.Equal(t, "releases/web/app.js", s3.objectKey("/web/app.js"))
	})
}

func TestUploadOptions(t *testing.T) {
	opts := uploadOptions("out/app.js.gz")
	assert.Equal(t, "gzip", opts.ContentEncoding)
	assert.Contains(t, opts.ContentType, "javascript")

	opts = uploadOptions("out/page.html")
	assert.Empty(t, opts.ContentEncoding)
	assert.Contains(t, opts.ContentType, "text/html")

	opts = uploadOptions("out/blob.unknownext")
	assert.Equal(t, "application/octet-stream", opts.ContentType)
}

func TestPutAndMoveFile(t *testing.T) {
	src := t.TempDir()
	dest, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	keep := filepath.Join(src, "keep.txt")
	move := filepath.Join(src, "move.js")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0644))
	require.NoError(t, os.WriteFile(move, []byte("move"), 0644))

	_, err = PutFile(ctx, dest, keep, "a/keep.txt")
	require.NoError(t, err)
	assert.FileExists(t, keep)
	assert.FileExists(t, filepath.Join(dest.String(), "a", "keep.txt"))

	_, err = MoveFile(ctx, dest, move, "a/move.js")
	require.NoError(t, err)
	assert.NoFileExists(t, move)
	data, err := os.ReadFile(filepath.Join(dest.String(), "a", "move.js"))
	require.NoError(t, err)
	assert.Equal(t, "move", string(data))

	_, err = PutFile(ctx, dest, filepath.Join(src, "missing"), "missing")
	assert.Error(t, err)
}

// setupS3Storage creates an S3Storage against a local MinIO instance and
// skips when none is reachable:
// docker run -p 9000:9000 -e "MINIO_ROOT_USER=minioadmin" -e "MINIO_ROOT_PASSWORD=minioadmin" minio/minio server /data
func setupS3Storage(t *testing.T) *S3Storage {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping S3 tests in short mode")
	}

	bucket := fmt.Sprintf("bundage-test-%d-%d", time.Now().UnixNano(), rand.Int63n(1000000))
	s3, err := NewS3Storage("localhost:9000", "minioadmin", "minioadmin", "us-east-1", false, bucket, "release")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s3.EnsureBucket(ctx); err != nil {
		t.Skipf("Skipping S3 tests: MinIO not available: %v", err)
	}
	return s3
}

func TestS3Storage_UploadExistsDelete(t *testing.T) {
	s3 := setupS3Storage(t)
	ctx := context.Background()
	content := []byte("window.app = 1")

	obj, err := s3.Upload(ctx, "web/app.js", bytes.NewReader(content), int64(len(content)), &UploadOptions{ContentType: "text/javascript"})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), obj.Size)

	exists, err := s3.Exists(ctx, "web/app.js")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s3.Delete(ctx, "web/app.js"))

	exists, err = s3.Exists(ctx, "web/app.js")
	require.NoError(t, err)
	assert.False(t, exists)
}
