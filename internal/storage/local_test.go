package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selfage/bundler-cli/internal/paths"
)

func setupLocalStorage(t *testing.T) (*LocalStorage, string) {
	tmpDir := t.TempDir()

	storage, err := NewLocalStorage(tmpDir)
	require.NoError(t, err)

	return storage, tmpDir
}

func TestNewLocalStorage(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "out")

	storage, err := NewLocalStorage(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, storage.String())
	assert.Equal(t, "local", storage.Name())
	assert.DirExists(t, tmpDir)
}

func TestLocalStorage_Upload(t *testing.T) {
	storage, dir := setupLocalStorage(t)
	ctx := context.Background()
	content := "console.log(1)"

	obj, err := storage.Upload(ctx, "web/app.js", strings.NewReader(content), int64(len(content)), &UploadOptions{ContentType: "text/javascript"})

	require.NoError(t, err)
	assert.Equal(t, "web/app.js", obj.Key)
	assert.Equal(t, int64(len(content)), obj.Size)
	assert.Equal(t, "text/javascript", obj.ContentType)
	assert.Equal(t, "6114f5adc373accd7b2051bd87078f62", obj.ETag)

	data, err := os.ReadFile(filepath.Join(dir, "web", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, "web", ".bundage_upload_*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	storage, dir := setupLocalStorage(t)
	ctx := context.Background()

	_, err := storage.Upload(ctx, "a.txt", strings.NewReader("first"), 5, nil)
	require.NoError(t, err)
	_, err = storage.Upload(ctx, "a.txt", strings.NewReader("second"), 6, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStorage_UploadSizeMismatch(t *testing.T) {
	storage, dir := setupLocalStorage(t)

	_, err := storage.Upload(context.Background(), "a.txt", strings.NewReader("abc"), 10, nil)

	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	storage, _ := setupLocalStorage(t)
	ctx := context.Background()

	_, err := storage.Upload(ctx, "../evil.js", strings.NewReader("x"), 1, nil)
	assert.ErrorIs(t, err, paths.ErrEscapesRoot)

	err = storage.Delete(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, paths.ErrEscapesRoot)

	_, err = storage.Exists(ctx, "../x")
	assert.ErrorIs(t, err, paths.ErrEscapesRoot)
}

func TestLocalStorage_DeleteAndExists(t *testing.T) {
	storage, _ := setupLocalStorage(t)
	ctx := context.Background()

	_, err := storage.Upload(ctx, "dir/file.txt", strings.NewReader("x"), 1, nil)
	require.NoError(t, err)

	exists, err := storage.Exists(ctx, "dir/file.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = storage.Exists(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, exists, "directories are not objects")

	require.NoError(t, storage.Delete(ctx, "dir/file.txt"))

	exists, err = storage.Exists(ctx, "dir/file.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	err = storage.Delete(ctx, "dir/file.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
