package packaging

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// gzipFile writes file.gz next to file at the best compression level and
// returns its path.
func gzipFile(file string) (string, error) {
	in, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer in.Close()

	gzFile := file + ".gz"
	out, err := os.Create(gzFile)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", gzFile, err)
	}

	gzWriter, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return "", err
	}
	if _, err := io.Copy(gzWriter, in); err != nil {
		gzWriter.Close()
		out.Close()
		os.Remove(gzFile)
		return "", fmt.Errorf("failed to compress %s: %w", file, err)
	}
	if err := gzWriter.Close(); err != nil {
		out.Close()
		os.Remove(gzFile)
		return "", fmt.Errorf("failed to compress %s: %w", file, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(gzFile)
		return "", fmt.Errorf("failed to write %s: %w", gzFile, err)
	}
	return gzFile, nil
}
