// Package paths converts file paths between the directory roots a single
// bundling or harness operation works with: the source root, the output
// root, the serve root and the copy destination.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidRoot is returned when a root does not exist as a directory
	ErrInvalidRoot = errors.New("invalid root")

	// ErrEscapesRoot is returned when a path resolves outside of its root
	ErrEscapesRoot = errors.New("path escapes root")
)

// Root is an absolute, cleaned directory that relative paths are declared
// against. Constructing a Root performs no I/O; existence is only checked by
// operations that need to read from it.
type Root struct {
	dir string
}

// NewRoot returns the Root for dir. A relative dir is made absolute against
// the current working directory and an empty dir means the working directory.
func NewRoot(dir string) (Root, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("%w: %s: %v", ErrInvalidRoot, dir, err)
	}
	return Root{dir: abs}, nil
}

// MustRoot is NewRoot for callers holding a path that is known to be valid.
func MustRoot(dir string) Root {
	r, err := NewRoot(dir)
	if err != nil {
		panic(err)
	}
	return r
}

// Dir returns the absolute directory of the root.
func (r Root) Dir() string {
	return r.dir
}

// String implements fmt.Stringer.
func (r Root) String() string {
	return r.dir
}

// Equal reports whether both roots name the same directory.
func (r Root) Equal(other Root) bool {
	return r.dir == other.dir
}

// Check verifies the root exists and is a directory.
func (r Root) Check() error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRoot, r.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, r.dir)
	}
	return nil
}

// Abs joins rel onto the root. It performs no confinement check.
func (r Root) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(r.dir, filepath.FromSlash(rel))
}

// Rel returns abs relative to the root, using forward slashes.
func (r Root) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.dir, r.Abs(abs))
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s against %s: %w", abs, r.dir, err)
	}
	return ToUnix(rel), nil
}

// Contains reports whether abs lies inside the root, lexically.
func (r Root) Contains(abs string) bool {
	rel, err := filepath.Rel(r.dir, filepath.Clean(abs))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve turns a root-relative path into an absolute one and refuses paths
// that end up outside the root, either lexically or by following symlinks.
// A leading "/" is treated as the root itself, so URL-style paths such as
// "/img/a.png" resolve under the root.
func (r Root) Resolve(rel string) (string, error) {
	rel = strings.TrimLeft(ToUnix(rel), "/")
	candidate := filepath.Join(r.dir, filepath.FromSlash(rel))
	if !r.Contains(candidate) {
		return "", fmt.Errorf("%w: %q is outside %s", ErrEscapesRoot, rel, r.dir)
	}

	realRoot, err := filepath.EvalSymlinks(r.dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidRoot, r.dir, err)
	}
	realCandidate := resolveExisting(candidate)
	if !MustRoot(realRoot).Contains(realCandidate) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrEscapesRoot, rel, realCandidate)
	}
	return candidate, nil
}

// resolveExisting resolves symlinks for the longest existing prefix of p and
// re-appends the part that does not exist yet.
func resolveExisting(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	dir, base := filepath.Dir(p), filepath.Base(p)
	if dir == p {
		return p
	}
	return filepath.Join(resolveExisting(dir), base)
}

// Rebase maps rel, declared relative to from, onto to. Resolving the input
// against from and the result against to yields the same location. When both
// roots are the same directory rel is returned unchanged.
func Rebase(rel string, from, to Root) (string, error) {
	if from.Equal(to) {
		return rel, nil
	}
	return to.Rel(from.Abs(rel))
}

// ToUnix converts OS separators to forward slashes.
func ToUnix(p string) string {
	return filepath.ToSlash(p)
}

// StripExt removes the final extension from p, keeping the directory.
func StripExt(p string) string {
	return strings.TrimSuffix(p, path.Ext(ToUnix(p)))
}

// ForceExt replaces the extension of p with ext, which includes the dot.
func ForceExt(p, ext string) string {
	return StripExt(p) + ext
}

// DefaultExt appends ext when p has no extension at all.
func DefaultExt(p, ext string) string {
	if path.Ext(ToUnix(p)) == "" {
		return p + ext
	}
	return p
}
