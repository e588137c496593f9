package audiocache

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrInvalidFilename is returned when a name does not have the cache
	// filename shape.
	ErrInvalidFilename = errors.New("invalid cache filename")
	// ErrPathEscapesRoot is returned when a well-formed name resolves outside
	// the cache root.
	ErrPathEscapesRoot = errors.New("filename outside media directory")
)

// filenamePattern is the public cache filename contract. Only the digest is
// case-insensitive.
var filenamePattern = regexp.MustCompile(`^[a-fA-F0-9]{12}-[A-Za-z0-9_-]+\.wav$`)

// ValidFilename reports whether name has the cache filename shape.
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

// ResolveCachePath validates filename and returns its absolute, canonical
// path below root. It resolves symlinks but does not require the file to
// exist.
func ResolveCachePath(root, filename string) (string, error) {
	if !ValidFilename(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	canonicalRoot, err := canonicalPath(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache root %q: %w", root, err)
	}

	candidate, err := canonicalPath(filepath.Join(canonicalRoot, filename))
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache path for %q: %w", filename, err)
	}

	if !within(canonicalRoot, candidate) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, filename)
	}

	return candidate, nil
}

// canonicalPath returns the absolute path with every existing symlink
// resolved. Missing trailing components are kept as written.
func canonicalPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(absPath)
	if parent == absPath {
		return absPath, nil
	}

	resolvedParent, err := canonicalPath(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedParent, filepath.Base(absPath)), nil
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}

	if rel == "." || filepath.IsAbs(rel) {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
