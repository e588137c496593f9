// Package fsutil provides file and directory helpers shared by the stores of
// the service: directory creation, whole-file atomic replacement and size
// accounting.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Permissions used for directories and persisted documents.
const (
	DirPermissions  = 0o750
	FilePermissions = 0o600
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtCreateTemp        = "failed to create temp file in %s: %w"
	errFmtWriteTemp         = "failed to write temp file %s: %w"
	errFmtReplace           = "failed to replace %s: %w"
	errFmtWalk              = "failed to walk %s: %w"
)

// EnsureDir ensures a directory exists at the given path, creating it and its
// parents if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if errors.Is(statErr, fs.ErrNotExist) {
		mkdirErr := os.MkdirAll(path, DirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// WriteFileAtomic replaces the file at path with data. The content is written
// to a temp file in the same directory and renamed over the target, so readers
// never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf(errFmtCreateTemp, dir, err)
	}

	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	if writeErr == nil {
		writeErr = tempFile.Sync()
	}

	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(tempPath, FilePermissions)
	}

	if writeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf(errFmtWriteTemp, tempPath, writeErr)
	}

	renameErr := os.Rename(tempPath, path)
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf(errFmtReplace, path, renameErr)
	}

	return nil
}

// Exists reports whether path exists. Errors other than "not found" are
// returned to the caller.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// DirSize returns the total size in bytes of all regular files below root.
// A missing root counts as empty.
func DirSize(root string) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(_ string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}

		total += info.Size()

		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf(errFmtWalk, root, err)
	}

	return total, nil
}

// GlobSize returns the total size in bytes of the regular files in dir whose
// names match pattern. Subdirectories are not descended into.
func GlobSize(dir, pattern string) (int64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	var total int64

	for _, match := range matches {
		info, statErr := os.Stat(match)
		if statErr != nil {
			continue
		}

		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}

	return total, nil
}
