// Package audiocache implements the content-addressed audio cache: cache key
// derivation, validated access to cached files and the book-to-file index
// used for cascading cleanup.
package audiocache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/book-expert/logger"
)

// ErrFilesystem wraps I/O failures on cached files. Unlike the validation
// errors it indicates a server-side problem.
var ErrFilesystem = errors.New("cache filesystem error")

// Cache ties the cache root directory to its audio index.
type Cache struct {
	root  string
	index *AudioIndex
	log   *logger.Logger
}

// New creates a Cache for the files below root, tracked by index.
func New(root string, index *AudioIndex, log *logger.Logger) *Cache {
	return &Cache{
		root:  root,
		index: index,
		log:   log,
	}
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Index returns the audio index backing the cache.
func (c *Cache) Index() *AudioIndex {
	return c.index
}

// Resolve validates filename and returns its path inside the cache root.
func (c *Cache) Resolve(filename string) (string, error) {
	return ResolveCachePath(c.root, filename)
}

// Record notes that filename was produced on behalf of bookID.
func (c *Cache) Record(bookID, filename string) error {
	return c.index.Add(bookID, filename)
}

// DeleteFile removes a single cached file and its index entries. It reports
// false without error when the file is already gone.
func (c *Cache) DeleteFile(filename string) (bool, error) {
	path, err := c.Resolve(filename)
	if err != nil {
		return false, err
	}

	deleted, err := removeIfPresent(path)
	if err != nil || !deleted {
		return false, err
	}

	err = c.index.Remove(filename)
	if err != nil {
		return true, fmt.Errorf("deleted %s but failed to update index: %w", filename, err)
	}

	c.log.Info("Deleted cached audio %s", filename)

	return true, nil
}

// RemoveForBook deletes every cached file recorded for bookID and returns how
// many files were actually removed from disk. Entries that fail validation
// are skipped; I/O failures are collected and returned with the count.
func (c *Cache) RemoveForBook(bookID string) (int, error) {
	filenames, err := c.index.PopFilesForBook(bookID)
	if err != nil {
		return 0, err
	}

	removed := 0

	var errs []error

	for _, filename := range filenames {
		path, resolveErr := c.Resolve(filename)
		if resolveErr != nil {
			c.log.Warn("Skipping indexed entry %q for book %s: %v", filename, bookID, resolveErr)

			continue
		}

		deleted, removeErr := removeIfPresent(path)
		if removeErr != nil {
			errs = append(errs, removeErr)

			continue
		}

		if deleted {
			removed++
		}
	}

	if removed > 0 {
		c.log.Info("Removed %d cached audio file(s) for book %s", removed, bookID)
	}

	return removed, errors.Join(errs...)
}

func removeIfPresent(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("%w: stat %s: %w", ErrFilesystem, path, err)
	}

	err = os.Remove(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("%w: remove %s: %w", ErrFilesystem, path, err)
	}

	return true, nil
}
