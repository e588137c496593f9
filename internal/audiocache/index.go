package audiocache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/book-expert/paperread-tts/internal/fsutil"
)

// ErrIndexCorrupt is returned when the persisted index cannot be parsed.
// Operations fail until the document is repaired or removed.
var ErrIndexCorrupt = errors.New("audio index is corrupt")

// indexDocument is the persisted shape: {"by_book": {book_id: [filename, ...]}}.
type indexDocument struct {
	ByBook map[string][]string `json:"by_book"`
}

// AudioIndex persists which cache filenames were generated for which book.
// Every operation reloads the document, mutates it and writes it back under
// one mutex. It is accounting only: listed files may no longer exist.
type AudioIndex struct {
	path string
	mu   sync.Mutex
}

// NewAudioIndex returns an index backed by the JSON document at path,
// creating an empty document if none exists. Use an IndexRegistry to share
// one instance per path.
func NewAudioIndex(path string) (*AudioIndex, error) {
	index := &AudioIndex{path: path}

	err := index.ensureStore()
	if err != nil {
		return nil, err
	}

	return index, nil
}

// Path returns the backing document path.
func (i *AudioIndex) Path() string {
	return i.path
}

// Add records filename under bookID. An empty bookID is ignored and a
// filename already listed for the book is not added twice.
func (i *AudioIndex) Add(bookID, filename string) error {
	if bookID == "" {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	byBook, err := i.loadLocked()
	if err != nil {
		return err
	}

	files := byBook[bookID]
	if slices.Contains(files, filename) {
		return nil
	}

	byBook[bookID] = append(files, filename)

	return i.saveLocked(byBook)
}

// Remove drops filename from every book it is listed under and prunes books
// left without files.
func (i *AudioIndex) Remove(filename string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	byBook, err := i.loadLocked()
	if err != nil {
		return err
	}

	changed := false

	for bookID, files := range byBook {
		kept := slices.DeleteFunc(files, func(name string) bool { return name == filename })
		if len(kept) != len(files) {
			changed = true
		}

		if len(kept) == 0 {
			delete(byBook, bookID)

			changed = true

			continue
		}

		byBook[bookID] = kept
	}

	if !changed {
		return nil
	}

	return i.saveLocked(byBook)
}

// PopFilesForBook removes the book's entry and returns its filenames. The
// document is rewritten even when the book had no entry.
func (i *AudioIndex) PopFilesForBook(bookID string) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	byBook, err := i.loadLocked()
	if err != nil {
		return nil, err
	}

	files := byBook[bookID]
	delete(byBook, bookID)

	err = i.saveLocked(byBook)
	if err != nil {
		return nil, err
	}

	if files == nil {
		files = []string{}
	}

	return files, nil
}

// Files returns a copy of the filenames recorded for bookID.
func (i *AudioIndex) Files(bookID string) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	byBook, err := i.loadLocked()
	if err != nil {
		return nil, err
	}

	return slices.Clone(byBook[bookID]), nil
}

func (i *AudioIndex) ensureStore() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	found, err := fsutil.Exists(i.path)
	if err != nil {
		return fmt.Errorf("failed to check audio index %s: %w", i.path, err)
	}

	if found {
		return nil
	}

	err = fsutil.EnsureDir(filepath.Dir(i.path))
	if err != nil {
		return err
	}

	return i.saveLocked(map[string][]string{})
}

// loadLocked reads the document. A missing or empty file reads as an empty
// index; unparsable content is ErrIndexCorrupt.
func (i *AudioIndex) loadLocked() (map[string][]string, error) {
	data, err := os.ReadFile(i.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string][]string{}, nil
		}

		return nil, fmt.Errorf("failed to read audio index %s: %w", i.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]string{}, nil
	}

	var doc indexDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIndexCorrupt, i.path, err)
	}

	if doc.ByBook == nil {
		doc.ByBook = map[string][]string{}
	}

	return doc.ByBook, nil
}

func (i *AudioIndex) saveLocked(byBook map[string][]string) error {
	data, err := json.MarshalIndent(indexDocument{ByBook: byBook}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audio index: %w", err)
	}

	err = fsutil.WriteFileAtomic(i.path, data)
	if err != nil {
		return fmt.Errorf("failed to persist audio index: %w", err)
	}

	return nil
}

// IndexRegistry hands out one AudioIndex per absolute document path so that
// every mutation of a document goes through the same lock.
type IndexRegistry struct {
	mu      sync.Mutex
	indexes map[string]*AudioIndex
}

// NewIndexRegistry creates an empty registry.
func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{indexes: make(map[string]*AudioIndex)}
}

// Open returns the index for path, creating it on first use.
func (r *IndexRegistry) Open(path string) (*AudioIndex, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audio index path %q: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if index, ok := r.indexes[absPath]; ok {
		return index, nil
	}

	index, err := NewAudioIndex(absPath)
	if err != nil {
		return nil, err
	}

	r.indexes[absPath] = index

	return index, nil
}
