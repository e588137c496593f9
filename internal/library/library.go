// Package library stores uploaded books and their reading metadata.
//
// Book records live in a single JSON array file that is rewritten whole on
// every change. Deleting a book also evicts the audio synthesized for it.
package library

import (
	"crypto/sha1" // #nosec G505 -- content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/fsutil"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

var (
	allowedExtensions   = []string{".epub", ".txt"}
	allowedContentTypes = []string{
		"application/epub+zip",
		"application/x-zip-compressed",
		"text/plain",
		defaultContentType,
	}
)

var (
	// ErrBookNotFound is returned for unknown book ids.
	ErrBookNotFound = errors.New("book not found")
	// ErrUnsupportedFileType is returned for uploads with a disallowed extension.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrUnsupportedContentType is returned for uploads with a disallowed
	// content type.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrUploadTooLarge is returned when an upload exceeds the size limit.
	ErrUploadTooLarge = errors.New("upload exceeds limit")
	// ErrLibraryCorrupt is returned when the metadata file cannot be parsed.
	ErrLibraryCorrupt = errors.New("library metadata is corrupt")
)

// LastReadLocation is the reader position inside a book.
type LastReadLocation struct {
	Para  int `json:"para"`
	Chars int `json:"chars"`
}

// Book is a stored upload.
type Book struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Author           *string           `json:"author"`
	Filename         string            `json:"filename"`
	ContentType      string            `json:"content_type"`
	FileSize         int64             `json:"file_size"`
	AddedAt          int64             `json:"added_at"`
	Cover            *string           `json:"cover"`
	LastReadLocation *LastReadLocation `json:"last_read_location"`
	UpdatedAt        *int64            `json:"updated_at,omitempty"`
}

// Upload is an incoming book file with its optional form metadata.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Title       *string
	Author      *string
	Cover       *string
}

// AudioRemover evicts the cached audio recorded for a book.
type AudioRemover interface {
	RemoveForBook(bookID string) (int, error)
}

// Config locates the library on disk.
type Config struct {
	MetadataFile   string
	BooksDir       string
	MaxUploadBytes int64
}

// Store manages book files and the metadata file.
type Store struct {
	config Config
	audio  AudioRemover
	log    *logger.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewStore creates a Store and makes sure the metadata file exists.
func NewStore(cfg Config, audio AudioRemover, log *logger.Logger) (*Store, error) {
	err := fsutil.EnsureDir(cfg.BooksDir)
	if err != nil {
		return nil, err
	}

	err = fsutil.EnsureDir(filepath.Dir(cfg.MetadataFile))
	if err != nil {
		return nil, err
	}

	exists, err := fsutil.Exists(cfg.MetadataFile)
	if err != nil {
		return nil, err
	}

	if !exists {
		err = fsutil.WriteFileAtomic(cfg.MetadataFile, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create library metadata: %w", err)
		}
	}

	return &Store{
		config: cfg,
		audio:  audio,
		log:    log,
		now:    time.Now,
	}, nil
}

// List returns all books in upload order.
func (s *Store) List() ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// Get returns the book with the given id.
func (s *Store) Get(bookID string) (*Book, error) {
	books, err := s.List()
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(books, func(book Book) bool { return book.ID == bookID })
	if index < 0 {
		return nil, ErrBookNotFound
	}

	return &books[index], nil
}

// FilePath returns the on-disk location of a book's file.
func (s *Store) FilePath(book *Book) string {
	return filepath.Join(s.config.BooksDir, book.Filename)
}

// StoreUpload validates and stores an uploaded book. Identical content is
// kept once on disk; every upload still gets its own record.
func (s *Store) StoreUpload(upload Upload) (*Book, error) {
	extension := strings.ToLower(filepath.Ext(upload.Filename))
	if !slices.Contains(allowedExtensions, extension) {
		return nil, ErrUnsupportedFileType
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	if !slices.Contains(allowedContentTypes, contentType) {
		return nil, ErrUnsupportedContentType
	}

	finalName, size, err := s.writeContent(upload.Body, extension)
	if err != nil {
		return nil, err
	}

	title := filepath.Base(upload.Filename)
	title = strings.TrimSuffix(title, filepath.Ext(title))

	if upload.Title != nil && *upload.Title != "" {
		title = *upload.Title
	}

	book := Book{
		ID:          strings.ReplaceAll(uuid.NewString(), "-", ""),
		Title:       title,
		Author:      upload.Author,
		Filename:    finalName,
		ContentType: contentType,
		FileSize:    size,
		AddedAt:     s.now().Unix(),
		Cover:       upload.Cover,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	books, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	err = s.saveLocked(append(books, book))
	if err != nil {
		return nil, err
	}

	s.log.Info("Stored book %s as %s (%s)", book.ID, finalName, humanize.Bytes(uint64(size))) // #nosec G115

	return &book, nil
}

// Update applies patch to the book with the given id.
func (s *Store) Update(bookID string, patch Patch) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	books, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(books, func(book Book) bool { return book.ID == bookID })
	if index < 0 {
		return nil, ErrBookNotFound
	}

	patch.apply(&books[index])

	updatedAt := s.now().Unix()
	books[index].UpdatedAt = &updatedAt

	err = s.saveLocked(books)
	if err != nil {
		return nil, err
	}

	return &books[index], nil
}

// Delete removes a book record and its file, then evicts its cached audio.
// Audio cleanup failures are logged and do not fail the delete.
func (s *Store) Delete(bookID string) (*Book, error) {
	deleted, err := s.deleteRecord(bookID)
	if err != nil {
		return nil, err
	}

	removed, err := s.audio.RemoveForBook(bookID)
	if err != nil {
		s.log.Error("Audio cleanup for book %s failed after %d files: %v", bookID, removed, err)
	} else {
		s.log.Info("Deleted book %s and %d cached audio files", bookID, removed)
	}

	return deleted, nil
}

func (s *Store) deleteRecord(bookID string) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	books, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(books, func(book Book) bool { return book.ID == bookID })
	if index < 0 {
		return nil, ErrBookNotFound
	}

	deleted := books[index]

	removeErr := os.Remove(s.FilePath(&deleted))
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove book file %s: %w", deleted.Filename, removeErr)
	}

	err = s.saveLocked(slices.Delete(books, index, index+1))
	if err != nil {
		return nil, err
	}

	return &deleted, nil
}

// writeContent streams body into the books directory under its SHA-1 name.
func (s *Store) writeContent(body io.Reader, extension string) (string, int64, error) {
	tempPath := filepath.Join(s.config.BooksDir, "upload-"+strings.ReplaceAll(uuid.NewString(), "-", "")+extension)

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FilePermissions) // #nosec G304
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	hasher := sha1.New() // #nosec G401

	limit := s.config.MaxUploadBytes
	reader := body

	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}

	size, copyErr := io.Copy(io.MultiWriter(file, hasher), reader)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(tempPath)

		return "", 0, fmt.Errorf("failed to store upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(tempPath)

		return "", 0, fmt.Errorf("failed to store upload: %w", closeErr)
	case limit > 0 && size > limit:
		_ = os.Remove(tempPath)

		return "", 0, ErrUploadTooLarge
	}

	finalName := hex.EncodeToString(hasher.Sum(nil)) + extension
	finalPath := filepath.Join(s.config.BooksDir, finalName)

	exists, err := fsutil.Exists(finalPath)
	if err != nil {
		_ = os.Remove(tempPath)

		return "", 0, err
	}

	if exists {
		_ = os.Remove(tempPath)

		return finalName, size, nil
	}

	err = os.Rename(tempPath, finalPath)
	if err != nil {
		_ = os.Remove(tempPath)

		return "", 0, fmt.Errorf("failed to move upload into place: %w", err)
	}

	return finalName, size, nil
}

func (s *Store) loadLocked() ([]Book, error) {
	data, err := os.ReadFile(s.config.MetadataFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Book{}, nil
		}

		return nil, fmt.Errorf("failed to read library metadata: %w", err)
	}

	books := []Book{}

	if strings.TrimSpace(string(data)) == "" {
		return books, nil
	}

	err = json.Unmarshal(data, &books)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLibraryCorrupt, s.config.MetadataFile, err)
	}

	return books, nil
}

func (s *Store) saveLocked(books []Book) error {
	data, err := json.MarshalIndent(books, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode library metadata: %w", err)
	}

	err = fsutil.WriteFileAtomic(s.config.MetadataFile, data)
	if err != nil {
		return fmt.Errorf("failed to write library metadata: %w", err)
	}

	return nil
}
