package library_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCleanup = errors.New("cleanup failed")

type fakeRemover struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRemover) RemoveForBook(bookID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, bookID)

	return 2, f.err
}

func newTestStore(t *testing.T, remover library.AudioRemover, maxBytes int64) (*library.Store, string) {
	t.Helper()

	booksDir := t.TempDir()

	testLogger, err := logger.New(t.TempDir(), "library-test.log")
	require.NoError(t, err)

	store, err := library.NewStore(library.Config{
		MetadataFile:   filepath.Join(booksDir, "library.json"),
		BooksDir:       booksDir,
		MaxUploadBytes: maxBytes,
	}, remover, testLogger)
	require.NoError(t, err)

	return store, booksDir
}

func upload(name, contentType, body string) library.Upload {
	return library.Upload{Filename: name, ContentType: contentType, Body: strings.NewReader(body)}
}

func TestStore_EmptyLibrary(t *testing.T) {
	t.Parallel()

	store, booksDir := newTestStore(t, &fakeRemover{}, 0)

	books, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.FileExists(t, filepath.Join(booksDir, "library.json"))
}

func TestStore_StoreUpload(t *testing.T) {
	t.Parallel()

	store, booksDir := newTestStore(t, &fakeRemover{}, 1024)

	book, err := store.StoreUpload(upload("Moby Dick.TXT", "text/plain", "Call me Ishmael."))
	require.NoError(t, err)

	assert.Len(t, book.ID, 32)
	assert.Equal(t, "Moby Dick", book.Title)
	assert.Nil(t, book.Author)
	assert.Equal(t, "text/plain", book.ContentType)
	assert.Equal(t, int64(len("Call me Ishmael.")), book.FileSize)
	assert.Regexp(t, `^[0-9a-f]{40}\.txt$`, book.Filename)
	assert.Nil(t, book.LastReadLocation)

	data, err := os.ReadFile(filepath.Join(booksDir, book.Filename))
	require.NoError(t, err)
	assert.Equal(t, "Call me Ishmael.", string(data))

	fetched, err := store.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, *book, *fetched)
}

func TestStore_StoreUploadDeduplicatesContent(t *testing.T) {
	t.Parallel()

	store, booksDir := newTestStore(t, &fakeRemover{}, 0)

	title := "Second copy"
	second := upload("b.epub", "", "same bytes")
	second.Title = &title

	first, err := store.StoreUpload(upload("a.epub", "application/epub+zip", "same bytes"))
	require.NoError(t, err)

	copyBook, err := store.StoreUpload(second)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, copyBook.ID)
	assert.Equal(t, first.Filename, copyBook.Filename)
	assert.Equal(t, "Second copy", copyBook.Title)
	assert.Equal(t, "application/octet-stream", copyBook.ContentType)

	matches, err := filepath.Glob(filepath.Join(booksDir, "*.epub"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	books, err := store.List()
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestStore_StoreUploadRejects(t *testing.T) {
	t.Parallel()

	store, booksDir := newTestStore(t, &fakeRemover{}, 4)

	_, err := store.StoreUpload(upload("book.pdf", "text/plain", "x"))
	require.ErrorIs(t, err, library.ErrUnsupportedFileType)

	_, err = store.StoreUpload(upload("book.txt", "image/png", "x"))
	require.ErrorIs(t, err, library.ErrUnsupportedContentType)

	_, err = store.StoreUpload(upload("book.txt", "text/plain", "too large"))
	require.ErrorIs(t, err, library.ErrUploadTooLarge)

	matches, err := filepath.Glob(filepath.Join(booksDir, "upload-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "rejected uploads leave no temp files")

	_, err = store.StoreUpload(upload("book.txt", "text/plain", "fits"))
	require.NoError(t, err)
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, &fakeRemover{}, 0)

	book, err := store.StoreUpload(upload("a.txt", "text/plain", "x"))
	require.NoError(t, err)

	patch, err := library.ParsePatch([]byte(`{"author":"Herman","last_read_location":{"para":3,"chars":10}}`))
	require.NoError(t, err)

	updated, err := store.Update(book.ID, patch)
	require.NoError(t, err)
	require.NotNil(t, updated.Author)
	assert.Equal(t, "Herman", *updated.Author)
	assert.Equal(t, &library.LastReadLocation{Para: 3, Chars: 10}, updated.LastReadLocation)
	require.NotNil(t, updated.UpdatedAt)

	patch, err = library.ParsePatch([]byte(`{"title":null,"last_read_location":null}`))
	require.NoError(t, err)

	updated, err = store.Update(book.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, "a", updated.Title, "null title is ignored")
	assert.Nil(t, updated.LastReadLocation, "null location clears it")

	_, err = store.Update("missing", patch)
	require.ErrorIs(t, err, library.ErrBookNotFound)
}

func TestStore_DeleteCascadesToAudio(t *testing.T) {
	t.Parallel()

	remover := &fakeRemover{}
	store, booksDir := newTestStore(t, remover, 0)

	book, err := store.StoreUpload(upload("a.txt", "text/plain", "x"))
	require.NoError(t, err)

	deleted, err := store.Delete(book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, deleted.ID)
	assert.NoFileExists(t, filepath.Join(booksDir, book.Filename))
	assert.Equal(t, []string{book.ID}, remover.calls)

	_, err = store.Get(book.ID)
	require.ErrorIs(t, err, library.ErrBookNotFound)

	_, err = store.Delete(book.ID)
	require.ErrorIs(t, err, library.ErrBookNotFound)
}

func TestStore_DeleteSucceedsWhenCleanupFails(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, &fakeRemover{err: errCleanup}, 0)

	book, err := store.StoreUpload(upload("a.txt", "text/plain", "x"))
	require.NoError(t, err)

	_, err = store.Delete(book.ID)
	require.NoError(t, err)

	books, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestStore_CorruptMetadata(t *testing.T) {
	t.Parallel()

	store, booksDir := newTestStore(t, &fakeRemover{}, 0)
	require.NoError(t, os.WriteFile(filepath.Join(booksDir, "library.json"), []byte("{not json"), 0o600))

	_, err := store.List()
	require.ErrorIs(t, err, library.ErrLibraryCorrupt)
}
