package server

import (
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/book-expert/paperread-tts/internal/library"
)

const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+formOverheadBytes)
	}

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		s.writeError(w, r, errors.Join(errInvalidBody, err))

		return
	}

	defer func() {
		removeErr := r.MultipartForm.RemoveAll()
		if removeErr != nil {
			s.log.Warn("Failed to remove multipart temp files: %v", removeErr)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.Join(errInvalidBody, err))

		return
	}
	defer file.Close()

	book, err := s.library.StoreUpload(library.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Title:       formValue(r, "title"),
		Author:      formValue(r, "author"),
		Cover:       formValue(r, "cover"),
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, book)
}

func formValue(r *http.Request, key string) *string {
	values, ok := r.MultipartForm.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}

	return &values[0]
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.library.List()
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.library.Get(r.PathValue("book_id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	path := s.library.FilePath(book)

	_, err = os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = errBookMissing
		}

		s.writeError(w, r, err)

		return
	}

	contentType := book.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.serveFile(w, r, path, contentType, book.Filename)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil {
		s.writeError(w, r, errors.Join(errInvalidBody, err))

		return
	}

	patch, err := library.ParsePatch(body)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	book, err := s.library.Update(r.PathValue("book_id"), patch)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.library.Delete(r.PathValue("book_id"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "book": book})
}
