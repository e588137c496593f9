package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/library"
	"github.com/book-expert/paperread-tts/internal/tts"
	"github.com/book-expert/paperread-tts/internal/voices"
)

const detailInternal = "internal server error"

var (
	errInvalidBody  = errors.New("invalid request body")
	errFileNotFound = errors.New("file not found")
	errBookMissing  = errors.New("book missing on disk")
	errRateLimited  = errors.New("rate limit exceeded")
)

type errorMapping struct {
	target error
	status int
}

// Client errors answer with the error text, server errors with the text of
// the matched sentinel only.
var errorMappings = []errorMapping{
	{audiocache.ErrInvalidFilename, http.StatusBadRequest},
	{audiocache.ErrPathEscapesRoot, http.StatusBadRequest},
	{audiocache.ErrIndexCorrupt, http.StatusInternalServerError},
	{audiocache.ErrFilesystem, http.StatusInternalServerError},
	{tts.ErrTextEmpty, http.StatusUnprocessableEntity},
	{tts.ErrVoiceEmpty, http.StatusUnprocessableEntity},
	{tts.ErrTextTooLong, http.StatusRequestEntityTooLarge},
	{tts.ErrOnlineProxyDisabled, http.StatusServiceUnavailable},
	{library.ErrBookNotFound, http.StatusNotFound},
	{library.ErrUnsupportedFileType, http.StatusBadRequest},
	{library.ErrUnsupportedContentType, http.StatusBadRequest},
	{library.ErrUnsupportedFields, http.StatusBadRequest},
	{library.ErrInvalidLastRead, http.StatusBadRequest},
	{library.ErrInvalidPatch, http.StatusUnprocessableEntity},
	{library.ErrUploadTooLarge, http.StatusRequestEntityTooLarge},
	{library.ErrLibraryCorrupt, http.StatusInternalServerError},
	{voices.ErrVoiceNotFound, http.StatusNotFound},
	{voices.ErrMissingDownloadURL, http.StatusBadRequest},
	{voices.ErrInvalidVoiceFile, http.StatusBadRequest},
	{voices.ErrDownloadRequest, http.StatusBadGateway},
	{voices.ErrVoiceWrite, http.StatusInternalServerError},
	{errInvalidBody, http.StatusUnprocessableEntity},
	{errFileNotFound, http.StatusNotFound},
	{errBookMissing, http.StatusNotFound},
	{errRateLimited, http.StatusTooManyRequests},
}

// errorResponse classifies err into a status code and a client-facing detail.
func errorResponse(err error) (int, string) {
	var upstreamErr *tts.UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode, upstreamErr.Body
	}

	var downloadErr *voices.DownloadStatusError
	if errors.As(err, &downloadErr) {
		return downloadErr.StatusCode, "voice download failed"
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, library.ErrUploadTooLarge.Error()
	}

	for _, mapping := range errorMappings {
		if !errors.Is(err, mapping.target) {
			continue
		}

		if mapping.status >= http.StatusInternalServerError {
			return mapping.status, mapping.target.Error()
		}

		return mapping.status, err.Error()
	}

	return http.StatusInternalServerError, detailInternal
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
