package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/book-expert/paperread-tts/internal/tts"
)

const (
	contentTypeWAV = "audio/wav"
	maxJSONBytes   = 1 << 20
)

type audioResponse struct {
	AudioURL   string `json:"audio_url"`
	DurationMS *int   `json:"duration_ms"`
}

type voiceDownloadRequest struct {
	VoiceID string `json:"voice_id"`
}

func decodeJSON(r *http.Request, target any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(target)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}

	return nil
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req tts.Request

	err := decodeJSON(r, &req)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	result, err := s.synth.Synthesize(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, audioResponse{AudioURL: result.AudioURL, DurationMS: result.DurationMS})

		return
	}

	s.serveFile(w, r, result.FilePath, contentTypeWAV, result.Filename)
}

// wantsJSON follows the ?json=1 convention; any non-zero integer counts.
func wantsJSON(r *http.Request) bool {
	value := r.URL.Query().Get("json")

	return value != "" && value != "0"
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	var req tts.Request

	err := decodeJSON(r, &req)
	if err == nil {
		err = req.Validate()
	}

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	result, err := s.online.Forward(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.cache.DeleteFile(r.PathValue("filename"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	path, err := s.cache.Resolve(filename)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.serveFile(w, r, path, contentTypeWAV, "")
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": s.voices.List()})
}

func (s *Server) handleDownloadVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceDownloadRequest

	err := decodeJSON(r, &req)
	if err == nil && req.VoiceID == "" {
		err = fmt.Errorf("%w: voice_id must not be empty", errInvalidBody)
	}

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	result, err := s.voices.Download(r.Context(), req.VoiceID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

// serveFile streams a file with range support. A non-empty downloadName
// marks the response as an attachment.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path, contentType, downloadName string) {
	file, err := os.Open(path) // #nosec G304 -- callers pass validated paths
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = errFileNotFound
		}

		s.writeError(w, r, err)

		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", contentType)

	if downloadName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}
