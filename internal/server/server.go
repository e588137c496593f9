// Package server exposes the TTS, cache, library, voice and status
// operations over HTTP.
package server

import (
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/core"
	"github.com/book-expert/paperread-tts/internal/library"
	"github.com/book-expert/paperread-tts/internal/ratelimit"
	"github.com/book-expert/paperread-tts/internal/system"
	"github.com/book-expert/paperread-tts/internal/tts"
	"github.com/book-expert/paperread-tts/internal/voices"
)

// formOverheadBytes is allowed on top of the upload limit for multipart
// boundaries and the metadata fields.
const formOverheadBytes = 1 << 20

// Options wires the components behind the HTTP routes.
type Options struct {
	Synthesizer     *tts.Synthesizer
	Online          *tts.OnlineClient
	Cache           *audiocache.Cache
	Library         *library.Store
	Voices          *voices.Catalog
	Limiter         *ratelimit.Limiter
	Engine          core.SpeechEngine
	PiperConfigured bool
	System          system.Config
	MaxUploadBytes  int64
	Log             *logger.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	synth           *tts.Synthesizer
	online          *tts.OnlineClient
	cache           *audiocache.Cache
	library         *library.Store
	voices          *voices.Catalog
	limiter         *ratelimit.Limiter
	engine          core.SpeechEngine
	piperConfigured bool
	system          system.Config
	maxUploadBytes  int64
	log             *logger.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		synth:           opts.Synthesizer,
		online:          opts.Online,
		cache:           opts.Cache,
		library:         opts.Library,
		voices:          opts.Voices,
		limiter:         opts.Limiter,
		engine:          opts.Engine,
		piperConfigured: opts.PiperConfigured,
		system:          opts.System,
		maxUploadBytes:  opts.MaxUploadBytes,
		log:             opts.Log,
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("POST /tts", s.handleSynthesize)
	mux.HandleFunc("POST /tts/generate", s.handleOnline)
	mux.HandleFunc("DELETE /tts/cache/{filename}", s.handleDeleteCache)
	mux.HandleFunc("GET /media/{filename}", s.handleMedia)
	mux.HandleFunc("GET /voices", s.handleListVoices)
	mux.HandleFunc("POST /voices/download", s.handleDownloadVoice)
	mux.HandleFunc("POST /library/upload", s.handleUpload)
	mux.HandleFunc("GET /library", s.handleListBooks)
	mux.HandleFunc("GET /library/{book_id}", s.handleGetBook)
	mux.HandleFunc("PATCH /library/{book_id}", s.handleUpdateBook)
	mux.HandleFunc("DELETE /library/{book_id}", s.handleDeleteBook)
	mux.HandleFunc("GET /status", s.handleStatus)

	return s.observe(s.rateLimit(cors(mux)))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	available := s.engine != nil && s.engine.Available()

	status := "ok"
	if s.piperConfigured && !available {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status, "piper_available": available})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := system.Report(s.system, s.log)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, report)
}
