package server

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const headerDuration = "x-request-duration-ms"

// timingWriter stamps the elapsed time on the response headers right before
// they are sent, unless a handler already set the header.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}

	w.wroteHeader = true
	w.status = status
	if w.Header().Get(headerDuration) == "" {
		w.Header().Set(headerDuration, formatMS(time.Since(w.start)))
	}

	w.ResponseWriter.WriteHeader(status)
}

func (w *timingWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.ResponseWriter.Write(data)
}

func (w *timingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// observe sets the duration header and logs one line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer := &timingWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}

		next.ServeHTTP(writer, r)

		s.log.Info("request method=%s path=%s status=%d duration_ms=%s client_ip=%s",
			r.Method, r.URL.Path, writer.status, formatMS(time.Since(writer.start)), clientIP(r))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.limiter.Allow(clientIP(r)) {
			next.ServeHTTP(w, r)

			return
		}

		s.log.Warn("rate_limit method=%s path=%s client_ip=%s status=%d",
			r.Method, r.URL.Path, clientIP(r), http.StatusTooManyRequests)

		w.Header().Set(headerDuration, "0.00")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": errRateLimited.Error()})
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")

		requested := r.Header.Get("Access-Control-Request-Headers")
		if requested == "" {
			requested = "*"
		}

		header.Set("Access-Control-Allow-Headers", requested)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusOK)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}

		return r.RemoteAddr
	}

	return host
}

func formatMS(elapsed time.Duration) string {
	return fmt.Sprintf("%.2f", float64(elapsed.Microseconds())/1000)
}
