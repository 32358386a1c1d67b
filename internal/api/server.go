// Package api implements the reference Admin HTTP API (§6): a thin
// net/http.ServeMux surface over the cookie jar, built in the exact shape
// of the teacher's dashboard.Server (a struct holding its dependencies,
// registerRoutes called from the constructor, one handler method per
// route).
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/logging"
)

// Server serves the admin HTTP API described in §6.
type Server struct {
	jar    cookiejar.CookieJar
	logger *logging.Logger
	mux    *http.ServeMux
}

// New creates a Server over jar, registering every route in its constructor.
func New(jar cookiejar.CookieJar, logger *logging.Logger) *Server {
	s := &Server{jar: jar, logger: logger, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the server's http.Handler, suitable for http.ListenAndServe.
// Requests under /cookiejar/ bypass ServeMux's path cleaning, so an
// identifier with a leading slash (/cookiejar//x for "/x") reaches
// handleCookieJar unchanged instead of being redirected.
func (s *Server) Handler() http.Handler {
	cookieJar := s.withJSON(s.handleCookieJar)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/cookiejar/") {
			cookieJar(w, r)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/queue", s.withJSON(s.handleQueue))
	s.mux.HandleFunc("/queue/reprocess", s.withJSON(s.handleReprocess))
	s.mux.HandleFunc("/cookiejar/", s.withJSON(s.handleCookieJar))
}

// withJSON enforces the §6 content-type negotiation: a request that cannot
// accept application/json is rejected with 406 before the handler runs.
func (s *Server) withJSON(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}
}

func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*")
}

// GET /queue → {"queue_length": int}
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue_length": s.jar.QueueLength()})
}

type reprocessRequest struct {
	Path string `json:"path"`
}

// POST /queue/reprocess {"path": string} → {"path": string}
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.jar.MarkForProcessing(req.Path); err != nil {
		s.logger.ErrorErr(err, "api: mark_for_processing failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path})
}

// GET /cookiejar/{identifier} → cookie with chronological enrichments
// DELETE /cookiejar/{identifier} → {"deleted": identifier}
func (s *Server) handleCookieJar(w http.ResponseWriter, r *http.Request) {
	identifier := strings.TrimPrefix(r.URL.Path, "/cookiejar/")
	if identifier == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cookie, ok := s.jar.FetchCookie(identifier)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, cookie)

	case http.MethodDelete:
		if _, ok := s.jar.FetchCookie(identifier); !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := s.jar.DeleteCookie(identifier); err != nil {
			s.logger.ErrorErr(err, "api: delete_cookie failed")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": identifier})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
