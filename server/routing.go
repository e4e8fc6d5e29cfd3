package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/recap/logger"
)

// routes configures all HTTP handlers
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/api/summary/process", s.corsMiddleware(s.HandleProcess))              // Submit a transcript (POST)
	mux.HandleFunc("/api/summary/jobs", s.corsMiddleware(s.HandleJobs))                    // List jobs (GET)
	mux.HandleFunc("/api/summary/jobs/{id}", s.corsMiddleware(s.HandleJob))                // Job status (GET)
	mux.HandleFunc("/api/summary/jobs/{id}/cancel", s.corsMiddleware(s.HandleCancel))      // Cancel a job (POST)
	mux.HandleFunc("/api/summary/jobs/{id}/ws", s.corsMiddleware(s.HandleJobStream))       // Push snapshots until terminal
	mux.HandleFunc("/api/summary/meetings/{id}", s.corsMiddleware(s.HandleMeetingSummary)) // Latest summary of a meeting (GET)
	mux.HandleFunc("/api/summary/templates", s.corsMiddleware(s.HandleTemplates))          // Built-in templates (GET)

	return s.requestLogger(mux)
}

// requestLogger tags each request with an id and logs it once handled
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := logger.WithRequestID(r.Context(), requestID)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		s.logger.Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldRequestID, requestID,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins.
// Uses the same origin validation as WebSocket connections (server.allowed_origins config).
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// checkOrigin validates an Origin header against the allowed origins.
// Scheme and host must match exactly; an allowed origin without a port allows any port.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	got, err := url.Parse(origin)
	if err != nil || got.Host == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, allowed := range s.allowedOrigins {
		if originMatches(got, allowed) {
			return true
		}
	}
	return false
}

func originMatches(got *url.URL, allowed string) bool {
	want, err := url.Parse(allowed)
	if err != nil || want.Host == "" {
		return false
	}
	if !strings.EqualFold(got.Scheme, want.Scheme) || !strings.EqualFold(got.Hostname(), want.Hostname()) {
		return false
	}
	return want.Port() == "" || got.Port() == want.Port()
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}
