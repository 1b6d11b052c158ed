// Package server exposes the audit engine over HTTP, Server-Sent Events and
// WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/engine"
	"github.com/UIDickinson/llm-identity/pkg/history"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Auditor is the part of the engine the server drives.
type Auditor interface {
	Run(ctx context.Context, id string, mode models.AuditMode, n engine.Notifier) models.AuditResult
	SelfVerify(ctx context.Context) models.SelfVerification
}

// CacheStater reports model cache occupancy.
type CacheStater interface {
	Stats() models.CacheStats
}

// Deps are the collaborators a Server needs. History may be nil.
type Deps struct {
	Engine       Auditor
	Fingerprints engine.FingerprintSource
	Cache        CacheStater
	History      *history.Store
	Limiter      *admission.Limiter
}

// Server is the Guardian HTTP API.
type Server struct {
	cfg     *config.Config
	deps    Deps
	router  chi.Router
	started time.Time
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Limiter == nil {
		deps.Limiter = admission.New(cfg.Server.MaxConcurrentAudit)
	}
	s := &Server{cfg: cfg, deps: deps, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/audit", s.handleAudit)
		r.Post("/audit/stream", s.handleAuditStream)
		r.Get("/audit/ws", s.handleAuditWS)
		r.Post("/self-verify", s.handleSelfVerify)
		r.Post("/fingerprints/generate", s.handleGenerate)
		r.Get("/fingerprints/guide", s.handleGuide)
		r.Get("/history", s.handleHistory)
		r.Get("/history/stats", s.handleHistoryStats)
		r.Get("/cache/stats", s.handleCacheStats)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the API server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("guardian API listening on %s", s.cfg.Server.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// record persists a finished audit. History failures never fail the request.
func (s *Server) record(res models.AuditResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.Record(ctx, res); err != nil {
		log.Warn(fmt.Sprintf("Recording audit %s: %v", res.ID, err))
	}
}

// requestLogger writes one line per finished request and echoes the request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			w.Header().Set(middleware.RequestIDHeader, reqID)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		line := fmt.Sprintf("%s %s %d %dB %s [%s]", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
			time.Since(start).Round(time.Millisecond), reqID)
		if ww.Status() >= http.StatusInternalServerError {
			log.Warn(line)
			return
		}
		log.Info(line)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case exactOrigin(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				setCORSMethods(w)
			case originAllowed(origins, origin):
				// Credentials are never granted to a wildcard match.
				w.Header().Set("Access-Control-Allow-Origin", "*")
				setCORSMethods(w)
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setCORSMethods(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func exactOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}

func originAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug(fmt.Sprintf("write response: %v", err))
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"guardian_error","code":%d}}`, message, code)
}
