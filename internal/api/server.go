// Package api exposes the HTTP interface for the review extraction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/config"
	"github.com/reviewgrab/reviewgrab/internal/export"
	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/gate"
	"github.com/reviewgrab/reviewgrab/internal/metrics"
	"github.com/reviewgrab/reviewgrab/internal/review"
)

// Extractor resolves a URL to a deduplicated record set.
type Extractor interface {
	Extract(ctx context.Context, url string) ([]review.Review, error)
}

// Server wires HTTP handlers to the admission gate and the orchestrator.
type Server struct {
	router    chi.Router
	gate      *gate.Gate
	extractor Extractor
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(g *gate.Gate, extractor Extractor, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gate:      g,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/reviews", func(r chi.Router) {
		r.Post("/extract", s.extractReviews)
		r.Post("/export", s.exportReviews)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

type extractRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	ErrorKind    string `json:"error_kind"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func (s *Server) extractReviews(w http.ResponseWriter, r *http.Request) {
	records, ok := s.runExtraction(w, r)
	if !ok {
		return
	}
	if records == nil {
		records = []review.Review{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) exportReviews(w http.ResponseWriter, r *http.Request) {
	records, ok := s.runExtraction(w, r)
	if !ok {
		return
	}
	table := export.Table(records)
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(s.now())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(table)); err != nil {
		s.logger.Error("write export failed", zap.Error(err))
	}
}

// runExtraction performs the shared admission and extraction flow. It
// writes the failure response itself and reports ok=false when the caller
// should stop.
func (s *Server) runExtraction(w http.ResponseWriter, r *http.Request) ([]review.Review, bool) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeKindError(w, http.StatusBadRequest, extract.KindInvalidInput, "invalid JSON body", 0)
		return nil, false
	}
	if err := s.validateTargetURL(req.URL); err != nil {
		s.writeKindError(w, http.StatusBadRequest, extract.KindInvalidInput, err.Error(), 0)
		return nil, false
	}

	clientID := resolveClientID(r)
	if s.gate.IsLimited(clientID) {
		retryAfter := s.gate.TimeRemaining(clientID)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
		s.writeKindError(w, http.StatusTooManyRequests, extract.KindRateLimited,
			"too many requests, slow down", retryAfter.Milliseconds())
		return nil, false
	}

	records, err := s.extractor.Extract(r.Context(), req.URL)
	if err != nil {
		kind := extract.KindOf(err)
		s.logger.Error("extraction failed",
			zap.String("url", req.URL),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		// Internal heuristic and DOM detail stays out of the response body.
		s.writeKindError(w, http.StatusBadGateway, kind, "could not extract reviews from the target page", 0)
		return nil, false
	}
	return records, true
}

func (s *Server) validateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be absolute http(s)")
	}
	host := strings.ToLower(u.Hostname())
	for _, suffix := range s.cfg.Target.AllowedHostSuffixes {
		suffix = strings.ToLower(suffix)
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return nil
		}
	}
	return errors.New("url host is not a supported review site")
}

func (s *Server) writeKindError(w http.ResponseWriter, status int, kind extract.Kind, msg string, retryAfterMs int64) {
	writeJSON(s.logger, w, status, errorResponse{
		ErrorKind:    string(kind),
		Message:      msg,
		RetryAfterMs: retryAfterMs,
	})
}

// resolveClientID picks a stable per-caller identifier: the first
// X-Forwarded-For hop, then the connection address, then "unknown".
func resolveClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeJSON(logger, w, http.StatusInternalServerError,
						map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
