// Package api serves stored analysis results over a small read-only HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/strategist/internal/models"
	"github.com/eddiefleurent/strategist/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// BreakerStater reports the broker circuit breaker state for /health.
type BreakerStater interface {
	State() gobreaker.State
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	breaker   BreakerStater
	logger    *logrus.Logger
	port      int
	authToken string
	started   time.Time
}

type Config struct {
	Port      int
	AuthToken string
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the router. breaker may be nil.
func NewServer(cfg Config, store storage.Interface, breaker BreakerStater, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		breaker:   breaker,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		started:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/analyses", s.handleListAnalyses)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Get("/symbols/{symbol}/latest", s.handleLatestForSymbol)
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"elapsed":    time.Since(start).Round(time.Microsecond),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting API server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.breaker != nil {
		state := s.breaker.State()
		health["broker"] = state.String()
		if state == gobreaker.StateOpen {
			health["status"] = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.storage.ListAnalyses(filter)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list analyses")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if results == nil {
		results = []models.AnalysisResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.storage.GetAnalysis(id)
	s.writeResult(w, result, err)
}

func (s *Server) handleLatestForSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	result, err := s.storage.LatestForSymbol(symbol)
	s.writeResult(w, result, err)
}

func (s *Server) writeResult(w http.ResponseWriter, result *models.AnalysisResult, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.WithError(err).Error("Failed to load analysis")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.writeJSON(w, http.StatusOK, result)
	}
}

// parseFilter reads symbol, status, since (RFC 3339 or YYYY-MM-DD) and limit.
func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	filter := storage.Filter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		Limit:  defaultListLimit,
	}

	if v := q.Get("status"); v != "" {
		status := models.AnalysisStatus(v)
		switch status {
		case models.StatusSelected, models.StatusNoTrade, models.StatusNoCandidate,
			models.StatusNoStrikes, models.StatusMarginRejected:
			filter.Status = status
		default:
			return filter, fmt.Errorf("unknown status %q", v)
		}
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			if t, err = time.Parse("2006-01-02", v); err != nil {
				return filter, fmt.Errorf("since must be RFC 3339 or YYYY-MM-DD")
			}
		}
		filter.Since = t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}
	return filter, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
