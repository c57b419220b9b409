// Package server implements the HTTP API over the book catalog: listing
// books, answering questions about one book, and the admin operations that
// ingest, delete and sweep indexes. It is started by `bookqa serve`.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
)

// defaultMaxUploadBytes caps uploads when Config.MaxUploadBytes is zero.
const defaultMaxUploadBytes = 50 << 20

// New constructs a Server over svc.
func New(svc Services, cfg *Config) (*Server, error) {
	if svc.Books == nil {
		return nil, fmt.Errorf("server: catalog must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		// Uploads arrive within the read window.
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		books:    svc.Books,
		querier:  svc.Query,
		ingester: svc.Ingest,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: BOOKQA_API_KEY not set, book and query routes are unauthenticated")
	}
	if cfg.AdminPassword == "" {
		log.Warn("server: ADMIN_PASSWORD not set, admin routes are disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal, log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the request multiplexer. Probes and metrics are open; book
// routes take the optional API key; admin routes take the admin secret.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	open := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, h)
	}
	reader := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(s.cfg.APIKey, h))
	}
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(s.cfg.APIKey, rl.middleware("query", h)))
	}
	admin := func(name string, h http.Handler) http.Handler {
		return s.instrument(name, adminMiddleware(s.cfg.AdminPassword, h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", open("health", s.handleHealth))
	mux.Handle("GET /api/ready", open("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("GET /api/books", reader("books_list", s.handleListBooks))
	mux.Handle("GET /api/books/{id}", reader("books_get", s.handleGetBook))
	mux.Handle("POST /api/books/{id}/query", limited("books_query", s.handleQuery))

	mux.Handle("POST /api/books", admin("books_ingest", rl.middleware("ingest", http.HandlerFunc(s.handleIngest))))
	mux.Handle("DELETE /api/books/{id}", admin("books_delete", http.HandlerFunc(s.handleDeleteBook)))
	mux.Handle("POST /api/admin/sweep", admin("admin_sweep", http.HandlerFunc(s.handleSweep)))
	return mux
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError replies with the user-facing line for err and the matching
// status. The full error is logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: bookerr.Message(err)})
}

// statusFor maps an error to its HTTP status. Timeouts are checked first
// since they arrive wrapped in a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, bookerr.ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookerr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, bookerr.ErrEmptyInput),
		errors.Is(err, bookerr.ErrInvalidBook),
		errors.Is(err, bookerr.ErrSourceNotFound),
		errors.Is(err, bookerr.ErrEncryptedDocument),
		errors.Is(err, bookerr.ErrEmptyContent),
		errors.Is(err, bookerr.ErrNoChunks),
		errors.Is(err, bookerr.ErrEmptyIndex):
		return http.StatusBadRequest
	case errors.Is(err, bookerr.ErrEmbeddingService),
		errors.Is(err, bookerr.ErrGenerationService):
		return http.StatusBadGateway
	case errors.Is(err, bookerr.ErrConfiguration),
		errors.Is(err, bookerr.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
