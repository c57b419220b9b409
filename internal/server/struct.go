package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/bookqa-go/internal/ingestion"
	"github.com/54b3r/bookqa-go/internal/query"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full ingestion of the largest accepted upload.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on query and
	// ingest routes (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the book listing and query
	// routes. If empty, those routes are open (development mode).
	APIKey string
	// AdminPassword is the Bearer token required on ingest, delete and sweep.
	// If empty, admin routes answer 503; there is no default secret.
	AdminPassword string
	// PublicURL is the base of the access link returned for each book.
	PublicURL string
	// MaxUploadBytes caps the size of an uploaded PDF. Defaults to 50 MiB.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's Prometheus collectors.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// QueryService answers questions. *query.Pipeline satisfies it.
type QueryService interface {
	// Query answers question about bookID.
	Query(ctx context.Context, bookID, question string) (*query.Answer, error)
}

// IngestService indexes uploaded books. *ingestion.Pipeline satisfies it.
type IngestService interface {
	// Ingest indexes src and returns the book id.
	Ingest(ctx context.Context, src ingestion.Source, progress func(msg string)) (string, error)
}

// Catalog lists and removes books. *registry.Registry satisfies it.
type Catalog interface {
	// List returns every catalogued book and catalog read warnings.
	List(ctx context.Context) ([]registry.Book, []string, error)
	// Get returns one book or an error wrapping bookerr.ErrBookNotFound.
	Get(ctx context.Context, id string) (registry.Book, error)
	// Remove deletes a book and its index.
	Remove(ctx context.Context, id string) (bool, error)
	// Sweep deletes indexes without a catalog entry.
	Sweep(ctx context.Context) ([]string, error)
}

// Services are the domain operations the server exposes. Query and Ingest
// may be nil, in which case their routes answer 503.
type Services struct {
	// Books is the catalog. Required.
	Books Catalog
	// Query answers questions.
	Query QueryService
	// Ingest indexes uploads.
	Ingest IngestService
}

// Server is the HTTP server exposing the book catalog and query pipeline.
type Server struct {
	// books is the catalog.
	books Catalog
	// querier answers questions; nil when the query pipeline is unavailable.
	querier QueryService
	// ingester indexes uploads; nil when ingestion is unavailable.
	ingester IngestService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// bookResponse is one catalog entry as returned by the API, and the body of
// a successful POST /api/books.
type bookResponse struct {
	// ID is the book id.
	ID string `json:"id"`
	// Title is the book title.
	Title string `json:"title"`
	// Author is the book author.
	Author string `json:"author"`
	// Link is the shareable access link for the book.
	Link string `json:"link"`
}

// listBooksResponse is the JSON response for GET /api/books.
type listBooksResponse struct {
	// Books is the catalog sorted by title.
	Books []bookResponse `json:"books"`
	// Warnings lists catalog entries that could not be read.
	Warnings []string `json:"warnings,omitempty"`
}

// queryRequest is the JSON body for POST /api/books/{id}/query.
type queryRequest struct {
	// Question is the user's question about the book.
	Question string `json:"question"`
}

// sourceResponse is one retrieved passage.
type sourceResponse struct {
	// Page is the 1-based page the passage starts on; 0 when unknown.
	Page int `json:"page,omitempty"`
	// Score is the similarity to the question.
	Score float32 `json:"score"`
	// Text is the passage text.
	Text string `json:"text"`
}

// queryResponse is the JSON response for POST /api/books/{id}/query.
type queryResponse struct {
	// Answer is the generated answer.
	Answer string `json:"answer"`
	// Refused is true when the book does not contain the answer.
	Refused bool `json:"refused"`
	// Sources are the passages the answer was generated from, best first.
	Sources []sourceResponse `json:"sources"`
}

// deleteResponse is the JSON response for DELETE /api/books/{id}.
type deleteResponse struct {
	// Removed is false when the book was not catalogued.
	Removed bool `json:"removed"`
}

// sweepResponse is the JSON response for POST /api/admin/sweep.
type sweepResponse struct {
	// Swept lists the ids whose orphaned indexes were deleted.
	Swept []string `json:"swept"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	// Error is a single human-readable line.
	Error string `json:"error"`
}

// toSources converts retrieval hits to their wire form.
func toSources(hits []rag.Hit) []sourceResponse {
	out := make([]sourceResponse, len(hits))
	for i, h := range hits {
		out[i] = sourceResponse{Page: h.Chunk.Page, Score: h.Score, Text: h.Chunk.Text}
	}
	return out
}
