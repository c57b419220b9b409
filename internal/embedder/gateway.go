package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// Gateway defaults.
const (
	DefaultTimeout     = 2 * time.Minute
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
)

// GatewayConfig tunes a Gateway.
type GatewayConfig struct {
	// Timeout bounds one Embed call, including every batch. Zero means DefaultTimeout.
	Timeout time.Duration

	// BatchSize is the number of texts sent per backend request.
	BatchSize int

	// Concurrency is the maximum number of batches in flight.
	Concurrency int
}

// Gateway wraps a backend embedder. It splits large inputs into batches,
// runs a bounded number of them in parallel, and checks that every result
// has the expected count and a dimension stable across calls. Every failure,
// including a timeout, is reported as bookerr.ErrEmbeddingService.
type Gateway struct {
	// backend performs the actual embedding requests.
	backend rag.Embedder

	// name identifies the backend in logs and errors.
	name string

	// cfg holds the resolved tuning.
	cfg GatewayConfig

	// mu guards dim.
	mu sync.Mutex
	// dim is the dimension seen on the first successful call; 0 until then.
	dim int
}

// NewGateway wraps backend. Zero config fields take their defaults.
func NewGateway(backend rag.Embedder, name string, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Gateway{backend: backend, name: name, cfg: cfg}
}

// Name returns the backend name.
func (g *Gateway) Name() string { return g.name }

// Dimensions returns the vector dimension observed so far, or 0.
func (g *Gateway) Dimensions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

// Embed embeds texts, returning one vector per text in input order.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out := make([][]float32, len(texts))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for lo := 0; lo < len(texts); lo += g.cfg.BatchSize {
		hi := min(lo+g.cfg.BatchSize, len(texts))
		eg.Go(func() error {
			vecs, err := g.backend.Embed(egCtx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("batch [%d, %d): %w", lo, hi, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("batch [%d, %d): got %d vectors", lo, hi, len(vecs))
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("embedder: %s: %w: %w", g.name, bookerr.ErrEmbeddingService, err)
	}

	if err := g.checkDimensions(out); err != nil {
		return nil, fmt.Errorf("embedder: %s: %w: %w", g.name, bookerr.ErrEmbeddingService, err)
	}

	logging.FromContext(ctx).Debug("embedder: texts embedded",
		slog.String("backend", g.name),
		slog.Int("texts", len(texts)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// checkDimensions verifies every vector shares the deployment's dimension.
func (g *Gateway) checkDimensions(vecs [][]float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	want := g.dim
	if want == 0 {
		want = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) == 0 || len(v) != want {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), want)
		}
	}
	g.dim = want
	return nil
}
