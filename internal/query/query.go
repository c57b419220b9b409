// Package query answers one question about one book: it resolves the book in
// the catalog, retrieves the most similar passages from its index, and asks
// the generator for an answer grounded in them.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/registry"
)

// BookResolver looks books up in the catalog. *registry.Registry satisfies it.
type BookResolver interface {
	// Get returns the book or an error wrapping bookerr.ErrBookNotFound.
	Get(ctx context.Context, id string) (registry.Book, error)
}

// Generator produces an answer from ranked passages.
// *generator.Generator satisfies it.
type Generator interface {
	// Generate answers question using chunks in rank order.
	Generate(ctx context.Context, question string, chunks []rag.Chunk) (string, error)
}

// Config wires the pipeline. Any nil service makes every query fail with
// bookerr.ErrConfiguration before touching the network.
type Config struct {
	// Books resolves book ids.
	Books BookResolver
	// Embedder embeds the question.
	Embedder rag.Embedder
	// Index opens a book's searchable index.
	Index rag.IndexSource
	// Generator writes the answer.
	Generator Generator
	// TopK is the number of passages retrieved. Zero means rag.DefaultTopK.
	TopK int
	// ConfigErr, when set, is reported instead of a generic missing-service
	// error so callers see why a service could not be built.
	ConfigErr error
}

// Answer is the result of one question.
type Answer struct {
	// Text is the generated answer.
	Text string
	// Book is the catalog entry the question was asked against.
	Book registry.Book
	// Sources are the retrieved passages, best first.
	Sources []rag.Hit
	// Refused is true when the model replied that the book does not contain
	// the answer.
	Refused bool
}

// Pipeline orchestrates resolve → open → embed → search → generate.
// It is safe for concurrent use.
type Pipeline struct {
	// books resolves book ids.
	books BookResolver
	// retriever embeds the question and searches the index. Nil when the
	// embedder or index source is missing.
	retriever *rag.Retriever
	// generator writes the answer.
	generator Generator
	// topK is the number of passages retrieved.
	topK int
	// configErr is the reason the pipeline cannot serve queries, if any.
	configErr error
}

// NewPipeline constructs a Pipeline. It never fails; configuration problems
// are reported by Query so they surface as a typed error per request.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		books:     cfg.Books,
		generator: cfg.Generator,
		topK:      cfg.TopK,
		configErr: cfg.ConfigErr,
	}
	if p.topK <= 0 {
		p.topK = rag.DefaultTopK
	}
	if cfg.Embedder != nil && cfg.Index != nil {
		// NewRetriever only fails on nil dependencies, checked above.
		p.retriever, _ = rag.NewRetriever(cfg.Embedder, cfg.Index, p.topK)
	}
	return p
}

// Ready returns nil when every service is configured, or an error wrapping
// bookerr.ErrConfiguration naming what is missing.
func (p *Pipeline) Ready() error {
	var missing []string
	if p.books == nil {
		missing = append(missing, "catalog")
	}
	if p.retriever == nil {
		missing = append(missing, "embedder/index")
	}
	if p.generator == nil {
		missing = append(missing, "generator")
	}
	switch {
	case p.configErr != nil:
		return fmt.Errorf("query: %w: %w", bookerr.ErrConfiguration, p.configErr)
	case len(missing) > 0:
		return fmt.Errorf("query: %w: missing %s", bookerr.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Query answers question about bookID. Configuration is checked first, then
// the book is resolved, so neither failure costs a network call.
func (p *Pipeline) Query(ctx context.Context, bookID, question string) (*Answer, error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("query: %w: question", bookerr.ErrEmptyInput)
	}

	ctx, log := logging.With(ctx, slog.String("book_id", bookID))
	start := time.Now()

	book, err := p.books.Get(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	hits, err := p.retriever.Retrieve(ctx, bookID, question, p.topK)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	chunks := make([]rag.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
	}
	text, err := p.generator.Generate(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	ans := &Answer{
		Text:    text,
		Book:    book,
		Sources: hits,
		Refused: isRefusal(text),
	}
	log.Info("query: answered",
		slog.Int("sources", len(hits)),
		slog.Bool("refused", ans.Refused),
		slog.Duration("duration", time.Since(start)),
	)
	return ans, nil
}

// refusalMarker is the distinctive part of the generator's refusal sentence.
const refusalMarker = "no puedo responder esta pregunta"

// isRefusal reports whether text is the model's out-of-book refusal.
func isRefusal(text string) bool {
	return strings.Contains(strings.ToLower(text), refusalMarker)
}
