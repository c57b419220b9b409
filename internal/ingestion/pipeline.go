// Package ingestion implements the book ingestion pipeline.
// It extracts the text of one PDF, chunks it, embeds every chunk, builds the
// book's vector index, persists it, and finally commits the catalog entry.
// This pipeline is invoked by `bookqa ingest` and POST /api/books.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/chunker"
	"github.com/54b3r/bookqa-go/internal/extract"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/registry"
	"github.com/54b3r/bookqa-go/internal/vectorindex"
)

// Source describes one uploaded book.
type Source struct {
	// PDF is the raw document.
	PDF []byte

	// Title is the book title shown in listings.
	Title string

	// Author is the book author shown in listings.
	Author string
}

// Catalog registers book identities and commits catalog entries.
// *registry.Registry satisfies it.
type Catalog interface {
	// Register validates title and author and returns the book id.
	Register(title, author string) (string, error)
	// Add commits the catalog entry for b.
	Add(ctx context.Context, b registry.Book) error
}

// IndexWriter persists a built index under a book id.
// *indexstore.Store satisfies it.
type IndexWriter interface {
	// Put stores both artifacts of idx for bookID.
	Put(ctx context.Context, bookID string, idx *vectorindex.Index) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum chunk length in characters.
	// Defaults to chunker.DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to chunker.DefaultChunkOverlap if nil; zero disables overlap.
	ChunkOverlap *int

	// MinChunkLength drops chunks shorter than this many characters.
	// Defaults to chunker.DefaultMinLength if zero.
	MinChunkLength int
}

// Pipeline orchestrates extract → chunk → embed → build → persist → catalog
// for one book at a time. It is safe for concurrent use; concurrent
// ingestion of the same book id is last-writer-wins.
type Pipeline struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// index persists the built vector index.
	index IndexWriter

	// catalog owns book identity and the catalog entry.
	catalog Catalog

	// mirror optionally receives a copy of the vectors. May be nil.
	mirror rag.Mirror

	// splitter breaks extracted text into chunks.
	splitter *chunker.Splitter
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// mirror may be nil.
func NewPipeline(embedder rag.Embedder, index IndexWriter, catalog Catalog, mirror rag.Mirror, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: %w: embedder must not be nil", bookerr.ErrConfiguration)
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: %w: index store must not be nil", bookerr.ErrConfiguration)
	}
	if catalog == nil {
		return nil, fmt.Errorf("ingestion: %w: catalog must not be nil", bookerr.ErrConfiguration)
	}
	if cfg == nil {
		cfg = &Config{}
	}

	var opts []chunker.Option
	if cfg.ChunkSize > 0 {
		opts = append(opts, chunker.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.ChunkOverlap != nil {
		opts = append(opts, chunker.WithChunkOverlap(*cfg.ChunkOverlap))
	}
	if cfg.MinChunkLength > 0 {
		opts = append(opts, chunker.WithMinLength(cfg.MinChunkLength))
	}
	splitter, err := chunker.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w: %w", bookerr.ErrConfiguration, err)
	}

	return &Pipeline{
		embedder: embedder,
		index:    index,
		catalog:  catalog,
		mirror:   mirror,
		splitter: splitter,
	}, nil
}

// Ingest runs the pipeline for src and returns the book id. The id is
// derived before any I/O, so re-ingesting the same title and author
// overwrites the same book. Any failure aborts before the catalog is
// touched. Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, src Source, progress func(msg string)) (string, error) {
	if progress == nil {
		progress = func(string) {}
	}

	bookID, err := p.catalog.Register(src.Title, src.Author)
	if err != nil {
		return "", fmt.Errorf("ingestion: %w", err)
	}
	ctx, log := logging.With(ctx, slog.String("book_id", bookID))
	start := time.Now()

	progress("Extrayendo texto del PDF...")
	doc, err := extract.Text(ctx, src.PDF)
	if err != nil {
		return "", fmt.Errorf("ingestion: extract: %w", err)
	}
	log.Info("ingestion: text extracted",
		slog.Int("pages", doc.Pages),
		slog.Int("skipped_pages", len(doc.Skipped)),
		slog.Int("chars", len(doc.Text)),
	)

	progress("Dividiendo el texto en fragmentos...")
	chunks, err := p.splitter.Split(doc.Text)
	if err != nil && !errors.Is(err, bookerr.ErrEmptyInput) {
		return "", fmt.Errorf("ingestion: chunk: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("ingestion: %w", bookerr.ErrNoChunks)
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].Page = doc.PageAt(chunks[i].Offset)
		texts[i] = chunks[i].Text
	}
	progress(fmt.Sprintf("Generando embeddings para %d fragmentos...", len(chunks)))

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("ingestion: embed: %w", err)
	}

	idx, err := vectorindex.Build(chunks, vectors)
	if err != nil {
		return "", fmt.Errorf("ingestion: build index: %w", err)
	}

	progress("Guardando el índice...")
	if err := p.index.Put(ctx, bookID, idx); err != nil {
		return "", fmt.Errorf("ingestion: persist index: %w", err)
	}

	if p.mirror != nil {
		if err := p.mirror.ReplaceBook(ctx, bookID, chunks, vectors); err != nil {
			log.Error("ingestion: search mirror update failed, index blobs are orphaned",
				slog.String("error", err.Error()),
			)
			return "", fmt.Errorf("ingestion: mirror: %w", err)
		}
	}

	book := registry.Book{ID: bookID, Title: strings.TrimSpace(src.Title), Author: strings.TrimSpace(src.Author)}
	if err := p.catalog.Add(ctx, book); err != nil {
		log.Error("ingestion: catalog write failed after index upload, index blobs are orphaned",
			slog.String("error", err.Error()),
			slog.String("hint", "run `bookqa books sweep` or re-ingest the book"),
		)
		return "", fmt.Errorf("ingestion: catalog: %w", err)
	}

	log.Info("ingestion: book ingested",
		slog.Int("chunks", len(chunks)),
		slog.Int("dimensions", idx.Dim()),
		slog.Duration("duration", time.Since(start)),
	)
	progress("Libro procesado correctamente.")
	return bookID, nil
}
