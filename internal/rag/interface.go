// Package rag defines the shared types and interfaces of the retrieval side:
// chunks, search hits, embedding, and per-book searchable indexes.
// Concrete implementations (the in-process vector index, Qdrant) satisfy these
// interfaces so the pipelines never depend on a specific backend.
package rag

import (
	"context"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 4

// Chunk is a bounded span of a book's extracted text.
type Chunk struct {
	// Text is the chunk content.
	Text string `json:"text"`

	// Index is the ordinal of the chunk in the book's chunk sequence.
	Index int `json:"index"`

	// Offset is the byte offset of the chunk in the extracted text, or -1
	// when it could not be located.
	Offset int `json:"offset"`

	// Page is the 1-based page the chunk starts on. Zero means unknown.
	Page int `json:"page,omitempty"`
}

// Hit is a chunk returned by a similarity search.
type Hit struct {
	// Chunk is the matched chunk.
	Chunk Chunk

	// Score is the cosine similarity between the query and the chunk.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher answers nearest-neighbour queries over one book's chunks.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns up to k hits ordered best first. Equal scores keep
	// chunk order.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

// IndexSource resolves the searchable index of a book.
type IndexSource interface {
	// Open returns a Searcher for bookID.
	Open(ctx context.Context, bookID string) (Searcher, error)
}

// Mirror is an optional secondary copy of a book's index kept in an external
// vector database. Ingestion replaces it wholesale; removal deletes it.
type Mirror interface {
	// ReplaceBook drops any existing points for bookID and stores chunks.
	ReplaceBook(ctx context.Context, bookID string, chunks []Chunk, vectors [][]float32) error

	// DeleteBook removes every point belonging to bookID.
	DeleteBook(ctx context.Context, bookID string) error
}
